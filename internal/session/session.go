// Package session reconstructs a visitor's cross-tab activity timeline from
// per-tab telemetry fragments.
package session

import (
	"sort"
	"strconv"

	"cadence/internal/beat"
)

// Fragment is one tab's parsed telemetry record. Immutable once parsed.
type Fragment struct {
	TabID       string
	Echo        bool
	SessionTime string
	SessionHash string
	Device      string
	Referrer    string
	Scrolls     int64
	Clicks      int64
	Duration    int64
	Beat        beat.Stream
}

// MergedSession is the reassembled cross-tab view of one batch. Derived on
// demand, never persisted.
type MergedSession struct {
	Device        string
	Referrer      string
	TotalScrolls  int64
	TotalClicks   int64
	TotalDuration int64
	Flow          beat.Stream
}

// Aggregate sums the engagement counters over every fragment in the batch,
// whether or not flow traversal would reach it. Tabs report counters
// independently, so a truncated flow must not drop engagement volume.
// Device and referrer are taken from the anchor fragment alone.
func Aggregate(frags map[string]Fragment, anchor string) MergedSession {
	var m MergedSession
	for _, f := range frags {
		m.TotalScrolls += f.Scrolls
		m.TotalClicks += f.Clicks
		m.TotalDuration += f.Duration
	}
	if a, ok := frags[anchor]; ok {
		m.Device = a.Device
		m.Referrer = a.Referrer
	}
	return m
}

// Reassemble stitches per-tab fragments into one chronological flow and
// aggregates counters. Each tab keeps an integer cursor. Traversal starts at
// the anchor tab, appends tokens in order with TabSwitch markers inline, and
// on a switch continues at the target tab from wherever that tab's cursor
// last stopped, so a revisited tab resumes rather than restarts. Traversal
// stops when the active tab is absent from the batch, its tokens are
// exhausted, or the flow reaches the total token count across all fragments.
// A stop for a missing tab or the hard bound yields a truncated flow, which
// is returned as-is rather than as an error.
func Reassemble(frags map[string]Fragment, anchor string) MergedSession {
	m := Aggregate(frags, anchor)

	bound := 0
	for _, f := range frags {
		bound += len(f.Beat)
	}

	cursors := make(map[string]int, len(frags))
	active := anchor
	for len(m.Flow) < bound {
		f, ok := frags[active]
		if !ok {
			break
		}
		cur := cursors[active]
		if cur >= len(f.Beat) {
			break
		}
		tok := f.Beat[cur]
		cursors[active] = cur + 1
		m.Flow = append(m.Flow, tok)
		if tok.Kind == beat.KindTabSwitch {
			active = tok.Target
		}
	}
	return m
}

// AnchorTab picks the traversal anchor for a batch: the lowest numeric tab
// id, falling back to the lexicographically smallest id when no tab id is
// numeric. Returns "" for an empty batch.
func AnchorTab(frags map[string]Fragment) string {
	ids := make([]string, 0, len(frags))
	for id := range frags {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return ""
	}
	SortTabIDs(ids)
	return ids[0]
}

// Truncated reports whether a merged flow stopped mid-traversal: it ended on
// a tab switch whose target was missing or exhausted (or never started at
// all) while fragment tokens remained unvisited. A flow that consumed every
// token, or that simply ran out of tokens on the active tab, is complete.
func Truncated(m MergedSession, frags map[string]Fragment) bool {
	total := 0
	for _, f := range frags {
		total += len(f.Beat)
	}
	if len(m.Flow) >= total {
		return false
	}
	if len(m.Flow) == 0 {
		return total > 0
	}
	return m.Flow[len(m.Flow)-1].Kind == beat.KindTabSwitch
}

// SortTabIDs orders tab ids numerically where both parse as integers and
// lexicographically otherwise, with numeric ids first.
func SortTabIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		ni, errI := strconv.ParseInt(ids[i], 10, 64)
		nj, errJ := strconv.ParseInt(ids[j], 10, 64)
		switch {
		case errI == nil && errJ == nil:
			if ni != nj {
				return ni < nj
			}
			return ids[i] < ids[j]
		case errI == nil:
			return true
		case errJ == nil:
			return false
		}
		return ids[i] < ids[j]
	})
}
