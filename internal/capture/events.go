package capture

import (
	"sort"
	"strconv"
	"strings"

	"cadence/internal/beat"
	"cadence/internal/session"
)

// Event types reported by the in-page collector and the navigation watcher.
const (
	EventPage   = "page"
	EventClick  = "click"
	EventScroll = "scroll"
)

// Event is one raw interaction. TS is epoch milliseconds; Label carries the
// URL path for page events and the control id for clicks; Depth is the
// click target's DOM depth.
type Event struct {
	Type  string
	Label string
	Depth int
	TS    int64
}

// Stream converts timed events into beat tokens. Events are ordered by
// timestamp first, so collector drains and navigation watch callbacks can
// interleave freely. Each interaction is preceded by its gap in ticks since
// the previous one. Consecutive clicks on the same element fold into a
// burst: the gaps after the first are repeat gaps and the element token
// lands once when the burst closes. Scroll events carry no token; clicks
// arriving before any page event get a synthesized unnamed page.
func Stream(events []Event, g beat.Grammar) beat.Stream {
	evs := append([]Event(nil), events...)
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].TS < evs[j].TS })

	tick := g.TickMs
	if tick <= 0 {
		tick = beat.DefaultGrammar().TickMs
	}

	var s beat.Stream
	var lastTS int64
	started := false
	burst := "" // pending element label, emitted when the burst closes
	inBurst := false

	flush := func() {
		if inBurst {
			s = append(s, beat.NewElement(burst))
			inBurst = false
		}
	}
	gapTicks := func(ts int64) int64 {
		d := ts - lastTS
		if d < 0 {
			d = 0
		}
		return d / int64(tick)
	}

	for _, ev := range evs {
		switch ev.Type {
		case EventPage:
			label := PageLabel(ev.Label, g)
			if !started {
				s = append(s, beat.NewPage(label))
				started = true
				lastTS = ev.TS
				continue
			}
			flush()
			s = append(s, beat.NewTimeGap(gapTicks(ev.TS)), beat.NewPage(label))
			lastTS = ev.TS
		case EventClick:
			label := ElementLabel(ev.Depth, ev.Label, g)
			if !started {
				s = append(s, beat.NewPage(""))
				started = true
				lastTS = ev.TS
			}
			if inBurst && label == burst {
				s = append(s, beat.NewRepeatGap(gapTicks(ev.TS)))
			} else {
				flush()
				s = append(s, beat.NewTimeGap(gapTicks(ev.TS)))
				burst = label
				inBurst = true
			}
			lastTS = ev.TS
		}
	}
	flush()
	return s
}

// Counters tallies engagement volume from raw events: scroll count, click
// count and the first-to-last span in ticks.
func Counters(events []Event, g beat.Grammar) (scrolls, clicks, duration int64) {
	tick := g.TickMs
	if tick <= 0 {
		tick = beat.DefaultGrammar().TickMs
	}

	var minTS, maxTS int64
	seen := false
	for _, ev := range events {
		switch ev.Type {
		case EventScroll:
			scrolls++
		case EventClick:
			clicks++
		}
		if !seen || ev.TS < minTS {
			minTS = ev.TS
		}
		if !seen || ev.TS > maxTS {
			maxTS = ev.TS
		}
		seen = true
	}
	if seen {
		duration = (maxTS - minTS) / int64(tick)
	}
	return scrolls, clicks, duration
}

// BuildFragment assembles a single-tab telemetry fragment from raw capture
// events. Captures carry no score echo, so the echo flag and session fields
// stay empty.
func BuildFragment(tabID, device, referrer string, events []Event, g beat.Grammar) session.Fragment {
	scrolls, clicks, duration := Counters(events, g)
	return session.Fragment{
		TabID:    tabID,
		Device:   device,
		Referrer: referrer,
		Scrolls:  scrolls,
		Clicks:   clicks,
		Duration: duration,
		Beat:     Stream(events, g),
	}
}

// ElementLabel builds an element token label: an optional DOM depth prefix
// plus the sanitized control id. Leading digits are stripped from the id so
// the depth prefix stays parseable.
func ElementLabel(depth int, raw string, g beat.Grammar) string {
	id := strings.TrimLeft(beat.SanitizeLabel(raw, g), "0123456789")
	if id == "" || depth <= 0 || depth > 9999 {
		return id
	}
	return strconv.Itoa(depth) + id
}

// PageLabel reduces a URL path to a page token label: path separators become
// dashes and the result is sanitized. The site root maps to "home".
func PageLabel(path string, g beat.Grammar) string {
	label := beat.SanitizeLabel(strings.Trim(strings.ReplaceAll(path, "/", "-"), "-"), g)
	if label == "" {
		return "home"
	}
	return label
}
