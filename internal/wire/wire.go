// Package wire parses and builds the beacon wire formats: per-tab fragment
// records and multi-tab batch payloads.
package wire

import (
	"fmt"
	"strconv"
	"strings"

	"cadence/internal/beat"
	"cadence/internal/session"
)

// blockPrefix opens each per-tab block inside a batch payload.
const blockPrefix = "rhythm_"

// fragmentFields is the count of fixed underscore-separated fields before
// the beat tail: echo, time, hash, device, referrer, scrolls, clicks,
// duration.
const fragmentFields = 8

// ParseFragment decodes one per-tab record:
//
//	echoFlag_[time]_[hash]_device_referrer_scrolls_clicks_duration_<BEAT>
//
// The time and hash positions are always present but may be empty. Counter
// fields that are empty or malformed count as zero. The beat tail keeps its
// own underscores, so tab switch markers survive. Beat decode errors
// propagate unchanged; a fragment that cannot be decoded must not be merged.
func ParseFragment(tabID, raw string, g beat.Grammar) (session.Fragment, error) {
	parts := strings.SplitN(raw, "_", fragmentFields+1)
	if len(parts) != fragmentFields+1 {
		return session.Fragment{}, fmt.Errorf("tab %s: fragment wants %d fields and a beat, got %d fields", tabID, fragmentFields, len(parts))
	}
	stream, err := beat.Decode(parts[8], g)
	if err != nil {
		return session.Fragment{}, fmt.Errorf("tab %s: %w", tabID, err)
	}
	return session.Fragment{
		TabID:       tabID,
		Echo:        parts[0] == "1",
		SessionTime: parts[1],
		SessionHash: parts[2],
		Device:      normalizeMeta(parts[3]),
		Referrer:    normalizeMeta(parts[4]),
		Scrolls:     parseCounter(parts[5]),
		Clicks:      parseCounter(parts[6]),
		Duration:    parseCounter(parts[7]),
		Beat:        stream,
	}, nil
}

// BuildFragment renders a fragment back to its record form. Device and
// referrer have underscores replaced so the fixed field positions hold.
func BuildFragment(f session.Fragment, g beat.Grammar) string {
	echo := "0"
	if f.Echo {
		echo = "1"
	}
	fields := []string{
		echo,
		f.SessionTime,
		f.SessionHash,
		metaField(f.Device),
		metaField(f.Referrer),
		strconv.FormatInt(f.Scrolls, 10),
		strconv.FormatInt(f.Clicks, 10),
		strconv.FormatInt(f.Duration, 10),
		beat.Encode(f.Beat, g),
	}
	return strings.Join(fields, "_")
}

// ParseBatch decodes a full beacon payload: a sequence of rhythm_<tabId>=
// blocks, each ending where the next block begins or the payload ends. A
// later block for the same tab id replaces the earlier one, matching a
// client that re-beacons a refreshed fragment. Any error aborts the whole
// batch; a payload is merged all-or-nothing.
func ParseBatch(payload string, g beat.Grammar) (map[string]session.Fragment, error) {
	body := strings.TrimLeft(payload, "&;")
	if body == "" {
		return nil, fmt.Errorf("empty batch payload")
	}
	if !strings.HasPrefix(body, blockPrefix) {
		return nil, fmt.Errorf("batch payload must open with %q", blockPrefix)
	}

	frags := make(map[string]session.Fragment)
	for start := 0; start < len(body); {
		next := strings.Index(body[start+len(blockPrefix):], blockPrefix)
		end := len(body)
		if next >= 0 {
			end = start + len(blockPrefix) + next
		}
		block := body[start+len(blockPrefix) : end]
		eq := strings.Index(block, "=")
		if eq < 0 {
			return nil, fmt.Errorf("batch block %q missing '='", blockPrefix+block)
		}
		tabID := block[:eq]
		if tabID == "" {
			return nil, fmt.Errorf("batch block with empty tab id")
		}
		// A trailing & or ; before the next block is framing, not record
		// content.
		record := strings.TrimRight(block[eq+1:], "&;")
		frag, err := ParseFragment(tabID, record, g)
		if err != nil {
			return nil, err
		}
		frags[tabID] = frag
		start = end
	}
	return frags, nil
}

// BuildBatch renders fragments into one payload, tabs in stable id order.
func BuildBatch(frags map[string]session.Fragment, g beat.Grammar) string {
	ids := make([]string, 0, len(frags))
	for id := range frags {
		ids = append(ids, id)
	}
	session.SortTabIDs(ids)

	var b strings.Builder
	for _, id := range ids {
		b.WriteString(blockPrefix)
		b.WriteString(id)
		b.WriteString("=")
		b.WriteString(BuildFragment(frags[id], g))
	}
	return b.String()
}

// parseCounter reads an engagement counter. Empty and malformed values
// count as zero: counters are advisory volume, not structure.
func parseCounter(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func normalizeMeta(value string) string {
	normalized := strings.TrimSpace(strings.ToLower(value))
	normalized = strings.Trim(normalized, "\"'`")
	return normalized
}

func metaField(value string) string {
	return strings.ReplaceAll(normalizeMeta(value), "_", "-")
}
