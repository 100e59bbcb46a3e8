// Package correlation extracts normalized visitor identity keys from
// telemetry, so reports produced across batches and corpus files can be
// tied back to one visitor. A session identity reappearing across many
// stored payloads is a strong replay or bot-farm signal.
package correlation

import (
	"regexp"
	"strings"

	"cadence/internal/score"
	"cadence/internal/session"
)

// Key types this package emits. A session key is the composite time/hash
// identity; a hash key is the weaker hash-only identity that survives
// clients which randomize the time field.
const (
	SessionKeyType = "session"
	HashKeyType    = "hash"
)

// Key is one normalized identity key.
type Key struct {
	Type  string
	Value string
}

// String renders the key in the type:value form rollups index by.
func (k Key) String() string {
	return k.Type + ":" + k.Value
}

// Identity fields are opaque client values; anything outside this shape is
// noise from a mangled payload, not an identity.
var valuePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._:/\-]{0,127}$`)

// FromScore extracts identity keys from a decoded score state. A session
// key needs both fields; a hash key needs only the hash.
func FromScore(st score.Score) []Key {
	return identityKeys(st.SessionTime, st.SessionHash)
}

// FromScoreValue extracts identity keys from a raw score state value. The
// flag width is inferred from the digit head, so stored values of any width
// scan without prior config. A value that does not parse carries no
// identity.
func FromScoreValue(raw string) []Key {
	raw = strings.TrimSpace(raw)
	head, _, ok := strings.Cut(raw, "_")
	if !ok || len(head) < 2 {
		return nil
	}
	st, err := score.Parse(raw, len(head)-1)
	if err != nil {
		return nil
	}
	return FromScore(st)
}

// FromFragment extracts identity keys from a parsed telemetry fragment.
// Only fragments that echo the score state carry an identity.
func FromFragment(f session.Fragment) []Key {
	if !f.Echo {
		return nil
	}
	return identityKeys(f.SessionTime, f.SessionHash)
}

func identityKeys(time, hash string) []Key {
	t := normalizeValue(time)
	h := normalizeValue(hash)

	keys := make([]Key, 0, 2)
	if t != "" && h != "" {
		keys = append(keys, Key{Type: SessionKeyType, Value: t + "/" + h})
	}
	if h != "" {
		keys = append(keys, Key{Type: HashKeyType, Value: h})
	}
	return keys
}

func normalizeValue(value string) string {
	normalized := strings.TrimSpace(strings.ToLower(value))
	normalized = strings.Trim(normalized, "\"'`")
	normalized = strings.TrimRight(normalized, ".,;:)]}")
	if !valuePattern.MatchString(normalized) {
		return ""
	}
	return normalized
}
