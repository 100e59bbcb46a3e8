// Package score encodes and updates the per-visitor session score state.
package score

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultFlagWidth is the shipped personalization flag array width, one
// digit per human rule position.
const DefaultFlagWidth = 9

// maxSecurity is the ceiling of the security level digit.
const maxSecurity = 2

// ErrFormat reports a malformed score state value.
var ErrFormat = errors.New("malformed score state")

// Score is the decoded session score state. The wire form is
// <securityDigit><flagDigits>_<time>_<hash>___<tabCount> with a fixed flag
// width and leading zeros preserved. SessionTime and SessionHash are opaque
// client values and may be empty.
type Score struct {
	Security    int
	Flags       []int
	SessionTime string
	SessionHash string
	TabCount    int
}

// New returns a fresh state for a first-contact visitor: security 0, all
// flags 0, one tab.
func New(flagWidth int) Score {
	if flagWidth <= 0 {
		flagWidth = DefaultFlagWidth
	}
	return Score{Flags: make([]int, flagWidth), TabCount: 1}
}

// Parse decodes a score state value. flagWidth <= 0 selects
// DefaultFlagWidth. All score digits must be 0, 1 or 2.
func Parse(raw string, flagWidth int) (Score, error) {
	if flagWidth <= 0 {
		flagWidth = DefaultFlagWidth
	}
	parts := strings.SplitN(raw, "_", 3)
	if len(parts) != 3 {
		return Score{}, fmt.Errorf("%w: want digits, time and hash fields, got %q", ErrFormat, raw)
	}
	head := parts[0]
	if len(head) != 1+flagWidth {
		return Score{}, fmt.Errorf("%w: want %d score digits, got %d", ErrFormat, 1+flagWidth, len(head))
	}
	digits := make([]int, len(head))
	for i := 0; i < len(head); i++ {
		c := head[i]
		if c < '0' || c > '9' {
			return Score{}, fmt.Errorf("%w: score digit %q", ErrFormat, c)
		}
		d := int(c - '0')
		if d > maxSecurity {
			return Score{}, fmt.Errorf("%w: score digit %d out of range", ErrFormat, d)
		}
		digits[i] = d
	}
	tail := parts[2]
	sep := strings.LastIndex(tail, "___")
	if sep < 0 {
		return Score{}, fmt.Errorf("%w: tab count marker missing", ErrFormat)
	}
	count, err := strconv.Atoi(tail[sep+3:])
	if err != nil {
		return Score{}, fmt.Errorf("%w: tab count %q", ErrFormat, tail[sep+3:])
	}
	return Score{
		Security:    digits[0],
		Flags:       digits[1:],
		SessionTime: parts[1],
		SessionHash: tail[:sep],
		TabCount:    count,
	}, nil
}

// Encode renders the state back to its wire form, one digit per flag with
// leading zeros intact.
func (s Score) Encode() string {
	var b strings.Builder
	b.WriteByte(digitByte(s.Security))
	for _, f := range s.Flags {
		b.WriteByte(digitByte(f))
	}
	b.WriteByte('_')
	b.WriteString(s.SessionTime)
	b.WriteByte('_')
	b.WriteString(s.SessionHash)
	b.WriteString("___")
	b.WriteString(strconv.Itoa(s.TabCount))
	return b.String()
}

// BumpSecurity raises the security level by one on a hit, saturating at 2.
// The level never decreases.
func (s *Score) BumpSecurity(hit bool) {
	if hit && s.Security < maxSecurity {
		s.Security++
	}
}

// SetFlag marks a 1-based personalization flag position on a hit. Only a 0
// flips to 1: a 1 stays put and the reserved one-time value 2 is never
// touched. Positions outside the flag array are ignored.
func (s *Score) SetFlag(position int, hit bool) {
	if !hit || position < 1 || position > len(s.Flags) {
		return
	}
	if s.Flags[position-1] == 0 {
		s.Flags[position-1] = 1
	}
}

// ObserveTabs raises the recorded tab count when a batch shows more open
// tabs than the state remembers. The count never decreases.
func (s *Score) ObserveTabs(n int) {
	if n > s.TabCount {
		s.TabCount = n
	}
}

// AdoptEcho fills empty session time and hash fields from values echoed
// back by a telemetry fragment. Populated fields are never overwritten.
func (s *Score) AdoptEcho(time, hash string) {
	if s.SessionTime == "" {
		s.SessionTime = time
	}
	if s.SessionHash == "" {
		s.SessionHash = hash
	}
}

// Update applies one analysis outcome and returns the resulting state,
// leaving the input untouched. humanFlag 0 means no human rule matched.
func Update(s Score, botHit bool, humanFlag int) Score {
	out := s
	out.Flags = append([]int(nil), s.Flags...)
	out.BumpSecurity(botHit)
	out.SetFlag(humanFlag, humanFlag > 0)
	return out
}

func digitByte(d int) byte {
	if d < 0 {
		d = 0
	}
	if d > 9 {
		d = 9
	}
	return byte('0' + d)
}
