// Package beat decodes and encodes the compact BEAT telemetry grammar.
package beat

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies a token variant.
type Kind int

const (
	KindPage Kind = iota
	KindElement
	KindTimeGap
	KindRepeatGap
	KindTabSwitch
)

func (k Kind) String() string {
	switch k {
	case KindPage:
		return "Page"
	case KindElement:
		return "Element"
	case KindTimeGap:
		return "TimeGap"
	case KindRepeatGap:
		return "RepeatGap"
	case KindTabSwitch:
		return "TabSwitch"
	}
	return "Unknown"
}

// Token is one BEAT token. Label is set for Page and Element tokens, Ticks
// for TimeGap and RepeatGap tokens, Target for TabSwitch tokens.
type Token struct {
	Kind   Kind
	Label  string
	Ticks  int64
	Target string
}

func NewPage(label string) Token       { return Token{Kind: KindPage, Label: label} }
func NewElement(label string) Token    { return Token{Kind: KindElement, Label: label} }
func NewTimeGap(ticks int64) Token     { return Token{Kind: KindTimeGap, Ticks: ticks} }
func NewRepeatGap(ticks int64) Token   { return Token{Kind: KindRepeatGap, Ticks: ticks} }
func NewTabSwitch(target string) Token { return Token{Kind: KindTabSwitch, Target: target} }

// IsGap reports whether the token is a TimeGap or a RepeatGap.
func (t Token) IsGap() bool {
	return t.Kind == KindTimeGap || t.Kind == KindRepeatGap
}

// String renders the token in the Page(home) / TimeGap(50) debug form.
func (t Token) String() string {
	switch t.Kind {
	case KindTimeGap, KindRepeatGap:
		return fmt.Sprintf("%s(%d)", t.Kind, t.Ticks)
	case KindTabSwitch:
		return fmt.Sprintf("%s(%s)", t.Kind, t.Target)
	}
	return fmt.Sprintf("%s(%s)", t.Kind, t.Label)
}

// Stream is a decoded token sequence. A fragment stream always opens with a
// Page token and ends at its first TabSwitch; merged cross-tab flows carry
// TabSwitch tokens inline with further tokens after them.
type Stream []Token

// Grammar holds the glyphs and tick length of a BEAT scheme. Glyphs must be
// mutually distinct, digit-free and prefix-free so streams scan without
// lookahead.
type Grammar struct {
	Page      string
	Element   string
	TimeGap   string
	RepeatGap string
	TabSwitch string
	TickMs    int
}

// DefaultGrammar returns the production scheme: P/E/T/A glyphs, a ___ tab
// switch marker and 100ms ticks.
func DefaultGrammar() Grammar {
	return Grammar{
		Page:      "P",
		Element:   "E",
		TimeGap:   "T",
		RepeatGap: "A",
		TabSwitch: "___",
		TickMs:    100,
	}
}

// GapDuration converts a gap token tick count to wall time.
func (g Grammar) GapDuration(ticks int64) time.Duration {
	return time.Duration(ticks) * time.Duration(g.TickMs) * time.Millisecond
}

// Validate checks that the scheme decodes unambiguously.
func (g Grammar) Validate() error {
	glyphs := []struct {
		name  string
		glyph string
	}{
		{"page", g.Page},
		{"element", g.Element},
		{"time gap", g.TimeGap},
		{"repeat gap", g.RepeatGap},
		{"tab switch", g.TabSwitch},
	}
	for _, gl := range glyphs {
		if gl.glyph == "" {
			return fmt.Errorf("%s glyph must not be empty", gl.name)
		}
		if strings.ContainsAny(gl.glyph, "0123456789") {
			return fmt.Errorf("%s glyph %q must not contain digits", gl.name, gl.glyph)
		}
	}
	for i, a := range glyphs {
		for _, b := range glyphs[i+1:] {
			if strings.HasPrefix(a.glyph, b.glyph) || strings.HasPrefix(b.glyph, a.glyph) {
				return fmt.Errorf("%s glyph %q and %s glyph %q overlap", a.name, a.glyph, b.name, b.glyph)
			}
		}
	}
	if g.TickMs <= 0 {
		return fmt.Errorf("tick length must be positive, got %dms", g.TickMs)
	}
	return nil
}

// matchGlyph reports which glyph starts at raw[i]. Prefix-free glyphs mean
// at most one can match.
func (g Grammar) matchGlyph(raw string, i int) (Kind, int, bool) {
	rest := raw[i:]
	switch {
	case strings.HasPrefix(rest, g.TabSwitch):
		return KindTabSwitch, len(g.TabSwitch), true
	case strings.HasPrefix(rest, g.Page):
		return KindPage, len(g.Page), true
	case strings.HasPrefix(rest, g.Element):
		return KindElement, len(g.Element), true
	case strings.HasPrefix(rest, g.TimeGap):
		return KindTimeGap, len(g.TimeGap), true
	case strings.HasPrefix(rest, g.RepeatGap):
		return KindRepeatGap, len(g.RepeatGap), true
	}
	return 0, 0, false
}

// FormatError reports a malformed BEAT string. Offset is the byte position
// of the offending glyph or payload.
type FormatError struct {
	Offset int
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("beat: %s at offset %d", e.Reason, e.Offset)
}

// Decode scans raw into a token stream. It fails with a *FormatError when
// the stream does not open with the page glyph, a gap payload is not a tick
// count, a tab switch target is missing or non-numeric, or a repeat gap does
// not follow another gap. Malformed input is never silently corrected.
// Content after a tab switch decodes as-is so merged flows survive a round
// trip.
func Decode(raw string, g Grammar) (Stream, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid grammar: %w", err)
	}
	if !strings.HasPrefix(raw, g.Page) {
		return nil, &FormatError{Offset: 0, Reason: fmt.Sprintf("stream must open with the page glyph %q", g.Page)}
	}
	var stream Stream
	i := 0
	for i < len(raw) {
		kind, width, ok := g.matchGlyph(raw, i)
		if !ok {
			return nil, &FormatError{Offset: i, Reason: "no glyph matches"}
		}
		start := i + width
		end := start
		for end < len(raw) {
			if _, _, hit := g.matchGlyph(raw, end); hit {
				break
			}
			end++
		}
		payload := raw[start:end]
		switch kind {
		case KindPage:
			stream = append(stream, NewPage(payload))
		case KindElement:
			stream = append(stream, NewElement(payload))
		case KindTimeGap, KindRepeatGap:
			ticks, err := parseTicks(payload)
			if err != nil {
				return nil, &FormatError{Offset: start, Reason: fmt.Sprintf("%s wants a tick count, got %q", kind, payload)}
			}
			if kind == KindRepeatGap {
				if len(stream) == 0 || !stream[len(stream)-1].IsGap() {
					return nil, &FormatError{Offset: i, Reason: "repeat gap must follow a time gap or repeat gap"}
				}
				stream = append(stream, NewRepeatGap(ticks))
			} else {
				stream = append(stream, NewTimeGap(ticks))
			}
		case KindTabSwitch:
			if payload == "" {
				return nil, &FormatError{Offset: start, Reason: "tab switch target missing"}
			}
			if !allDigits(payload) {
				return nil, &FormatError{Offset: start, Reason: fmt.Sprintf("tab switch target must be numeric, got %q", payload)}
			}
			stream = append(stream, NewTabSwitch(payload))
		}
		i = end
	}
	return stream, nil
}

// Encode renders a stream back to its wire form. For any stream produced by
// Decode the result decodes to an identical stream.
func Encode(s Stream, g Grammar) string {
	var b strings.Builder
	for _, t := range s {
		switch t.Kind {
		case KindPage:
			b.WriteString(g.Page)
			b.WriteString(t.Label)
		case KindElement:
			b.WriteString(g.Element)
			b.WriteString(t.Label)
		case KindTimeGap:
			b.WriteString(g.TimeGap)
			b.WriteString(strconv.FormatInt(t.Ticks, 10))
		case KindRepeatGap:
			b.WriteString(g.RepeatGap)
			b.WriteString(strconv.FormatInt(t.Ticks, 10))
		case KindTabSwitch:
			b.WriteString(g.TabSwitch)
			b.WriteString(t.Target)
		}
	}
	return b.String()
}

// SanitizeLabel reduces a raw page or element label to characters that
// cannot collide with a glyph or a wire delimiter: lowercase alphanumerics
// plus dot and dash, with any remaining glyph occurrence stripped.
func SanitizeLabel(raw string, g Grammar) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	label := b.String()
	for _, glyph := range []string{g.Page, g.Element, g.TimeGap, g.RepeatGap, g.TabSwitch} {
		label = strings.ReplaceAll(label, glyph, "")
	}
	return label
}

// DepthOf parses the leading decimal depth prefix of an element label, as in
// "2addcart". ok is false when the label carries no depth prefix.
func DepthOf(label string) (depth int, ok bool) {
	i := 0
	for i < len(label) && label[i] >= '0' && label[i] <= '9' {
		i++
	}
	if i == 0 || i > 4 { // a longer digit run is an id, not a DOM depth
		return 0, false
	}
	n, err := strconv.Atoi(label[:i])
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseTicks(payload string) (int64, error) {
	if !allDigits(payload) {
		return 0, fmt.Errorf("not a tick count")
	}
	return strconv.ParseInt(payload, 10, 64)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
