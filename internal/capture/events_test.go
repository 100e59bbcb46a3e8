package capture

import (
	"testing"

	"cadence/internal/beat"
	"cadence/internal/session"
	"cadence/internal/wire"
)

func TestStream(t *testing.T) {
	g := beat.DefaultGrammar()

	tests := []struct {
		name   string
		events []Event
		want   string
	}{
		{
			name: "pages and distinct clicks",
			events: []Event{
				{Type: EventPage, Label: "/", TS: 1000},
				{Type: EventClick, Label: "search", TS: 3000},
				{Type: EventClick, Label: "addcart", Depth: 2, TS: 6000},
			},
			want: "PhomeT20EsearchT30E2addcart",
		},
		{
			name: "same element burst folds into repeat gaps",
			events: []Event{
				{Type: EventPage, Label: "/product", TS: 0},
				{Type: EventClick, Label: "buy", TS: 2000},
				{Type: EventClick, Label: "buy", TS: 2300},
				{Type: EventClick, Label: "buy", TS: 2550},
				{Type: EventClick, Label: "buy", TS: 2900},
			},
			want: "PproductT20A3A2A3Ebuy",
		},
		{
			name: "navigation closes an open burst",
			events: []Event{
				{Type: EventPage, Label: "/", TS: 0},
				{Type: EventClick, Label: "buy", TS: 1000},
				{Type: EventClick, Label: "buy", TS: 1200},
				{Type: EventPage, Label: "/cart", TS: 2000},
			},
			want: "PhomeT10A2EbuyT8Pcart",
		},
		{
			name: "scrolls carry no token and no gap anchor",
			events: []Event{
				{Type: EventPage, Label: "/", TS: 0},
				{Type: EventScroll, TS: 500},
				{Type: EventClick, Label: "go", TS: 1000},
			},
			want: "PhomeT10Ego",
		},
		{
			name: "clicks before any page get a synthesized page",
			events: []Event{
				{Type: EventClick, Label: "x", TS: 100},
				{Type: EventClick, Label: "y", TS: 200},
			},
			want: "PT0ExT1Ey",
		},
		{
			name: "events sort by timestamp",
			events: []Event{
				{Type: EventClick, Label: "late", TS: 5000},
				{Type: EventPage, Label: "/", TS: 0},
			},
			want: "PhomeT50Elate",
		},
		{
			name: "no events",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := beat.Encode(Stream(tt.events, g), g)
			if got != tt.want {
				t.Errorf("Stream() = %q, want %q", got, tt.want)
			}
		})
	}
}

// Every generated stream must survive a decode round trip, including open
// bursts closed by navigations.
func TestStreamRoundTrips(t *testing.T) {
	g := beat.DefaultGrammar()
	events := []Event{
		{Type: EventPage, Label: "/", TS: 0},
		{Type: EventClick, Label: "buy", TS: 900},
		{Type: EventClick, Label: "buy", TS: 1100},
		{Type: EventClick, Label: "buy", TS: 1400},
		{Type: EventPage, Label: "/cart", TS: 3000},
		{Type: EventScroll, TS: 3200},
		{Type: EventClick, Label: "pay", Depth: 4, TS: 5000},
	}

	encoded := beat.Encode(Stream(events, g), g)
	decoded, err := beat.Decode(encoded, g)
	if err != nil {
		t.Fatalf("Decode(%q) error = %v", encoded, err)
	}
	if again := beat.Encode(decoded, g); again != encoded {
		t.Errorf("round trip: %q != %q", again, encoded)
	}
}

func TestCounters(t *testing.T) {
	g := beat.DefaultGrammar()
	events := []Event{
		{Type: EventPage, Label: "/", TS: 0},
		{Type: EventScroll, TS: 400},
		{Type: EventScroll, TS: 900},
		{Type: EventClick, Label: "buy", TS: 2000},
		{Type: EventClick, Label: "buy", TS: 2300},
	}

	scrolls, clicks, duration := Counters(events, g)
	if scrolls != 2 || clicks != 2 || duration != 23 {
		t.Errorf("Counters() = %d/%d/%d, want 2/2/23", scrolls, clicks, duration)
	}

	if s, c, d := Counters(nil, g); s != 0 || c != 0 || d != 0 {
		t.Errorf("Counters(nil) = %d/%d/%d, want zeros", s, c, d)
	}
}

func TestElementLabel(t *testing.T) {
	g := beat.DefaultGrammar()

	tests := []struct {
		depth int
		raw   string
		want  string
	}{
		{0, "buy", "buy"},
		{3, "Add to Cart!", "3addtocart"},
		{2, "42checkout", "2checkout"},
		{5, "", ""},
		{0, "BTN", "btn"},
		{10000, "deep", "deep"},
	}
	for _, tt := range tests {
		if got := ElementLabel(tt.depth, tt.raw, g); got != tt.want {
			t.Errorf("ElementLabel(%d, %q) = %q, want %q", tt.depth, tt.raw, got, tt.want)
		}
	}
}

func TestPageLabel(t *testing.T) {
	g := beat.DefaultGrammar()

	tests := []struct {
		path string
		want string
	}{
		{"/", "home"},
		{"", "home"},
		{"/products/item-2", "products-item-2"},
		{"/A/B", "a-b"},
	}
	for _, tt := range tests {
		if got := PageLabel(tt.path, g); got != tt.want {
			t.Errorf("PageLabel(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestBuildFragmentPayloadRoundTrip(t *testing.T) {
	g := beat.DefaultGrammar()
	events := []Event{
		{Type: EventPage, Label: "/", TS: 0},
		{Type: EventScroll, TS: 400},
		{Type: EventClick, Label: "buy", TS: 2000},
		{Type: EventClick, Label: "buy", TS: 2300},
	}

	frag := BuildFragment("1", "Headless-Chrome", "direct", events, g)
	payload := wire.BuildBatch(map[string]session.Fragment{"1": frag}, g)

	parsed, err := wire.ParseBatch(payload, g)
	if err != nil {
		t.Fatalf("ParseBatch(%q) error = %v", payload, err)
	}
	got, ok := parsed["1"]
	if !ok {
		t.Fatal("tab 1 missing from round-tripped batch")
	}
	if got.Device != "headless-chrome" || got.Referrer != "direct" {
		t.Errorf("metadata = %q/%q, want normalized headless-chrome/direct", got.Device, got.Referrer)
	}
	if got.Scrolls != 1 || got.Clicks != 2 || got.Duration != 23 {
		t.Errorf("counters = %d/%d/%d, want 1/2/23", got.Scrolls, got.Clicks, got.Duration)
	}
	if want := beat.Encode(frag.Beat, g); beat.Encode(got.Beat, g) != want {
		t.Errorf("beat = %q, want %q", beat.Encode(got.Beat, g), want)
	}
}
