package detect

import (
	"testing"

	"cadence/internal/beat"
)

// msGrammar makes tick counts read as milliseconds.
func msGrammar() beat.Grammar {
	g := beat.DefaultGrammar()
	g.TickMs = 1
	return g
}

func gapStream(gapsMs ...int64) beat.Stream {
	s := beat.Stream{beat.NewPage("home")}
	for _, gap := range gapsMs {
		s = append(s, beat.NewTimeGap(gap))
	}
	return s
}

func defaultBank() *Bank {
	return NewBank(msGrammar(), DefaultConfig())
}

func TestExtract(t *testing.T) {
	g := beat.DefaultGrammar()
	g.TickMs = 50

	s := beat.Stream{
		beat.NewPage("home"),
		beat.NewTimeGap(3),
		beat.NewRepeatGap(2),
		beat.NewElement("2addcart"),
		beat.NewElement("hero"),
		beat.NewPage("cart"),
	}
	f := Extract(s, g)

	if len(f.AllGaps) != 2 || f.AllGaps[0] != 150 || f.AllGaps[1] != 100 {
		t.Errorf("expected all gaps [150 100], got %v", f.AllGaps)
	}
	if len(f.TimeGaps) != 1 || f.TimeGaps[0] != 150 {
		t.Errorf("expected time gaps [150], got %v", f.TimeGaps)
	}
	if len(f.Pages) != 2 || f.Pages[0] != "home" || f.Pages[1] != "cart" {
		t.Errorf("expected pages [home cart], got %v", f.Pages)
	}
	if len(f.Elements) != 2 {
		t.Errorf("expected 2 elements, got %v", f.Elements)
	}
	if len(f.Depths) != 1 || f.Depths[0] != 2 {
		t.Errorf("expected depths [2], got %v", f.Depths)
	}
}

func TestMachineGun(t *testing.T) {
	bank := defaultBank()

	t.Run("ten rapid gaps match", func(t *testing.T) {
		s := gapStream(150, 150, 150, 150, 150, 150, 150, 150, 150, 150)
		l := bank.DetectBot(s)
		if l == nil || l.String() != "MachineGun:10" {
			t.Errorf("expected MachineGun:10, got %v", l)
		}
	})

	t.Run("nine rapid gaps do not", func(t *testing.T) {
		s := gapStream(150, 150, 150, 150, 150, 150, 150, 150, 150)
		if l := bank.DetectBot(s); l != nil {
			t.Errorf("expected no label, got %v", l)
		}
	})

	t.Run("slow gap breaks the run", func(t *testing.T) {
		s := gapStream(150, 150, 150, 150, 150, 500, 150, 150, 150, 150, 150)
		if l := bank.DetectBot(s); l != nil {
			t.Errorf("expected no label, got %v", l)
		}
	})

	t.Run("repeat gaps count toward the run", func(t *testing.T) {
		s := beat.Stream{
			beat.NewPage("home"),
			beat.NewTimeGap(150),
			beat.NewRepeatGap(150), beat.NewRepeatGap(150), beat.NewRepeatGap(150), beat.NewRepeatGap(150),
			beat.NewTimeGap(150),
			beat.NewRepeatGap(150), beat.NewRepeatGap(150), beat.NewRepeatGap(150), beat.NewRepeatGap(150),
		}
		l := bank.DetectBot(s)
		if l == nil || l.Name != "MachineGun" {
			t.Errorf("expected MachineGun, got %v", l)
		}
	})
}

func TestMetronome(t *testing.T) {
	bank := defaultBank()

	t.Run("eight identical gaps match", func(t *testing.T) {
		s := gapStream(500, 500, 500, 500, 500, 500, 500, 500)
		l := bank.DetectBot(s)
		if l == nil || l.String() != "Metronome:500" {
			t.Errorf("expected Metronome:500, got %v", l)
		}
	})

	t.Run("seven identical gaps do not", func(t *testing.T) {
		s := gapStream(500, 500, 500, 500, 500, 500, 500)
		if l := bank.DetectBot(s); l != nil {
			t.Errorf("expected no label, got %v", l)
		}
	})

	t.Run("value change resets the run", func(t *testing.T) {
		s := gapStream(500, 500, 500, 500, 500, 500, 500, 600)
		if l := bank.DetectBot(s); l != nil {
			t.Errorf("expected no label, got %v", l)
		}
	})
}

func TestNoVariance(t *testing.T) {
	bank := defaultBank()

	t.Run("tight long pauses match", func(t *testing.T) {
		s := gapStream(1010, 1020, 1000, 1010)
		l := bank.DetectBot(s)
		if l == nil || l.String() != "NoVariance:7.1" {
			t.Errorf("expected NoVariance:7.1, got %v", l)
		}
	})

	t.Run("mean at the threshold does not", func(t *testing.T) {
		s := gapStream(1000, 1010, 990, 1000)
		if l := bank.DetectBot(s); l != nil {
			t.Errorf("expected no label, got %v", l)
		}
	})

	t.Run("wild variance does not", func(t *testing.T) {
		s := gapStream(100, 5000, 100, 5000)
		if l := bank.DetectBot(s); l != nil {
			t.Errorf("expected no label, got %v", l)
		}
	})

	t.Run("short mean does not", func(t *testing.T) {
		s := gapStream(500, 510, 490, 500)
		if l := bank.DetectBot(s); l != nil {
			t.Errorf("expected no label, got %v", l)
		}
	})

	t.Run("three gaps are too few", func(t *testing.T) {
		s := gapStream(1000, 1010, 990)
		if l := bank.DetectBot(s); l != nil {
			t.Errorf("expected no label, got %v", l)
		}
	})

	t.Run("identical long pauses match with zero deviation", func(t *testing.T) {
		s := gapStream(1200, 1200, 1200, 1200)
		l := bank.DetectBot(s)
		if l == nil || l.String() != "NoVariance:0.0" {
			t.Errorf("expected NoVariance:0.0, got %v", l)
		}
	})
}

func TestArithmetic(t *testing.T) {
	bank := defaultBank()

	t.Run("climbing steps match", func(t *testing.T) {
		s := gapStream(100, 200, 300, 400)
		l := bank.DetectBot(s)
		if l == nil || l.String() != "Arithmetic:100" {
			t.Errorf("expected Arithmetic:100, got %v", l)
		}
	})

	t.Run("falling steps match", func(t *testing.T) {
		s := gapStream(800, 600, 400, 200)
		l := bank.DetectBot(s)
		if l == nil || l.String() != "Arithmetic:-200" {
			t.Errorf("expected Arithmetic:-200, got %v", l)
		}
	})

	t.Run("zero step does not", func(t *testing.T) {
		s := gapStream(100, 100, 100, 100)
		if l := bank.DetectBot(s); l != nil {
			t.Errorf("expected no label, got %v", l)
		}
	})

	t.Run("broken progression does not", func(t *testing.T) {
		s := gapStream(100, 200, 300, 500)
		if l := bank.DetectBot(s); l != nil {
			t.Errorf("expected no label, got %v", l)
		}
	})
}

func TestGeometric(t *testing.T) {
	bank := defaultBank()

	t.Run("doubling gaps match", func(t *testing.T) {
		s := gapStream(100, 200, 400, 800)
		l := bank.DetectBot(s)
		if l == nil || l.String() != "Geometric:2.00" {
			t.Errorf("expected Geometric:2.00, got %v", l)
		}
	})

	t.Run("decaying gaps match", func(t *testing.T) {
		s := gapStream(1000, 500, 250, 125)
		l := bank.DetectBot(s)
		if l == nil || l.String() != "Geometric:0.50" {
			t.Errorf("expected Geometric:0.50, got %v", l)
		}
	})

	t.Run("unit ratio does not", func(t *testing.T) {
		s := gapStream(300, 300, 300, 300)
		if l := bank.DetectBot(s); l != nil {
			t.Errorf("expected no label, got %v", l)
		}
	})

	t.Run("zero gap does not", func(t *testing.T) {
		s := gapStream(0, 100, 200, 400)
		if l := bank.DetectBot(s); l != nil {
			t.Errorf("expected no label, got %v", l)
		}
	})
}

func pageFlapStream(pages ...string) beat.Stream {
	var s beat.Stream
	for _, p := range pages {
		s = append(s, beat.NewPage(p))
	}
	return s
}

func TestPingPong(t *testing.T) {
	bank := defaultBank()

	t.Run("three full cycles match", func(t *testing.T) {
		s := pageFlapStream("a", "b", "a", "b", "a", "b")
		l := bank.DetectBot(s)
		if l == nil || l.String() != "PingPong:3" {
			t.Errorf("expected PingPong:3, got %v", l)
		}
	})

	t.Run("five page tokens do not", func(t *testing.T) {
		s := pageFlapStream("a", "b", "a", "b", "a")
		if l := bank.DetectBot(s); l != nil {
			t.Errorf("expected no label, got %v", l)
		}
	})

	t.Run("three distinct pages do not", func(t *testing.T) {
		s := pageFlapStream("a", "b", "c", "a", "b", "c")
		if l := bank.DetectBot(s); l != nil {
			t.Errorf("expected no label, got %v", l)
		}
	})

	t.Run("gaps between pages keep the cycle", func(t *testing.T) {
		s := beat.Stream{
			beat.NewPage("a"), beat.NewTimeGap(500),
			beat.NewPage("b"), beat.NewTimeGap(600),
			beat.NewPage("a"), beat.NewTimeGap(550),
			beat.NewPage("b"), beat.NewTimeGap(700),
			beat.NewPage("a"), beat.NewTimeGap(650),
			beat.NewPage("b"),
		}
		l := bank.DetectBot(s)
		if l == nil || l.Name != "PingPong" {
			t.Errorf("expected PingPong, got %v", l)
		}
	})
}

func elementStream(labels ...string) beat.Stream {
	s := beat.Stream{beat.NewPage("home")}
	for _, label := range labels {
		s = append(s, beat.NewElement(label))
	}
	return s
}

func TestSurface(t *testing.T) {
	bank := defaultBank()

	t.Run("all shallow elements match", func(t *testing.T) {
		s := elementStream("1nav", "2btn", "1nav", "2btn", "1nav", "2btn", "1nav", "2btn", "1nav", "2btn")
		l := bank.DetectBot(s)
		if l == nil || l.String() != "Surface:100%" {
			t.Errorf("expected Surface:100%%, got %v", l)
		}
	})

	t.Run("ninety percent shallow matches", func(t *testing.T) {
		s := elementStream("1a", "1b", "1c", "1d", "1e", "2f", "2g", "2h", "2i", "5deep")
		l := bank.DetectBot(s)
		if l == nil || l.String() != "Surface:90%" {
			t.Errorf("expected Surface:90%%, got %v", l)
		}
	})

	t.Run("deep interaction mix does not", func(t *testing.T) {
		s := elementStream("1a", "1b", "1c", "1d", "1e", "2f", "2g", "2h", "5deep", "6deeper")
		if l := bank.DetectBot(s); l != nil {
			t.Errorf("expected no label, got %v", l)
		}
	})

	t.Run("unprefixed elements do not count", func(t *testing.T) {
		s := elementStream("1a", "1b", "1c", "1d", "1e", "2f", "2g", "2h", "2i", "plain", "plain", "plain")
		if l := bank.DetectBot(s); l != nil {
			t.Errorf("expected no label, got %v", l)
		}
	})
}

func TestMonotonous(t *testing.T) {
	bank := defaultBank()

	t.Run("two labels over twenty elements match", func(t *testing.T) {
		labels := make([]string, 20)
		for i := range labels {
			if i%2 == 0 {
				labels[i] = "menu"
			} else {
				labels[i] = "banner"
			}
		}
		s := elementStream(labels...)
		l := bank.DetectBot(s)
		if l == nil || l.String() != "Monotonous:0.10" {
			t.Errorf("expected Monotonous:0.10, got %v", l)
		}
	})

	t.Run("three labels over twenty do not", func(t *testing.T) {
		labels := make([]string, 20)
		names := []string{"menu", "banner", "footer"}
		for i := range labels {
			labels[i] = names[i%3]
		}
		s := elementStream(labels...)
		if l := bank.DetectBot(s); l != nil {
			t.Errorf("expected no label, got %v", l)
		}
	})

	t.Run("nineteen elements are too few", func(t *testing.T) {
		labels := make([]string, 19)
		for i := range labels {
			labels[i] = "menu"
		}
		s := elementStream(labels...)
		if l := bank.DetectBot(s); l != nil {
			t.Errorf("expected no label, got %v", l)
		}
	})
}

func TestDetectBotPriority(t *testing.T) {
	bank := defaultBank()

	// Ten identical rapid gaps satisfy both MachineGun and Metronome; the
	// battery order decides.
	s := gapStream(150, 150, 150, 150, 150, 150, 150, 150, 150, 150)
	l := bank.DetectBot(s)
	if l == nil || l.Name != "MachineGun" {
		t.Errorf("expected MachineGun to win, got %v", l)
	}
}

func TestDetectBotCleanStream(t *testing.T) {
	bank := defaultBank()

	s := beat.Stream{
		beat.NewPage("home"),
		beat.NewTimeGap(2300),
		beat.NewElement("3hero"),
		beat.NewTimeGap(1750),
		beat.NewPage("products"),
		beat.NewTimeGap(4100),
		beat.NewRepeatGap(900),
		beat.NewElement("5addcart"),
	}
	if l := bank.DetectBot(s); l != nil {
		t.Errorf("expected no label for organic browsing, got %v", l)
	}
}

func TestDetectHuman(t *testing.T) {
	tests := []struct {
		name     string
		stream   beat.Stream
		expected int
	}{
		{
			name: "rapid repeats into buy",
			stream: beat.Stream{
				beat.NewPage("product"),
				beat.NewTimeGap(2000),
				beat.NewRepeatGap(300), beat.NewRepeatGap(250), beat.NewRepeatGap(400),
				beat.NewElement("buy"),
			},
			expected: 1,
		},
		{
			name: "depth prefixed buy element",
			stream: beat.Stream{
				beat.NewPage("product"),
				beat.NewTimeGap(2000),
				beat.NewRepeatGap(300), beat.NewRepeatGap(250), beat.NewRepeatGap(400),
				beat.NewElement("4buy"),
			},
			expected: 1,
		},
		{
			name: "two repeats are too few",
			stream: beat.Stream{
				beat.NewPage("product"),
				beat.NewTimeGap(2000),
				beat.NewRepeatGap(300), beat.NewRepeatGap(250),
				beat.NewElement("buy"),
			},
			expected: 0,
		},
		{
			name: "slow repeats do not count",
			stream: beat.Stream{
				beat.NewPage("product"),
				beat.NewTimeGap(2000),
				beat.NewRepeatGap(1500), beat.NewRepeatGap(1500), beat.NewRepeatGap(1500),
				beat.NewElement("buy"),
			},
			expected: 0,
		},
		{
			name: "pause before buy breaks the burst",
			stream: beat.Stream{
				beat.NewPage("product"),
				beat.NewTimeGap(2000),
				beat.NewRepeatGap(300), beat.NewRepeatGap(250), beat.NewRepeatGap(400),
				beat.NewTimeGap(500),
				beat.NewElement("buy"),
			},
			expected: 0,
		},
		{
			name: "wrong element after burst",
			stream: beat.Stream{
				beat.NewPage("product"),
				beat.NewTimeGap(2000),
				beat.NewRepeatGap(300), beat.NewRepeatGap(250), beat.NewRepeatGap(400),
				beat.NewElement("addcart"),
			},
			expected: 0,
		},
	}

	bank := defaultBank()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bank.DetectHuman(tt.stream); got != tt.expected {
				t.Errorf("expected flag %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestDetectHumanDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RapidRepeatBuy.Enabled = false
	bank := NewBank(msGrammar(), cfg)

	s := beat.Stream{
		beat.NewPage("product"),
		beat.NewTimeGap(2000),
		beat.NewRepeatGap(300), beat.NewRepeatGap(250), beat.NewRepeatGap(400),
		beat.NewElement("buy"),
	}
	if got := bank.DetectHuman(s); got != 0 {
		t.Errorf("expected no flag with rule disabled, got %d", got)
	}
}

func TestDetectHumanCustomLabel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RapidRepeatBuy.BuyLabel = "checkout"
	bank := NewBank(msGrammar(), cfg)

	s := beat.Stream{
		beat.NewPage("product"),
		beat.NewTimeGap(2000),
		beat.NewRepeatGap(300), beat.NewRepeatGap(250), beat.NewRepeatGap(400),
		beat.NewElement("checkout"),
	}
	if got := bank.DetectHuman(s); got != 1 {
		t.Errorf("expected flag 1, got %d", got)
	}
}
