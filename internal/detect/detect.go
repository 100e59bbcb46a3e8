// Package detect holds the behavioral pattern banks that label a decoded
// stream as automated or human.
package detect

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"cadence/internal/beat"
)

// Bot rule thresholds. The battery and its order are fixed; tuning a
// threshold means retuning the fleet, so they are constants rather than
// configuration.
const (
	machineGunMaxGapMs      = 200
	machineGunRun           = 10
	metronomeRun            = 8
	noVarianceMinGaps       = 4
	noVarianceStddevMs      = 200
	noVarianceMeanMs        = 1000
	progressionMinGaps      = 4
	geometricTolerance      = 0.01
	pingPongCycles          = 3
	surfaceMinElements      = 10
	surfaceMaxDepth         = 2
	surfaceShallowShare     = 0.90
	monotonousMinElements   = 20
	monotonousDistinctShare = 0.15
)

// flagPositions is the width of the personalization flag array served by
// human rules.
const flagPositions = 9

// Features is the per-stream view the rules run over, derived once per
// stream. Gap values are in milliseconds.
type Features struct {
	AllGaps  []float64 // TimeGap and RepeatGap samples in stream order
	TimeGaps []float64 // TimeGap samples only
	Pages    []string
	Elements []string
	Depths   []int // element depth prefixes, elements without one skipped
}

// Extract derives rule inputs from a decoded stream using the grammar's
// tick length.
func Extract(s beat.Stream, g beat.Grammar) Features {
	var f Features
	for _, t := range s {
		switch t.Kind {
		case beat.KindTimeGap:
			ms := float64(g.GapDuration(t.Ticks).Milliseconds())
			f.AllGaps = append(f.AllGaps, ms)
			f.TimeGaps = append(f.TimeGaps, ms)
		case beat.KindRepeatGap:
			f.AllGaps = append(f.AllGaps, float64(g.GapDuration(t.Ticks).Milliseconds()))
		case beat.KindPage:
			f.Pages = append(f.Pages, t.Label)
		case beat.KindElement:
			f.Elements = append(f.Elements, t.Label)
			if d, ok := beat.DepthOf(t.Label); ok {
				f.Depths = append(f.Depths, d)
			}
		}
	}
	return f
}

// Label names a matched bot pattern and its evidence, rendered
// Name:Evidence.
type Label struct {
	Name     string
	Evidence string
}

func (l Label) String() string { return l.Name + ":" + l.Evidence }

// Bank evaluates the fixed bot battery and the configured human rules over
// decoded streams. All evaluation is stateless.
type Bank struct {
	grammar beat.Grammar
	human   []HumanRule
}

// NewBank builds a bank for one grammar. cfg tunes and toggles the human
// rules; the bot battery is fixed.
func NewBank(g beat.Grammar, cfg Config) *Bank {
	return &Bank{grammar: g, human: humanRules(cfg)}
}

// botRules is the fixed battery, highest priority first.
var botRules = []func(Features) *Label{
	machineGun,
	metronome,
	noVariance,
	arithmetic,
	geometric,
	pingPong,
	surface,
	monotonous,
}

// DetectBot runs the battery in priority order and returns the first
// matching label. A nil return means the stream stays unlabeled; that is
// not an error.
func (b *Bank) DetectBot(s beat.Stream) *Label {
	f := Extract(s, b.grammar)
	for _, rule := range botRules {
		if l := rule(f); l != nil {
			return l
		}
	}
	return nil
}

// DetectHuman runs the enabled human rules in order and returns the flag
// position of the first match, or 0 when none claim the stream.
func (b *Bank) DetectHuman(s beat.Stream) int {
	for _, r := range b.human {
		if r.Match(s, b.grammar) {
			return r.Flag()
		}
	}
	return 0
}

// machineGun: a burst of sub-200ms gaps far longer than a human hand
// sustains.
func machineGun(f Features) *Label {
	if len(f.AllGaps) < machineGunRun {
		return nil
	}
	run, best := 0, 0
	for _, gap := range f.AllGaps {
		if gap <= machineGunMaxGapMs {
			run++
			if run > best {
				best = run
			}
		} else {
			run = 0
		}
	}
	if best >= machineGunRun {
		return &Label{Name: "MachineGun", Evidence: strconv.Itoa(best)}
	}
	return nil
}

// metronome: the same gap value repeating with machine regularity.
func metronome(f Features) *Label {
	run, best := 1, 0
	var value float64
	for i := 1; i < len(f.AllGaps); i++ {
		if f.AllGaps[i] == f.AllGaps[i-1] {
			run++
		} else {
			run = 1
		}
		if run > best {
			best = run
			value = f.AllGaps[i]
		}
	}
	if best >= metronomeRun {
		return &Label{Name: "Metronome", Evidence: strconv.FormatFloat(value, 'f', -1, 64)}
	}
	return nil
}

// noVariance: long thoughtful pauses with robotic consistency.
func noVariance(f Features) *Label {
	if len(f.TimeGaps) < noVarianceMinGaps {
		return nil
	}
	mean := meanOf(f.TimeGaps)
	sd := stddevOf(f.TimeGaps, mean)
	if sd < noVarianceStddevMs && mean > noVarianceMeanMs {
		return &Label{Name: "NoVariance", Evidence: strconv.FormatFloat(sd, 'f', 1, 64)}
	}
	return nil
}

// arithmetic: gaps climbing or falling by a fixed step.
func arithmetic(f Features) *Label {
	if len(f.TimeGaps) < progressionMinGaps {
		return nil
	}
	step := f.TimeGaps[1] - f.TimeGaps[0]
	if step == 0 {
		return nil
	}
	for i := 2; i < len(f.TimeGaps); i++ {
		if f.TimeGaps[i]-f.TimeGaps[i-1] != step {
			return nil
		}
	}
	return &Label{Name: "Arithmetic", Evidence: strconv.FormatFloat(step, 'f', -1, 64)}
}

// geometric: gaps scaling by a constant factor.
func geometric(f Features) *Label {
	if len(f.TimeGaps) < progressionMinGaps {
		return nil
	}
	for _, gap := range f.TimeGaps {
		if gap == 0 {
			return nil
		}
	}
	ratio := f.TimeGaps[1] / f.TimeGaps[0]
	if math.Abs(ratio-1) <= geometricTolerance {
		return nil
	}
	for i := 2; i < len(f.TimeGaps); i++ {
		if math.Abs(f.TimeGaps[i]/f.TimeGaps[i-1]-ratio) > geometricTolerance {
			return nil
		}
	}
	return &Label{Name: "Geometric", Evidence: strconv.FormatFloat(ratio, 'f', 2, 64)}
}

// pingPong: mechanical bouncing between two pages.
func pingPong(f Features) *Label {
	run, best := 1, 1
	for i := 1; i < len(f.Pages); i++ {
		switch {
		case f.Pages[i] == f.Pages[i-1]:
			run = 1
		case run >= 2 && f.Pages[i] != f.Pages[i-2]:
			run = 2
		default:
			run++
		}
		if run > best {
			best = run
		}
	}
	if len(f.Pages) > 0 && best >= 2*pingPongCycles {
		return &Label{Name: "PingPong", Evidence: strconv.Itoa(best / 2)}
	}
	return nil
}

// surface: interactions that never leave the page chrome.
func surface(f Features) *Label {
	if len(f.Depths) < surfaceMinElements {
		return nil
	}
	shallow := 0
	for _, d := range f.Depths {
		if d <= surfaceMaxDepth {
			shallow++
		}
	}
	share := float64(shallow) / float64(len(f.Depths))
	if share >= surfaceShallowShare {
		return &Label{Name: "Surface", Evidence: strconv.Itoa(int(share*100)) + "%"}
	}
	return nil
}

// monotonous: hammering the same few controls over a long stream.
func monotonous(f Features) *Label {
	if len(f.Elements) < monotonousMinElements {
		return nil
	}
	seen := make(map[string]struct{}, len(f.Elements))
	for _, e := range f.Elements {
		seen[e] = struct{}{}
	}
	share := float64(len(seen)) / float64(len(f.Elements))
	if share < monotonousDistinctShare {
		return &Label{Name: "Monotonous", Evidence: strconv.FormatFloat(share, 'f', 2, 64)}
	}
	return nil
}

func meanOf(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddevOf is the population standard deviation.
func stddevOf(xs []float64, mean float64) float64 {
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// HumanRule claims a personalization flag position for streams showing a
// configured human pattern. Rules run in bank order; the first match wins.
type HumanRule interface {
	Name() string
	Flag() int
	Match(s beat.Stream, g beat.Grammar) bool
}

// Config tunes the human rule bank.
type Config struct {
	RapidRepeatBuy RapidRepeatBuyConfig
}

// RapidRepeatBuyConfig tunes the flag 1 rule.
type RapidRepeatBuyConfig struct {
	Enabled  bool
	BuyLabel string
	MaxGapMs int
	MinRun   int
}

// DefaultConfig enables the shipped rule set with production tuning.
func DefaultConfig() Config {
	return Config{
		RapidRepeatBuy: RapidRepeatBuyConfig{
			Enabled:  true,
			BuyLabel: "buy",
			MaxGapMs: 1000,
			MinRun:   3,
		},
	}
}

func (c RapidRepeatBuyConfig) withDefaults() RapidRepeatBuyConfig {
	if c.BuyLabel == "" {
		c.BuyLabel = "buy"
	}
	if c.MaxGapMs <= 0 {
		c.MaxGapMs = 1000
	}
	if c.MinRun <= 0 {
		c.MinRun = 3
	}
	return c
}

// humanRules builds the ordered bank. Every flag position is present so the
// order is visible in one place; unclaimed positions hold a placeholder that
// never matches.
func humanRules(cfg Config) []HumanRule {
	rules := make([]HumanRule, 0, flagPositions)
	if cfg.RapidRepeatBuy.Enabled {
		rules = append(rules, rapidRepeatBuy{cfg: cfg.RapidRepeatBuy.withDefaults()})
	} else {
		rules = append(rules, placeholder{flag: 1})
	}
	for flag := 2; flag <= flagPositions; flag++ {
		rules = append(rules, placeholder{flag: flag})
	}
	return rules
}

// rapidRepeatBuy flags an eager shopper: a burst of rapid repeat actions
// landing directly on the buy element.
type rapidRepeatBuy struct {
	cfg RapidRepeatBuyConfig
}

func (r rapidRepeatBuy) Name() string { return "RapidRepeatBuy" }
func (r rapidRepeatBuy) Flag() int    { return 1 }

func (r rapidRepeatBuy) Match(s beat.Stream, g beat.Grammar) bool {
	window := time.Duration(r.cfg.MaxGapMs) * time.Millisecond
	run := 0
	for _, t := range s {
		if t.Kind == beat.KindRepeatGap && g.GapDuration(t.Ticks) <= window {
			run++
			continue
		}
		if t.Kind == beat.KindElement && run >= r.cfg.MinRun && labelID(t.Label) == r.cfg.BuyLabel {
			return true
		}
		run = 0
	}
	return false
}

// labelID strips an element label's depth prefix.
func labelID(label string) string {
	i := 0
	for i < len(label) && label[i] >= '0' && label[i] <= '9' {
		i++
	}
	if i == len(label) {
		return label
	}
	return label[i:]
}

// placeholder reserves a flag position that ships without a rule. It never
// matches; swap in a real HumanRule to activate the position.
type placeholder struct {
	flag int
}

func (p placeholder) Name() string                         { return fmt.Sprintf("Reserved%d", p.flag) }
func (p placeholder) Flag() int                            { return p.flag }
func (p placeholder) Match(beat.Stream, beat.Grammar) bool { return false }
