// Package analyzer wires the decode, reassembly, detection and scoring
// stages into one batch pipeline and renders the outcome as a report. The
// stage packages stay pure; logging and trace recording live here.
package analyzer

import (
	"fmt"
	"log"
	"strings"
	"time"

	"cadence/internal/beat"
	"cadence/internal/config"
	"cadence/internal/detect"
	"cadence/internal/score"
	"cadence/internal/session"
	"cadence/internal/trace"
	"cadence/internal/wire"

	"github.com/google/uuid"
)

// Verdict classifies one analyzed flow.
type Verdict string

const (
	// VerdictClean means no detector matched.
	VerdictClean Verdict = "clean"
	// VerdictBot means a bot pattern matched the merged flow.
	VerdictBot Verdict = "bot"
	// VerdictHuman means no bot pattern matched but a personalization rule did.
	VerdictHuman Verdict = "human"
)

// Report is the analysis outcome for one batch or bare stream.
type Report struct {
	ID          string    `json:"id"`
	GeneratedAt time.Time `json:"generated_at"`
	Verdict     Verdict   `json:"verdict"`

	// Bot carries the winning pattern as "Name:Evidence" when the verdict
	// is bot.
	Bot string `json:"bot,omitempty"`
	// HumanFlag is the 1-based personalization flag position, 0 when no
	// human rule matched.
	HumanFlag int `json:"human_flag,omitempty"`

	Tabs      int    `json:"tabs,omitempty"`
	AnchorTab string `json:"anchor_tab,omitempty"`
	Device    string `json:"device,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
	Scrolls   int64  `json:"scrolls"`
	Clicks    int64  `json:"clicks"`
	Duration  int64  `json:"duration"`

	// Flow is the merged beat rendered back to wire form.
	Flow       string `json:"flow"`
	FlowTokens int    `json:"flow_tokens"`
	// Truncated marks a flow cut short by a missing or exhausted switch
	// target.
	Truncated bool `json:"truncated,omitempty"`

	// Score is the updated score state in wire form.
	Score string `json:"score,omitempty"`
}

// Analyzer runs the pipeline under one grammar, rule bank and flag width.
type Analyzer struct {
	grammar   beat.Grammar
	bank      *detect.Bank
	flagWidth int
	rec       *trace.Recorder
}

// New builds an analyzer from config. rec may be nil to disable tracing.
func New(cfg config.Config, rec *trace.Recorder) (*Analyzer, error) {
	g := beat.Grammar{
		Page:      cfg.Grammar.GetPage(),
		Element:   cfg.Grammar.GetElement(),
		TimeGap:   cfg.Grammar.GetTimeGap(),
		RepeatGap: cfg.Grammar.GetRepeatGap(),
		TabSwitch: cfg.Grammar.GetTabSwitch(),
		TickMs:    cfg.Grammar.GetTickMs(),
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("grammar: %w", err)
	}

	dc := detect.Config{
		RapidRepeatBuy: detect.RapidRepeatBuyConfig{
			Enabled:  cfg.Detect.RapidRepeatBuy.IsEnabled(),
			BuyLabel: cfg.Detect.RapidRepeatBuy.BuyLabel,
			MaxGapMs: cfg.Detect.RapidRepeatBuy.MaxGapMs,
			MinRun:   cfg.Detect.RapidRepeatBuy.MinRun,
		},
	}

	return &Analyzer{
		grammar:   g,
		bank:      detect.NewBank(g, dc),
		flagWidth: cfg.Score.GetFlagWidth(),
		rec:       rec,
	}, nil
}

// Grammar exposes the grammar the analyzer decodes with.
func (a *Analyzer) Grammar() beat.Grammar { return a.grammar }

// AnalyzeBatch parses a multi-tab batch payload, reassembles the merged
// flow, runs both detector banks over it and folds the outcome into the
// score state. rawScore may be empty for a first-contact visitor; a
// malformed value is an error, never silently replaced.
func (a *Analyzer) AnalyzeBatch(payload, rawScore string) (*Report, error) {
	st, err := a.parseScore(rawScore)
	if err != nil {
		return nil, err
	}

	frags, err := wire.ParseBatch(strings.TrimSpace(payload), a.grammar)
	if err != nil {
		return nil, fmt.Errorf("parsing batch: %w", err)
	}

	anchor := session.AnchorTab(frags)
	merged := session.Reassemble(frags, anchor)

	r := a.newReport()
	r.Tabs = len(frags)
	r.AnchorTab = anchor
	r.Device = merged.Device
	r.Referrer = merged.Referrer
	r.Scrolls = merged.TotalScrolls
	r.Clicks = merged.TotalClicks
	r.Duration = merged.TotalDuration
	r.Flow = beat.Encode(merged.Flow, a.grammar)
	r.FlowTokens = len(merged.Flow)
	if session.Truncated(merged, frags) {
		r.Truncated = true
		log.Printf("[analyze:%s] truncated flow: merged %d tokens across %d tabs", r.ID, r.FlowTokens, r.Tabs)
	}

	a.classify(r, merged.Flow)

	if anchorFrag, ok := frags[anchor]; ok && anchorFrag.Echo {
		st.AdoptEcho(anchorFrag.SessionTime, anchorFrag.SessionHash)
	}
	next := score.Update(st, r.Verdict == VerdictBot, r.HumanFlag)
	next.ObserveTabs(len(frags))
	r.Score = next.Encode()

	a.rec.Log("batch_report", r.ID, r)
	log.Printf("[analyze:%s] %d tabs, %d tokens, verdict %s", r.ID, r.Tabs, r.FlowTokens, r.Verdict)
	return r, nil
}

// AnalyzeStream runs detection over one bare beat string outside any batch
// framing, for single-tab captures and detector tuning.
func (a *Analyzer) AnalyzeStream(rawBeat, rawScore string) (*Report, error) {
	st, err := a.parseScore(rawScore)
	if err != nil {
		return nil, err
	}

	flow, err := beat.Decode(strings.TrimSpace(rawBeat), a.grammar)
	if err != nil {
		return nil, fmt.Errorf("decoding beat: %w", err)
	}

	r := a.newReport()
	r.Flow = beat.Encode(flow, a.grammar)
	r.FlowTokens = len(flow)
	a.classify(r, flow)

	next := score.Update(st, r.Verdict == VerdictBot, r.HumanFlag)
	r.Score = next.Encode()

	a.rec.Log("stream_report", r.ID, r)
	log.Printf("[analyze:%s] stream of %d tokens, verdict %s", r.ID, r.FlowTokens, r.Verdict)
	return r, nil
}

// classify runs both banks over a flow. The banks are independent: a bot
// verdict does not suppress personalization flags, it only wins the verdict
// field.
func (a *Analyzer) classify(r *Report, flow beat.Stream) {
	if hit := a.bank.DetectBot(flow); hit != nil {
		r.Verdict = VerdictBot
		r.Bot = hit.String()
	}
	r.HumanFlag = a.bank.DetectHuman(flow)
	if r.Verdict == "" {
		if r.HumanFlag > 0 {
			r.Verdict = VerdictHuman
		} else {
			r.Verdict = VerdictClean
		}
	}
}

func (a *Analyzer) parseScore(raw string) (score.Score, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return score.New(a.flagWidth), nil
	}
	st, err := score.Parse(raw, a.flagWidth)
	if err != nil {
		return score.Score{}, fmt.Errorf("parsing score state: %w", err)
	}
	return st, nil
}

func (a *Analyzer) newReport() *Report {
	return &Report{
		ID:          uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
	}
}
