// Package capture drives an instrumented Chrome page that records real
// click and scroll activity and renders it as beat telemetry.
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"cadence/internal/beat"
	"cadence/internal/config"
	"cadence/internal/session"
	"cadence/internal/wire"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
)

// collectorJS installs the event hooks on first run and drains the buffer on
// every run. Draining reinstalls after a cross-document navigation, since
// the fresh document starts without the hooks.
const collectorJS = `
() => {
	const w = window;
	if (!w.__cadenceHooked) {
		w.__cadenceHooked = true;
		w.__cadenceEvents = [];

		const depthOf = (el) => {
			let d = 0;
			for (let n = el; n && n.parentElement; n = n.parentElement) d++;
			return d;
		};
		const labelOf = (el) => {
			if (!el) return '';
			return el.id || (el.getAttribute && el.getAttribute('aria-label')) || el.tagName || '';
		};

		document.addEventListener('click', (ev) => {
			try {
				const target = ev.target || {};
				w.__cadenceEvents.push({ type: 'click', label: labelOf(target), depth: depthOf(target), ts: Date.now() });
			} catch (e) {}
		}, true);

		let scrollArmed = true;
		w.addEventListener('scroll', () => {
			if (!scrollArmed) return;
			scrollArmed = false;
			setTimeout(() => { scrollArmed = true; }, 250);
			w.__cadenceEvents.push({ type: 'scroll', ts: Date.now() });
		}, true);
	}
	const buf = Array.isArray(w.__cadenceEvents) ? w.__cadenceEvents : [];
	w.__cadenceEvents = [];
	return buf;
}
`

// Harness owns the Chrome connection captures run against.
type Harness struct {
	cfg        config.CaptureConfig
	grammar    beat.Grammar
	mu         sync.RWMutex
	browser    *rod.Browser
	controlURL string
}

// NewHarness creates a harness for one grammar. Start must be called before
// Capture.
func NewHarness(cfg config.CaptureConfig, g beat.Grammar) *Harness {
	return &Harness{cfg: cfg, grammar: g}
}

// Start connects to an existing Chrome or launches a new one using Rod's
// launcher. A live connection is reused; a stale one is replaced.
func (h *Harness) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.browser != nil {
		if _, err := h.browser.Version(); err == nil {
			return nil
		}
		log.Printf("[capture] stale browser connection detected, reconnecting")
		_ = h.browser.Close()
		h.browser = nil
		h.controlURL = ""
	}

	controlURL := h.cfg.DebuggerURL
	if controlURL == "" && len(h.cfg.Launch) > 0 {
		bin := h.cfg.Launch[0]
		launch := launcher.New().Bin(bin).Headless(h.cfg.IsHeadless())
		for _, rawFlag := range h.cfg.Launch[1:] {
			name, val, hasVal := strings.Cut(strings.TrimLeft(rawFlag, "-"), "=")
			if hasVal {
				launch = launch.Set(flags.Flag(name), val)
			} else {
				launch = launch.Set(flags.Flag(name))
			}
		}
		launched, err := launch.Launch()
		if err != nil {
			// Fallback: let Rod pick the port and defaults.
			fallback := launcher.New().Bin(bin).Headless(h.cfg.IsHeadless())
			alt, altErr := fallback.Launch()
			if altErr != nil {
				return fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
			}
			controlURL = alt
		} else {
			controlURL = launched
		}
	}
	if controlURL == "" {
		return errors.New("no debugger_url or launch command configured")
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	h.browser = browser
	h.controlURL = controlURL
	log.Printf("[capture] browser connected at %s", controlURL)
	return nil
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (h *Harness) ControlURL() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.controlURL
}

// IsConnected reports whether the browser is currently connected.
func (h *Harness) IsConnected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.browser != nil
}

// Shutdown closes the underlying browser.
func (h *Harness) Shutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	if h.browser != nil {
		err = h.browser.Close()
		h.browser = nil
	}
	h.controlURL = ""
	return err
}

// Result is one finished capture: the collected fragment and its ready-made
// single-tab batch payload.
type Result struct {
	ID        string           `json:"id"`
	URL       string           `json:"url"`
	StartedAt time.Time        `json:"started_at"`
	Elapsed   time.Duration    `json:"elapsed"`
	Events    int              `json:"events"`
	Payload   string           `json:"payload"`
	Fragment  session.Fragment `json:"-"`
}

// Capture opens an incognito page on url, records clicks and scrolls for d,
// and converts the activity into a fragment plus batch payload. A canceled
// context ends the capture early with whatever was collected.
func (h *Harness) Capture(ctx context.Context, rawURL string, d time.Duration, device string) (*Result, error) {
	h.mu.RLock()
	browser := h.browser
	h.mu.RUnlock()
	if browser == nil {
		return nil, errors.New("browser not connected")
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer func() { _ = page.Close() }()

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             h.cfg.GetViewportWidth(),
		Height:            h.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		log.Printf("[capture] viewport override failed: %v", err)
	}

	var (
		evMu   sync.Mutex
		events []Event
	)
	addEvents := func(evs ...Event) {
		evMu.Lock()
		events = append(events, evs...)
		evMu.Unlock()
	}

	// The in-page collector cannot see cross-document moves, so page tokens
	// come from the CDP navigation stream.
	navCtx, cancelNav := context.WithCancel(ctx)
	defer cancelNav()
	waitNav := page.Context(navCtx).EachEvent(func(ev *proto.PageFrameNavigated) {
		addEvents(Event{Type: EventPage, Label: pathOf(ev.Frame.URL), TS: time.Now().UnixMilli()})
	})
	go waitNav()

	if err := page.Timeout(h.cfg.NavigationTimeout()).Navigate(rawURL); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", rawURL, err)
	}

	started := time.Now()
	res := &Result{ID: uuid.NewString(), URL: rawURL, StartedAt: started}
	log.Printf("[capture:%s] recording %s for %s", res.ID, rawURL, d)

	// First run installs the hooks right away; waiting for the first tick
	// would drop early clicks.
	addEvents(h.drainCollector(ctx, page)...)

	deadline := time.NewTimer(d)
	defer deadline.Stop()
	ticker := time.NewTicker(h.cfg.PollInterval())
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-deadline.C:
			break loop
		case <-ticker.C:
			addEvents(h.drainCollector(ctx, page)...)
		}
	}
	cancelNav()
	// Final drain; a click between the last tick and the deadline would
	// otherwise be lost.
	addEvents(h.drainCollector(ctx, page)...)

	evMu.Lock()
	collected := append([]Event(nil), events...)
	evMu.Unlock()

	frag := BuildFragment("1", device, "direct", collected, h.grammar)
	if len(frag.Beat) == 0 {
		return nil, errors.New("no events captured")
	}

	res.Elapsed = time.Since(started)
	res.Events = len(collected)
	res.Fragment = frag
	res.Payload = wire.BuildBatch(map[string]session.Fragment{frag.TabID: frag}, h.grammar)
	log.Printf("[capture:%s] %d events, %d tokens", res.ID, res.Events, len(frag.Beat))
	return res, nil
}

// drainCollector evaluates the collector script, returning and resetting the
// in-page buffer. Evaluation failures drop the drain, not the capture.
func (h *Harness) drainCollector(ctx context.Context, page *rod.Page) []Event {
	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           collectorJS,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil || res == nil || res.Value.Nil() {
		return nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil
	}

	var drained []struct {
		Type  string  `json:"type"`
		Label string  `json:"label"`
		Depth int     `json:"depth"`
		TS    float64 `json:"ts"`
	}
	if err := json.Unmarshal(raw, &drained); err != nil {
		return nil
	}

	events := make([]Event, 0, len(drained))
	for _, ev := range drained {
		events = append(events, Event{Type: ev.Type, Label: ev.Label, Depth: ev.Depth, TS: int64(ev.TS)})
	}
	return events
}

func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Path
}
