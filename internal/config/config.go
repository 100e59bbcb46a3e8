package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level cadence config.
	WorkspaceDirName = ".cadence"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the cadence analysis engine.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Grammar GrammarConfig `yaml:"grammar"`
	Score   ScoreConfig   `yaml:"score"`
	Detect  DetectConfig  `yaml:"detect"`
	Trace   TraceConfig   `yaml:"trace"`
	Capture CaptureConfig `yaml:"capture"`
}

type EngineConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
}

// GrammarConfig selects the BEAT scheme the engine decodes. All glyphs must
// be distinct and digit-free; prefix-overlapping glyphs fail validation at
// engine build time.
type GrammarConfig struct {
	// Glyph opening a page token (default "P").
	Page string `yaml:"page"`
	// Glyph opening an element token (default "E").
	Element string `yaml:"element"`
	// Glyph opening a time gap token (default "T").
	TimeGap string `yaml:"time_gap"`
	// Glyph opening a repeat gap token (default "A").
	RepeatGap string `yaml:"repeat_gap"`
	// Marker opening a tab switch (default "___").
	TabSwitch string `yaml:"tab_switch"`
	// Milliseconds per tick (default 100).
	TickMs int `yaml:"tick_ms"`
}

// ScoreConfig shapes the score state wire format.
type ScoreConfig struct {
	// Personalization flag digits after the security digit (default 9).
	FlagWidth int `yaml:"flag_width"`
}

// DetectConfig toggles and tunes the human rule bank. The bot battery is
// fixed and carries no configuration.
type DetectConfig struct {
	RapidRepeatBuy RapidRepeatBuyConfig `yaml:"rapid_repeat_buy"`
}

// RapidRepeatBuyConfig tunes the flag 1 human rule.
type RapidRepeatBuyConfig struct {
	// Enabled controls the rule (default: true).
	Enabled *bool `yaml:"enabled"`
	// Element label that counts as the buy control (default "buy").
	BuyLabel string `yaml:"buy_label"`
	// Upper bound for a repeat gap to count as rapid (default 1000).
	MaxGapMs int `yaml:"max_gap_ms"`
	// Consecutive rapid repeats required (default 3).
	MinRun int `yaml:"min_run"`
}

// TraceConfig controls the JSONL analysis trace recorder.
type TraceConfig struct {
	// Enable trace recording (default: true).
	Enabled bool `yaml:"enabled"`
	// Directory for trace files (default "traces").
	Dir string `yaml:"dir"`
	// Rotated files to keep besides the active one (default 3).
	MaxFiles int `yaml:"max_files"`
}

// CaptureConfig configures how the capture harness attaches to or launches
// Chrome.
type CaptureConfig struct {
	// Control endpoint (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome in detached mode.
	Launch []string `yaml:"launch"`
	// Headless controls whether a launched Chrome runs headless (default: true).
	Headless *bool `yaml:"headless"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Default timeout when attaching to an existing target (e.g., "10s").
	DefaultAttachTimeout string `yaml:"default_attach_timeout"`
	// Poll interval (ms) for draining the in-page event buffer (default 500).
	PollIntervalMs int `yaml:"poll_interval_ms"`
	// Viewport width for capture pages (default 1920).
	ViewportWidth int `yaml:"viewport_width"`
	// Viewport height for capture pages (default 1080).
	ViewportHeight int `yaml:"viewport_height"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Engine: EngineConfig{
			Name:    "cadence",
			Version: "0.1.0",
			LogFile: "cadence.log",
		},
		Grammar: GrammarConfig{
			Page:      "P",
			Element:   "E",
			TimeGap:   "T",
			RepeatGap: "A",
			TabSwitch: "___",
			TickMs:    100,
		},
		Score: ScoreConfig{
			FlagWidth: 9,
		},
		Detect: DetectConfig{
			RapidRepeatBuy: RapidRepeatBuyConfig{
				BuyLabel: "buy",
				MaxGapMs: 1000,
				MinRun:   3,
			},
		},
		Trace: TraceConfig{
			Enabled:  true,
			Dir:      "traces",
			MaxFiles: 3,
		},
		Capture: CaptureConfig{
			DefaultNavigationTimeout: "15s",
			DefaultAttachTimeout:     "10s",
			PollIntervalMs:           500,
			ViewportWidth:            1920,
			ViewportHeight:           1080,
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .cadence/config.yaml
// file. Returns the workspace root directory (parent of .cadence/) or empty
// string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .cadence/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	// Layer 1: Workspace config (if not disabled)
	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			// Verify the explicit workspace dir has a config
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	// Layer 2: Explicit config file (--config flag)
	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .cadence/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	// Check if already exists
	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	dirs := []string{
		wsDir,
		filepath.Join(wsDir, "captures"),
		filepath.Join(wsDir, "data"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# cadence project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.

# grammar:
#   page: "P"
#   element: "E"
#   time_gap: "T"
#   repeat_gap: "A"
#   tab_switch: "___"
#   tick_ms: 100

# detect:
#   rapid_repeat_buy:
#     enabled: true
#     buy_label: "buy"

# trace:
#   dir: ".cadence/data/traces"
#   max_files: 3

# capture:
#   debugger_url: "ws://localhost:9222"
#   headless: false
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	// Write .gitignore for data directory
	gitignoreContent := "# Runtime data (logs, traces, captures) - do not version control\ndata/\ncaptures/\n"
	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Engine.LogFile = resolve(cfg.Engine.LogFile)
	cfg.Trace.Dir = resolve(cfg.Trace.Dir)
	return cfg
}

// Validate ensures required fields exist so the engine starts
// deterministically. Grammar glyph rules are enforced when the analyzer is
// built.
func (c *Config) Validate() error {
	if c.Engine.Name == "" {
		return errors.New("engine.name is required")
	}
	if c.Grammar.TickMs < 0 {
		return errors.New("grammar.tick_ms must not be negative")
	}
	if c.Score.FlagWidth < 0 {
		return errors.New("score.flag_width must not be negative")
	}
	if c.Trace.MaxFiles < 0 {
		return errors.New("trace.max_files must not be negative")
	}
	return nil
}

// GetPage returns the page glyph with a sane default.
func (g GrammarConfig) GetPage() string {
	if g.Page == "" {
		return "P"
	}
	return g.Page
}

// GetElement returns the element glyph with a sane default.
func (g GrammarConfig) GetElement() string {
	if g.Element == "" {
		return "E"
	}
	return g.Element
}

// GetTimeGap returns the time gap glyph with a sane default.
func (g GrammarConfig) GetTimeGap() string {
	if g.TimeGap == "" {
		return "T"
	}
	return g.TimeGap
}

// GetRepeatGap returns the repeat gap glyph with a sane default.
func (g GrammarConfig) GetRepeatGap() string {
	if g.RepeatGap == "" {
		return "A"
	}
	return g.RepeatGap
}

// GetTabSwitch returns the tab switch marker with a sane default.
func (g GrammarConfig) GetTabSwitch() string {
	if g.TabSwitch == "" {
		return "___"
	}
	return g.TabSwitch
}

// GetTickMs returns the tick length with a sane default.
func (g GrammarConfig) GetTickMs() int {
	if g.TickMs <= 0 {
		return 100
	}
	return g.TickMs
}

// GetFlagWidth returns the flag digit count with a sane default.
func (s ScoreConfig) GetFlagWidth() int {
	if s.FlagWidth <= 0 {
		return 9
	}
	return s.FlagWidth
}

// IsEnabled returns whether the rule runs (default: true).
func (r RapidRepeatBuyConfig) IsEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// GetMaxFiles returns the rotated file budget with a sane default.
func (t TraceConfig) GetMaxFiles() int {
	if t.MaxFiles <= 0 {
		return 3
	}
	return t.MaxFiles
}

// GetDir returns the trace directory with a sane default.
func (t TraceConfig) GetDir() string {
	if t.Dir == "" {
		return "traces"
	}
	return t.Dir
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (c CaptureConfig) NavigationTimeout() time.Duration {
	if c.DefaultNavigationTimeout == "" {
		return 15 * time.Second
	}
	d, err := time.ParseDuration(c.DefaultNavigationTimeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// AttachTimeout returns the parsed attach timeout with a sane default.
func (c CaptureConfig) AttachTimeout() time.Duration {
	if c.DefaultAttachTimeout == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(c.DefaultAttachTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// IsHeadless returns whether a launched Chrome runs headless (default: true).
func (c CaptureConfig) IsHeadless() bool {
	if c.Headless == nil {
		return true
	}
	return *c.Headless
}

// PollInterval returns the event buffer poll interval with a sane default.
func (c CaptureConfig) PollInterval() time.Duration {
	if c.PollIntervalMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// GetViewportWidth returns the viewport width with a sane default.
func (c CaptureConfig) GetViewportWidth() int {
	if c.ViewportWidth <= 0 {
		return 1920
	}
	return c.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (c CaptureConfig) GetViewportHeight() int {
	if c.ViewportHeight <= 0 {
		return 1080
	}
	return c.ViewportHeight
}
