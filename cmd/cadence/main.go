// Command cadence decodes compact behavioral telemetry, reassembles
// multi-tab session batches, and grades them against bot and human pattern
// banks. It also drives live captures against an instrumented Chrome page.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"cadence/internal/analyzer"
	"cadence/internal/config"
	"cadence/internal/trace"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgPath      string
	noWorkspace  bool
	workspaceDir string

	// Loaded in PersistentPreRunE, shared by all subcommands.
	cfg     config.Config
	wsDir   string
	logFile *os.File
)

var rootCmd = &cobra.Command{
	Use:   "cadence",
	Short: "cadence - behavioral telemetry analyzer",
	Long: `cadence decodes compact behavioral telemetry (beat streams), reassembles
multi-tab session batches, and grades them against bot and human pattern
banks. Captured or logged payloads can be scanned in bulk, and a live
capture harness records real browser activity as telemetry.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, wsDir, err = config.LoadWithWorkspace(cfgPath, config.WorkspaceOptions{
			Disable:     noWorkspace,
			ExplicitDir: workspaceDir,
		})
		if err != nil {
			return err
		}
		setupLogging()
		if wsDir != "" {
			log.Printf("[cli] using workspace %s", wsDir)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			_ = logFile.Close()
		}
	},
}

// setupLogging redirects log output to the configured file. Results print
// to stdout, so logs never share it; without a usable log file they are
// dropped.
func setupLogging() {
	if cfg.Engine.LogFile == "" {
		log.SetOutput(io.Discard)
		return
	}
	f, err := os.OpenFile(cfg.Engine.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.SetOutput(io.Discard)
		return
	}
	logFile = f
	log.SetOutput(f)
}

// buildAnalyzer assembles the batch pipeline, attaching the trace recorder
// when tracing is enabled. A recorder failure logs and degrades to no
// tracing rather than blocking analysis.
func buildAnalyzer() (*analyzer.Analyzer, error) {
	var rec *trace.Recorder
	if cfg.Trace.Enabled {
		r, err := trace.New(cfg.Trace.GetDir(), cfg.Trace.GetMaxFiles())
		if err != nil {
			log.Printf("[cli] trace recorder unavailable: %v", err)
		} else if err := r.Start(uuid.NewString()); err != nil {
			log.Printf("[cli] trace recorder start failed: %v", err)
		} else {
			rec = r
		}
	}
	return analyzer.New(cfg, rec)
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the engine name and version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s %s\n", cfg.Engine.Name, cfg.Engine.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to an explicit config file (overrides workspace config)")
	rootCmd.PersistentFlags().BoolVar(&noWorkspace, "no-workspace", false, "Skip .cadence workspace discovery")
	rootCmd.PersistentFlags().StringVar(&workspaceDir, "workspace-dir", "", "Use this directory's .cadence workspace instead of discovering one")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
