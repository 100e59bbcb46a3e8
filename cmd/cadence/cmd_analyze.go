package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"cadence/internal/analyzer"

	"github.com/spf13/cobra"
)

var (
	analyzeState string
	analyzeBeat  bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [file]",
	Short: "Grade one telemetry batch payload",
	Long: `Reads a batch payload from the given file or stdin, reassembles the
multi-tab flow, runs the bot and human pattern banks over it and prints a
JSON report carrying the advanced score state.

Pass --state to continue from a previously issued score value, or --beat to
grade a bare beat stream instead of a batch payload.

Example:
  cadence analyze captures/visit.beat
  echo 'rhythm_1=0___chrome_direct_0_2_40_PhomeT10Ebuy' | cadence analyze`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	payload, err := readInput(args)
	if err != nil {
		return err
	}

	a, err := buildAnalyzer()
	if err != nil {
		return err
	}

	var report *analyzer.Report
	if analyzeBeat {
		report, err = a.AnalyzeStream(strings.TrimSpace(payload), analyzeState)
	} else {
		report, err = a.AnalyzeBatch(payload, analyzeState)
	}
	if err != nil {
		return err
	}
	return printJSON(report)
}

// readInput returns the first argument's file contents, or stdin when no
// argument was given.
func readInput(args []string) (string, error) {
	if len(args) == 0 {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(raw), nil
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeState, "state", "", "Prior score state value to advance")
	analyzeCmd.Flags().BoolVar(&analyzeBeat, "beat", false, "Treat the input as a bare beat stream instead of a batch payload")

	rootCmd.AddCommand(analyzeCmd)
}
