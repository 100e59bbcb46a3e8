package main

import (
	"path/filepath"

	"cadence/internal/analyzer"
	"cadence/internal/config"
	"cadence/internal/corpus"

	"github.com/spf13/cobra"
)

var scanOnly string

var scanCmd = &cobra.Command{
	Use:   "scan [dir]",
	Short: "Analyze every payload file in a corpus directory",
	Long: `Walks a directory of captured payload files (one batch payload per
line, # comments allowed), grades every batch and prints per-file results
plus a rollup. Without an argument the workspace captures directory is
scanned, falling back to the current directory.

Pass --only to keep only reports with a given verdict (clean, bot, human).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	dir := "."
	switch {
	case len(args) == 1:
		dir = args[0]
	case wsDir != "":
		dir = filepath.Join(wsDir, config.WorkspaceDirName, "captures")
	}

	a, err := buildAnalyzer()
	if err != nil {
		return err
	}

	results, rollup, err := corpus.NewScanner(a).ScanDir(dir)
	if err != nil {
		return err
	}

	if scanOnly != "" {
		verdict := analyzer.Verdict(scanOnly)
		for i := range results {
			results[i].Reports = corpus.FilterByVerdict(results[i].Reports, verdict)
		}
	}

	return printJSON(struct {
		Dir    string              `json:"dir"`
		Files  []corpus.FileResult `json:"files"`
		Rollup corpus.Rollup       `json:"rollup"`
	}{Dir: dir, Files: results, Rollup: rollup})
}

func init() {
	scanCmd.Flags().StringVar(&scanOnly, "only", "", "Keep only reports with this verdict (clean, bot, human)")

	rootCmd.AddCommand(scanCmd)
}
