package main

import (
	"cadence/internal/score"

	"github.com/spf13/cobra"
)

var (
	scoreBot  bool
	scoreFlag int
	scoreTabs int
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Inspect or advance a session score state value",
}

var scoreInspectCmd = &cobra.Command{
	Use:   "inspect [state]",
	Short: "Decode a score state value into its fields",
	Args:  cobra.ExactArgs(1),
	RunE:  runScoreInspect,
}

var scoreUpdateCmd = &cobra.Command{
	Use:   "update [state]",
	Short: "Advance a score state value by one analysis outcome",
	Long: `Applies one analysis outcome to a score state value and prints the
updated state. With no argument a fresh first-contact state is advanced.

Example:
  cadence score update 0000000000_t1_h1___1 --bot
  cadence score update --flag 1`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScoreUpdate,
}

// scoreJSON mirrors score.Score for output, with the wire form alongside.
type scoreJSON struct {
	Security    int    `json:"security"`
	Flags       []int  `json:"flags"`
	SessionTime string `json:"session_time,omitempty"`
	SessionHash string `json:"session_hash,omitempty"`
	TabCount    int    `json:"tab_count"`
	Encoded     string `json:"encoded"`
}

func scoreToJSON(s score.Score) scoreJSON {
	return scoreJSON{
		Security:    s.Security,
		Flags:       s.Flags,
		SessionTime: s.SessionTime,
		SessionHash: s.SessionHash,
		TabCount:    s.TabCount,
		Encoded:     s.Encode(),
	}
}

func runScoreInspect(cmd *cobra.Command, args []string) error {
	st, err := score.Parse(args[0], cfg.Score.GetFlagWidth())
	if err != nil {
		return err
	}
	return printJSON(scoreToJSON(st))
}

func runScoreUpdate(cmd *cobra.Command, args []string) error {
	width := cfg.Score.GetFlagWidth()
	st := score.New(width)
	if len(args) == 1 {
		var err error
		st, err = score.Parse(args[0], width)
		if err != nil {
			return err
		}
	}

	next := score.Update(st, scoreBot, scoreFlag)
	if scoreTabs > 0 {
		next.ObserveTabs(scoreTabs)
	}
	return printJSON(scoreToJSON(next))
}

func init() {
	scoreUpdateCmd.Flags().BoolVar(&scoreBot, "bot", false, "Record a bot rule hit (raises the security level)")
	scoreUpdateCmd.Flags().IntVar(&scoreFlag, "flag", 0, "Human rule flag position to set (1-based, 0 for none)")
	scoreUpdateCmd.Flags().IntVar(&scoreTabs, "tabs", 0, "Observed open tab count")

	scoreCmd.AddCommand(scoreInspectCmd)
	scoreCmd.AddCommand(scoreUpdateCmd)
	rootCmd.AddCommand(scoreCmd)
}
