package main

import (
	"fmt"

	"cadence/internal/config"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Create a .cadence workspace",
	Long: `Creates a .cadence/ directory with a commented config template, a
captures/ directory scan reads by default, and a data/ directory for logs
and traces. Subcommands discover the workspace by walking up from the
current directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) == 1 {
		root = args[0]
	}
	if err := config.InitWorkspace(root); err != nil {
		return err
	}
	fmt.Printf("initialized %s workspace in %s/%s\n", cfg.Engine.Name, root, config.WorkspaceDirName)
	return nil
}

func init() {
	rootCmd.AddCommand(initCmd)
}
