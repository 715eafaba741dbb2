// Package main implements the guardian CLI: operational access to the
// child-safety validation pipeline.
package main

import (
	"fmt"
	"os"

	"guardian/internal/config"
	"guardian/internal/logging"

	"github.com/spf13/cobra"
)

var (
	configPath string
	workspace  string
)

var rootCmd = &cobra.Command{
	Use:   "guardian",
	Short: "Child-safety validation pipeline",
	Long: `guardian validates messages exchanged with a child companion AI.

Every message is checked against a remote content classifier and a compiled
pattern rule set, combined under a most-restrictive-wins policy, with a
deterministic fallback when the classifier is unavailable.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ws := workspace
		if ws == "" {
			var err error
			ws, err = os.Getwd()
			if err != nil {
				return err
			}
		}
		if err := logging.Initialize(ws); err != nil {
			fmt.Fprintf(os.Stderr, "warning: logging init failed: %v\n", err)
		}
		return nil
	},
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

func main() {
	defer logging.CloseAll()

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "guardian.yaml", "Path to guardian config file")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: cwd)")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(checkConfigCmd)
	rootCmd.AddCommand(eventsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
