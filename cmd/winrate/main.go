// Command winrate estimates calibrated win rates between generative models
// from noisy pairwise preference votes.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/banshee-data/winrate/internal/monitoring"
)

func main() {
	// A missing .env is fine; the environment and flags still apply.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "winrate",
		Short: "Calibrated win-rate estimation from noisy preference votes",
		Long: `winrate estimates the probability p that one model's output is
preferred over another's, correcting the raw vote share for rater
reliability q estimated from labelled data and calibrated on the votes.

Run 'winrate compare' to estimate every pair of the default dataset.
Run 'winrate --help' for available commands.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
				monitoring.SetLogger(nil)
			}
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path (.json, .yaml or .yml)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress progress logs")

	rootCmd.AddCommand(
		compareCmd(),
		historyCmd(),
		cacheCmd(),
		migrateCmd(),
		listCmd(),
		versionCmd(),
	)
	return rootCmd
}

// printf writes command output, as opposed to diagnostics.
func printf(cmd *cobra.Command, format string, args ...interface{}) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
