package main

import (
	"errors"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/qanatlabs/qanat/internal/models"
)

const version = "1.0.0"

// exitBudgetExhausted lets the workflow engine tell "halt this platform for
// the week" apart from a hard failure worth retrying.
const exitBudgetExhausted = 3

var (
	cfgPath      string
	platformFlag string
)

func main() {
	// Logs to stderr, structured output to stdout.
	log.SetOutput(os.Stderr)

	rootCmd := &cobra.Command{
		Use:   "qanat",
		Short: "Arabic gaming content pipeline",
		Long: `qanat runs the content pipeline steps for one platform: planning,
script writing, validation, budget control and RAG maintenance.
All output is structured JSON on stdout (pipe through jq for human-readable
formatting); logs go to stderr.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", os.Getenv("QANAT_CONFIG"), "Config file path")
	rootCmd.PersistentFlags().StringVarP(&platformFlag, "platform", "p", "", "Target platform: youtube, tiktok, instagram, x")

	// Add subcommands
	rootCmd.AddCommand(newBudgetCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newWriteCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newRAGCommand())

	if err := rootCmd.Execute(); err != nil {
		var exhausted *models.BudgetExhaustedError
		if errors.As(err, &exhausted) {
			os.Exit(exitBudgetExhausted)
		}
		os.Exit(1)
	}
}
