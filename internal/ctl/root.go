// Package ctl implements the storyctl command line: operator tooling to
// mint test sessions, open recording links, drive a simulated recording
// end to end against a running API, and sweep expired sessions.
package ctl

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	baseURL     string
	databaseURL string

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "storyctl",
	Short: "storyctl - operate the story recording service",
	Long: `storyctl is the operator CLI for the story recording service.

Mint a test session, open its recording link, simulate a full recording
against a running API, or sweep expired sessions.

Get started:
  storyctl session mint --prompt-text "How did you two meet?"
  storyctl session open <session-id>
  storyctl simulate <session-id> --chunks 3`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		rootCtx, rootCancel = context.WithCancel(context.Background())

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			rootCancel()
		}()

		return resolveConfig()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if rootCancel != nil {
			rootCancel()
		}
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", defaultBaseURL, "API base URL")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres URL (mint/sweep only)")
}
