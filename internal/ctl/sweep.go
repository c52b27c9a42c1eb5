package ctl

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/rcowellai/recording-app-sub000/internal/session"
	"github.com/rcowellai/recording-app-sub000/internal/sweeper"
)

var sweepBatchSize int

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire sessions past their deadline, once",
	RunE: func(cmd *cobra.Command, args []string) error {
		if databaseURL == "" {
			return fmt.Errorf("--database-url (or DATABASE_URL) is required")
		}

		pool, err := pgxpool.New(rootCtx, databaseURL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()

		repo := session.NewPostgresRepository(pool)
		stats, err := sweeper.New(repo, nil, sweepBatchSize, nil).Run(rootCtx)
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}

		color.Green("✓ sweep complete")
		fmt.Printf("  expired:   %d\n", stats.Expired)
		fmt.Printf("  conflicts: %d\n", stats.Conflicts)
		fmt.Printf("  errors:    %d\n", stats.Errors)
		return nil
	},
}

func init() {
	sweepCmd.Flags().IntVar(&sweepBatchSize, "batch-size", 100, "sessions per sweep batch")
	rootCmd.AddCommand(sweepCmd)
}
