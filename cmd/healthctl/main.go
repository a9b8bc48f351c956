// healthctl is the operator CLI for the healthsync backend. It talks
// directly to Postgres, so it works even when the API surface is down.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"example.com/healthsync/internal/config"
	"example.com/healthsync/internal/outbox"
	persistence "example.com/healthsync/internal/persistence/postgres"
)

func main() {
	root := &cobra.Command{
		Use:           "healthctl",
		Short:         "Operator tooling for the healthsync backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newMigrateCommand())
	root.AddCommand(newBackfillCommand())
	root.AddCommand(newDLQCommand())
	root.AddCommand(newEventsCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return pgxpool.New(ctx, cfg.DatabaseURL)
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := persistence.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Println("schema applied")
			return nil
		},
	}
}

func newBackfillCommand() *cobra.Command {
	var userID, from, to string

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Mark a user's date range dirty for re-reconciliation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fromDay, err := time.Parse("2006-01-02", from)
			if err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			toDay, err := time.Parse("2006-01-02", to)
			if err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}

			ctx := cmd.Context()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			repo := persistence.NewRepository(pool)
			count, err := repo.EnqueueBackfill(ctx, userID, fromDay, toDay)
			if err != nil {
				return err
			}
			fmt.Printf("enqueued %d day keys for user %s\n", count, userID)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "internal user id (required)")
	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&to, "to", "", "last day, YYYY-MM-DD (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func newDLQCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay the outbox dead-letter queue",
	}

	var batchSize int
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Process one batch of retryable DLQ entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			manager := outbox.NewDLQManager(pool, 0, 0)
			processed, err := manager.RunOnce(ctx, batchSize)
			fmt.Printf("processed %d entries\n", processed)
			return err
		},
	}
	runCmd.Flags().IntVar(&batchSize, "batch", 50, "max entries per pass")

	var ids []int64
	requeueCmd := &cobra.Command{
		Use:   "requeue",
		Short: "Lift quarantine and schedule entries for immediate retry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			manager := outbox.NewDLQManager(pool, 0, 0)
			count, err := manager.Requeue(ctx, ids)
			if err != nil {
				return err
			}
			fmt.Printf("requeued %d entries\n", count)
			return nil
		},
	}
	requeueCmd.Flags().Int64SliceVar(&ids, "ids", nil, "dlq ids to requeue (default: all quarantined)")

	cmd.AddCommand(runCmd, requeueCmd)
	return cmd
}

func newEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the raw event log",
	}

	var limit int
	failedCmd := &cobra.Command{
		Use:   "failed",
		Short: "List failed raw events for triage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			repo := persistence.NewRepository(pool)
			events, _, err := repo.FailedEvents(ctx, nil, limit)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println("no failed events")
				return nil
			}
			for _, ev := range events {
				detail := ev.ParseDetail
				if ev.ErrorDetail != nil {
					detail = *ev.ErrorDetail
				}
				fmt.Printf("%s  %-12s  %-24s  %s  %s\n",
					ev.ReceivedAt.Format(time.RFC3339), ev.Provider, ev.EventType, ev.ID, detail)
			}
			return nil
		},
	}
	failedCmd.Flags().IntVar(&limit, "limit", 20, "max events to list")

	cmd.AddCommand(failedCmd)
	return cmd
}
