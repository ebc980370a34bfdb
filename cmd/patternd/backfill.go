package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/config"
	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/workflows"
)

func newBackfillCmd(configPath *string) *cobra.Command {
	var (
		users []string
		wait  bool
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Start a Temporal backfill across users",
		Long: `Start the backfill workflow, which runs one mining cycle per user on
the patternd worker. A failure for one user is reported in the result
and never stops the others.

Examples:
  patternd backfill --user u-1 --user u-2 --wait`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(users) == 0 {
				return errors.New("at least one --user is required")
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cfg, err := config.LoadWithFile(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			lcfg, err := logging.FromSettings(cfg.Logging)
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(lcfg, nil)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			c, err := client.Dial(client.Options{
				HostPort:  cfg.Temporal.HostPort,
				Namespace: cfg.Temporal.Namespace,
			})
			if err != nil {
				return fmt.Errorf("unable to create Temporal client: %w", err)
			}
			defer c.Close()

			id := "patternd-backfill-" + uuid.New().String()
			run, err := workflows.StartBackfill(ctx, c, cfg.Temporal.TaskQueue, id, workflows.BackfillInput{UserIDs: users})
			if err != nil {
				return err
			}
			logger.Info(ctx, "backfill started",
				zap.String("workflow_id", run.GetID()),
				zap.String("run_id", run.GetRunID()),
				zap.Int("users", len(users)))
			fmt.Fprintf(cmd.OutOrStdout(), "workflow %s (run %s)\n", run.GetID(), run.GetRunID())

			if !wait {
				return nil
			}
			var result workflows.BackfillResult
			if err := run.Get(ctx, &result); err != nil {
				return fmt.Errorf("backfill workflow: %w", err)
			}
			for _, u := range result.Users {
				if u.Error != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tfailed\t%s\n", u.UserID, u.Error)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tok\tevents=%d new=%d updated=%d archived=%d\n",
					u.UserID, u.EventsAnalyzed, u.NewPatterns, u.UpdatedPatterns, u.Archived)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "succeeded=%d failed=%d\n", result.Succeeded, result.Failed)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&users, "user", nil, "user IDs to mine (repeatable)")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the workflow and print per-user results")
	return cmd
}
