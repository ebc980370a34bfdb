package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newMineCmd(configPath *string) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "mine",
		Short: "Run one mining cycle for a user and print the summary",
		Long: `Run one mining cycle for a user immediately, outside the nightly
schedule, and print the cycle summary as JSON.

Examples:
  patternd mine --user u-1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			summary, err := a.miner.RunCycle(ctx, userID)
			if err != nil {
				return fmt.Errorf("mining cycle for %s: %w", userID, err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user ID to mine")
	return cmd
}
