package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/health"
	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/sanitize"
)

// maxImportSize caps the events file read by import.
const maxImportSize = 64 * 1024 * 1024

func newImportCmd(configPath *string) *cobra.Command {
	var (
		userID   string
		timezone string
		inactive bool
	)

	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import health events from a JSON array",
		Long: `Import health events from a JSON array in a file or stdin and
register the user for nightly mining.

Events without a user_id are assigned to --user.

Examples:
  patternd import --user u-1 --timezone America/Chicago events.json
  cat events.json | patternd import --user u-1 -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			if err := sanitize.ValidateUserID(userID); err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			events, err := readEvents(cmd, args)
			if err != nil {
				return err
			}
			for i := range events {
				if events[i].UserID == "" {
					events[i].UserID = userID
				}
				if events[i].UserID != userID {
					return fmt.Errorf("event %d belongs to %q, not %q", i, events[i].UserID, userID)
				}
			}

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if err := a.store.UpsertUser(ctx, userID, timezone, !inactive); err != nil {
				return err
			}
			n, err := a.store.AddEvents(ctx, events...)
			if err != nil {
				return fmt.Errorf("import events: %w", err)
			}
			a.logger.Info(logging.WithUserID(ctx, userID), "imported events", zap.Int("count", n))
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d events for %s\n", n, userID)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user the events belong to")
	cmd.Flags().StringVar(&timezone, "timezone", "UTC", "IANA timezone of the user")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "register the user without nightly mining")
	return cmd
}

func readEvents(cmd *cobra.Command, args []string) ([]health.Event, error) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, fmt.Errorf("open events file: %w", err)
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, maxImportSize+1))
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	if len(data) > maxImportSize {
		return nil, fmt.Errorf("events input exceeds %d bytes", maxImportSize)
	}

	var events []health.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("parse events: %w", err)
	}
	return events, nil
}
