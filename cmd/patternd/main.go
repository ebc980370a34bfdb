// Patternd discovers recurring health patterns in a user's event history,
// tracks how much to trust each one and decides when to raise them in
// conversation.
//
// Usage:
//
//	# Run the nightly scheduler and the HTTP API
//	patternd serve
//
//	# Load events, then mine one user by hand
//	patternd import --user u-1 --timezone Europe/Berlin events.json
//	patternd mine --user u-1
//
//	# Configure via environment
//	PATTERND_SERVER_PORT=8080 PATTERND_DATABASE_PATH=/var/lib/patternd/db patternd serve
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. configPath is shared by every
// subcommand through the persistent --config flag.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "patternd",
		Short: "Health pattern discovery and confidence engine",
		Long: `patternd mines health events for recurring patterns, keeps a confidence
score for each pattern as new evidence and feedback arrive, and scores
which pattern is worth surfacing for a given chat message.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default ~/.config/patternd/config.yaml)")

	root.AddCommand(
		newServeCmd(&configPath),
		newMineCmd(&configPath),
		newImportCmd(&configPath),
		newBackfillCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "patternd by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
