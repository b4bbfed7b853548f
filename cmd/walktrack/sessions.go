// ABOUTME: Sessions command
// ABOUTME: Lists recorded walks with their sync state counts

package main

import (
	"context"
	"fmt"

	"github.com/harper/walktrack/internal/ui"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"ls"},
	Short:   "List recorded walks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmdContext(cmd)
		sessions, err := repo.ListSessions(ctx)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}

		if len(sessions) == 0 {
			fmt.Println("No walks recorded yet. Use 'walktrack record' to record one.")
			return nil
		}

		for _, sess := range sessions {
			counts, err := repo.Counts(ctx, sess.ID)
			if err != nil {
				return fmt.Errorf("failed to count samples for %s: %w", sess.ID, err)
			}
			fmt.Println(ui.FormatSession(sess, counts))
		}

		return nil
	},
}

// cmdContext returns the command context, or Background when a test calls
// RunE directly.
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}
