// ABOUTME: MCP serve command
// ABOUTME: Exposes walks, paths, and sync state to AI agents over stdio

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/harper/walktrack/internal/mcp"
	"github.com/harper/walktrack/internal/metrics"
	"github.com/harper/walktrack/internal/sync"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for AI agents",
	Long: `Serve walks and their sync state to AI agents over stdio.

Tools: list_sessions, get_path, sync_status, reset_failed, and sync_now when
sync is configured. Resources: walktrack://sessions and
walktrack://sessions/{session}/geojson.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		syncer, err := mcpSyncer()
		if err != nil {
			return err
		}
		server, err := mcp.NewServer(repo, syncer)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return server.Serve(ctx)
	},
}

// mcpSyncer returns a scheduler when sync is configured and a nil interface
// otherwise, which leaves sync_now unregistered.
func mcpSyncer() (mcp.Syncer, error) {
	cfg, err := sync.LoadConfig()
	if err != nil {
		cliLogger().Warn("sync config unreadable; sync_now disabled", "err", err)
		return nil, nil
	}
	sched, _, err := buildScheduler(repo, cfg, false, metrics.New(nil))
	switch {
	case errors.Is(err, sync.ErrNotConfigured):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return sched, nil
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
