// ABOUTME: Sync subcommands for delivering recorded samples to the remote store
// ABOUTME: Provides init, status, run, reset, and Charm link/unlink commands

package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/fatih/color"
	"github.com/harper/walktrack/internal/charm"
	"github.com/harper/walktrack/internal/metrics"
	"github.com/harper/walktrack/internal/models"
	"github.com/harper/walktrack/internal/sync"
	"github.com/harper/walktrack/internal/ui"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Manage delivery of recorded walks",
	Long: `Deliver recorded samples to the remote store.

Samples are kept locally until the remote store acknowledges them. Sync runs in
the background while recording; these commands inspect and drive it by hand.

Commands:
  init    - Create a sync config with a fresh device ID
  status  - Show configuration and per-walk sync state
  run     - Sync pending samples now
  reset   - Retry a walk's failed samples
  link    - Link this device to your Charm account (charm transport)
  unlink  - Unlink this device from your Charm account

Examples:
  walktrack sync init --server https://walks.example.com --token $TOKEN
  walktrack sync init --transport charm
  walktrack sync status
  walktrack sync run
  walktrack sync run morning
  walktrack sync reset morning`,
}

var (
	syncInitServer    string
	syncInitToken     string
	syncInitTransport string
	syncRunRecover    bool
)

var syncInitCmd = &cobra.Command{
	Use:         "init",
	Short:       "Initialize sync configuration",
	Annotations: map[string]string{skipStorage: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := sync.InitConfig(syncInitServer)
		if err != nil {
			return fmt.Errorf("failed to initialize sync: %w", err)
		}
		if syncInitToken != "" {
			cfg.Token = syncInitToken
		}
		if syncInitTransport != "" {
			cfg.Transport = syncInitTransport
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := sync.SaveConfig(cfg); err != nil {
			return err
		}

		color.Green("✓ Sync configured")
		fmt.Printf("  Config:    %s\n", sync.ConfigPath())
		fmt.Printf("  Device:    %s\n", cfg.DeviceID)
		fmt.Printf("  Transport: %s\n", cfg.TransportKind())
		if cfg.TransportKind() == sync.TransportHTTP {
			fmt.Printf("  Server:    %s\n", cfg.Server)
		}
		return nil
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := sync.LoadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Transport: %s\n", cfg.TransportKind())
		switch cfg.TransportKind() {
		case sync.TransportCharm:
			fmt.Printf("Charm:     %s (%s)\n", charm.DefaultConfig().Host, charm.DBName)
		default:
			fmt.Printf("Server:    %s\n", valueOr(cfg.Server, "(not set)"))
		}
		fmt.Printf("Device:    %s\n", valueOr(cfg.DeviceID, "(not set)"))
		fmt.Printf("Auto sync: %t\n", cfg.AutoSync)
		if !cfg.IsConfigured() {
			color.Yellow("\nStatus: Not configured")
			fmt.Println("Run 'walktrack sync init' to set up sync.")
		}

		ctx := cmdContext(cmd)
		sessions, err := repo.ListSessions(ctx)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		var delivery *charm.Transport
		if cfg.TransportKind() == sync.TransportCharm && len(sessions) > 0 {
			if delivery, err = newCharmTransport(); err != nil {
				color.Yellow("Charm delivery details unavailable: %v", err)
			}
		}

		var total models.StateCounts
		fmt.Println()
		for _, sess := range sessions {
			c, err := repo.Counts(ctx, sess.ID)
			if err != nil {
				return fmt.Errorf("failed to count samples for %s: %w", sess.ID, err)
			}
			total.Pending += c.Pending
			total.InFlight += c.InFlight
			total.Synced += c.Synced
			total.Failed += c.Failed
			fmt.Printf("  %-20s %s\n", sess.ID, ui.FormatCounts(c))
			if delivery != nil {
				fmt.Printf("  %-20s %s\n", "", charmDelivery(delivery, sess.ID))
			}
		}
		fmt.Printf("\nTotal: %s\n", ui.FormatCounts(total))
		if total.Failed > 0 {
			color.Yellow("Use 'walktrack sync reset <session>' to retry failed samples.")
		}
		return nil
	},
}

var syncRunCmd = &cobra.Command{
	Use:   "run [session]",
	Short: "Sync pending samples now",
	Long: `Deliver pending samples now, for one walk or for all of them.

Samples left in flight by an interrupted process are not retried until they are
recovered; pass --recover when no other walktrack process is syncing.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmdContext(cmd)
		cfg, err := sync.LoadConfig()
		if err != nil {
			return err
		}
		sched, _, err := buildScheduler(repo, cfg, false, metrics.New(nil))
		if err != nil {
			return err
		}

		if syncRunRecover {
			n, err := repo.RecoverInFlight(ctx)
			if err != nil {
				return fmt.Errorf("failed to recover in-flight samples: %w", err)
			}
			if n > 0 {
				fmt.Printf("Recovered %d in-flight samples\n", n)
			}
		}

		var report sync.Report
		if len(args) == 1 {
			report, err = sched.SyncSession(ctx, args[0])
		} else {
			report, err = sched.RunOnce(ctx)
		}
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		printReport(report)

		if !syncRunRecover {
			stranded, err := inFlightTotal(cmd)
			if err != nil {
				return err
			}
			if stranded > 0 {
				color.Yellow("%d samples are still in flight from an earlier run.", stranded)
				fmt.Println("If no other walktrack process is syncing, run 'walktrack sync run --recover'.")
			}
		}
		return nil
	},
}

// inFlightTotal counts claimed samples across every session.
func inFlightTotal(cmd *cobra.Command) (int, error) {
	ctx := cmdContext(cmd)
	sessions, err := repo.ListSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	var n int
	for _, sess := range sessions {
		c, err := repo.Counts(ctx, sess.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to count samples for %s: %w", sess.ID, err)
		}
		n += c.InFlight
	}
	return n, nil
}

// charmDelivery describes what the Charm store holds for a session.
func charmDelivery(t *charm.Transport, sessionID string) string {
	rec, err := t.Session(sessionID)
	if errors.Is(err, charm.ErrNotFound) {
		return "charm: nothing delivered"
	}
	if err != nil {
		return color.YellowString("charm: %v", err)
	}
	samples, err := t.Samples(sessionID)
	if err != nil {
		return color.YellowString("charm: %v", err)
	}
	return fmt.Sprintf("charm: %d delivered, last batch %s", len(samples), ui.FormatRelativeTime(rec.LastBatchAt))
}

func printReport(r sync.Report) {
	if r.Offline {
		color.Yellow("Remote store unreachable; nothing sent.")
		return
	}
	color.Green("✓ Sync complete")
	fmt.Printf("  %d batches, %d synced\n", r.Batches, r.Synced)
	if r.Retried > 0 {
		color.Yellow("  %d samples will be retried", r.Retried)
	}
	if r.Rejected > 0 {
		color.Red("  %d samples rejected", r.Rejected)
	}
	if r.Busy > 0 {
		fmt.Printf("  %d sessions skipped (already syncing)\n", r.Busy)
	}
}

var syncResetCmd = &cobra.Command{
	Use:   "reset <session>",
	Short: "Retry a walk's failed samples",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := repo.ResetFailed(cmdContext(cmd), args[0])
		if err != nil {
			return fmt.Errorf("failed to reset samples: %w", err)
		}
		if n == 0 {
			fmt.Printf("No failed samples in %s\n", args[0])
			return nil
		}
		color.Green("✓ %d samples queued for retry", n)
		return nil
	},
}

var syncLinkCmd = &cobra.Command{
	Use:         "link",
	Short:       "Link this device to your Charm account",
	Annotations: map[string]string{skipStorage: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCharm("link", "✓ Device linked; walks will sync to Charm Cloud.")
	},
}

var syncUnlinkCmd = &cobra.Command{
	Use:         "unlink",
	Short:       "Unlink this device from your Charm account",
	Annotations: map[string]string{skipStorage: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCharm("unlink", "✓ Device unlinked; local walks are preserved.")
	},
}

func runCharm(sub, done string) error {
	c := exec.Command("charm", sub)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		return fmt.Errorf("failed to run 'charm %s': %w\nMake sure the charm CLI is installed: go install github.com/charmbracelet/charm@latest", sub, err)
	}
	color.Green("\n%s", done)
	return nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func init() {
	syncInitCmd.Flags().StringVar(&syncInitServer, "server", "", "remote store URL")
	syncInitCmd.Flags().StringVar(&syncInitToken, "token", "", "bearer token for the remote store")
	syncInitCmd.Flags().StringVar(&syncInitTransport, "transport", "", "transport (http or charm)")
	syncRunCmd.Flags().BoolVar(&syncRunRecover, "recover", false, "return in-flight samples to pending first")

	syncCmd.AddCommand(syncInitCmd)
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncRunCmd)
	syncCmd.AddCommand(syncResetCmd)
	syncCmd.AddCommand(syncLinkCmd)
	syncCmd.AddCommand(syncUnlinkCmd)

	rootCmd.AddCommand(syncCmd)
}
