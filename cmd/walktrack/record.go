// ABOUTME: Record command that captures a walk from an NDJSON reading stream
// ABOUTME: Runs the session controller with validation, the local queue, and background sync

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/harper/walktrack/internal/metrics"
	"github.com/harper/walktrack/internal/session"
	"github.com/harper/walktrack/internal/sync"
	"github.com/harper/walktrack/internal/ui"
	"github.com/harper/walktrack/internal/validate"
	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:     "record <session>",
	Aliases: []string{"r"},
	Short:   "Record a walk from a stream of location readings",
	Long: `Record a walk session from newline-delimited JSON readings.

Each line is one reading:
  {"latitude":41.8781,"longitude":-87.6298,"accuracy":5,"speed":1.2,"captured_at":"2026-03-14T07:00:00Z"}

Readings are validated, stored locally, and synced in the background when the
remote store is reachable. Use --offline to keep everything local.

Examples:
  walktrack record morning --from walk.ndjson
  walktrack record morning --from walk.ndjson --pace 10
  cat walk.ndjson | walktrack record morning --from -
  walktrack record morning --from walk.ndjson --offline --metrics-addr :9090`,
	Args: cobra.ExactArgs(1),
	RunE: runRecord,
}

var (
	recordFrom        string
	recordPace        float64
	recordOffline     bool
	recordProfile     string
	recordMetricsAddr string
)

func init() {
	recordCmd.Flags().StringVar(&recordFrom, "from", "", "NDJSON reading file ('-' for stdin)")
	recordCmd.Flags().Float64Var(&recordPace, "pace", 0, "replay at capture-time pace divided by this factor (0 = as fast as possible)")
	recordCmd.Flags().BoolVar(&recordOffline, "offline", false, "do not contact the remote store")
	recordCmd.Flags().StringVar(&recordProfile, "profile", "", "accuracy profile (high, balanced, low)")
	recordCmd.Flags().StringVar(&recordMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while recording")
	_ = recordCmd.MarkFlagRequired("from")

	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, args []string) error {
	sessionID := args[0]
	cfg := currentConfig()

	profile, err := cfg.GetProfile()
	if err != nil {
		return err
	}
	if recordProfile != "" {
		if profile, err = session.ParseProfile(recordProfile); err != nil {
			return err
		}
	}

	in := os.Stdin
	if recordFrom != "-" {
		f, err := os.Open(recordFrom) //#nosec G304 -- user-supplied input file
		if err != nil {
			return fmt.Errorf("failed to open readings: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	if recordMetricsAddr != "" {
		srv := &http.Server{Addr: recordMetricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				cliLogger().Error("metrics server", "err", err)
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	// A nil Syncer keeps the walk local; a typed nil would not.
	var syncer session.Syncer
	stopSync := func() {}
	syncCfg, err := sync.LoadConfig()
	if err != nil {
		return err
	}
	if syncCfg.AutoSync {
		sched, reach, err := buildScheduler(repo, syncCfg, recordOffline, m)
		switch {
		case errors.Is(err, sync.ErrNotConfigured):
			if !recordOffline {
				color.Yellow("Sync not configured; recording locally only.")
			}
		case err != nil:
			return err
		default:
			if err := sched.Start(ctx); err != nil {
				return fmt.Errorf("failed to start sync: %w", err)
			}
			stopSync = sched.Stop
			defer sched.Stop()
			monitor := &sync.NetworkMonitor{Reach: reach, OnAvailable: sched.Trigger, Logger: cliLogger()}
			go monitor.Run(ctx)
			syncer = sched
		}
	}

	opts := []session.ReplayOption{session.WithReplayLogger(cliLogger())}
	if recordPace > 0 {
		opts = append(opts, session.WithPacing(recordPace))
	}
	src := session.NewReplaySource(in, opts...)

	filter := validate.NewFilter(validate.New(cfg.ValidatorConfig()), m)
	ctrl := session.New(repo, src, filter, syncer, session.Options{
		Profile: profile,
		Logger:  cliLogger(),
		Metrics: m,
	})

	if err := ctrl.Start(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	color.Green("● Recording %s", sessionID)

	select {
	case <-src.Done():
	case <-ctx.Done():
		color.Yellow("Interrupted; stopping session")
	}

	// The final flush must run even when ctx was cancelled by a signal.
	if err := ctrl.Stop(context.Background()); err != nil {
		return fmt.Errorf("failed to stop session: %w", err)
	}
	stopSync()
	if err := src.Err(); err != nil {
		color.Yellow("Reading stream ended early: %v", err)
	}

	printRecordSummary(cmd.Context(), sessionID, ctrl.Stats(), src)
	return nil
}

func printRecordSummary(ctx context.Context, sessionID string, stats session.Stats, src *session.ReplaySource) {
	if ctx == nil {
		ctx = context.Background()
	}
	played, skipped := src.Played()
	color.Green("✓ Recorded %s", sessionID)
	fmt.Printf("  %d readings, %d accepted, %d rejected, %d unreadable lines\n",
		played, stats.Accepted, stats.TotalRejected(), skipped)

	reasons := make([]string, 0, len(stats.Rejected))
	for r, n := range stats.Rejected {
		if n > 0 {
			reasons = append(reasons, fmt.Sprintf("%s=%d", r, n))
		}
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Printf("    %s\n", color.New(color.Faint).Sprint(r))
	}
	if stats.AppendFailures > 0 {
		color.Red("  %d samples could not be stored", stats.AppendFailures)
	}

	if counts, err := repo.Counts(ctx, sessionID); err == nil {
		fmt.Printf("  %s\n", ui.FormatCounts(counts))
	}
}
