// ABOUTME: Ingest serve command
// ABOUTME: Runs the reference remote store that sync delivers batches to

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/harper/walktrack/internal/ingest"
	"github.com/harper/walktrack/internal/metrics"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Reference remote store",
}

var (
	ingestAddr      string
	ingestToken     string
	ingestRateLimit string
)

var ingestServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the in-memory remote store over HTTP",
	Long: `Serve a remote store that accepts sample batches from 'walktrack sync'.

Storage is in memory and lost on exit. Useful for trying sync end to end.

Examples:
  walktrack ingest serve --addr :8080
  walktrack ingest serve --addr :8080 --token secret
  walktrack ingest serve --rate-limit 100/minute
  walktrack sync init --server http://localhost:8080 --token secret`,
	Annotations: map[string]string{skipStorage: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := ingest.Options{
			Token:   ingestToken,
			Logger:  cliLogger(),
			Metrics: metrics.New(nil),
		}
		if ingestRateLimit != "" {
			limiter, err := ingest.ParseRateLimit(ingestRateLimit)
			if err != nil {
				return err
			}
			opts.Limiter = limiter
		}
		server := ingest.NewServer(ingest.NewStore(), opts)
		srv := &http.Server{
			Addr:              ingestAddr,
			Handler:           server.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		color.Green("Listening on %s", ingestAddr)

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("ingest server: %w", err)
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	ingestServeCmd.Flags().StringVar(&ingestAddr, "addr", ":8080", "listen address")
	ingestServeCmd.Flags().StringVar(&ingestToken, "token", "", "required bearer token (default: none)")
	ingestServeCmd.Flags().StringVar(&ingestRateLimit, "rate-limit", "", "request limit such as 100/minute (default: unlimited)")

	ingestCmd.AddCommand(ingestServeCmd)
	rootCmd.AddCommand(ingestCmd)
}
