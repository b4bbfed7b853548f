// ABOUTME: Root Cobra command and global flags
// ABOUTME: Loads config, builds the logger, and opens the configured storage backend

package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/harper/walktrack/internal/config"
	"github.com/harper/walktrack/internal/logging"
	"github.com/harper/walktrack/internal/storage"
	"github.com/spf13/cobra"
)

// skipStorage marks commands that open their own storage or need none.
const skipStorage = "walktrack/skip-storage"

var (
	repo   storage.Repository
	appCfg *config.Config
	logger *log.Logger
)

var rootCmd = &cobra.Command{
	Use:   "walktrack",
	Short: "Offline-first walk recording and sync",
	Long: `
██╗    ██╗ █████╗ ██╗     ██╗  ██╗████████╗██████╗  █████╗  ██████╗██╗  ██╗
██║    ██║██╔══██╗██║     ██║ ██╔╝╚══██╔══╝██╔══██╗██╔══██╗██╔════╝██║ ██╔╝
██║ █╗ ██║███████║██║     █████╔╝    ██║   ██████╔╝███████║██║     █████╔╝
██║███╗██║██╔══██║██║     ██╔═██╗    ██║   ██╔══██╗██╔══██║██║     ██╔═██╗
╚███╔███╔╝██║  ██║███████╗██║  ██╗   ██║   ██║  ██║██║  ██║╚██████╗██║  ██╗
 ╚══╝╚══╝ ╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝   ╚═╝   ╚═╝  ╚═╝╚═╝  ╚═╝ ╚═════╝╚═╝  ╚═╝

      Record dog walks offline, sync them when the network comes back

Examples:
  walktrack record morning --from walk.ndjson
  walktrack sessions
  walktrack path morning
  walktrack fence morning --radius 300
  walktrack export morning --geometry line -o morning.geojson
  walktrack sync run`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		appCfg = cfg

		level, _ := cmd.Flags().GetString("log-level")
		if level == "" {
			level = cfg.LogLevel
		}
		logger, err = logging.New(os.Stderr, level)
		if err != nil {
			return err
		}

		if cmd.Annotations[skipStorage] != "" {
			return nil
		}
		repo, err = cfg.OpenStorage()
		if err != nil {
			return fmt.Errorf("failed to open %s storage: %w", cfg.GetBackend(), err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if repo != nil {
			err := repo.Close()
			repo = nil
			return err
		}
		return nil
	},
}

// currentConfig returns the loaded config, or defaults when running
// without the root pre-run (tests).
func currentConfig() *config.Config {
	if appCfg == nil {
		return &config.Config{}
	}
	return appCfg
}

func cliLogger() *log.Logger {
	return logging.OrDiscard(logger)
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
}
