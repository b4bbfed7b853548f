// ABOUTME: Migration command for converting walk data between storage backends
// ABOUTME: Supports sqlite-to-badger and badger-to-sqlite with safety checks

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harper/walktrack/internal/config"
	"github.com/harper/walktrack/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate data between storage backends",
	Long: `Copy all walks and samples from one storage backend to another.

Sync state is preserved, so pending samples are still delivered from the new
backend. Does NOT update the config file; verify the migration was successful
then update config.json manually.

Examples:
  walktrack migrate --to badger
  walktrack migrate --from badger --to sqlite
  walktrack migrate --to sqlite --data-dir ~/walktrack-sqlite
  walktrack migrate --to badger --force`,
	Annotations: map[string]string{skipStorage: "true"},
	RunE:        runMigrate,
}

var (
	migrateFrom    string
	migrateTo      string
	migrateDataDir string
	migrateForce   bool
)

func init() {
	migrateCmd.Flags().StringVar(&migrateFrom, "from", "", "source backend (defaults to the configured backend)")
	migrateCmd.Flags().StringVar(&migrateTo, "to", "", "target backend (sqlite or badger)")
	migrateCmd.Flags().StringVar(&migrateDataDir, "data-dir", "", "target data directory (defaults to current config data_dir)")
	migrateCmd.Flags().BoolVar(&migrateForce, "force", false, "allow writing into existing target storage")
	_ = migrateCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg := currentConfig()

	sourceBackend := cfg.GetBackend()
	if migrateFrom != "" {
		sourceBackend = strings.ToLower(migrateFrom)
	}
	targetBackend := strings.ToLower(migrateTo)

	for _, b := range []string{sourceBackend, targetBackend} {
		if b != config.BackendSQLite && b != config.BackendBadger {
			return fmt.Errorf("invalid backend %q: must be %q or %q", b, config.BackendSQLite, config.BackendBadger)
		}
	}

	targetCfg := *cfg
	if migrateDataDir != "" {
		targetCfg.DataDir = migrateDataDir
	}
	if targetBackend == sourceBackend && targetCfg.GetDataDir() == cfg.GetDataDir() {
		return fmt.Errorf("target backend %q is the same as the source", targetBackend)
	}

	sourcePath, err := cfg.StoragePath(sourceBackend)
	if err != nil {
		return err
	}
	targetPath, err := targetCfg.StoragePath(targetBackend)
	if err != nil {
		return err
	}

	exists, err := storageExists(targetPath)
	if err != nil {
		return fmt.Errorf("check target storage: %w", err)
	}
	if exists && !migrateForce {
		return fmt.Errorf("target storage %q already exists; use --force to merge into it", targetPath)
	}

	src, err := cfg.OpenBackend(sourceBackend)
	if err != nil {
		return fmt.Errorf("open source storage (%s): %w", sourceBackend, err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: closing source storage: %v\n", cerr)
		}
	}()

	dst, err := targetCfg.OpenBackend(targetBackend)
	if err != nil {
		return fmt.Errorf("open target storage (%s): %w", targetBackend, err)
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: closing target storage: %v\n", cerr)
		}
	}()

	color.Yellow("Migrating walk data:")
	fmt.Printf("  Source:  %s (%s)\n", sourceBackend, sourcePath)
	fmt.Printf("  Target:  %s (%s)\n", targetBackend, targetPath)
	fmt.Println()

	summary, err := storage.MigrateData(cmdContext(cmd), src, dst)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	color.Green("Migration complete!")
	fmt.Printf("  Walks:   %d\n", summary.Sessions)
	fmt.Printf("  Samples: %d\n", summary.Samples)
	fmt.Println()
	color.Yellow("Note: config.json was NOT updated. To switch to the new backend, edit:")
	fmt.Printf("  %s\n", config.GetConfigPath())
	fmt.Printf("  Set \"backend\": %q", targetBackend)
	if migrateDataDir != "" {
		fmt.Printf(" and \"data_dir\": %q", migrateDataDir)
	}
	fmt.Println()

	return nil
}

// storageExists reports whether a backend's file, or non-empty directory,
// is already present.
func storageExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return storage.IsDirNonEmpty(path)
	}
	return true, nil
}
