// ABOUTME: Backup command for exporting data to YAML
// ABOUTME: Creates portable backup files that keep each sample's sync state

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/harper/walktrack/internal/storage"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create a YAML backup of all walks",
	Long: `Create a YAML backup file containing all walks and their samples.

Each sample keeps its sync state, so pending samples are still delivered after
a restore.

Examples:
  walktrack backup --output walks.yaml
  walktrack backup -o ~/backups/walks-$(date +%Y%m%d).yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmdContext(cmd)
		output, _ := cmd.Flags().GetString("output")

		data, err := storage.ExportBackup(ctx, repo)
		if err != nil {
			return fmt.Errorf("failed to create backup: %w", err)
		}

		if output == "" {
			output = fmt.Sprintf("walks-%s.yaml", time.Now().Format("20060102-150405"))
		}

		if err := os.WriteFile(output, data, 0644); err != nil { //nolint:gosec // 0644 is intentional for backup files
			return fmt.Errorf("failed to write backup: %w", err)
		}

		sessions, samples := storeTotals(cmd)
		color.Green("Backup created: %s", output)
		fmt.Printf("  %d walks, %d samples\n", sessions, samples)

		return nil
	},
}

// storeTotals counts sessions and samples for the summary lines.
func storeTotals(cmd *cobra.Command) (sessions, samples int) {
	ctx := cmdContext(cmd)
	list, err := repo.ListSessions(ctx)
	if err != nil {
		return 0, 0
	}
	for _, s := range list {
		if c, err := repo.Counts(ctx, s.ID); err == nil {
			samples += c.Total()
		}
	}
	return len(list), samples
}

func init() {
	backupCmd.Flags().StringP("output", "o", "", "output file (default: walks-YYYYMMDD-HHMMSS.yaml)")

	rootCmd.AddCommand(backupCmd)
}
