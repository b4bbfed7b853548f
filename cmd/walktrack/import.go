// ABOUTME: Import command for restoring walks from a YAML backup
// ABOUTME: Restored samples keep their sync state so synced points are not resent

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/harper/walktrack/internal/storage"
	"github.com/spf13/cobra"
)

// promptInput is where confirmations are read from.
var promptInput io.Reader = os.Stdin

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import walks from a YAML backup",
	Long: `Import walks and samples from a YAML backup file created with 'walktrack backup'.

Existing samples are left alone, so importing the same backup twice is safe.
Samples that were in flight when the backup was taken come back as pending.

Examples:
  walktrack import walks.yaml
  walktrack import ~/backups/walks-20260314.yaml --confirm`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0]) //#nosec G304 -- user-supplied backup file
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}

		if ok, _ := cmd.Flags().GetBool("confirm"); !ok && !confirmed(fmt.Sprintf("Import walks from '%s'?", args[0])) {
			fmt.Println("Canceled.")
			return nil
		}

		summary, err := storage.ImportBackup(cmdContext(cmd), repo, data)
		if err != nil {
			return fmt.Errorf("failed to import: %w", err)
		}
		color.Green("Import complete")
		fmt.Printf("  %d walks, %d samples imported\n", summary.Sessions, summary.Samples)

		backlog := pendingBacklog(cmd)
		if backlog > 0 {
			fmt.Printf("  %d samples waiting to sync; run 'walktrack sync run' to deliver them\n", backlog)
		}
		return nil
	},
}

// confirmed asks a yes/no question on promptInput. Anything but y/yes is no.
func confirmed(question string) bool {
	fmt.Printf("%s [y/N] ", question)
	answer, _ := bufio.NewReader(promptInput).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// pendingBacklog counts Pending samples across every session.
func pendingBacklog(cmd *cobra.Command) int {
	ctx := cmdContext(cmd)
	ids, err := repo.SessionsWithPending(ctx)
	if err != nil {
		return 0
	}
	pending := 0
	for _, id := range ids {
		if c, err := repo.Counts(ctx, id); err == nil {
			pending += c.Pending
		}
	}
	return pending
}

func init() {
	importCmd.Flags().Bool("confirm", false, "skip confirmation prompt")

	rootCmd.AddCommand(importCmd)
}
