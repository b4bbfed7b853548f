// ABOUTME: Path command
// ABOUTME: Shows a walk's samples in capture order with cumulative distance and statistics

package main

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/harper/walktrack/internal/path"
	"github.com/harper/walktrack/internal/ui"
	"github.com/spf13/cobra"
)

var pathCmd = &cobra.Command{
	Use:     "path <session>",
	Aliases: []string{"p"},
	Short:   "Show the path of a walk",
	Long: `Show every sample of a walk in capture order, whatever its sync state,
with the distance walked so far and a summary.

Examples:
  walktrack path morning
  walktrack path morning --summary
  walktrack path morning --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]
		ctx := cmdContext(cmd)
		svc := path.NewService(repo)

		summary, err := svc.Summarize(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to summarize walk: %w", err)
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			data, err := json.MarshalIndent(summary, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		if summary.Points == 0 {
			fmt.Printf("%s has no samples\n", color.GreenString(sessionID))
			return nil
		}

		summaryOnly, _ := cmd.Flags().GetBool("summary")
		if !summaryOnly {
			samples, err := svc.GetPath(ctx, sessionID)
			if err != nil {
				return fmt.Errorf("failed to get path: %w", err)
			}
			fmt.Printf("%s path:\n", color.GreenString(sessionID))
			cumulative := path.Cumulative(samples)
			for i, s := range samples {
				fmt.Println(ui.FormatSample(s, cumulative[i]))
			}
			fmt.Println()
		}

		fmt.Println(ui.FormatSummary(summary))
		return nil
	},
}

func init() {
	pathCmd.Flags().Bool("summary", false, "only print the summary")
	pathCmd.Flags().Bool("json", false, "print the summary as JSON")

	rootCmd.AddCommand(pathCmd)
}
