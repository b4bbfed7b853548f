// ABOUTME: Fence command
// ABOUTME: Checks whether a walk stayed inside a circle around home or its starting point

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/golang/geo/s2"
	"github.com/harper/walktrack/internal/geofence"
	"github.com/harper/walktrack/internal/path"
	"github.com/harper/walktrack/internal/ui"
	"github.com/spf13/cobra"
)

var (
	fenceRadius float64
	fenceCenter string
	fenceJSON   bool
)

var fenceCmd = &cobra.Command{
	Use:   "fence <session>",
	Short: "Check a walk against a geofence",
	Long: fmt.Sprintf(`Check whether a walk stayed inside a circle and list each time it left.

The circle is centred on the first point of the walk unless --center is given.
The radius must be between %.0f and %.0f metres.

Examples:
  walktrack fence morning
  walktrack fence morning --radius 300
  walktrack fence morning --center 41.8781,-87.6298 --json`, geofence.MinRadiusMeters, geofence.MaxRadiusMeters),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]
		var center *s2.LatLng
		if fenceCenter != "" {
			ll, err := parseCenter(fenceCenter)
			if err != nil {
				return err
			}
			center = &ll
		}

		report, err := path.NewService(repo).CheckFence(cmdContext(cmd), sessionID, center, fenceRadius)
		if errors.Is(err, path.ErrNoPoints) {
			fmt.Printf("%s has no samples\n", color.GreenString(sessionID))
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to check fence: %w", err)
		}

		if fenceJSON {
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("%s %s\n", color.GreenString(sessionID), ui.FormatFenceReport(report))
		for _, b := range report.Breaches {
			fmt.Printf("  %s\n", ui.FormatBreach(b))
		}
		return nil
	},
}

// parseCenter reads "lat,lng" in degrees.
func parseCenter(s string) (s2.LatLng, error) {
	latStr, lngStr, ok := strings.Cut(s, ",")
	if !ok {
		return s2.LatLng{}, fmt.Errorf("invalid center %q (want lat,lng)", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return s2.LatLng{}, fmt.Errorf("invalid center latitude %q: %w", latStr, err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return s2.LatLng{}, fmt.Errorf("invalid center longitude %q: %w", lngStr, err)
	}
	return s2.LatLngFromDegrees(lat, lng), nil
}

func init() {
	fenceCmd.Flags().Float64Var(&fenceRadius, "radius", geofence.DefaultRadiusMeters, "fence radius in metres")
	fenceCmd.Flags().StringVar(&fenceCenter, "center", "", "fence centre as lat,lng (default: first point)")
	fenceCmd.Flags().BoolVar(&fenceJSON, "json", false, "print the report as JSON")

	rootCmd.AddCommand(fenceCmd)
}
