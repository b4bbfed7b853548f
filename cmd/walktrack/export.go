// ABOUTME: Export command for generating GeoJSON and YAML output
// ABOUTME: Supports time filtering and point or line geometry

package main

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/harper/walktrack/internal/geojson"
	"github.com/harper/walktrack/internal/models"
	"github.com/harper/walktrack/internal/path"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// durationRegex matches relative duration strings like "24h", "7d", "1w", "1m".
var durationRegex = regexp.MustCompile(`^(\d+)([hdwm])$`)

var exportCmd = &cobra.Command{
	Use:     "export <session>",
	Aliases: []string{"e"},
	Short:   "Export a walk as GeoJSON or YAML",
	Long: `Export a walk's path as GeoJSON or YAML.

Examples:
  # Export every sample as a GeoJSON point
  walktrack export morning

  # Export as one LineString
  walktrack export morning --geometry line

  # Only the last hour of a long walk
  walktrack export morning --since 1h

  # Absolute range
  walktrack export morning --from 2026-03-14T07:00:00Z --to 2026-03-14T08:00:00Z

  # YAML with per-point cumulative distance
  walktrack export morning --format yaml -o morning.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]

		format, _ := cmd.Flags().GetString("format")
		if format != "geojson" && format != "yaml" {
			return fmt.Errorf("unsupported format: %s (use 'geojson' or 'yaml')", format)
		}

		geometry, _ := cmd.Flags().GetString("geometry")
		if geometry != "points" && geometry != "line" {
			return fmt.Errorf("unsupported geometry: %s (use 'points' or 'line')", geometry)
		}

		since, _ := cmd.Flags().GetString("since")
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")

		var sinceTime, fromTime, toTime time.Time
		var err error

		if since != "" {
			sinceTime, err = parseDuration(since)
			if err != nil {
				return fmt.Errorf("invalid --since value: %w", err)
			}
		}
		if from != "" {
			fromTime, err = parseDate(from)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
		}
		if to != "" {
			toTime, err = parseDate(to)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			if isDateOnly(to) {
				toTime = toTime.Add(24*time.Hour - time.Second)
			}
		}
		if !sinceTime.IsZero() && (fromTime.IsZero() || sinceTime.After(fromTime)) {
			fromTime = sinceTime
		}

		samples, err := path.NewService(repo).GetPath(cmdContext(cmd), sessionID)
		if err != nil {
			return fmt.Errorf("failed to get path: %w", err)
		}
		samples = filterByTime(samples, fromTime, toTime)
		if len(samples) == 0 {
			return fmt.Errorf("no samples found for %q", sessionID)
		}

		output, _ := cmd.Flags().GetString("output")

		var data []byte
		switch format {
		case "yaml":
			data, err = exportYAML(sessionID, samples)
		default:
			data, err = exportGeoJSON(sessionID, samples, geometry)
		}
		if err != nil {
			return err
		}

		if output != "" {
			if err := os.WriteFile(output, data, 0644); err != nil { //nolint:gosec // 0644 is intentional for data export files
				return fmt.Errorf("failed to write file: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Wrote %d samples to %s\n", len(samples), output)
		} else {
			fmt.Println(string(data))
		}
		return nil
	},
}

func exportGeoJSON(sessionID string, samples []*models.LocationSample, geometry string) ([]byte, error) {
	var fc *geojson.FeatureCollection
	if geometry == "line" {
		fc = geojson.ToLineFeatureCollection(sessionID, samples)
	} else {
		fc = geojson.ToPointsFeatureCollection(sessionID, samples)
	}

	data, err := fc.ToJSONIndent()
	if err != nil {
		return nil, fmt.Errorf("failed to generate GeoJSON: %w", err)
	}
	return data, nil
}

// yamlExport is the YAML export document.
type yamlExport struct {
	Summary *path.Summary `yaml:"summary"`
	Points  []yamlPoint   `yaml:"points"`
}

type yamlPoint struct {
	ID             string           `yaml:"id"`
	CapturedAt     time.Time        `yaml:"captured_at"`
	Latitude       float64          `yaml:"latitude"`
	Longitude      float64          `yaml:"longitude"`
	Accuracy       float64          `yaml:"accuracy"`
	Speed          float64          `yaml:"speed"`
	SyncState      models.SyncState `yaml:"sync_state"`
	DistanceMeters float64          `yaml:"distance_meters"`
}

func exportYAML(sessionID string, samples []*models.LocationSample) ([]byte, error) {
	summary := path.Stats(samples)
	summary.SessionID = sessionID

	cumulative := path.Cumulative(samples)
	doc := yamlExport{Summary: summary, Points: make([]yamlPoint, len(samples))}
	for i, s := range samples {
		doc.Points[i] = yamlPoint{
			ID:             s.ID.String(),
			CapturedAt:     s.CapturedAt,
			Latitude:       s.Latitude,
			Longitude:      s.Longitude,
			Accuracy:       s.Accuracy,
			Speed:          s.Speed,
			SyncState:      s.SyncState,
			DistanceMeters: cumulative[i],
		}
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to generate YAML: %w", err)
	}
	return data, nil
}

// filterByTime keeps samples captured within [from, to]. Zero bounds are open.
func filterByTime(samples []*models.LocationSample, from, to time.Time) []*models.LocationSample {
	if from.IsZero() && to.IsZero() {
		return samples
	}
	out := make([]*models.LocationSample, 0, len(samples))
	for _, s := range samples {
		if !from.IsZero() && s.CapturedAt.Before(from) {
			continue
		}
		if !to.IsZero() && s.CapturedAt.After(to) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// parseDuration parses relative duration strings like "24h", "7d", "1w".
func parseDuration(s string) (time.Time, error) {
	matches := durationRegex.FindStringSubmatch(s)
	if matches == nil {
		return time.Time{}, fmt.Errorf("invalid duration format (use e.g., 24h, 7d, 1w)")
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid number in duration '%s': %w", s, err)
	}

	var duration time.Duration
	switch matches[2] {
	case "h":
		duration = time.Duration(num) * time.Hour
	case "d":
		duration = time.Duration(num) * 24 * time.Hour
	case "w":
		duration = time.Duration(num) * 7 * 24 * time.Hour
	case "m":
		duration = time.Duration(num) * 30 * 24 * time.Hour
	}

	return time.Now().Add(-duration), nil
}

// parseDate parses date strings in RFC3339 or YYYY-MM-DD format.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid date format (use YYYY-MM-DD or RFC3339)")
}

func isDateOnly(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

func init() {
	exportCmd.Flags().StringP("format", "f", "geojson", "output format (geojson, yaml)")
	exportCmd.Flags().StringP("geometry", "g", "points", "geometry type (points, line)")
	exportCmd.Flags().String("since", "", "relative time filter (e.g., 1h, 7d, 1w)")
	exportCmd.Flags().String("from", "", "start time (YYYY-MM-DD or RFC3339)")
	exportCmd.Flags().String("to", "", "end time (YYYY-MM-DD or RFC3339)")
	exportCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")

	rootCmd.AddCommand(exportCmd)
}
