// ABOUTME: Tests for CLI commands
// ABOUTME: Tests record, sessions, path, export, sync, backup, import, and migrate commands

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/harper/walktrack/internal/charm"
	"github.com/harper/walktrack/internal/config"
	"github.com/harper/walktrack/internal/ingest"
	"github.com/harper/walktrack/internal/models"
	"github.com/harper/walktrack/internal/storage"
	"github.com/harper/walktrack/internal/sync"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var walkStart = time.Date(2026, 3, 14, 7, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// testRepo creates a temporary database for testing and sets the global repo.
func testRepo(t *testing.T) {
	t.Helper()
	r, err := storage.NewSQLiteQueue(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	repo = r
	t.Cleanup(func() {
		_ = r.Close()
		if repo == storage.Repository(r) {
			repo = nil
		}
	})
}

// isolateConfig points config lookups at a temp dir and clears env overrides.
func isolateConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	for _, key := range []string{
		"WALKTRACK_SERVER", "WALKTRACK_TOKEN", "WALKTRACK_DEVICE_ID",
		"WALKTRACK_TRANSPORT", "WALKTRACK_BATCH_SIZE", "WALKTRACK_AUTO_SYNC",
	} {
		t.Setenv(key, "")
	}
	return dir
}

// reading returns one NDJSON line captured offset seconds into the walk.
// Points are about 10m apart per 5 seconds.
func reading(offset int, accuracy float64) string {
	r := models.RawReading{
		Latitude:   41.8781 + float64(offset)*0.000018,
		Longitude:  -87.6298,
		Accuracy:   accuracy,
		Speed:      1.4,
		CapturedAt: walkStart.Add(time.Duration(offset) * time.Second),
	}
	data, _ := json.Marshal(r)
	return string(data)
}

func writeReadings(t *testing.T, lines ...string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "walk.ndjson")
	if err := os.WriteFile(file, []byte(strings.Join(lines, "\n")+"\n"), 0600); err != nil {
		t.Fatalf("failed to write readings: %v", err)
	}
	return file
}

// seedWalk stores a session with n pending samples 5 seconds apart.
func seedWalk(t *testing.T, id string, n int) []*models.LocationSample {
	t.Helper()
	ctx := context.Background()
	sess := models.NewSession(id)
	sess.StartedAt = walkStart
	if err := repo.CreateSession(ctx, sess); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	samples := make([]*models.LocationSample, n)
	for i := range samples {
		samples[i] = models.NewSample(id, models.RawReading{
			Latitude:   41.8781 + float64(i)*0.00009,
			Longitude:  -87.6298,
			Accuracy:   5,
			CapturedAt: walkStart.Add(time.Duration(i*5) * time.Second),
		})
		if err := repo.Append(ctx, samples[i]); err != nil {
			t.Fatalf("failed to append: %v", err)
		}
	}
	return samples
}

func counts(t *testing.T, sessionID string) models.StateCounts {
	t.Helper()
	c, err := repo.Counts(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	return c
}

// setFlag sets a command flag and restores its previous value after the test.
func setFlag(t *testing.T, cmd *cobra.Command, name, value string) {
	t.Helper()
	f := cmd.Flags().Lookup(name)
	if f == nil {
		t.Fatalf("flag %q not found", name)
	}
	old := f.Value.String()
	if err := cmd.Flags().Set(name, value); err != nil {
		t.Fatalf("set %s: %v", name, err)
	}
	t.Cleanup(func() { _ = cmd.Flags().Set(name, old) })
}

// captureStdout runs fn with os.Stdout redirected and returns what it printed.
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	out := make(chan string)
	go func() {
		b, _ := io.ReadAll(r)
		out <- string(b)
	}()
	runErr := fn()
	_ = w.Close()
	os.Stdout = old
	return <-out, runErr
}

// remote starts an ingest server and saves a sync config pointing at it.
func remote(t *testing.T, autoSync bool) *ingest.Server {
	t.Helper()
	srv := ingest.NewServer(nil, ingest.Options{Token: "secret"})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	err := sync.SaveConfig(&sync.Config{
		Server:   ts.URL,
		Token:    "secret",
		DeviceID: "device-1",
		AutoSync: autoSync,
	})
	if err != nil {
		t.Fatalf("failed to save sync config: %v", err)
	}
	return srv
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}

// Tests for rootCmd

func TestRootCmd_Metadata(t *testing.T) {
	if rootCmd.Use != "walktrack" {
		t.Errorf("expected Use 'walktrack', got %q", rootCmd.Use)
	}
	if !strings.Contains(rootCmd.Long, "sync them when the network comes back") {
		t.Error("expected description in Long")
	}
	if rootCmd.PersistentFlags().Lookup("log-level") == nil {
		t.Error("expected log-level flag")
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"record", "sessions", "path", "export", "sync", "backup", "import", "migrate", "mcp", "ingest", "fence"} {
		if !contains(names, want) {
			t.Errorf("missing command %q", want)
		}
	}
}

func TestSkipStorageAnnotations(t *testing.T) {
	for _, c := range []*cobra.Command{migrateCmd, syncInitCmd, syncLinkCmd, syncUnlinkCmd, ingestServeCmd} {
		if c.Annotations[skipStorage] == "" {
			t.Errorf("%s should not open storage", c.Name())
		}
	}
	for _, c := range []*cobra.Command{recordCmd, sessionsCmd, pathCmd, exportCmd, syncRunCmd} {
		if c.Annotations[skipStorage] != "" {
			t.Errorf("%s needs storage", c.Name())
		}
	}
}

// Tests for recordCmd

func setRecordFlags(t *testing.T, from string, offline bool) {
	t.Helper()
	recordFrom, recordOffline, recordPace, recordProfile, recordMetricsAddr = from, offline, 0, "", ""
	t.Cleanup(func() {
		recordFrom, recordOffline, recordPace, recordProfile, recordMetricsAddr = "", false, 0, "", ""
	})
}

func TestRecordCmd_Metadata(t *testing.T) {
	if recordCmd.Use != "record <session>" {
		t.Errorf("unexpected Use: %q", recordCmd.Use)
	}
	for _, name := range []string{"from", "pace", "offline", "profile", "metrics-addr"} {
		if recordCmd.Flags().Lookup(name) == nil {
			t.Errorf("flag %q not found", name)
		}
	}
}

func TestRecordCmd_LocalOnly(t *testing.T) {
	testRepo(t)
	isolateConfig(t)
	file := writeReadings(t,
		reading(0, 5),
		reading(5, 5),
		reading(10, 200),
		"not json",
		reading(15, 5),
	)
	setRecordFlags(t, file, false)

	out, err := captureStdout(t, func() error {
		return runRecord(recordCmd, []string{"walk"})
	})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	c := counts(t, "walk")
	if c.Pending != 3 || c.Total() != 3 {
		t.Errorf("expected 3 pending samples, got %+v", c)
	}
	if !strings.Contains(out, "4 readings, 3 accepted, 1 rejected, 1 unreadable lines") {
		t.Errorf("unexpected summary:\n%s", out)
	}
	if !strings.Contains(out, "low_accuracy=1") {
		t.Errorf("expected rejection reason in output:\n%s", out)
	}

	sess, err := repo.GetSession(context.Background(), "walk")
	if err != nil {
		t.Fatalf("session not stored: %v", err)
	}
	if sess.Active || sess.EndedAt == nil {
		t.Errorf("expected closed session, got %+v", sess)
	}
}

func TestRecordCmd_SyncsToRemote(t *testing.T) {
	testRepo(t)
	isolateConfig(t)
	srv := remote(t, true)
	setRecordFlags(t, writeReadings(t, reading(0, 5), reading(5, 5), reading(10, 5)), false)

	if _, err := captureStdout(t, func() error {
		return runRecord(recordCmd, []string{"walk"})
	}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	if c := counts(t, "walk"); c.Synced != 3 {
		t.Errorf("expected 3 synced, got %+v", c)
	}
	if n := srv.Store().Len("walk"); n != 3 {
		t.Errorf("expected 3 samples on the remote, got %d", n)
	}
}

func TestRecordCmd_OfflineKeepsPending(t *testing.T) {
	testRepo(t)
	isolateConfig(t)
	srv := remote(t, true)
	setRecordFlags(t, writeReadings(t, reading(0, 5), reading(5, 5)), true)

	if _, err := captureStdout(t, func() error {
		return runRecord(recordCmd, []string{"walk"})
	}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	samples, err := repo.AllFor(context.Background(), "walk")
	if err != nil {
		t.Fatalf("AllFor failed: %v", err)
	}
	for _, s := range samples {
		if s.SyncState != models.Pending || s.Attempts != 0 {
			t.Errorf("expected untouched pending sample, got %s attempts=%d", s.SyncState, s.Attempts)
		}
	}
	if n := srv.Store().Len("walk"); n != 0 {
		t.Errorf("expected nothing on the remote, got %d", n)
	}
}

func TestRecordCmd_Errors(t *testing.T) {
	testRepo(t)
	isolateConfig(t)

	setRecordFlags(t, filepath.Join(t.TempDir(), "missing.ndjson"), false)
	if err := runRecord(recordCmd, []string{"walk"}); err == nil {
		t.Error("expected error for missing input file")
	}

	setRecordFlags(t, writeReadings(t, reading(0, 5)), false)
	recordProfile = "extreme"
	if err := runRecord(recordCmd, []string{"walk"}); err == nil {
		t.Error("expected error for unknown profile")
	}

	recordProfile = ""
	if err := runRecord(recordCmd, []string{"bad/id"}); err == nil {
		t.Error("expected error for invalid session id")
	}
}

// Tests for sessionsCmd

func TestSessionsCmd_Empty(t *testing.T) {
	testRepo(t)

	out, err := captureStdout(t, func() error { return sessionsCmd.RunE(sessionsCmd, nil) })
	if err != nil {
		t.Fatalf("sessions failed: %v", err)
	}
	if !strings.Contains(out, "No walks recorded yet") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestSessionsCmd_WithWalks(t *testing.T) {
	testRepo(t)
	seedWalk(t, "morning", 2)
	seedWalk(t, "evening", 1)

	out, err := captureStdout(t, func() error { return sessionsCmd.RunE(sessionsCmd, nil) })
	if err != nil {
		t.Fatalf("sessions failed: %v", err)
	}
	for _, want := range []string{"morning", "evening", "2 pending"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

// Tests for pathCmd

func TestPathCmd(t *testing.T) {
	testRepo(t)
	seedWalk(t, "walk", 3)

	out, err := captureStdout(t, func() error { return pathCmd.RunE(pathCmd, []string{"walk"}) })
	if err != nil {
		t.Fatalf("path failed: %v", err)
	}
	if strings.Count(out, "pending") < 3 {
		t.Errorf("expected every sample in output:\n%s", out)
	}
}

func TestPathCmd_JSON(t *testing.T) {
	testRepo(t)
	seedWalk(t, "walk", 3)
	setFlag(t, pathCmd, "json", "true")

	out, err := captureStdout(t, func() error { return pathCmd.RunE(pathCmd, []string{"walk"}) })
	if err != nil {
		t.Fatalf("path failed: %v", err)
	}
	var summary struct {
		Points         int     `json:"points"`
		DistanceMeters float64 `json:"distance_meters"`
	}
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if summary.Points != 3 {
		t.Errorf("expected 3 points, got %d", summary.Points)
	}
	if summary.DistanceMeters < 15 || summary.DistanceMeters > 25 {
		t.Errorf("expected about 20m, got %.1f", summary.DistanceMeters)
	}
}

func TestPathCmd_UnknownSession(t *testing.T) {
	testRepo(t)

	out, err := captureStdout(t, func() error { return pathCmd.RunE(pathCmd, []string{"ghost"}) })
	if err != nil {
		t.Fatalf("path failed: %v", err)
	}
	if !strings.Contains(out, "has no samples") {
		t.Errorf("unexpected output: %q", out)
	}
}

// Tests for exportCmd

func TestFenceCmd_Breach(t *testing.T) {
	testRepo(t)
	seedWalk(t, "walk", 15)
	setFlag(t, fenceCmd, "radius", "100")

	out, err := captureStdout(t, func() error { return fenceCmd.RunE(fenceCmd, []string{"walk"}) })
	if err != nil {
		t.Fatalf("fence failed: %v", err)
	}
	for _, want := range []string{"100 m around 41.87810, -87.62980", "1 breaches", "5 of 15 points outside", "not back"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestFenceCmd_JSON(t *testing.T) {
	testRepo(t)
	seedWalk(t, "walk", 3)
	setFlag(t, fenceCmd, "center", "41.8781,-87.6298")
	setFlag(t, fenceCmd, "json", "true")

	out, err := captureStdout(t, func() error { return fenceCmd.RunE(fenceCmd, []string{"walk"}) })
	if err != nil {
		t.Fatalf("fence failed: %v", err)
	}
	var report struct {
		SessionID string `json:"session_id"`
		Inside    int    `json:"inside"`
		Fence     struct {
			RadiusMeters float64 `json:"radius_meters"`
		} `json:"fence"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if report.SessionID != "walk" || report.Inside != 3 || report.Fence.RadiusMeters != 500 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestFenceCmd_Errors(t *testing.T) {
	testRepo(t)
	seedWalk(t, "walk", 2)

	out, err := captureStdout(t, func() error { return fenceCmd.RunE(fenceCmd, []string{"empty"}) })
	if err != nil || !strings.Contains(out, "has no samples") {
		t.Errorf("expected empty walk message, got %v:\n%s", err, out)
	}

	setFlag(t, fenceCmd, "radius", "20")
	if err := fenceCmd.RunE(fenceCmd, []string{"walk"}); err == nil {
		t.Error("expected error for a radius below the minimum")
	}
}

func TestParseCenter(t *testing.T) {
	ll, err := parseCenter("41.8781, -87.6298")
	if err != nil {
		t.Fatalf("parseCenter failed: %v", err)
	}
	if d := ll.Lat.Degrees(); d < 41.878 || d > 41.8782 {
		t.Errorf("unexpected latitude %v", d)
	}
	for _, bad := range []string{"", "41.8", "north,-87.6", "41.8,west"} {
		if _, err := parseCenter(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestExportCmd_Metadata(t *testing.T) {
	if exportCmd.Use != "export <session>" {
		t.Errorf("unexpected Use: %q", exportCmd.Use)
	}
	if !contains(exportCmd.Aliases, "e") {
		t.Error("expected alias 'e'")
	}
	formatFlag := exportCmd.Flags().Lookup("format")
	if formatFlag == nil || formatFlag.DefValue != "geojson" {
		t.Error("expected format flag defaulting to geojson")
	}
	geometryFlag := exportCmd.Flags().Lookup("geometry")
	if geometryFlag == nil || geometryFlag.DefValue != "points" {
		t.Error("expected geometry flag defaulting to points")
	}
}

func TestExportCmd_InvalidFormat(t *testing.T) {
	testRepo(t)
	setFlag(t, exportCmd, "format", "markdown")

	err := exportCmd.RunE(exportCmd, []string{"walk"})
	if err == nil || !strings.Contains(err.Error(), "unsupported format") {
		t.Errorf("expected unsupported format error, got %v", err)
	}
}

func TestExportCmd_InvalidGeometry(t *testing.T) {
	testRepo(t)
	setFlag(t, exportCmd, "geometry", "polygon")

	err := exportCmd.RunE(exportCmd, []string{"walk"})
	if err == nil || !strings.Contains(err.Error(), "unsupported geometry") {
		t.Errorf("expected unsupported geometry error, got %v", err)
	}
}

func TestExportCmd_GeoJSONPoints(t *testing.T) {
	testRepo(t)
	seedWalk(t, "walk", 3)
	output := filepath.Join(t.TempDir(), "walk.geojson")
	setFlag(t, exportCmd, "output", output)

	if err := exportCmd.RunE(exportCmd, []string{"walk"}); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	var fc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	if err := json.Unmarshal(data, &fc); err != nil {
		t.Fatalf("invalid GeoJSON: %v", err)
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) != 3 {
		t.Errorf("expected 3 point features, got %s with %d", fc.Type, len(fc.Features))
	}
}

func TestExportCmd_LineGeometry(t *testing.T) {
	testRepo(t)
	seedWalk(t, "walk", 3)
	output := filepath.Join(t.TempDir(), "walk.geojson")
	setFlag(t, exportCmd, "output", output)
	setFlag(t, exportCmd, "geometry", "line")

	if err := exportCmd.RunE(exportCmd, []string{"walk"}); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	data, _ := os.ReadFile(output)
	if !strings.Contains(string(data), `"LineString"`) {
		t.Errorf("expected LineString geometry:\n%s", data)
	}
}

func TestExportCmd_YAML(t *testing.T) {
	testRepo(t)
	seedWalk(t, "walk", 3)
	output := filepath.Join(t.TempDir(), "walk.yaml")
	setFlag(t, exportCmd, "output", output)
	setFlag(t, exportCmd, "format", "yaml")

	if err := exportCmd.RunE(exportCmd, []string{"walk"}); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	var doc struct {
		Summary struct {
			SessionID string `yaml:"session_id"`
			Points    int    `yaml:"points"`
		} `yaml:"summary"`
		Points []struct {
			SyncState      string  `yaml:"sync_state"`
			DistanceMeters float64 `yaml:"distance_meters"`
		} `yaml:"points"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("invalid YAML: %v", err)
	}
	if doc.Summary.Points != 3 || len(doc.Points) != 3 {
		t.Fatalf("expected 3 points, got %+v", doc)
	}
	if doc.Points[0].SyncState != "pending" || doc.Points[0].DistanceMeters != 0 {
		t.Errorf("unexpected first point %+v", doc.Points[0])
	}
	if doc.Points[2].DistanceMeters <= doc.Points[1].DistanceMeters {
		t.Error("expected increasing cumulative distance")
	}
}

func TestExportCmd_TimeFilter(t *testing.T) {
	testRepo(t)
	seedWalk(t, "walk", 4)
	output := filepath.Join(t.TempDir(), "walk.geojson")
	setFlag(t, exportCmd, "output", output)
	setFlag(t, exportCmd, "from", walkStart.Add(5*time.Second).Format(time.RFC3339))
	setFlag(t, exportCmd, "to", walkStart.Add(10*time.Second).Format(time.RFC3339))

	if err := exportCmd.RunE(exportCmd, []string{"walk"}); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	var fc struct {
		Features []json.RawMessage `json:"features"`
	}
	data, _ := os.ReadFile(output)
	if err := json.Unmarshal(data, &fc); err != nil {
		t.Fatalf("invalid GeoJSON: %v", err)
	}
	if len(fc.Features) != 2 {
		t.Errorf("expected 2 features in range, got %d", len(fc.Features))
	}
}

func TestExportCmd_NoSamples(t *testing.T) {
	testRepo(t)

	err := exportCmd.RunE(exportCmd, []string{"ghost"})
	if err == nil || !strings.Contains(err.Error(), "no samples") {
		t.Errorf("expected no samples error, got %v", err)
	}
}

func TestExportCmd_InvalidSince(t *testing.T) {
	testRepo(t)
	setFlag(t, exportCmd, "since", "soon")

	if err := exportCmd.RunE(exportCmd, []string{"walk"}); err == nil {
		t.Error("expected error for invalid --since")
	}
}

func TestFilterByTime(t *testing.T) {
	samples := []*models.LocationSample{
		{CapturedAt: walkStart},
		{CapturedAt: walkStart.Add(time.Minute)},
		{CapturedAt: walkStart.Add(2 * time.Minute)},
	}

	if got := filterByTime(samples, time.Time{}, time.Time{}); len(got) != 3 {
		t.Errorf("open range: expected 3, got %d", len(got))
	}
	if got := filterByTime(samples, walkStart.Add(time.Minute), time.Time{}); len(got) != 2 {
		t.Errorf("from only: expected 2, got %d", len(got))
	}
	if got := filterByTime(samples, time.Time{}, walkStart.Add(30*time.Second)); len(got) != 1 {
		t.Errorf("to only: expected 1, got %d", len(got))
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
		approx  time.Duration
	}{
		{"24h", false, 24 * time.Hour},
		{"7d", false, 7 * 24 * time.Hour},
		{"1w", false, 7 * 24 * time.Hour},
		{"1m", false, 30 * 24 * time.Hour},
		{"", true, 0},
		{"abc", true, 0},
		{"10x", true, 0},
		{"h", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := parseDuration(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			expected := time.Now().Add(-tt.approx)
			if diff := result.Sub(expected); diff > time.Second || diff < -time.Second {
				t.Errorf("expected ~%v, got %v", expected, result)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
		want    time.Time
	}{
		{"2026-03-14", false, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)},
		{"2026-03-14T07:30:00Z", false, time.Date(2026, 3, 14, 7, 30, 0, 0, time.UTC)},
		{"14/03/2026", true, time.Time{}},
		{"", true, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := parseDate(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.Equal(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, result)
			}
		})
	}
}

// Tests for syncCmd

func TestSyncCmd_Subcommands(t *testing.T) {
	var names []string
	for _, c := range syncCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"init", "status", "run", "reset", "link", "unlink"} {
		if !contains(names, want) {
			t.Errorf("missing sync subcommand %q", want)
		}
	}
}

func TestSyncInitCmd(t *testing.T) {
	isolateConfig(t)
	syncInitServer, syncInitToken, syncInitTransport = "https://walks.example.com", "secret", ""
	t.Cleanup(func() { syncInitServer, syncInitToken, syncInitTransport = "", "", "" })

	if _, err := captureStdout(t, func() error { return syncInitCmd.RunE(syncInitCmd, nil) }); err != nil {
		t.Fatalf("sync init failed: %v", err)
	}

	cfg, err := sync.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server != "https://walks.example.com" || cfg.Token != "secret" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if len(cfg.DeviceID) != 26 {
		t.Errorf("expected ULID device id, got %q", cfg.DeviceID)
	}
	if !cfg.AutoSync {
		t.Error("expected auto sync on after first init")
	}
}

func TestSyncInitCmd_InvalidTransport(t *testing.T) {
	isolateConfig(t)
	syncInitServer, syncInitTransport = "https://walks.example.com", "carrier-pigeon"
	t.Cleanup(func() { syncInitServer, syncInitTransport = "", "" })

	if err := syncInitCmd.RunE(syncInitCmd, nil); err == nil {
		t.Error("expected error for unknown transport")
	}
}

func TestSyncRunCmd(t *testing.T) {
	testRepo(t)
	isolateConfig(t)
	srv := remote(t, false)
	seedWalk(t, "morning", 3)
	seedWalk(t, "evening", 2)

	out, err := captureStdout(t, func() error { return syncRunCmd.RunE(syncRunCmd, nil) })
	if err != nil {
		t.Fatalf("sync run failed: %v", err)
	}
	if !strings.Contains(out, "5 synced") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if c := counts(t, "morning"); c.Synced != 3 {
		t.Errorf("expected morning synced, got %+v", c)
	}
	if srv.Store().Len("evening") != 2 {
		t.Errorf("expected evening on the remote")
	}
}

func TestSyncRunCmd_OneSession(t *testing.T) {
	testRepo(t)
	isolateConfig(t)
	remote(t, false)
	seedWalk(t, "morning", 3)
	seedWalk(t, "evening", 2)

	if _, err := captureStdout(t, func() error {
		return syncRunCmd.RunE(syncRunCmd, []string{"morning"})
	}); err != nil {
		t.Fatalf("sync run failed: %v", err)
	}
	if c := counts(t, "morning"); c.Synced != 3 {
		t.Errorf("expected morning synced, got %+v", c)
	}
	if c := counts(t, "evening"); c.Pending != 2 {
		t.Errorf("expected evening untouched, got %+v", c)
	}
}

func TestSyncRunCmd_Recover(t *testing.T) {
	testRepo(t)
	isolateConfig(t)
	remote(t, false)
	seedWalk(t, "walk", 2)
	if _, err := repo.ClaimPending(context.Background(), "walk", 10, time.Now()); err != nil {
		t.Fatalf("ClaimPending failed: %v", err)
	}
	syncRunRecover = true
	t.Cleanup(func() { syncRunRecover = false })

	out, err := captureStdout(t, func() error { return syncRunCmd.RunE(syncRunCmd, nil) })
	if err != nil {
		t.Fatalf("sync run failed: %v", err)
	}
	if !strings.Contains(out, "Recovered 2 in-flight samples") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if c := counts(t, "walk"); c.Synced != 2 {
		t.Errorf("expected recovered samples synced, got %+v", c)
	}
}

func TestSyncRunCmd_HintsAtInFlightSamples(t *testing.T) {
	testRepo(t)
	isolateConfig(t)
	remote(t, false)
	seedWalk(t, "stuck", 2)
	seedWalk(t, "fresh", 1)
	if _, err := repo.ClaimPending(context.Background(), "stuck", 10, time.Now()); err != nil {
		t.Fatalf("ClaimPending failed: %v", err)
	}

	out, err := captureStdout(t, func() error { return syncRunCmd.RunE(syncRunCmd, nil) })
	if err != nil {
		t.Fatalf("sync run failed: %v", err)
	}
	if !strings.Contains(out, "walktrack sync run --recover") {
		t.Errorf("expected a recover hint:\n%s", out)
	}
	if c := counts(t, "stuck"); c.InFlight != 2 {
		t.Errorf("expected stuck samples left in flight, got %+v", c)
	}
	if c := counts(t, "fresh"); c.Synced != 1 {
		t.Errorf("expected fresh synced, got %+v", c)
	}
}

func TestSyncRunCmd_NoHintWhenNothingInFlight(t *testing.T) {
	testRepo(t)
	isolateConfig(t)
	remote(t, false)
	seedWalk(t, "walk", 2)

	out, err := captureStdout(t, func() error { return syncRunCmd.RunE(syncRunCmd, nil) })
	if err != nil {
		t.Fatalf("sync run failed: %v", err)
	}
	if strings.Contains(out, "--recover") {
		t.Errorf("unexpected recover hint:\n%s", out)
	}
}

func TestSyncRunCmd_NotConfigured(t *testing.T) {
	testRepo(t)
	isolateConfig(t)

	err := syncRunCmd.RunE(syncRunCmd, nil)
	if !errors.Is(err, sync.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSyncStatusCmd(t *testing.T) {
	testRepo(t)
	isolateConfig(t)
	walk := seedWalk(t, "walk", 3)
	if err := repo.MarkRejected(context.Background(), models.IDs(walk[:1])); err != nil {
		t.Fatalf("MarkRejected failed: %v", err)
	}

	out, err := captureStdout(t, func() error { return syncStatusCmd.RunE(syncStatusCmd, nil) })
	if err != nil {
		t.Fatalf("sync status failed: %v", err)
	}
	for _, want := range []string{"Transport: http", "(not set)", "walk", "2 pending", "1 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestSyncStatusCmd_CharmDelivery(t *testing.T) {
	testRepo(t)
	isolateConfig(t)
	t.Setenv("CHARM_DATA_DIR", t.TempDir())
	if err := sync.SaveConfig(&sync.Config{Transport: sync.TransportCharm, DeviceID: "device-1"}); err != nil {
		t.Fatalf("failed to save sync config: %v", err)
	}
	tr := charm.NewTransport(charm.NewTestClient("walktrack-status"))
	old := newCharmTransport
	newCharmTransport = func() (*charm.Transport, error) { return tr, nil }
	t.Cleanup(func() { newCharmTransport = old })

	walk := seedWalk(t, "walk", 3)
	seedWalk(t, "other", 1)
	batch := sync.Batch{SessionID: "walk", DeviceID: "device-1", Samples: walk[:2]}
	if err := tr.SubmitBatch(context.Background(), batch); err != nil {
		t.Fatalf("SubmitBatch failed: %v", err)
	}

	out, err := captureStdout(t, func() error { return syncStatusCmd.RunE(syncStatusCmd, nil) })
	if err != nil {
		t.Fatalf("sync status failed: %v", err)
	}
	for _, want := range []string{"Transport: charm", "charm: 2 delivered, last batch just now", "charm: nothing delivered"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestSyncStatusCmd_CharmUnavailable(t *testing.T) {
	testRepo(t)
	isolateConfig(t)
	if err := sync.SaveConfig(&sync.Config{Transport: sync.TransportCharm, DeviceID: "device-1"}); err != nil {
		t.Fatalf("failed to save sync config: %v", err)
	}
	old := newCharmTransport
	newCharmTransport = func() (*charm.Transport, error) { return nil, errors.New("no keys") }
	t.Cleanup(func() { newCharmTransport = old })
	seedWalk(t, "walk", 1)

	out, err := captureStdout(t, func() error { return syncStatusCmd.RunE(syncStatusCmd, nil) })
	if err != nil {
		t.Fatalf("sync status failed: %v", err)
	}
	if !strings.Contains(out, "1 pending") || strings.Contains(out, "delivered") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestSyncResetCmd(t *testing.T) {
	testRepo(t)
	walk := seedWalk(t, "walk", 3)
	if err := repo.MarkRejected(context.Background(), models.IDs(walk[:2])); err != nil {
		t.Fatalf("MarkRejected failed: %v", err)
	}

	if _, err := captureStdout(t, func() error {
		return syncResetCmd.RunE(syncResetCmd, []string{"walk"})
	}); err != nil {
		t.Fatalf("sync reset failed: %v", err)
	}
	if c := counts(t, "walk"); c.Pending != 3 || c.Failed != 0 {
		t.Errorf("expected all pending, got %+v", c)
	}

	out, err := captureStdout(t, func() error {
		return syncResetCmd.RunE(syncResetCmd, []string{"walk"})
	})
	if err != nil {
		t.Fatalf("sync reset failed: %v", err)
	}
	if !strings.Contains(out, "No failed samples") {
		t.Errorf("unexpected output: %q", out)
	}
}

// Tests for backupCmd and importCmd

func TestBackupImportFlow(t *testing.T) {
	testRepo(t)
	walk := seedWalk(t, "walk", 3)
	if err := repo.MarkSynced(context.Background(), models.IDs(walk[:1])); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}
	backupFile := filepath.Join(t.TempDir(), "backup.yaml")
	setFlag(t, backupCmd, "output", backupFile)

	if _, err := captureStdout(t, func() error { return backupCmd.RunE(backupCmd, nil) }); err != nil {
		t.Fatalf("backup failed: %v", err)
	}
	if _, err := os.Stat(backupFile); err != nil {
		t.Fatalf("backup file not created: %v", err)
	}

	// Restore into a fresh database.
	testRepo(t)
	setFlag(t, importCmd, "confirm", "true")
	out, err := captureStdout(t, func() error { return importCmd.RunE(importCmd, []string{backupFile}) })
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if !strings.Contains(out, "1 walks, 3 samples imported") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "2 samples waiting to sync") {
		t.Errorf("expected pending backlog hint:\n%s", out)
	}
	c := counts(t, "walk")
	if c.Synced != 1 || c.Pending != 2 {
		t.Errorf("expected sync state preserved, got %+v", c)
	}
}

func TestImportCmd_FileNotFound(t *testing.T) {
	testRepo(t)
	setFlag(t, importCmd, "confirm", "true")

	err := importCmd.RunE(importCmd, []string{filepath.Join(t.TempDir(), "nope.yaml")})
	if err == nil || !strings.Contains(err.Error(), "failed to read file") {
		t.Errorf("expected read error, got %v", err)
	}
}

func TestImportCmd_Declined(t *testing.T) {
	testRepo(t)
	backupFile := filepath.Join(t.TempDir(), "backup.yaml")
	if err := os.WriteFile(backupFile, []byte("version: \"1.0\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	setFlag(t, importCmd, "confirm", "false")
	old := promptInput
	promptInput = strings.NewReader("n\n")
	t.Cleanup(func() { promptInput = old })

	out, err := captureStdout(t, func() error { return importCmd.RunE(importCmd, []string{backupFile}) })
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if !strings.Contains(out, "Canceled.") {
		t.Errorf("expected cancel, got:\n%s", out)
	}
}

func TestConfirmed(t *testing.T) {
	old := promptInput
	t.Cleanup(func() { promptInput = old })

	for answer, want := range map[string]bool{"y\n": true, "YES\n": true, "n\n": false, "\n": false, "": false} {
		promptInput = strings.NewReader(answer)
		var got bool
		_, _ = captureStdout(t, func() error { got = confirmed("Proceed?"); return nil })
		if got != want {
			t.Errorf("confirmed(%q) = %v, want %v", answer, got, want)
		}
	}
}

// Tests for migrateCmd

func setMigrate(t *testing.T, dataDir, from, to string, force bool) {
	t.Helper()
	appCfg = &config.Config{DataDir: dataDir}
	migrateFrom, migrateTo, migrateDataDir, migrateForce = from, to, "", force
	t.Cleanup(func() {
		appCfg = nil
		migrateFrom, migrateTo, migrateDataDir, migrateForce = "", "", "", false
	})
}

func TestMigrateCmd_SQLiteToBadger(t *testing.T) {
	isolateConfig(t)
	dataDir := t.TempDir()
	cfg := &config.Config{DataDir: dataDir}

	src, err := cfg.OpenBackend(config.BackendSQLite)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo = src
	walk := seedWalk(t, "walk", 3)
	if err := src.MarkRejected(context.Background(), models.IDs(walk[:1])); err != nil {
		t.Fatalf("MarkRejected failed: %v", err)
	}
	repo = nil
	if err := src.Close(); err != nil {
		t.Fatalf("close sqlite: %v", err)
	}

	setMigrate(t, dataDir, "", config.BackendBadger, false)
	out, err := captureStdout(t, func() error { return runMigrate(migrateCmd, nil) })
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if !strings.Contains(out, "Samples: 3") {
		t.Errorf("unexpected output:\n%s", out)
	}

	dst, err := cfg.OpenBackend(config.BackendBadger)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	defer func() { _ = dst.Close() }()
	c, err := dst.Counts(context.Background(), "walk")
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if c.Pending != 2 || c.Failed != 1 {
		t.Errorf("expected sync state preserved, got %+v", c)
	}
}

func TestMigrateCmd_RefusesExistingTarget(t *testing.T) {
	isolateConfig(t)
	dataDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dataDir, "walktrack.db"), []byte("x"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	setMigrate(t, dataDir, config.BackendBadger, config.BackendSQLite, false)
	err := runMigrate(migrateCmd, nil)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("expected existing target error, got %v", err)
	}
}

func TestMigrateCmd_InvalidBackends(t *testing.T) {
	isolateConfig(t)

	setMigrate(t, t.TempDir(), "", "markdown", false)
	if err := runMigrate(migrateCmd, nil); err == nil {
		t.Error("expected error for unknown backend")
	}

	setMigrate(t, t.TempDir(), "", config.BackendSQLite, false)
	if err := runMigrate(migrateCmd, nil); err == nil || !strings.Contains(err.Error(), "same as the source") {
		t.Errorf("expected same backend error, got %v", err)
	}
}

func TestStorageExists(t *testing.T) {
	dir := t.TempDir()

	if ok, err := storageExists(filepath.Join(dir, "missing")); err != nil || ok {
		t.Errorf("missing path: got %v, %v", ok, err)
	}
	if ok, err := storageExists(dir); err != nil || ok {
		t.Errorf("empty dir: got %v, %v", ok, err)
	}
	file := filepath.Join(dir, "walktrack.db")
	if err := os.WriteFile(file, nil, 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ok, err := storageExists(file); err != nil || !ok {
		t.Errorf("file: got %v, %v", ok, err)
	}
	if ok, err := storageExists(dir); err != nil || !ok {
		t.Errorf("non-empty dir: got %v, %v", ok, err)
	}
}

// Tests for mcpCmd and ingestCmd

func TestMcpCmd_Metadata(t *testing.T) {
	if mcpCmd.Use != "mcp" {
		t.Errorf("expected Use 'mcp', got %q", mcpCmd.Use)
	}
	if mcpCmd.Short != "Start MCP server for AI agents" {
		t.Errorf("unexpected Short: %q", mcpCmd.Short)
	}
}

func TestMcpSyncer(t *testing.T) {
	testRepo(t)
	isolateConfig(t)

	syncer, err := mcpSyncer()
	if err != nil {
		t.Fatalf("mcpSyncer failed: %v", err)
	}
	if syncer != nil {
		t.Error("expected no syncer without sync config")
	}

	remote(t, false)
	syncer, err = mcpSyncer()
	if err != nil {
		t.Fatalf("mcpSyncer failed: %v", err)
	}
	if syncer == nil {
		t.Error("expected a syncer once sync is configured")
	}
}

func TestIngestServeCmd_Flags(t *testing.T) {
	addr := ingestServeCmd.Flags().Lookup("addr")
	if addr == nil || addr.DefValue != ":8080" {
		t.Error("expected addr flag defaulting to :8080")
	}
	if ingestServeCmd.Flags().Lookup("token") == nil {
		t.Error("expected token flag")
	}
	if ingestServeCmd.Flags().Lookup("rate-limit") == nil {
		t.Error("expected rate-limit flag")
	}
}

func TestPrintReport(t *testing.T) {
	out, _ := captureStdout(t, func() error {
		printReport(sync.Report{Batches: 2, Synced: 7, Busy: 1})
		return nil
	})
	if !strings.Contains(out, "2 batches, 7 synced") || !strings.Contains(out, "1 sessions skipped") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestValueOr(t *testing.T) {
	if got := valueOr("", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
	if got := valueOr("set", "fallback"); got != "set" {
		t.Errorf("expected set, got %q", got)
	}
}
