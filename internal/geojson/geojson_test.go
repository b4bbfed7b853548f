// ABOUTME: Unit tests for GeoJSON generation
// ABOUTME: Tests Point and LineString feature collection builders

package geojson

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/harper/walktrack/internal/models"
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func testPath() []*models.LocationSample {
	var out []*models.LocationSample
	for i := 0; i < 3; i++ {
		out = append(out, models.NewSample("walk-1", models.RawReading{
			Latitude:   41.8781 + float64(i)*0.001,
			Longitude:  -87.6298,
			Accuracy:   5,
			CapturedAt: t0.Add(time.Duration(i) * time.Minute),
		}))
	}
	return out
}

func TestToPointsFeatureCollection(t *testing.T) {
	samples := testPath()
	fc := ToPointsFeatureCollection("walk-1", samples)

	if fc.Type != "FeatureCollection" {
		t.Errorf("expected FeatureCollection type, got %s", fc.Type)
	}
	if len(fc.Features) != 3 {
		t.Fatalf("expected 3 features, got %d", len(fc.Features))
	}

	feature := fc.Features[0]
	if feature.Geometry.Type != "Point" {
		t.Errorf("expected Point geometry, got %s", feature.Geometry.Type)
	}
	coords, ok := feature.Geometry.Coordinates.(PointCoordinates)
	if !ok {
		t.Fatal("expected PointCoordinates")
	}
	// GeoJSON uses [lng, lat] order
	if coords[0] != -87.6298 || coords[1] != 41.8781 {
		t.Errorf("expected [-87.6298, 41.8781], got %v", coords)
	}

	if feature.Properties["session"] != "walk-1" {
		t.Errorf("expected session walk-1, got %v", feature.Properties["session"])
	}
	if feature.Properties["sync_state"] != "pending" {
		t.Errorf("expected sync_state pending, got %v", feature.Properties["sync_state"])
	}
	if feature.Properties["captured_at"] != "2024-06-01T09:00:00Z" {
		t.Errorf("unexpected captured_at %v", feature.Properties["captured_at"])
	}

	last := fc.Features[2].Properties["distance_meters"].(float64)
	if last < 220 || last > 225 {
		t.Errorf("expected cumulative distance near 222 m, got %f", last)
	}
}

func TestToLineFeatureCollection(t *testing.T) {
	fc := ToLineFeatureCollection("walk-1", testPath())
	if len(fc.Features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(fc.Features))
	}

	feature := fc.Features[0]
	if feature.Geometry.Type != "LineString" {
		t.Errorf("expected LineString geometry, got %s", feature.Geometry.Type)
	}
	coords, ok := feature.Geometry.Coordinates.(LineCoordinates)
	if !ok {
		t.Fatal("expected LineCoordinates")
	}
	if len(coords) != 3 {
		t.Errorf("expected 3 coordinates, got %d", len(coords))
	}
	if feature.Properties["point_count"] != 3 {
		t.Errorf("expected point_count 3, got %v", feature.Properties["point_count"])
	}
	if feature.Properties["duration_seconds"] != 120.0 {
		t.Errorf("expected duration 120s, got %v", feature.Properties["duration_seconds"])
	}
}

func TestToLineFeatureCollection_SinglePoint(t *testing.T) {
	fc := ToLineFeatureCollection("walk-1", testPath()[:1])
	if len(fc.Features) != 0 {
		t.Errorf("expected no line for a single point, got %d features", len(fc.Features))
	}
}

func TestToJSON(t *testing.T) {
	fc := ToPointsFeatureCollection("walk-1", testPath())

	data, err := fc.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if parsed["type"] != "FeatureCollection" {
		t.Errorf("expected type FeatureCollection, got %v", parsed["type"])
	}

	indented, err := fc.ToJSONIndent()
	if err != nil {
		t.Fatalf("ToJSONIndent failed: %v", err)
	}
	if len(indented) <= len(data) {
		t.Error("expected indented JSON to be longer")
	}
}

func TestEmptyPath(t *testing.T) {
	fc := ToPointsFeatureCollection("walk-1", nil)
	data, err := fc.ToJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"type":"FeatureCollection","features":[]}` {
		t.Errorf("unexpected JSON for empty path: %s", data)
	}
}

func TestBBox(t *testing.T) {
	samples := testPath()
	samples[1].Longitude = -87.63

	for _, fc := range []*FeatureCollection{
		ToPointsFeatureCollection("walk-1", samples),
		ToLineFeatureCollection("walk-1", samples),
	} {
		want := []float64{-87.63, 41.8781, -87.6298, 41.8801}
		if len(fc.BBox) != 4 {
			t.Fatalf("expected 4 bbox values, got %v", fc.BBox)
		}
		for i := range want {
			if diff := fc.BBox[i] - want[i]; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("bbox[%d] = %v, want %v", i, fc.BBox[i], want[i])
			}
		}
	}
}
