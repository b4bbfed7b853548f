// ABOUTME: GeoJSON generation utilities
// ABOUTME: Converts a session path to Point features or a single LineString

package geojson

import (
	"encoding/json"
	"time"

	"github.com/harper/walktrack/internal/models"
	"github.com/harper/walktrack/internal/path"
)

// FeatureCollection represents a GeoJSON FeatureCollection. BBox is
// [west, south, east, north] and is omitted for an empty path.
type FeatureCollection struct {
	Type     string    `json:"type"`
	BBox     []float64 `json:"bbox,omitempty"`
	Features []Feature `json:"features"`
}

// Feature represents a GeoJSON Feature.
type Feature struct {
	Type       string                 `json:"type"`
	Geometry   Geometry               `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// Geometry represents a GeoJSON Geometry.
type Geometry struct {
	Type        string      `json:"type"`
	Coordinates interface{} `json:"coordinates"`
}

// PointCoordinates represents [longitude, latitude] for a Point.
type PointCoordinates [2]float64

// LineCoordinates represents [[lng, lat], [lng, lat], ...] for a LineString.
type LineCoordinates []PointCoordinates

// ToPointsFeatureCollection converts an ordered path to a FeatureCollection
// of Points. Each point carries its cumulative distance.
func ToPointsFeatureCollection(sessionID string, samples []*models.LocationSample) *FeatureCollection {
	features := make([]Feature, 0, len(samples))
	cumulative := path.Cumulative(samples)

	for i, s := range samples {
		features = append(features, Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: PointCoordinates{s.Longitude, s.Latitude},
			},
			Properties: map[string]interface{}{
				"session":         sessionID,
				"id":              s.ID.String(),
				"captured_at":     s.CapturedAt.UTC().Format(time.RFC3339),
				"accuracy":        s.Accuracy,
				"speed":           s.Speed,
				"sync_state":      s.SyncState.String(),
				"distance_meters": cumulative[i],
			},
		})
	}

	return &FeatureCollection{
		Type:     "FeatureCollection",
		BBox:     bounds(samples),
		Features: features,
	}
}

// ToLineFeatureCollection converts an ordered path to a FeatureCollection
// holding one LineString. A path with fewer than two points has no line.
func ToLineFeatureCollection(sessionID string, samples []*models.LocationSample) *FeatureCollection {
	features := make([]Feature, 0, 1)

	if len(samples) >= 2 {
		coords := make(LineCoordinates, len(samples))
		for i, s := range samples {
			coords[i] = PointCoordinates{s.Longitude, s.Latitude}
		}
		stats := path.Stats(samples)

		features = append(features, Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "LineString",
				Coordinates: coords,
			},
			Properties: map[string]interface{}{
				"session":          sessionID,
				"point_count":      stats.Points,
				"distance_meters":  stats.DistanceMeters,
				"duration_seconds": stats.Duration.Seconds(),
				"started_at":       stats.FirstAt.UTC().Format(time.RFC3339),
				"ended_at":         stats.LastAt.UTC().Format(time.RFC3339),
			},
		})
	}

	return &FeatureCollection{
		Type:     "FeatureCollection",
		BBox:     bounds(samples),
		Features: features,
	}
}

func bounds(samples []*models.LocationSample) []float64 {
	if len(samples) == 0 {
		return nil
	}
	west, south := samples[0].Longitude, samples[0].Latitude
	east, north := west, south
	for _, s := range samples[1:] {
		west = min(west, s.Longitude)
		east = max(east, s.Longitude)
		south = min(south, s.Latitude)
		north = max(north, s.Latitude)
	}
	return []float64{west, south, east, north}
}

// ToJSON serializes a FeatureCollection to JSON.
func (fc *FeatureCollection) ToJSON() ([]byte, error) {
	return json.Marshal(fc)
}

// ToJSONIndent serializes a FeatureCollection to indented JSON.
func (fc *FeatureCollection) ToJSONIndent() ([]byte, error) {
	return json.MarshalIndent(fc, "", "  ")
}
