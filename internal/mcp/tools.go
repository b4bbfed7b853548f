// ABOUTME: MCP tool definitions and handlers
// ABOUTME: Lists walks, returns paths, checks geofences, reports sync state, and resets failed samples

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang/geo/s2"
	"github.com/harper/walktrack/internal/geofence"
	"github.com/harper/walktrack/internal/models"
	"github.com/harper/walktrack/internal/path"
	"github.com/harper/walktrack/internal/storage"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) registerTools() {
	s.registerListSessionsTool()
	s.registerGetPathTool()
	s.registerSyncStatusTool()
	s.registerResetFailedTool()
	s.registerCheckGeofenceTool()
	if s.syncer != nil {
		s.registerSyncNowTool()
	}
}

func textResult(v any) *mcp.CallToolResult {
	jsonBytes, _ := json.MarshalIndent(v, "", "  ") //nolint:errchkjson // output is always serializable
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(jsonBytes)}},
	}
}

// SessionOutput describes one walk.
type SessionOutput struct {
	ID        string             `json:"id"`
	StartedAt time.Time          `json:"started_at"`
	EndedAt   *time.Time         `json:"ended_at,omitempty"`
	Active    bool               `json:"active"`
	Counts    models.StateCounts `json:"counts"`
}

// ListSessionsInput defines input for list_sessions tool.
type ListSessionsInput struct {
	Limit int `json:"limit,omitempty"`
}

// ListSessionsOutput defines output for list_sessions tool.
type ListSessionsOutput struct {
	Sessions []SessionOutput `json:"sessions"`
	Count    int             `json:"count"`
}

func (s *Server) registerListSessionsTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_sessions",
		Description: "List recorded walks, newest first, with per-state sample counts.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of walks to return (default: all)",
				},
			},
		},
	}, s.handleListSessions)
}

func (s *Server) listSessions(ctx context.Context, limit int) (ListSessionsOutput, error) {
	sessions, err := s.repo.ListSessions(ctx)
	if err != nil {
		return ListSessionsOutput{}, fmt.Errorf("failed to list sessions: %w", err)
	}
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}

	out := ListSessionsOutput{Sessions: make([]SessionOutput, 0, len(sessions))}
	for _, sess := range sessions {
		counts, err := s.repo.Counts(ctx, sess.ID)
		if err != nil {
			return ListSessionsOutput{}, fmt.Errorf("failed to count samples: %w", err)
		}
		out.Sessions = append(out.Sessions, SessionOutput{
			ID:        sess.ID,
			StartedAt: sess.StartedAt,
			EndedAt:   sess.EndedAt,
			Active:    sess.Active,
			Counts:    counts,
		})
	}
	out.Count = len(out.Sessions)
	return out, nil
}

func (s *Server) handleListSessions(ctx context.Context, _ *mcp.CallToolRequest, input ListSessionsInput) (*mcp.CallToolResult, ListSessionsOutput, error) {
	out, err := s.listSessions(ctx, input.Limit)
	if err != nil {
		return nil, ListSessionsOutput{}, err
	}
	return textResult(out), out, nil
}

// SessionInput names a walk.
type SessionInput struct {
	Session string `json:"session"`
}

// PointOutput is one point of a path.
type PointOutput struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Accuracy       float64   `json:"accuracy"`
	CapturedAt     time.Time `json:"captured_at"`
	SyncState      string    `json:"sync_state"`
	DistanceMeters float64   `json:"distance_meters"`
}

// GetPathOutput defines output for get_path tool.
type GetPathOutput struct {
	Summary *path.Summary `json:"summary"`
	Points  []PointOutput `json:"points"`
}

var sessionSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"session": map[string]interface{}{
			"type":        "string",
			"description": "Walk session id",
		},
	},
	"required": []string{"session"},
}

func (s *Server) registerGetPathTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_path",
		Description: "Get a walk's path in capture order with cumulative distance and summary statistics.",
		InputSchema: sessionSchema,
	}, s.handleGetPath)
}

func (s *Server) handleGetPath(ctx context.Context, _ *mcp.CallToolRequest, input SessionInput) (*mcp.CallToolResult, GetPathOutput, error) {
	if input.Session == "" {
		return nil, GetPathOutput{}, fmt.Errorf("session is required")
	}
	samples, err := s.paths.GetPath(ctx, input.Session)
	if err != nil {
		return nil, GetPathOutput{}, err
	}
	summary, err := s.paths.Summarize(ctx, input.Session)
	if err != nil {
		return nil, GetPathOutput{}, err
	}

	cumulative := path.Cumulative(samples)
	out := GetPathOutput{Summary: summary, Points: make([]PointOutput, len(samples))}
	for i, sample := range samples {
		out.Points[i] = PointOutput{
			Latitude:       sample.Latitude,
			Longitude:      sample.Longitude,
			Accuracy:       sample.Accuracy,
			CapturedAt:     sample.CapturedAt,
			SyncState:      sample.SyncState.String(),
			DistanceMeters: cumulative[i],
		}
	}
	return textResult(out), out, nil
}

// SyncStatusInput defines input for sync_status tool.
type SyncStatusInput struct {
	Session string `json:"session,omitempty"`
}

// SyncStatusOutput defines output for sync_status tool.
type SyncStatusOutput struct {
	Sessions map[string]models.StateCounts `json:"sessions"`
	Total    models.StateCounts            `json:"total"`
}

func (s *Server) registerSyncStatusTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "sync_status",
		Description: "Report how many samples are pending, in flight, synced, or failed, per walk and in total.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"session": map[string]interface{}{
					"type":        "string",
					"description": "Limit the report to one walk",
				},
			},
		},
	}, s.handleSyncStatus)
}

func (s *Server) handleSyncStatus(ctx context.Context, _ *mcp.CallToolRequest, input SyncStatusInput) (*mcp.CallToolResult, SyncStatusOutput, error) {
	var ids []string
	if input.Session != "" {
		if _, err := s.repo.GetSession(ctx, input.Session); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, SyncStatusOutput{}, fmt.Errorf("session %q not found", input.Session)
			}
			return nil, SyncStatusOutput{}, err
		}
		ids = []string{input.Session}
	} else {
		sessions, err := s.repo.ListSessions(ctx)
		if err != nil {
			return nil, SyncStatusOutput{}, fmt.Errorf("failed to list sessions: %w", err)
		}
		for _, sess := range sessions {
			ids = append(ids, sess.ID)
		}
	}

	out := SyncStatusOutput{Sessions: make(map[string]models.StateCounts, len(ids))}
	for _, id := range ids {
		c, err := s.repo.Counts(ctx, id)
		if err != nil {
			return nil, SyncStatusOutput{}, fmt.Errorf("failed to count samples: %w", err)
		}
		out.Sessions[id] = c
		out.Total.Pending += c.Pending
		out.Total.InFlight += c.InFlight
		out.Total.Synced += c.Synced
		out.Total.Failed += c.Failed
	}
	return textResult(out), out, nil
}

// ResetFailedOutput defines output for reset_failed tool.
type ResetFailedOutput struct {
	Session string `json:"session"`
	Reset   int    `json:"reset"`
}

func (s *Server) registerResetFailedTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "reset_failed",
		Description: "Return a walk's failed samples to the pending queue so they are retried.",
		InputSchema: sessionSchema,
	}, s.handleResetFailed)
}

func (s *Server) handleResetFailed(ctx context.Context, _ *mcp.CallToolRequest, input SessionInput) (*mcp.CallToolResult, ResetFailedOutput, error) {
	if input.Session == "" {
		return nil, ResetFailedOutput{}, fmt.Errorf("session is required")
	}
	n, err := s.repo.ResetFailed(ctx, input.Session)
	if err != nil {
		return nil, ResetFailedOutput{}, fmt.Errorf("failed to reset samples: %w", err)
	}
	out := ResetFailedOutput{Session: input.Session, Reset: n}
	return textResult(out), out, nil
}

// CheckGeofenceInput defines input for check_geofence tool.
type CheckGeofenceInput struct {
	Session      string   `json:"session"`
	RadiusMeters float64  `json:"radius_meters,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
}

// CheckGeofenceOutput defines output for check_geofence tool.
type CheckGeofenceOutput struct {
	Contained bool             `json:"contained"`
	Report    *geofence.Report `json:"report"`
}

func (s *Server) registerCheckGeofenceTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "check_geofence",
		Description: "Check whether a walk stayed inside a circle and list each time it left. The circle is centred on the first point unless latitude and longitude are given.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"session": map[string]interface{}{
					"type":        "string",
					"description": "Walk session id",
				},
				"radius_meters": map[string]interface{}{
					"type":        "number",
					"description": fmt.Sprintf("Fence radius in metres, %.0f to %.0f (default: %.0f)", geofence.MinRadiusMeters, geofence.MaxRadiusMeters, geofence.DefaultRadiusMeters),
				},
				"latitude": map[string]interface{}{
					"type":        "number",
					"description": "Fence centre latitude",
				},
				"longitude": map[string]interface{}{
					"type":        "number",
					"description": "Fence centre longitude",
				},
			},
			"required": []string{"session"},
		},
	}, s.handleCheckGeofence)
}

func (s *Server) handleCheckGeofence(ctx context.Context, _ *mcp.CallToolRequest, input CheckGeofenceInput) (*mcp.CallToolResult, CheckGeofenceOutput, error) {
	if input.Session == "" {
		return nil, CheckGeofenceOutput{}, fmt.Errorf("session is required")
	}
	var center *s2.LatLng
	switch {
	case input.Latitude != nil && input.Longitude != nil:
		ll := s2.LatLngFromDegrees(*input.Latitude, *input.Longitude)
		center = &ll
	case input.Latitude != nil || input.Longitude != nil:
		return nil, CheckGeofenceOutput{}, fmt.Errorf("latitude and longitude must be given together")
	}

	report, err := s.paths.CheckFence(ctx, input.Session, center, input.RadiusMeters)
	if err != nil {
		return nil, CheckGeofenceOutput{}, err
	}
	out := CheckGeofenceOutput{Contained: report.Contained(), Report: report}
	return textResult(out), out, nil
}

// SyncNowInput defines input for sync_now tool.
type SyncNowInput struct{}

func (s *Server) registerSyncNowTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "sync_now",
		Description: "Run a sync pass now. Does nothing while offline.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	}, s.handleSyncNow)
}

func (s *Server) handleSyncNow(ctx context.Context, _ *mcp.CallToolRequest, _ SyncNowInput) (*mcp.CallToolResult, SyncReportOutput, error) {
	r, err := s.syncer.RunOnce(ctx)
	if err != nil {
		return nil, SyncReportOutput{}, fmt.Errorf("sync failed: %w", err)
	}
	out := SyncReportOutput(r)
	return textResult(out), out, nil
}

// SyncReportOutput defines output for sync_now tool.
type SyncReportOutput struct {
	Batches  int  `json:"batches"`
	Synced   int  `json:"synced"`
	Retried  int  `json:"retried"`
	Rejected int  `json:"rejected"`
	Busy     int  `json:"busy"`
	Offline  bool `json:"offline"`
}
