// ABOUTME: MCP resource definitions
// ABOUTME: Read-only views of recorded walks: the session list and per-walk GeoJSON

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/harper/walktrack/internal/geojson"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	sessionsURI     = "walktrack://sessions"
	pathURIPrefix   = sessionsURI + "/"
	pathURISuffix   = "/geojson"
	pathURITemplate = sessionsURI + "/{session}" + pathURISuffix
	geoJSONMIME     = "application/geo+json"
)

func (s *Server) registerResources() {
	s.mcp.AddResource(&mcp.Resource{
		Name:        sessionsURI,
		Description: "All recorded walks with their sync state counts",
		URI:         sessionsURI,
		MIMEType:    "application/json",
	}, s.handleSessionsResource)

	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "walk_path",
		Description: "A walk's path as a GeoJSON LineString",
		URITemplate: pathURITemplate,
		MIMEType:    geoJSONMIME,
	}, s.handlePathResource)
}

func (s *Server) handleSessionsResource(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	output, err := s.listSessions(ctx, 0)
	if err != nil {
		return nil, err
	}
	jsonBytes, _ := json.MarshalIndent(output, "", "  ") //nolint:errchkjson // output is always serializable
	return resourceResult(sessionsURI, "application/json", jsonBytes), nil
}

func (s *Server) handlePathResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	sessionID, err := sessionFromPathURI(uri)
	if err != nil {
		return nil, err
	}
	samples, err := s.paths.GetPath(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("session %q has no samples", sessionID)
	}
	data, err := geojson.ToLineFeatureCollection(sessionID, samples).ToJSONIndent()
	if err != nil {
		return nil, err
	}
	return resourceResult(uri, geoJSONMIME, data), nil
}

// sessionFromPathURI extracts the session id from walktrack://sessions/{session}/geojson.
func sessionFromPathURI(uri string) (string, error) {
	rest, ok := strings.CutPrefix(uri, pathURIPrefix)
	if ok {
		rest, ok = strings.CutSuffix(rest, pathURISuffix)
	}
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", fmt.Errorf("unknown resource %q", uri)
	}
	return url.PathUnescape(rest)
}

func resourceResult(uri, mime string, data []byte) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{URI: uri, MIMEType: mime, Text: string(data)},
		},
	}
}
