// ABOUTME: HTTP transport posting sample batches to the remote store
// ABOUTME: Adds bearer auth and a canonical-JSON idempotency key per batch

package sync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
)

// HTTPTransport submits batches with POST {server}/v1/sessions/{id}/samples.
type HTTPTransport struct {
	Server string
	Tokens TokenSource
	Client *http.Client
}

// NewHTTPTransport creates a transport for server. tokens may be nil.
func NewHTTPTransport(server string, tokens TokenSource) *HTTPTransport {
	return &HTTPTransport{
		Server: strings.TrimRight(server, "/"),
		Tokens: tokens,
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

// SamplesURL returns the batch endpoint for a session.
func (t *HTTPTransport) SamplesURL(sessionID string) string {
	return fmt.Sprintf("%s/v1/sessions/%s/samples", t.Server, url.PathEscape(sessionID))
}

// IdempotencyKey hashes the RFC 8785 canonical form of body.
func IdempotencyKey(body []byte) (string, error) {
	canonical, err := jcs.Transform(body)
	if err != nil {
		return "", fmt.Errorf("canonicalize body: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// SubmitBatch posts the batch and classifies the response.
func (t *HTTPTransport) SubmitBatch(ctx context.Context, batch Batch) error {
	if t.Server == "" {
		return ErrNotConfigured
	}

	body, err := json.Marshal(batch.Payload())
	if err != nil {
		return Rejected("encode batch: %v", err)
	}
	key, err := IdempotencyKey(body)
	if err != nil {
		return Rejected("%v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.SamplesURL(batch.SessionID), bytes.NewReader(body))
	if err != nil {
		return Rejected("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)

	if t.Tokens != nil {
		token, err := t.Tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("get token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	detail := strings.TrimSpace(string(msg))
	if Retryable(resp.StatusCode) {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, detail)
	}
	return Rejected("server returned %d: %s", resp.StatusCode, detail)
}

// Retryable reports whether an HTTP status is worth retrying.
func Retryable(status int) bool {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}
