// ABOUTME: Transport contract for delivering sample batches to the remote store
// ABOUTME: Distinguishes fatal rejections from retryable failures

package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/harper/walktrack/internal/models"
)

// ErrRejected marks a batch the remote store will never accept. Retrying it
// is pointless; the samples become Failed.
var ErrRejected = errors.New("batch rejected")

// ErrNotConfigured is returned when sync is used before it has a server.
var ErrNotConfigured = errors.New("sync not configured")

// Batch is one submission: samples of a single session in capture order.
type Batch struct {
	SessionID string
	DeviceID  string
	Samples   []*models.LocationSample
}

// Payload returns the wire form of the batch.
func (b Batch) Payload() models.BatchPayload {
	return models.NewBatchPayload(b.SessionID, b.DeviceID, b.Samples)
}

// Transport delivers batches. A nil error acknowledges every sample in the
// batch. An error matching ErrRejected is fatal; any other error is retryable.
type Transport interface {
	SubmitBatch(ctx context.Context, batch Batch) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, batch Batch) error

// SubmitBatch calls f.
func (f TransportFunc) SubmitBatch(ctx context.Context, batch Batch) error {
	return f(ctx, batch)
}

// Rejected wraps a reason as a fatal rejection.
func Rejected(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, args...))
}

// TokenSource supplies bearer tokens from the external auth layer.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token returns the token. An empty token means unauthenticated.
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}
