// ABOUTME: Network reachability signals for the sync scheduler
// ABOUTME: Static flag, HTTP health probe, and a monitor that fires on reconnect

package sync

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/harper/walktrack/internal/logging"
)

// Reachability reports whether the remote store can be reached right now.
type Reachability interface {
	Reachable(ctx context.Context) bool
}

// StaticReachability is a settable reachability flag.
type StaticReachability struct {
	up atomic.Bool
}

// NewStaticReachability creates a flag with the given initial value.
func NewStaticReachability(up bool) *StaticReachability {
	r := &StaticReachability{}
	r.up.Store(up)
	return r
}

// Set changes the flag.
func (r *StaticReachability) Set(up bool) {
	r.up.Store(up)
}

// Reachable returns the flag.
func (r *StaticReachability) Reachable(context.Context) bool {
	return r.up.Load()
}

// HTTPProbe checks reachability with GET {server}/healthz.
type HTTPProbe struct {
	URL    string
	Client *http.Client
}

// NewHTTPProbe probes server's health endpoint with a short timeout.
func NewHTTPProbe(server string) *HTTPProbe {
	return &HTTPProbe{
		URL:    strings.TrimRight(server, "/") + "/healthz",
		Client: &http.Client{Timeout: 3 * time.Second},
	}
}

// Reachable returns true when the server answers without a 5xx.
func (p *HTTPProbe) Reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < 500
}

// NetworkMonitor polls a Reachability and calls OnAvailable on each
// unreachable to reachable transition.
type NetworkMonitor struct {
	Reach       Reachability
	Interval    time.Duration
	OnAvailable func()
	Logger      *log.Logger
}

// Run polls until ctx is done. The initial state counts as unreachable, so a
// reachable first poll fires OnAvailable.
func (m *NetworkMonitor) Run(ctx context.Context) {
	logger := logging.OrDiscard(m.Logger)
	interval := m.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	was := false
	for {
		now := m.Reach.Reachable(ctx)
		if now && !was {
			logger.Debug("network available")
			if m.OnAvailable != nil {
				m.OnAvailable()
			}
		} else if !now && was {
			logger.Debug("network lost")
		}
		was = now

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
