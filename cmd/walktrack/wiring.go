// ABOUTME: Builds the sync scheduler from the sync config
// ABOUTME: Chooses the HTTP or Charm transport and the matching reachability check

package main

import (
	"errors"
	"fmt"

	"github.com/harper/walktrack/internal/charm"
	"github.com/harper/walktrack/internal/metrics"
	"github.com/harper/walktrack/internal/storage"
	"github.com/harper/walktrack/internal/sync"
)

// errSyncNotConfigured points the user at sync init.
var errSyncNotConfigured = fmt.Errorf("%w; run 'walktrack sync init --server <url>'", sync.ErrNotConfigured)

// newCharmTransport opens the Charm KV transport. Tests replace it with one
// backed by a local store.
var newCharmTransport = func() (*charm.Transport, error) {
	client, err := charm.NewClient(charm.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("charm client: %w", err)
	}
	return charm.NewTransport(client), nil
}

// buildScheduler wires a scheduler for queue from the sync config. The error
// matches sync.ErrNotConfigured when there is nothing to sync to.
func buildScheduler(queue storage.Queue, cfg *sync.Config, offline bool, m *metrics.Metrics) (*sync.Scheduler, sync.Reachability, error) {
	if err := cfg.Validate(); err != nil {
		if errors.Is(err, sync.ErrNotConfigured) {
			return nil, nil, errSyncNotConfigured
		}
		return nil, nil, err
	}

	var (
		transport sync.Transport
		reach     sync.Reachability
	)
	switch cfg.TransportKind() {
	case sync.TransportCharm:
		t, err := newCharmTransport()
		if err != nil {
			return nil, nil, err
		}
		transport = t
		reach = sync.NewStaticReachability(true)
	default:
		transport = sync.NewHTTPTransport(cfg.Server, sync.StaticToken(cfg.Token))
		reach = sync.NewHTTPProbe(cfg.Server)
	}
	if offline {
		reach = sync.NewStaticReachability(false)
	}

	opts := cfg.SchedulerOptions()
	opts.Logger = cliLogger()
	opts.Metrics = m
	return sync.New(queue, transport, reach, opts), reach, nil
}
