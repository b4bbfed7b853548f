// ABOUTME: Sync scheduler draining the durable queue to the remote store
// ABOUTME: Claims batches per session, submits them, and applies retry backoff

package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/harper/walktrack/internal/logging"
	"github.com/harper/walktrack/internal/metrics"
	"github.com/harper/walktrack/internal/models"
	"github.com/harper/walktrack/internal/storage"
	"golang.org/x/sync/errgroup"
)

// markTimeout bounds the queue write that records a batch outcome.
const markTimeout = 5 * time.Second

// Options tunes the scheduler. Zero values take defaults.
type Options struct {
	BatchSize     int
	Interval      time.Duration
	SubmitTimeout time.Duration
	MaxAttempts   int
	Backoff       Backoff
	DeviceID      string
	// Parallel bounds how many sessions drain at once.
	Parallel int
	Logger   *log.Logger
	Metrics  *metrics.Metrics
	Clock    func() time.Time
}

// DefaultOptions returns the production tuning.
func DefaultOptions() Options {
	return Options{
		BatchSize:     100,
		Interval:      30 * time.Second,
		SubmitTimeout: 10 * time.Second,
		MaxAttempts:   8,
		Backoff:       DefaultBackoff(),
		Parallel:      4,
		Clock:         time.Now,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = def.BatchSize
	}
	if o.Interval <= 0 {
		o.Interval = def.Interval
	}
	if o.SubmitTimeout <= 0 {
		o.SubmitTimeout = def.SubmitTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.Backoff == (Backoff{}) {
		o.Backoff = def.Backoff
	}
	if o.Parallel <= 0 {
		o.Parallel = def.Parallel
	}
	if o.Clock == nil {
		o.Clock = def.Clock
	}
	o.Logger = logging.OrDiscard(o.Logger)
	return o
}

// Report summarizes one scheduler run.
type Report struct {
	Batches  int  `json:"batches"`
	Synced   int  `json:"synced"`
	Retried  int  `json:"retried"`
	Rejected int  `json:"rejected"`
	Busy     int  `json:"busy"`
	Offline  bool `json:"offline"`
}

// Add merges o into r.
func (r *Report) Add(o Report) {
	r.Batches += o.Batches
	r.Synced += o.Synced
	r.Retried += o.Retried
	r.Rejected += o.Rejected
	r.Busy += o.Busy
	r.Offline = r.Offline || o.Offline
}

// Scheduler moves Pending samples to the remote store.
type Scheduler struct {
	queue     storage.Queue
	transport Transport
	reach     Reachability
	opts      Options

	mu       gosync.Mutex
	draining map[string]bool
	retryAt  time.Time

	trigger chan struct{}
	cancel  context.CancelFunc
	quit    chan struct{}
	done    chan struct{}
}

// New creates a Scheduler. reach may be nil, meaning always reachable.
func New(queue storage.Queue, transport Transport, reach Reachability, opts Options) *Scheduler {
	if reach == nil {
		reach = NewStaticReachability(true)
	}
	return &Scheduler{
		queue:     queue,
		transport: transport,
		reach:     reach,
		opts:      opts.withDefaults(),
		draining:  make(map[string]bool),
		trigger:   make(chan struct{}, 1),
	}
}

// Options returns the effective options.
func (s *Scheduler) Options() Options {
	return s.opts
}

// Reachable reports the current network state.
func (s *Scheduler) Reachable(ctx context.Context) bool {
	return s.reach.Reachable(ctx)
}

// RunOnce drains every session that has Pending samples. When the network is
// unreachable it does nothing and reports Offline.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	if !s.reach.Reachable(ctx) {
		s.opts.Logger.Debug("sync skipped, offline")
		return Report{Offline: true}, nil
	}

	sessions, err := s.queue.SessionsWithPending(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list sessions: %w", err)
	}

	var (
		mu    gosync.Mutex
		total Report
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Parallel)
	for _, id := range sessions {
		g.Go(func() error {
			r, err := s.syncSession(gctx, id)
			mu.Lock()
			total.Add(r)
			mu.Unlock()
			return err
		})
	}
	err = g.Wait()
	return total, err
}

// SyncSession drains one session now.
func (s *Scheduler) SyncSession(ctx context.Context, sessionID string) (Report, error) {
	if !s.reach.Reachable(ctx) {
		return Report{Offline: true}, nil
	}
	return s.syncSession(ctx, sessionID)
}

func (s *Scheduler) syncSession(ctx context.Context, sessionID string) (Report, error) {
	if !s.tryLock(sessionID) {
		s.opts.Logger.Debug("session already draining", "session", sessionID)
		return Report{Busy: 1}, nil
	}
	defer s.unlock(sessionID)
	return s.drain(ctx, sessionID)
}

func (s *Scheduler) tryLock(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining[sessionID] {
		return false
	}
	s.draining[sessionID] = true
	return true
}

func (s *Scheduler) unlock(sessionID string) {
	s.mu.Lock()
	delete(s.draining, sessionID)
	s.mu.Unlock()
}

// drain submits batches until the session is empty, a batch needs a retry,
// or the network drops.
func (s *Scheduler) drain(ctx context.Context, sessionID string) (Report, error) {
	var report Report
	logger := s.opts.Logger.With("session", sessionID)

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		batch, err := s.queue.ClaimPending(ctx, sessionID, s.opts.BatchSize, s.opts.Clock())
		if err != nil {
			return report, fmt.Errorf("claim pending: %w", err)
		}
		if len(batch) == 0 {
			return report, nil
		}
		ids := models.IDs(batch)
		report.Batches++

		submitCtx, cancel := context.WithTimeout(ctx, s.opts.SubmitTimeout)
		err = s.transport.SubmitBatch(submitCtx, Batch{
			SessionID: sessionID,
			DeviceID:  s.opts.DeviceID,
			Samples:   batch,
		})
		cancel()

		// The outcome is recorded even when ctx ended during the submit.
		markCtx, markCancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
		switch {
		case err == nil:
			markErr := s.queue.MarkSynced(markCtx, ids)
			markCancel()
			if markErr != nil {
				return report, fmt.Errorf("mark synced: %w", markErr)
			}
			report.Synced += len(ids)
			s.opts.Metrics.BatchDone(metrics.OutcomeSynced, len(ids))
			logger.Debug("batch synced", "batch", len(ids))

		case errors.Is(err, ErrRejected):
			markErr := s.queue.MarkRejected(markCtx, ids)
			markCancel()
			if markErr != nil {
				return report, fmt.Errorf("mark rejected: %w", markErr)
			}
			report.Rejected += len(ids)
			s.opts.Metrics.BatchDone(metrics.OutcomeRejected, len(ids))
			logger.Warn("batch rejected", "batch", len(ids), "err", err)

		default:
			now := s.opts.Clock()
			markErr := s.queue.MarkFailed(markCtx, ids, storage.FailOptions{
				MaxAttempts: s.opts.MaxAttempts,
				Delay:       s.opts.Backoff.Delay,
				Now:         now,
			})
			markCancel()
			if markErr != nil {
				return report, fmt.Errorf("mark failed: %w", markErr)
			}
			if attempt := batch[0].Attempts + 1; attempt < s.opts.MaxAttempts {
				s.scheduleRetry(now.Add(s.opts.Backoff.Delay(attempt)))
			}
			report.Retried += len(ids)
			s.opts.Metrics.BatchDone(metrics.OutcomeRetry, len(ids))
			logger.Warn("batch failed, will retry", "batch", len(ids), "attempt", batch[0].Attempts+1, "err", err)
			return report, nil
		}

		if !s.reach.Reachable(ctx) {
			return report, nil
		}
	}
}

// scheduleRetry records when the earliest backed-off batch becomes due.
func (s *Scheduler) scheduleRetry(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retryAt.IsZero() || at.Before(s.retryAt) {
		s.retryAt = at
	}
}

// takeRetry returns the wait until the earliest scheduled retry and clears it.
func (s *Scheduler) takeRetry() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retryAt.IsZero() {
		return 0, false
	}
	d := max(s.retryAt.Sub(s.opts.Clock()), 0)
	s.retryAt = time.Time{}
	return d, true
}

// Trigger asks a running scheduler loop for an immediate pass. It never blocks.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Start recovers InFlight samples stranded by a previous process and runs
// the background loop until Stop or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	n, err := s.queue.RecoverInFlight(ctx)
	if err != nil {
		s.opts.Logger.Error("recover in-flight samples", "err", err)
	} else if n > 0 {
		s.opts.Logger.Info("recovered in-flight samples", "count", n)
	}

	go s.loop(ctx, s.quit, s.done)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	// retry fires when a backed-off batch is due before the next tick.
	retry := time.NewTimer(s.opts.Interval)
	retry.Stop()
	defer retry.Stop()

	for {
		s.runLogged(ctx)
		if d, ok := s.takeRetry(); ok {
			retry.Reset(d)
		}
		select {
		case <-ctx.Done():
			return
		case <-quit:
			return
		case <-ticker.C:
		case <-s.trigger:
		case <-retry.C:
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	r, err := s.RunOnce(ctx)
	if err != nil && ctx.Err() == nil {
		s.opts.Logger.Error("sync run failed", "err", err)
		return
	}
	if r.Batches > 0 {
		s.opts.Logger.Info("sync run", "batches", r.Batches, "synced", r.Synced, "retried", r.Retried, "rejected", r.Rejected)
	}
}

// Stop ends the background loop. A run in progress finishes first; cancel
// the context passed to Start to abort it instead.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, quit, done := s.cancel, s.quit, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	close(quit)
	<-done
	cancel()
}
