// ABOUTME: Session controller owning the tracking lifecycle of a single walk
// ABOUTME: Validates readings, queues accepted samples, and flushes on stop

package session

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
	"github.com/harper/walktrack/internal/sync"
	"github.com/harper/walktrack/internal/validate"
)

// ErrAlreadyTracking is matched by errors returned from Start while a
// session is active.
var ErrAlreadyTracking = errors.New("already tracking")

// AlreadyTrackingError names the session that blocks a new Start.
type AlreadyTrackingError struct {
	SessionID string
}

func (e *AlreadyTrackingError) Error() string {
	return fmt.Sprintf("already tracking session %q", e.SessionID)
}

func (e *AlreadyTrackingError) Unwrap() error {
	return ErrAlreadyTracking
}

// State is the controller lifecycle state.
type State int

// Lifecycle states.
const (
	Idle State = iota
	Tracking
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Tracking:
		return "tracking"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Store is what the controller writes to.
type Store interface {
	Append(ctx context.Context, sample *models.LocationSample) error
	CreateSession(ctx context.Context, s *models.TrackingSession) error
	CloseSession(ctx context.Context, id string, endedAt time.Time) error
}

// Validator checks raw readings. Both *validate.Validator and
// *validate.Filter satisfy it.
type Validator interface {
	Validate(sessionID string, raw models.RawReading, prev *models.LocationSample) (*models.LocationSample, validate.Reason)
}

// Syncer is the part of the scheduler the controller drives.
type Syncer interface {
	Trigger()
	SyncSession(ctx context.Context, sessionID string) (sync.Report, error)
}

// Options tunes the controller. Zero values take defaults.
type Options struct {
	Profile          AccuracyProfile
	AppendRetries    int
	AppendRetryDelay time.Duration
	FinalSyncTimeout time.Duration
	SubscriberBuffer int
	Logger           *log.Logger
	Metrics          *metrics.Metrics
	Clock            func() time.Time
}

// DefaultOptions returns the production tuning.
func DefaultOptions() Options {
	return Options{
		Profile:          ProfileBalanced,
		AppendRetries:    3,
		AppendRetryDelay: 50 * time.Millisecond,
		FinalSyncTimeout: 10 * time.Second,
		SubscriberBuffer: DefaultSubscriberBuffer,
		Clock:            time.Now,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Profile == "" {
		o.Profile = def.Profile
	}
	if o.AppendRetries <= 0 {
		o.AppendRetries = def.AppendRetries
	}
	if o.AppendRetryDelay <= 0 {
		o.AppendRetryDelay = def.AppendRetryDelay
	}
	if o.FinalSyncTimeout <= 0 {
		o.FinalSyncTimeout = def.FinalSyncTimeout
	}
	if o.Clock == nil {
		o.Clock = def.Clock
	}
	o.Logger = logging.OrDiscard(o.Logger)
	return o
}

// Stats counts what happened to readings of the current or last session.
type Stats struct {
	Accepted       int
	Rejected       map[validate.Reason]int
	AppendFailures int
	Dropped        int
}

// TotalRejected sums rejections across reasons.
func (s Stats) TotalRejected() int {
	n := 0
	for _, v := range s.Rejected {
		n += v
	}
	return n
}

// Controller runs at most one tracking session at a time.
type Controller struct {
	store     Store
	source    Source
	validator Validator
	syncer    Syncer
	opts      Options
	hub       *Hub

	mu      gosync.Mutex
	state   State
	session *models.TrackingSession
	sub     Subscription
	stats   Stats

	// inflight counts handler calls past the state check.
	inflight gosync.WaitGroup
	// procMu serializes reading processing so prev stays consistent.
	procMu gosync.Mutex
	prev   *models.LocationSample
}

// New creates an idle controller. syncer may be nil to disable sync.
func New(store Store, source Source, validator Validator, syncer Syncer, opts Options) *Controller {
	opts = opts.withDefaults()
	return &Controller{
		store:     store,
		source:    source,
		validator: validator,
		syncer:    syncer,
		opts:      opts,
		hub:       NewHub(opts.SubscriberBuffer),
		stats:     Stats{Rejected: map[validate.Reason]int{}},
	}
}

// Start begins tracking sessionID. An empty id gets a generated one.
func (c *Controller) Start(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Idle {
		return &AlreadyTrackingError{SessionID: c.session.ID}
	}

	sess := models.NewSession(sessionID)
	if err := models.ValidateSessionID(sess.ID); err != nil {
		return err
	}
	sess.StartedAt = c.opts.Clock()
	if err := c.store.CreateSession(ctx, sess); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	c.procMu.Lock()
	c.prev = nil
	c.procMu.Unlock()
	c.stats = Stats{Rejected: map[validate.Reason]int{}}
	c.session = sess
	c.state = Tracking

	sub, err := c.source.Subscribe(c.opts.Profile, c.handle)
	if err != nil {
		c.state = Idle
		c.session = nil
		if closeErr := c.store.CloseSession(ctx, sess.ID, c.opts.Clock()); closeErr != nil {
			c.opts.Logger.Warn("close session after failed subscribe", "session", sess.ID, "err", closeErr)
		}
		return fmt.Errorf("subscribe to location source: %w", err)
	}
	c.sub = sub

	c.opts.Logger.Info("tracking started", "session", sess.ID, "profile", c.opts.Profile)
	return nil
}

// handle processes one reading from the source.
func (c *Controller) handle(raw models.RawReading) {
	c.mu.Lock()
	if c.state != Tracking {
		c.mu.Unlock()
		return
	}
	sessionID := c.session.ID
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()

	c.procMu.Lock()
	defer c.procMu.Unlock()

	sample, reason := c.validator.Validate(sessionID, raw, c.prev)
	if reason != validate.Accepted {
		c.opts.Logger.Debug("reading rejected", "session", sessionID, "reason", reason)
		c.mu.Lock()
		c.stats.Rejected[reason]++
		c.mu.Unlock()
		return
	}

	if err := c.appendWithRetry(sample); err != nil {
		c.opts.Logger.Error("failed to queue sample", "session", sessionID, "sample", sample.ID, "err", err)
		c.opts.Metrics.AppendFailed()
		c.mu.Lock()
		c.stats.AppendFailures++
		c.mu.Unlock()
		return
	}
	c.prev = sample

	dropped := c.hub.Publish(*sample)
	c.mu.Lock()
	c.stats.Accepted++
	c.stats.Dropped += dropped
	c.mu.Unlock()

	if c.syncer != nil {
		c.syncer.Trigger()
	}
}

func (c *Controller) appendWithRetry(sample *models.LocationSample) error {
	var err error
	for attempt := 0; attempt <= c.opts.AppendRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(c.opts.AppendRetryDelay)
		}
		if err = c.store.Append(context.Background(), sample); err == nil {
			return nil
		}
		c.opts.Logger.Warn("append failed", "sample", sample.ID, "attempt", attempt+1, "err", err)
	}
	return err
}

// Stop ends the active session. Readings already being processed are
// queued before the session closes. A final sync is attempted and its
// failure is logged, not returned. Stop is a no-op when nothing is tracking.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Tracking {
		c.mu.Unlock()
		return nil
	}
	c.state = Stopping
	sub := c.sub
	sessionID := c.session.ID
	c.mu.Unlock()

	sub.Unsubscribe()
	c.inflight.Wait()

	endedAt := c.opts.Clock()
	closeErr := c.store.CloseSession(ctx, sessionID, endedAt)
	if closeErr != nil {
		c.opts.Logger.Error("close session", "session", sessionID, "err", closeErr)
	}

	if c.syncer != nil {
		fctx, cancel := context.WithTimeout(ctx, c.opts.FinalSyncTimeout)
		report, err := c.syncer.SyncSession(fctx, sessionID)
		cancel()
		switch {
		case err != nil:
			c.opts.Logger.Warn("final sync failed", "session", sessionID, "err", err)
		case report.Offline:
			c.opts.Logger.Info("offline, samples stay queued", "session", sessionID)
		default:
			c.opts.Logger.Info("final sync", "session", sessionID, "synced", report.Synced, "retried", report.Retried, "rejected", report.Rejected)
		}
	}

	c.mu.Lock()
	c.state = Idle
	c.session = nil
	c.sub = nil
	c.mu.Unlock()

	c.opts.Logger.Info("tracking stopped", "session", sessionID)
	if closeErr != nil {
		return fmt.Errorf("close session: %w", closeErr)
	}
	return nil
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ActiveSession returns a copy of the tracked session, or nil when idle.
func (c *Controller) ActiveSession() *models.TrackingSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	cp := *c.session
	return &cp
}

// Stats returns a snapshot of the reading counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.stats
	out.Rejected = make(map[validate.Reason]int, len(c.stats.Rejected))
	for k, v := range c.stats.Rejected {
		out.Rejected[k] = v
	}
	return out
}

// Subscribe streams accepted samples as they are queued.
func (c *Controller) Subscribe() (<-chan models.LocationSample, func()) {
	return c.hub.Subscribe()
}
