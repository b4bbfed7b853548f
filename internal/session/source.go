// ABOUTME: Platform location sources that feed readings to the session controller
// ABOUTME: Provides a manual source for embedding and an NDJSON replay source

package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	gosync "sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/harper/walktrack/internal/logging"
	"github.com/harper/walktrack/internal/models"
)

// AccuracyProfile trades location accuracy for battery.
type AccuracyProfile string

// Supported profiles.
const (
	ProfileHigh     AccuracyProfile = "high"
	ProfileBalanced AccuracyProfile = "balanced"
	ProfileLow      AccuracyProfile = "low"
)

// ParseProfile parses a profile name. Empty means balanced.
func ParseProfile(s string) (AccuracyProfile, error) {
	switch p := AccuracyProfile(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ProfileBalanced, nil
	case ProfileHigh, ProfileBalanced, ProfileLow:
		return p, nil
	default:
		return "", fmt.Errorf("unknown accuracy profile %q (want high, balanced or low)", s)
	}
}

// Handler receives readings. Calls are sequential for a single subscription.
type Handler func(models.RawReading)

// Source is the platform location capability.
type Source interface {
	Subscribe(profile AccuracyProfile, handler Handler) (Subscription, error)
}

// Subscription is an active location subscription.
type Subscription interface {
	// Unsubscribe stops delivery. A handler call already running may still
	// finish after it returns.
	Unsubscribe()
}

// ManualSource delivers readings passed to Emit. Useful for tests and for
// embedding the engine behind another location API.
type ManualSource struct {
	mu       gosync.Mutex
	handlers map[int]Handler
	next     int
	profile  AccuracyProfile
}

// NewManualSource returns an empty manual source.
func NewManualSource() *ManualSource {
	return &ManualSource{handlers: make(map[int]Handler)}
}

// Subscribe registers handler.
func (m *ManualSource) Subscribe(profile AccuracyProfile, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, errors.New("nil handler")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	m.handlers[id] = handler
	m.profile = profile
	return &manualSub{src: m, id: id}, nil
}

// Profile returns the profile of the most recent subscription.
func (m *ManualSource) Profile() AccuracyProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile
}

// Emit delivers r to every subscriber and returns how many received it.
func (m *ManualSource) Emit(r models.RawReading) int {
	m.mu.Lock()
	handlers := make([]Handler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(r)
	}
	return len(handlers)
}

type manualSub struct {
	src *ManualSource
	id  int
}

func (s *manualSub) Unsubscribe() {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	delete(s.src.handlers, s.id)
}

// ReplaySource plays newline-delimited JSON readings from a reader, for
// example a recorded walk. Malformed lines are logged and skipped.
type ReplaySource struct {
	r      io.Reader
	pace   bool
	speed  float64
	logger *log.Logger

	mu      gosync.Mutex
	started bool
	done    chan struct{}
	err     error
	played  int
	skipped int
}

// ReplayOption configures a ReplaySource.
type ReplayOption func(*ReplaySource)

// WithPacing waits between readings for the gap between their capture
// times, divided by speed (1 is real time).
func WithPacing(speed float64) ReplayOption {
	return func(s *ReplaySource) {
		s.pace = true
		if speed > 0 {
			s.speed = speed
		}
	}
}

// WithReplayLogger sets the logger for skipped lines.
func WithReplayLogger(l *log.Logger) ReplayOption {
	return func(s *ReplaySource) { s.logger = l }
}

// NewReplaySource returns a source that reads r once.
func NewReplaySource(r io.Reader, opts ...ReplayOption) *ReplaySource {
	s := &ReplaySource{r: r, speed: 1, done: make(chan struct{})}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDiscard(s.logger)
	return s
}

// Subscribe starts playback. A replay source can be subscribed only once.
func (s *ReplaySource) Subscribe(_ AccuracyProfile, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, errors.New("nil handler")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, errors.New("replay source already subscribed")
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	sub := &replaySub{cancel: cancel, stopped: make(chan struct{})}
	go func() {
		defer close(sub.stopped)
		defer close(s.done)
		err := s.play(ctx, handler)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}()
	return sub, nil
}

// Done is closed when playback ends.
func (s *ReplaySource) Done() <-chan struct{} {
	return s.done
}

// Err returns the read error that ended playback, if any.
func (s *ReplaySource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Played returns how many readings were delivered and how many lines were skipped.
func (s *ReplaySource) Played() (played, skipped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.played, s.skipped
}

func (s *ReplaySource) play(ctx context.Context, handler Handler) error {
	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var last time.Time
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var r models.RawReading
		if err := json.Unmarshal([]byte(text), &r); err != nil {
			s.logger.Warn("skipping malformed reading", "line", line, "err", err)
			s.mu.Lock()
			s.skipped++
			s.mu.Unlock()
			continue
		}

		if s.pace && !last.IsZero() && r.CapturedAt.After(last) {
			wait := time.Duration(float64(r.CapturedAt.Sub(last)) / s.speed)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		if !r.CapturedAt.IsZero() {
			last = r.CapturedAt
		}
		handler(r)
		s.mu.Lock()
		s.played++
		s.mu.Unlock()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read readings: %w", err)
	}
	return nil
}

type replaySub struct {
	cancel  context.CancelFunc
	stopped chan struct{}
}

// Unsubscribe stops playback and waits for the current handler call.
func (s *replaySub) Unsubscribe() {
	s.cancel()
	<-s.stopped
}
