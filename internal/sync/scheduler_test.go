// ABOUTME: Tests for the sync scheduler
// ABOUTME: Covers offline no-ops, batching, retries, rejection, and concurrent triggers

package sync

import (
	"context"
	"errors"
	"path/filepath"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/harper/walktrack/internal/metrics"
	"github.com/harper/walktrack/internal/models"
	"github.com/harper/walktrack/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

// recorder is a Transport that records batches and answers from a script.
type recorder struct {
	mu      gosync.Mutex
	batches []Batch
	answer  func(n int, b Batch) error
	delay   time.Duration
}

func (r *recorder) SubmitBatch(ctx context.Context, b Batch) error {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	n := len(r.batches)
	r.batches = append(r.batches, b)
	answer := r.answer
	r.mu.Unlock()
	if answer != nil {
		return answer(n, b)
	}
	return nil
}

func (r *recorder) sent() []Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Batch(nil), r.batches...)
}

func testQueue(t *testing.T) *storage.SQLiteQueue {
	t.Helper()
	q, err := storage.NewSQLiteQueue(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func seed(t *testing.T, q storage.Queue, session string, n int) []*models.LocationSample {
	t.Helper()
	var out []*models.LocationSample
	for i := 0; i < n; i++ {
		s := models.NewSample(session, models.RawReading{
			Latitude:   41.8781,
			Longitude:  -87.6298 + float64(i)*0.0001,
			Accuracy:   5,
			CapturedAt: t0.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, q.Append(context.Background(), s))
		out = append(out, s)
	}
	return out
}

func testOptions() Options {
	return Options{
		BatchSize:     10,
		SubmitTimeout: time.Second,
		MaxAttempts:   3,
		Backoff:       Backoff{Base: time.Second, Max: time.Minute},
		DeviceID:      "device-1",
		Clock:         func() time.Time { return t0 },
	}
}

func TestRunOnce_OfflineIsNoop(t *testing.T) {
	q := testQueue(t)
	seed(t, q, "walk-1", 3)
	tr := &recorder{}
	s := New(q, tr, NewStaticReachability(false), testOptions())

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Offline)
	assert.Empty(t, tr.sent())

	pending, err := q.PendingFor(context.Background(), "walk-1")
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for _, p := range pending {
		assert.Zero(t, p.Attempts)
	}

	report, err = s.SyncSession(context.Background(), "walk-1")
	require.NoError(t, err)
	assert.True(t, report.Offline)
}

func TestRunOnce_SyncsInBatches(t *testing.T) {
	q := testQueue(t)
	samples := seed(t, q, "walk-1", 25)
	seed(t, q, "walk-2", 2)
	tr := &recorder{}
	m := metrics.New(nil)
	opts := testOptions()
	opts.Metrics = m
	s := New(q, tr, nil, opts)

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 27, report.Synced)
	assert.Equal(t, 4, report.Batches)

	var walk1 []Batch
	for _, b := range tr.sent() {
		assert.Equal(t, "device-1", b.DeviceID)
		assert.LessOrEqual(t, len(b.Samples), 10)
		if b.SessionID == "walk-1" {
			walk1 = append(walk1, b)
		}
	}
	require.Len(t, walk1, 3)
	var order []uuid.UUID
	for _, b := range walk1 {
		order = append(order, models.IDs(b.Samples)...)
	}
	assert.Equal(t, models.IDs(samples), order, "walk-1 samples must be delivered oldest first")

	c, err := q.Counts(context.Background(), "walk-1")
	require.NoError(t, err)
	assert.Equal(t, 25, c.Synced)
}

func TestRunOnce_RetryThenSucceed(t *testing.T) {
	q := testQueue(t)
	samples := seed(t, q, "walk-1", 3)
	tr := &recorder{answer: func(n int, _ Batch) error {
		if n == 0 {
			return errors.New("connection reset")
		}
		return nil
	}}
	now := t0
	opts := testOptions()
	opts.Clock = func() time.Time { return now }
	s := New(q, tr, nil, opts)

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Retried)

	pending, err := q.PendingFor(context.Background(), "walk-1")
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.True(t, t0.Add(2*time.Second).Equal(pending[0].NextAttemptAt), "next attempt at %v", pending[0].NextAttemptAt)

	// Not yet due.
	report, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Batches)

	now = t0.Add(2 * time.Second)
	report, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Synced)

	sent := tr.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, models.IDs(samples), models.IDs(sent[1].Samples), "retry resends the same ids")
}

func TestRunOnce_ExhaustsAttempts(t *testing.T) {
	q := testQueue(t)
	seed(t, q, "walk-1", 2)
	tr := &recorder{answer: func(int, Batch) error { return errors.New("503") }}
	now := t0
	opts := testOptions()
	opts.Clock = func() time.Time { return now }
	s := New(q, tr, nil, opts)

	for i := 0; i < opts.MaxAttempts; i++ {
		_, err := s.RunOnce(context.Background())
		require.NoError(t, err)
		now = now.Add(time.Hour)
	}

	c, err := q.Counts(context.Background(), "walk-1")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Failed)
	assert.Len(t, tr.sent(), opts.MaxAttempts)

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Batches, "failed samples stay out of automatic sync")
}

func TestRunOnce_RejectedIsTerminal(t *testing.T) {
	q := testQueue(t)
	seed(t, q, "walk-1", 2)
	tr := &recorder{answer: func(int, Batch) error { return Rejected("status 422") }}
	s := New(q, tr, nil, testOptions())

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Rejected)

	all, err := q.AllFor(context.Background(), "walk-1")
	require.NoError(t, err)
	for _, sample := range all {
		assert.Equal(t, models.Failed, sample.SyncState)
		assert.Zero(t, sample.Attempts)
	}
}

func TestRunOnce_TimeoutIsRetryable(t *testing.T) {
	q := testQueue(t)
	seed(t, q, "walk-1", 1)
	tr := &recorder{delay: time.Second}
	opts := testOptions()
	opts.SubmitTimeout = 20 * time.Millisecond
	s := New(q, tr, nil, opts)

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)

	pending, err := q.PendingFor(context.Background(), "walk-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
}

func TestRunOnce_StopsDrainWhenNetworkDrops(t *testing.T) {
	q := testQueue(t)
	seed(t, q, "walk-1", 25)
	reach := NewStaticReachability(true)
	tr := &recorder{answer: func(int, Batch) error {
		reach.Set(false)
		return nil
	}}
	s := New(q, tr, reach, testOptions())

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Batches)

	c, err := q.Counts(context.Background(), "walk-1")
	require.NoError(t, err)
	assert.Equal(t, 10, c.Synced)
	assert.Equal(t, 15, c.Pending)
}

func TestConcurrentTriggersNoDuplicateDelivery(t *testing.T) {
	q := testQueue(t)
	seed(t, q, "walk-1", 40)
	tr := &recorder{delay: 5 * time.Millisecond}
	s := New(q, tr, nil, testOptions())

	var wg gosync.WaitGroup
	var busy atomic.Int64
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := s.SyncSession(context.Background(), "walk-1")
			assert.NoError(t, err)
			busy.Add(int64(r.Busy))
		}()
	}
	wg.Wait()
	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	seen := map[uuid.UUID]int{}
	for _, b := range tr.sent() {
		for _, sample := range b.Samples {
			seen[sample.ID]++
		}
	}
	assert.Len(t, seen, 40)
	for id, n := range seen {
		assert.Equal(t, 1, n, "sample %s delivered %d times", id, n)
	}
}

func TestStartRecoversInFlightAndTriggers(t *testing.T) {
	q := testQueue(t)
	seed(t, q, "walk-1", 3)
	_, err := q.ClaimPending(context.Background(), "walk-1", 10, t0)
	require.NoError(t, err)

	tr := &recorder{}
	opts := testOptions()
	opts.Interval = time.Hour
	s := New(q, tr, nil, opts)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "second start should fail")

	require.Eventually(t, func() bool {
		c, err := q.Counts(context.Background(), "walk-1")
		return err == nil && c.Synced == 3
	}, 2*time.Second, 10*time.Millisecond)

	seed(t, q, "walk-2", 1)
	s.Trigger()
	require.Eventually(t, func() bool {
		c, err := q.Counts(context.Background(), "walk-2")
		return err == nil && c.Synced == 1
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	s.Stop()
}

func TestRunOnce_AckRecordedWhenRunCancelled(t *testing.T) {
	q := testQueue(t)
	seed(t, q, "walk-1", 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The remote stores the batch while the run is being cancelled.
	tr := &recorder{answer: func(int, Batch) error {
		cancel()
		return nil
	}}
	s := New(q, tr, nil, testOptions())

	report, err := s.SyncSession(ctx, "walk-1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, report.Synced)

	c, err := q.Counts(context.Background(), "walk-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateCounts{Synced: 3}, c, "acknowledged samples must not stay in flight")

	seed(t, q, "walk-1", 1)
	report, err = s.SyncSession(context.Background(), "walk-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced, "session keeps syncing in the same process")
	assert.Len(t, tr.sent(), 2)
}

func TestRunOnce_RejectionRecordedWhenRunCancelled(t *testing.T) {
	q := testQueue(t)
	seed(t, q, "walk-1", 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := &recorder{answer: func(int, Batch) error {
		cancel()
		return Rejected("bad batch")
	}}
	s := New(q, tr, nil, testOptions())

	_, err := s.SyncSession(ctx, "walk-1")
	assert.ErrorIs(t, err, context.Canceled)

	c, err := q.Counts(context.Background(), "walk-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateCounts{Failed: 2}, c)
}

func TestLoopWakesForBackedOffRetry(t *testing.T) {
	q := testQueue(t)
	seed(t, q, "walk-1", 2)

	tr := &recorder{answer: func(n int, _ Batch) error {
		if n == 0 {
			return errors.New("connection reset")
		}
		return nil
	}}
	opts := testOptions()
	opts.Interval = time.Hour
	opts.Backoff = Backoff{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond}
	opts.Clock = time.Now
	s := New(q, tr, nil, opts)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		c, err := q.Counts(context.Background(), "walk-1")
		return err == nil && c.Synced == 2
	}, 2*time.Second, 10*time.Millisecond, "retry should not wait for the hourly tick")
	assert.Len(t, tr.sent(), 2)
}

func TestScheduleRetryKeepsEarliest(t *testing.T) {
	s := New(testQueue(t), &recorder{}, nil, testOptions())
	_, ok := s.takeRetry()
	assert.False(t, ok)

	s.scheduleRetry(t0.Add(8 * time.Second))
	s.scheduleRetry(t0.Add(2 * time.Second))
	s.scheduleRetry(t0.Add(4 * time.Second))
	d, ok := s.takeRetry()
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, d)

	s.scheduleRetry(t0.Add(-time.Second))
	d, ok = s.takeRetry()
	require.True(t, ok)
	assert.Zero(t, d, "overdue retries fire at once")

	_, ok = s.takeRetry()
	assert.False(t, ok, "taking clears the retry")
}

func TestTriggerNeverBlocks(t *testing.T) {
	s := New(testQueue(t), &recorder{}, nil, testOptions())
	for i := 0; i < 10; i++ {
		s.Trigger()
	}
}

func TestReportAdd(t *testing.T) {
	r := Report{Batches: 1, Synced: 2}
	r.Add(Report{Batches: 1, Retried: 3, Busy: 1, Offline: true})
	assert.Equal(t, Report{Batches: 2, Synced: 2, Retried: 3, Busy: 1, Offline: true}, r)
}
