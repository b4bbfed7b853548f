// ABOUTME: Fan-out of accepted samples to live subscribers
// ABOUTME: Slow subscribers miss samples instead of blocking capture

package session

import (
	gosync "sync"

	"github.com/harper/walktrack/internal/models"
)

// DefaultSubscriberBuffer is the channel capacity per live subscriber.
const DefaultSubscriberBuffer = 64

// Hub broadcasts accepted samples.
type Hub struct {
	mu     gosync.Mutex
	subs   map[int]chan models.LocationSample
	next   int
	buffer int
}

// NewHub returns a hub whose subscribers buffer up to buffer samples.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{subs: make(map[int]chan models.LocationSample), buffer: buffer}
}

// Subscribe returns a channel of samples and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan models.LocationSample, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan models.LocationSample, h.buffer)
	h.subs[id] = ch

	var once gosync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

// Publish sends s to every subscriber without blocking and returns how
// many subscribers were skipped because their buffer was full.
func (h *Hub) Publish(s models.LocationSample) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	dropped := 0
	for _, ch := range h.subs {
		select {
		case ch <- s:
		default:
			dropped++
		}
	}
	return dropped
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
