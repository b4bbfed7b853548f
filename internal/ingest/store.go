// ABOUTME: In-memory authoritative store for the reference ingest server
// ABOUTME: Keeps one copy of each sample id per session

package ingest

import (
	"sort"
	gosync "sync"

	"github.com/harper/walktrack/internal/models"
)

// Store holds delivered samples keyed by session and sample id.
type Store struct {
	mu       gosync.RWMutex
	sessions map[string]map[string]models.WireSample
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]map[string]models.WireSample)}
}

// Put stores samples for a session. Ids already present count as duplicates
// and keep their first value.
func (s *Store) Put(sessionID string, samples []models.WireSample) (stored, duplicates int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = make(map[string]models.WireSample)
		s.sessions[sessionID] = sess
	}
	for _, w := range samples {
		if _, exists := sess[w.ID]; exists {
			duplicates++
			continue
		}
		sess[w.ID] = w
		stored++
	}
	return stored, duplicates
}

// Samples returns a session's samples in capture order.
func (s *Store) Samples(sessionID string) []models.WireSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.WireSample, 0, len(s.sessions[sessionID]))
	for _, w := range s.sessions[sessionID] {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CapturedAt.Equal(out[j].CapturedAt) {
			return out[i].CapturedAt.Before(out[j].CapturedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Sessions lists session ids with at least one sample.
func (s *Store) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sessions))
	for id, samples := range s.sessions {
		if len(samples) > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of samples stored for a session.
func (s *Store) Len(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions[sessionID])
}
