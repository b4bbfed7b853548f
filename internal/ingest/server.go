// ABOUTME: Reference remote store accepting sample batches over HTTP
// ABOUTME: Chi router with idempotent batch ingest, path reads, and health checks

package ingest

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	gosync "sync"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/harper/walktrack/internal/logging"
	"github.com/harper/walktrack/internal/metrics"
	"github.com/harper/walktrack/internal/models"
	"golang.org/x/time/rate"
)

// MaxBodyBytes bounds a batch request body.
const MaxBodyBytes = 8 << 20

// BatchResult is the response to a batch submission.
type BatchResult struct {
	SessionID  string `json:"session_id"`
	Received   int    `json:"received"`
	Stored     int    `json:"stored"`
	Duplicates int    `json:"duplicates"`
	Replayed   bool   `json:"replayed,omitempty"`
}

// SamplesResponse lists a session's stored samples.
type SamplesResponse struct {
	SessionID string              `json:"session_id"`
	Samples   []models.WireSample `json:"samples"`
}

// Options configures a Server.
type Options struct {
	// Token, when set, is required as a bearer token on /v1 routes.
	Token string
	// Limiter, when set, caps /v1 requests; excess requests get 429.
	Limiter *rate.Limiter
	Logger  *log.Logger
	Metrics *metrics.Metrics
}

// Server is the reference ingest service.
type Server struct {
	store  *Store
	opts   Options
	logger *log.Logger

	mu   gosync.Mutex
	seen map[string]BatchResult
}

// NewServer returns a server over store. A nil store gets a fresh one.
func NewServer(store *Store, opts Options) *Server {
	if store == nil {
		store = NewStore()
	}
	return &Server{
		store:  store,
		opts:   opts,
		logger: logging.OrDiscard(opts.Logger),
		seen:   make(map[string]BatchResult),
	}
}

// Store returns the backing store.
func (s *Server) Store() *Store {
	return s.store
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  s.logger.StandardLog(log.StandardLogOptions{ForceLevel: log.DebugLevel}),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		if s.opts.Limiter != nil {
			r.Use(s.limit)
		}
		r.Use(s.requireToken)
		r.Get("/sessions", s.listSessions)
		r.Post("/sessions/{id}/samples", s.postSamples)
		r.Get("/sessions/{id}/samples", s.getSamples)
	})
	return r
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.Token)) != 1 {
				respondError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) postSamples(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionParam(r)
	if err := models.ValidateSessionID(sessionID); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key != "" {
		s.mu.Lock()
		prev, ok := s.seen[key]
		s.mu.Unlock()
		if ok {
			prev.Replayed = true
			respondJSON(w, prev, http.StatusOK)
			return
		}
	}

	var payload models.BatchPayload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err := dec.Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, "batch too large", http.StatusRequestEntityTooLarge)
			return
		}
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if payload.SessionID != "" && payload.SessionID != sessionID {
		respondError(w, fmt.Sprintf("session_id %q does not match path", payload.SessionID), http.StatusBadRequest)
		return
	}
	for i, sample := range payload.Samples {
		if err := checkSample(sample); err != nil {
			respondError(w, fmt.Sprintf("sample %d: %v", i, err), http.StatusUnprocessableEntity)
			return
		}
	}

	stored, dups := s.store.Put(sessionID, payload.Samples)
	result := BatchResult{
		SessionID:  sessionID,
		Received:   len(payload.Samples),
		Stored:     stored,
		Duplicates: dups,
	}
	if key != "" {
		s.mu.Lock()
		s.seen[key] = result
		s.mu.Unlock()
	}
	s.logger.Info("batch ingested", "session", sessionID, "device", payload.DeviceID, "stored", stored, "duplicates", dups)
	respondJSON(w, result, http.StatusOK)
}

// sessionParam returns the decoded session id. Chi matches on the raw path
// when the request used a non-canonical escaping.
func sessionParam(r *http.Request) string {
	id := chi.URLParam(r, "id")
	if r.URL.RawPath == "" {
		return id
	}
	if decoded, err := url.PathUnescape(id); err == nil {
		return decoded
	}
	return id
}

func checkSample(w models.WireSample) error {
	if _, err := models.FromWire("", w); err != nil {
		return err
	}
	if err := models.ValidateCoordinates(w.Latitude, w.Longitude); err != nil {
		return err
	}
	if w.CapturedAt.IsZero() {
		return errors.New("missing captured_at")
	}
	if w.Accuracy < 0 || w.Speed < 0 {
		return errors.New("negative accuracy or speed")
	}
	return nil
}

func (s *Server) getSamples(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionParam(r)
	respondJSON(w, SamplesResponse{SessionID: sessionID, Samples: s.store.Samples(sessionID)}, http.StatusOK)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string][]string{"sessions": s.store.Sessions()}, http.StatusOK)
}

func respondJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, msg string, status int) {
	respondJSON(w, map[string]string{"error": msg}, status)
}
