// ABOUTME: Request rate limiting for the ingest server
// ABOUTME: Parses "N/unit" limits and answers 429 once the bucket is empty

package ingest

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ParseRateLimit builds a limiter from a string like "100/minute". The burst
// equals the count, so a full minute's allowance may arrive at once.
func ParseRateLimit(s string) (*rate.Limiter, error) {
	count, unit, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return nil, fmt.Errorf("invalid rate limit %q: want N/unit", s)
	}
	n, err := strconv.Atoi(count)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("invalid rate limit count %q", count)
	}

	var per time.Duration
	switch unit {
	case "s", "sec", "second":
		per = time.Second
	case "m", "min", "minute":
		per = time.Minute
	case "h", "hour":
		per = time.Hour
	default:
		return nil, fmt.Errorf("unsupported rate limit unit %q", unit)
	}
	return rate.NewLimiter(rate.Every(per/time.Duration(n)), n), nil
}

func (s *Server) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.opts.Limiter.Allow() {
			s.logger.Warn("rate limit exceeded", "path", r.URL.Path, "remote", r.RemoteAddr)
			respondError(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
