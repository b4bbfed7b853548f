// ABOUTME: Terminal UI formatting utilities
// ABOUTME: Provides human-readable output for sessions, samples, sync state, and fences

package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/harper/walktrack/internal/geofence"
	"github.com/harper/walktrack/internal/models"
	"github.com/harper/walktrack/internal/path"
)

// FormatSyncState renders a sync state in its status colour.
func FormatSyncState(s models.SyncState) string {
	switch s {
	case models.Synced:
		return color.GreenString(s.String())
	case models.InFlight:
		return color.CyanString(s.String())
	case models.Failed:
		return color.RedString(s.String())
	default:
		return color.YellowString(s.String())
	}
}

// FormatSample formats a sample for path display.
func FormatSample(s *models.LocationSample, distance float64) string {
	if s == nil {
		return color.New(color.Faint).Sprint("  (no sample)")
	}
	coords := fmt.Sprintf("(%.5f, %.5f)", s.Latitude, s.Longitude)
	return fmt.Sprintf("  %s %s ±%.0fm %s %s",
		s.CapturedAt.Local().Format("15:04:05"),
		color.CyanString(coords),
		s.Accuracy,
		color.New(color.Faint).Sprint(FormatDistance(distance)),
		FormatSyncState(s.SyncState))
}

// FormatSession formats a session with its sync counts.
func FormatSession(sess *models.TrackingSession, counts models.StateCounts) string {
	if sess == nil {
		return color.New(color.Faint).Sprint("(invalid session)")
	}
	status := color.New(color.Faint).Sprint("ended")
	if sess.Active {
		status = color.GreenString("active")
	}
	return fmt.Sprintf("%s - %s, %s (%s) %s",
		color.GreenString(sess.ID),
		FormatDuration(sess.Duration()),
		status,
		color.New(color.Faint).Sprint(FormatRelativeTime(sess.StartedAt)),
		FormatCounts(counts))
}

// FormatCounts renders per-state sample counts, skipping empty states.
func FormatCounts(c models.StateCounts) string {
	if c.Total() == 0 {
		return color.New(color.Faint).Sprint("no samples")
	}
	var parts []string
	add := func(n int, s models.SyncState) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, FormatSyncState(s)))
		}
	}
	add(c.Synced, models.Synced)
	add(c.Pending, models.Pending)
	add(c.InFlight, models.InFlight)
	add(c.Failed, models.Failed)
	return strings.Join(parts, ", ")
}

// FormatSummary renders walk statistics on one line.
func FormatSummary(s *path.Summary) string {
	if s == nil || s.Points == 0 {
		return color.New(color.Faint).Sprint("no points")
	}
	line := fmt.Sprintf("%d points, %s in %s, avg %.1f km/h, max %.1f km/h",
		s.Points,
		color.CyanString(FormatDistance(s.DistanceMeters)),
		FormatDuration(s.Duration),
		s.AvgSpeed*3.6,
		s.MaxSpeed*3.6)
	if s.Gaps > 0 {
		line += color.YellowString(fmt.Sprintf(", %d gaps", s.Gaps))
	}
	return line
}

// FormatBreach renders one excursion outside a fence.
func FormatBreach(b geofence.Breach) string {
	back := color.YellowString("not back")
	if b.ReturnedAt != nil {
		back = "back after " + FormatDuration(b.ReturnedAt.Sub(b.ExitedAt))
	}
	return fmt.Sprintf("left at %s, %d points, up to %s, %s",
		b.ExitedAt.Local().Format("15:04:05"),
		b.Points,
		FormatDistance(b.FarthestMeters),
		back)
}

// FormatFenceReport renders the outcome of a fence check on one line.
func FormatFenceReport(r *geofence.Report) string {
	fence := fmt.Sprintf("%s around %.5f, %.5f", FormatDistance(r.Fence.RadiusMeters), r.Fence.Latitude, r.Fence.Longitude)
	if r.Contained() {
		return fmt.Sprintf("%s: %s (%d points)", fence, color.GreenString("stayed inside"), r.Inside)
	}
	return fmt.Sprintf("%s: %s, %d of %d points outside, farthest %s",
		fence,
		color.RedString("%d breaches", len(r.Breaches)),
		r.Outside,
		r.Inside+r.Outside,
		FormatDistance(r.FarthestMeters))
}

// FormatDistance renders metres, switching to kilometres at 1 km.
func FormatDistance(m float64) string {
	if m < 1000 {
		return fmt.Sprintf("%.0f m", m)
	}
	return fmt.Sprintf("%.2f km", m/1000)
}

// FormatDuration renders a duration as h/m/s without fractions.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// FormatRelativeTime formats a time as relative to now.
func FormatRelativeTime(t time.Time) string {
	diff := time.Since(t)

	// Future times come from clock skew or bad data.
	if diff < 0 {
		return color.YellowString("in the future")
	}

	if diff < time.Minute {
		return "just now"
	}
	if diff < time.Hour {
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	}
	if diff < 24*time.Hour {
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	}
	days := int(diff.Hours() / 24)
	if days == 1 {
		return "1 day ago"
	}
	return fmt.Sprintf("%d days ago", days)
}
