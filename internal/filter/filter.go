// Package filter derives the visible subset of a user's alerts from a
// dashboard query. Everything here is pure: no I/O, no hidden state.
package filter

import (
	"fmt"
	"iter"
	"strings"

	"github.com/igormart21/milha-alerta-fly/internal/models"
)

// StatusFilter selects alerts by lifecycle status.
type StatusFilter string

const (
	StatusAll     StatusFilter = "all"
	StatusActive  StatusFilter = StatusFilter(models.StatusActive)
	StatusPaused  StatusFilter = StatusFilter(models.StatusPaused)
	StatusExpired StatusFilter = StatusFilter(models.StatusExpired)
)

// ParseStatusFilter parses a query-string value. Empty means all.
func ParseStatusFilter(s string) (StatusFilter, error) {
	switch f := StatusFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return StatusAll, nil
	case StatusAll, StatusActive, StatusPaused, StatusExpired:
		return f, nil
	default:
		return "", fmt.Errorf("unknown status filter %q", s)
	}
}

// Query is the dashboard search box plus the status badges.
type Query struct {
	Text   string
	Status StatusFilter
}

// Predicate decides whether an alert is visible.
type Predicate func(models.Alert) bool

// MatchText matches alerts whose origin or destination contains text,
// ignoring case. Empty text matches everything.
func MatchText(text string) Predicate {
	if text == "" {
		return func(models.Alert) bool { return true }
	}
	needle := strings.ToLower(text)
	return func(a models.Alert) bool {
		return strings.Contains(strings.ToLower(a.Origin), needle) ||
			strings.Contains(strings.ToLower(a.Destination), needle)
	}
}

// MatchStatus matches alerts in the given status; StatusAll (or empty) matches everything.
func MatchStatus(status StatusFilter) Predicate {
	if status == StatusAll || status == "" {
		return func(models.Alert) bool { return true }
	}
	want := models.Status(status)
	return func(a models.Alert) bool {
		return a.Status == want
	}
}

// And combines predicates; an alert must satisfy all of them.
func And(preds ...Predicate) Predicate {
	return func(a models.Alert) bool {
		for _, p := range preds {
			if !p(a) {
				return false
			}
		}
		return true
	}
}

// Predicate returns the combined predicate for q.
func (q Query) Predicate() Predicate {
	return And(MatchText(q.Text), MatchStatus(q.Status))
}

// Filter yields the alerts matching q in input order. The sequence is lazy
// and can be ranged over any number of times.
func Filter(alerts []models.Alert, q Query) iter.Seq[models.Alert] {
	return Where(alerts, q.Predicate())
}

// Where yields the alerts satisfying pred in input order.
func Where(alerts []models.Alert, pred Predicate) iter.Seq[models.Alert] {
	return func(yield func(models.Alert) bool) {
		for _, a := range alerts {
			if !pred(a) {
				continue
			}
			if !yield(a) {
				return
			}
		}
	}
}

// Summarize computes the dashboard counters over alerts.
func Summarize(alerts []models.Alert) models.DashboardStats {
	stats := models.DashboardStats{TotalAlerts: len(alerts)}
	for _, a := range alerts {
		if a.Status == models.StatusActive {
			stats.ActiveAlerts++
		}
		if a.LastOpportunity != nil {
			stats.TotalOpportunities++
		}
	}
	return stats
}
