package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/igormart21/milha-alerta-fly/internal/models"
)

// ReplacementPolicy decides whether an accepted candidate replaces the current opportunity.
type ReplacementPolicy string

const (
	// PolicyLatest always replaces the last opportunity with the newest accepted candidate.
	PolicyLatest ReplacementPolicy = "latest"
	// PolicyBestSoFar replaces it only with a strictly cheaper candidate (fewer miles on a tie).
	PolicyBestSoFar ReplacementPolicy = "best_so_far"
)

// ParsePolicy parses a policy name; empty means PolicyLatest.
func ParsePolicy(s string) (ReplacementPolicy, error) {
	switch p := ReplacementPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyLatest, nil
	case PolicyLatest, PolicyBestSoFar:
		return p, nil
	default:
		return "", fmt.Errorf("unknown replacement policy %q", s)
	}
}

// replaces reports whether candidate should replace current under the policy.
func (p ReplacementPolicy) replaces(current *models.Opportunity, candidate models.Opportunity) bool {
	if p != PolicyBestSoFar || current == nil {
		return true
	}
	switch candidate.TotalBRL.Cmp(current.TotalBRL) {
	case -1:
		return true
	case 0:
		return candidate.Miles < current.Miles
	default:
		return false
	}
}

// ExpiresAt returns the instant from which an alert counts as stale. With a
// travel window it is the start of the day after date_to + flex_days (UTC);
// without one it is created_at + retention.
func ExpiresAt(a models.Alert, retention time.Duration) time.Time {
	if a.DateTo != nil {
		return a.DateTo.AddDays(a.FlexDays + 1).Time
	}
	return a.CreatedAt.Add(retention)
}

// IsStale reports whether an active alert should be expired at now.
func IsStale(a models.Alert, now time.Time, retention time.Duration) bool {
	if a.Status != models.StatusActive {
		return false
	}
	return !now.Before(ExpiresAt(a, retention))
}
