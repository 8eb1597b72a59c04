package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// BRL amounts travel as JSON numbers, the dashboard formats them itself.
	decimal.MarshalJSONWithoutQuotes = true
}

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusExpired Status = "expired"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusExpired
}

func (s Status) String() string {
	return string(s)
}

// CabinClass is the requested cabin.
type CabinClass string

const (
	CabinEconomy  CabinClass = "economy"
	CabinPremium  CabinClass = "premium"
	CabinBusiness CabinClass = "business"
	CabinFirst    CabinClass = "first"
)

// Valid reports whether c is one of the supported cabin classes.
func (c CabinClass) Valid() bool {
	switch c {
	case CabinEconomy, CabinPremium, CabinBusiness, CabinFirst:
		return true
	}
	return false
}

// DateLayout is the wire and storage format of travel dates.
const DateLayout = "2006-01-02"

// Date is a calendar day in UTC.
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar day in UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return Date{t.UTC()}, nil
}

// DateOf returns the calendar day of t in UTC.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return NewDate(y, m, d)
}

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date {
	return Date{d.Time.AddDate(0, 0, n)}
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return fmt.Errorf("date must use YYYY-MM-DD: %w", err)
	}
	*d = parsed
	return nil
}

// Opportunity is a fare/mileage quote discovered for an alert.
type Opportunity struct {
	Miles    int64           `json:"miles"`
	TaxesBRL decimal.Decimal `json:"taxes_brl"`
	TotalBRL decimal.Decimal `json:"total_brl"`
	Provider string          `json:"provider"` // loyalty program, e.g. "LATAM", "Smiles"
	FoundAt  time.Time       `json:"found_at"`
}

// Alert is a user's monitoring request for a route, date window and price ceiling.
type Alert struct {
	ID              string          `json:"id"` // uuid
	OwnerID         string          `json:"owner_id"`
	Origin          string          `json:"origin"`
	Destination     string          `json:"destination"`
	DateFrom        *Date           `json:"date_from,omitempty"`
	DateTo          *Date           `json:"date_to,omitempty"`
	FlexDays        int             `json:"flex_days"`
	Passengers      int             `json:"passengers"`
	CabinClass      CabinClass      `json:"cabin_class"`
	MaxMiles        int64           `json:"max_miles"`
	MaxValueBRL     decimal.Decimal `json:"max_value_brl"`
	Status          Status          `json:"status"`
	LastOpportunity *Opportunity    `json:"last_opportunity,omitempty"`
	NotifyPhone     string          `json:"notify_phone,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Version         int64           `json:"version"`
}

// Accepts reports whether o is within both ceilings of the alert.
func (a Alert) Accepts(o Opportunity) bool {
	return o.Miles <= a.MaxMiles && o.TotalBRL.LessThanOrEqual(a.MaxValueBRL)
}

// AlertConfig is the user-submitted configuration of a new alert.
// Nil pointers and empty strings mean "use the default".
type AlertConfig struct {
	Origin      string           `json:"origin"`
	Destination string           `json:"destination"`
	DateFrom    *Date            `json:"date_from,omitempty"`
	DateTo      *Date            `json:"date_to,omitempty"`
	FlexDays    *int             `json:"flex_days,omitempty"`
	Passengers  *int             `json:"passengers,omitempty"`
	CabinClass  CabinClass       `json:"cabin_class,omitempty"`
	MaxMiles    *int64           `json:"max_miles,omitempty"`
	MaxValueBRL *decimal.Decimal `json:"max_value_brl,omitempty"`
	NotifyPhone string           `json:"notify_phone,omitempty"`
}

// LimitsUpdate edits the ceilings of an existing alert.
type LimitsUpdate struct {
	MaxMiles    *int64           `json:"max_miles,omitempty"`
	MaxValueBRL *decimal.Decimal `json:"max_value_brl,omitempty"`
}

// CandidateResult is the outcome of submitting an opportunity to an alert.
type CandidateResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	Alert    Alert  `json:"alert"`
}

// DashboardStats are the counters shown above the alert grid.
type DashboardStats struct {
	TotalAlerts        int `json:"total_alerts"`
	ActiveAlerts       int `json:"active_alerts"`
	TotalOpportunities int `json:"total_opportunities"`
}

// ListAlertsResponse is the response payload of the alert listing.
type ListAlertsResponse struct {
	Alerts []Alert `json:"alerts"`
	Count  int     `json:"count"`
}

// ExpireResponse reports the alerts moved to expired by a sweep.
type ExpireResponse struct {
	Expired []Alert `json:"expired"`
	Count   int     `json:"count"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}
