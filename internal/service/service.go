package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/igormart21/milha-alerta-fly/internal/cache"
	"github.com/igormart21/milha-alerta-fly/internal/database"
	"github.com/igormart21/milha-alerta-fly/internal/events"
	"github.com/igormart21/milha-alerta-fly/internal/features"
	"github.com/igormart21/milha-alerta-fly/internal/filter"
	"github.com/igormart21/milha-alerta-fly/internal/logger"
	"github.com/igormart21/milha-alerta-fly/internal/metrics"
	"github.com/igormart21/milha-alerta-fly/internal/models"
	"github.com/igormart21/milha-alerta-fly/internal/tracing"
	"github.com/igormart21/milha-alerta-fly/internal/validation"
)

// Defaults applied to omitted alert fields.
const (
	DefaultFlexDays   = 3
	DefaultPassengers = 1
	DefaultCabinClass = models.CabinEconomy
	DefaultMaxMiles   = int64(60000)
)

// DefaultMaxValueBRL is the BRL ceiling applied when none is given.
var DefaultMaxValueBRL = decimal.NewFromInt(3000)

// DefaultRetention bounds the life of alerts without a travel window.
const DefaultRetention = 365 * 24 * time.Hour

const (
	maxSaveAttempts = 3
	defaultStatsTTL = 5 * time.Minute
)

// Rejection reasons reported in CandidateResult.
const (
	ReasonInactive       = "alert is not active"
	ReasonOverCeiling    = "exceeds alert limits"
	ReasonNotImprovement = "not cheaper than the current opportunity"
)

// Store is the persistence the service needs.
type Store interface {
	InsertAlert(ctx context.Context, alert models.Alert) error
	UpdateAlert(ctx context.Context, alert models.Alert, expectedVersion int64) error
	GetAlert(ctx context.Context, id string) (models.Alert, error)
	DeleteAlert(ctx context.Context, id string) error
	ListAlertsByOwner(ctx context.Context, ownerID string) ([]models.Alert, error)
	ListAlertsByStatus(ctx context.Context, status models.Status) ([]models.Alert, error)
}

// Service owns the alert lifecycle: creation, toggling, matching and expiry.
type Service struct {
	store     Store
	events    *events.Manager
	cache     cache.Cache
	features  *features.Manager
	log       logger.Logger
	now       func() time.Time
	policy    ReplacementPolicy
	retention time.Duration
	statsTTL  time.Duration
	locks     *keyedMutex
}

// Option configures a Service.
type Option func(*Service)

func WithEvents(m *events.Manager) Option { return func(s *Service) { s.events = m } }

func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		if ttl > 0 {
			s.statsTTL = ttl
		}
	}
}

func WithFeatures(f *features.Manager) Option { return func(s *Service) { s.features = f } }

func WithLogger(l logger.Logger) Option { return func(s *Service) { s.log = l } }

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithPolicy(p ReplacementPolicy) Option { return func(s *Service) { s.policy = p } }

func WithRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

// NewService creates a new service instance.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		log:       logger.NewNop(),
		now:       time.Now,
		policy:    PolicyLatest,
		retention: DefaultRetention,
		statsTTL:  defaultStatsTTL,
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAlert validates cfg, fills defaults and stores a new active alert.
func (s *Service) CreateAlert(ctx context.Context, ownerID string, cfg models.AlertConfig) (models.Alert, error) {
	ctx, span := startSpan(ctx, "service.CreateAlert")
	defer span.End()

	if err := validation.ValidateAlertConfig(cfg); err != nil {
		return models.Alert{}, err
	}

	now := s.now().UTC()
	alert := models.Alert{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		Origin:      validation.SanitizeString(cfg.Origin),
		Destination: validation.SanitizeString(cfg.Destination),
		DateFrom:    cfg.DateFrom,
		DateTo:      cfg.DateTo,
		FlexDays:    DefaultFlexDays,
		Passengers:  DefaultPassengers,
		CabinClass:  DefaultCabinClass,
		MaxMiles:    DefaultMaxMiles,
		MaxValueBRL: DefaultMaxValueBRL,
		Status:      models.StatusActive,
		NotifyPhone: cfg.NotifyPhone,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	if cfg.FlexDays != nil {
		alert.FlexDays = *cfg.FlexDays
	}
	if cfg.Passengers != nil {
		alert.Passengers = *cfg.Passengers
	}
	if cfg.CabinClass != "" {
		alert.CabinClass = cfg.CabinClass
	}
	if cfg.MaxMiles != nil {
		alert.MaxMiles = *cfg.MaxMiles
	}
	if cfg.MaxValueBRL != nil {
		alert.MaxValueBRL = *cfg.MaxValueBRL
	}

	if err := s.store.InsertAlert(ctx, alert); err != nil {
		return models.Alert{}, spanError(span, fmt.Errorf("failed to create alert: %w", err))
	}
	span.SetAttributes(attribute.String("alert.id", alert.ID))

	s.log.Info("alert created",
		"alert_id", alert.ID,
		"owner_id", ownerID,
		"route", alert.Origin+"-"+alert.Destination)
	metrics.IncAlertsCreated()
	s.invalidateStats(ctx, ownerID)
	if s.hooksEnabled() {
		s.events.PublishAlertCreated(ctx, alert)
	}

	return alert, nil
}

// GetAlert returns one of the owner's alerts.
func (s *Service) GetAlert(ctx context.Context, ownerID, alertID string) (models.Alert, error) {
	alert, err := s.load(ctx, alertID)
	if err != nil {
		return models.Alert{}, err
	}
	if alert.OwnerID != ownerID {
		return models.Alert{}, &NotFoundError{AlertID: alertID}
	}
	return alert, nil
}

// ListAlerts returns the owner's alerts matching q, in creation order.
func (s *Service) ListAlerts(ctx context.Context, ownerID string, q filter.Query) ([]models.Alert, error) {
	ctx, span := startSpan(ctx, "service.ListAlerts")
	defer span.End()

	alerts, err := s.store.ListAlertsByOwner(ctx, ownerID)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("failed to list alerts: %w", err))
	}

	matched := slices.Collect(filter.Filter(alerts, q))
	if matched == nil {
		matched = []models.Alert{}
	}
	return matched, nil
}

// ToggleStatus flips an alert between active and paused.
func (s *Service) ToggleStatus(ctx context.Context, ownerID, alertID string) (models.Alert, error) {
	ctx, span := startSpan(ctx, "service.ToggleStatus", attribute.String("alert.id", alertID))
	defer span.End()

	var previous models.Status
	alert, changed, err := s.mutate(ctx, ownerID, alertID, func(a *models.Alert) (bool, error) {
		previous = a.Status
		switch a.Status {
		case models.StatusActive:
			a.Status = models.StatusPaused
		case models.StatusPaused:
			a.Status = models.StatusActive
		default:
			return false, &InvalidStateError{AlertID: a.ID, Status: a.Status, Action: "toggle"}
		}
		return true, nil
	})
	if err != nil {
		return models.Alert{}, spanError(span, err)
	}

	if changed {
		s.log.Info("alert status changed",
			"alert_id", alert.ID,
			"from", string(previous),
			"to", string(alert.Status))
		metrics.IncStatusTransition(string(alert.Status))
		s.invalidateStats(ctx, alert.OwnerID)
		if s.hooksEnabled() {
			s.events.PublishStatusChanged(ctx, alert, previous)
		}
	}

	return alert, nil
}

// UpdateLimits edits the ceilings of a non-expired alert.
func (s *Service) UpdateLimits(ctx context.Context, ownerID, alertID string, limits models.LimitsUpdate) (models.Alert, error) {
	ctx, span := startSpan(ctx, "service.UpdateLimits", attribute.String("alert.id", alertID))
	defer span.End()

	if limits.MaxMiles == nil && limits.MaxValueBRL == nil {
		return models.Alert{}, &validation.ValidationError{
			Field:   "limits",
			Message: "max_miles or max_value_brl is required",
		}
	}
	if err := validation.ValidateLimits(limits); err != nil {
		return models.Alert{}, err
	}

	alert, changed, err := s.mutate(ctx, ownerID, alertID, func(a *models.Alert) (bool, error) {
		if a.Status.Terminal() {
			return false, &InvalidStateError{AlertID: a.ID, Status: a.Status, Action: "update limits of"}
		}
		changed := false
		if limits.MaxMiles != nil && *limits.MaxMiles != a.MaxMiles {
			a.MaxMiles = *limits.MaxMiles
			changed = true
		}
		if limits.MaxValueBRL != nil && !limits.MaxValueBRL.Equal(a.MaxValueBRL) {
			a.MaxValueBRL = *limits.MaxValueBRL
			changed = true
		}
		return changed, nil
	})
	if err != nil {
		return models.Alert{}, spanError(span, err)
	}

	if changed {
		s.log.Info("alert limits updated",
			"alert_id", alert.ID,
			"max_miles", alert.MaxMiles,
			"max_value_brl", alert.MaxValueBRL.String())
	}
	return alert, nil
}

// DeleteAlert removes one of the owner's alerts.
func (s *Service) DeleteAlert(ctx context.Context, ownerID, alertID string) error {
	ctx, span := startSpan(ctx, "service.DeleteAlert", attribute.String("alert.id", alertID))
	defer span.End()

	unlock := s.locks.Lock(alertID)
	defer unlock()

	if _, err := s.GetAlert(ctx, ownerID, alertID); err != nil {
		return spanError(span, err)
	}

	if err := s.store.DeleteAlert(ctx, alertID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return &NotFoundError{AlertID: alertID}
		}
		return spanError(span, fmt.Errorf("failed to delete alert: %w", err))
	}

	s.log.Info("alert deleted", "alert_id", alertID, "owner_id", ownerID)
	s.invalidateStats(ctx, ownerID)
	return nil
}

// SubmitCandidate evaluates an opportunity against an alert and records it when accepted.
func (s *Service) SubmitCandidate(ctx context.Context, alertID string, opp models.Opportunity) (models.CandidateResult, error) {
	ctx, span := startSpan(ctx, "service.SubmitCandidate", attribute.String("alert.id", alertID))
	defer span.End()

	now := s.now()
	if opp.FoundAt.IsZero() {
		opp.FoundAt = now
	}
	opp.FoundAt = opp.FoundAt.UTC()
	opp.Provider = validation.SanitizeString(opp.Provider)
	if err := validation.ValidateOpportunity(opp, now); err != nil {
		return models.CandidateResult{}, err
	}

	policy := s.replacementPolicy()
	var (
		reason   string
		outcome  string
		previous *models.Opportunity
	)
	alert, accepted, err := s.mutate(ctx, "", alertID, func(a *models.Alert) (bool, error) {
		switch {
		case a.Status != models.StatusActive:
			reason, outcome = ReasonInactive, metrics.OutcomeInactive
			return false, nil
		case !a.Accepts(opp):
			reason, outcome = ReasonOverCeiling, metrics.OutcomeOverCeiling
			return false, nil
		case !policy.replaces(a.LastOpportunity, opp):
			reason, outcome = ReasonNotImprovement, metrics.OutcomeNotImprovement
			return false, nil
		}
		previous = a.LastOpportunity
		candidate := opp
		a.LastOpportunity = &candidate
		reason, outcome = "", metrics.OutcomeAccepted
		return true, nil
	})
	if err != nil {
		return models.CandidateResult{}, spanError(span, err)
	}

	metrics.IncCandidate(outcome)
	span.SetAttributes(attribute.String("candidate.outcome", outcome))

	if accepted {
		s.log.Info("opportunity accepted",
			"alert_id", alert.ID,
			"miles", opp.Miles,
			"total_brl", opp.TotalBRL.String(),
			"provider", opp.Provider,
			"policy", string(policy))
		metrics.ObserveAcceptedMiles(opp.Miles)
		s.invalidateStats(ctx, alert.OwnerID)
		if s.hooksEnabled() {
			s.events.PublishOpportunityAccepted(ctx, alert, previous)
		}
	} else {
		s.log.Debug("candidate rejected",
			"alert_id", alert.ID,
			"reason", reason,
			"miles", opp.Miles,
			"total_brl", opp.TotalBRL.String())
	}

	return models.CandidateResult{Accepted: accepted, Reason: reason, Alert: alert}, nil
}

// ExpireStale moves every active alert whose travel window ended before now
// to expired and returns them. Failures on single alerts do not stop the sweep.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) ([]models.Alert, error) {
	ctx, span := startSpan(ctx, "service.ExpireStale")
	defer span.End()
	start := time.Now()

	candidates, err := s.store.ListAlertsByStatus(ctx, models.StatusActive)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("failed to list active alerts: %w", err))
	}

	expired := []models.Alert{}
	var errs []error
	for _, c := range candidates {
		if !IsStale(c, now, s.retention) {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		alert, changed, err := s.mutate(ctx, "", c.ID, func(a *models.Alert) (bool, error) {
			if !IsStale(*a, now, s.retention) {
				return false, nil
			}
			a.Status = models.StatusExpired
			return true, nil
		})
		if err != nil {
			var nf *NotFoundError
			if errors.As(err, &nf) {
				continue
			}
			s.log.Error("failed to expire alert", "alert_id", c.ID, "error", err)
			errs = append(errs, fmt.Errorf("expire alert %s: %w", c.ID, err))
			continue
		}
		if !changed {
			continue
		}

		expired = append(expired, alert)
		s.invalidateStats(ctx, alert.OwnerID)
		if s.hooksEnabled() {
			s.events.PublishAlertExpired(ctx, alert, now)
		}
	}

	metrics.ObserveSweep(time.Since(start), len(expired))
	span.SetAttributes(attribute.Int("alerts.expired", len(expired)))
	if len(expired) > 0 {
		s.log.Info("expired stale alerts", "count", len(expired), "now", now.UTC().Format(time.RFC3339))
	}

	return expired, spanError(span, errors.Join(errs...))
}

// Stats returns the owner's dashboard counters, served from cache when enabled.
func (s *Service) Stats(ctx context.Context, ownerID string) (models.DashboardStats, error) {
	ctx, span := startSpan(ctx, "service.Stats")
	defer span.End()

	key := cache.StatsKey(ownerID)
	if s.cacheEnabled() {
		var stats models.DashboardStats
		err := cache.GetJSON(ctx, s.cache, key, &stats)
		if err == nil {
			metrics.IncCache(true)
			return stats, nil
		}
		metrics.IncCache(false)
		if !errors.Is(err, cache.ErrNotFound) {
			s.log.Warn("stats cache read failed", "owner_id", ownerID, "error", err)
		}
	}

	alerts, err := s.store.ListAlertsByOwner(ctx, ownerID)
	if err != nil {
		return models.DashboardStats{}, spanError(span, fmt.Errorf("failed to load alerts: %w", err))
	}
	stats := filter.Summarize(alerts)

	if s.cacheEnabled() {
		if err := cache.SetJSON(ctx, s.cache, key, stats, s.statsTTL); err != nil {
			s.log.Warn("stats cache write failed", "owner_id", ownerID, "error", err)
		}
	}

	return stats, nil
}

// mutate loads an alert under its lock, applies fn and saves the result with
// an optimistic version check, retrying on conflicts. An empty ownerID skips
// the ownership check. The returned bool reports whether fn changed the alert.
func (s *Service) mutate(ctx context.Context, ownerID, alertID string, fn func(*models.Alert) (bool, error)) (models.Alert, bool, error) {
	unlock := s.locks.Lock(alertID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		alert, err := s.load(ctx, alertID)
		if err != nil {
			return models.Alert{}, false, err
		}
		if ownerID != "" && alert.OwnerID != ownerID {
			return models.Alert{}, false, &NotFoundError{AlertID: alertID}
		}

		expected := alert.Version
		changed, err := fn(&alert)
		if err != nil {
			return models.Alert{}, false, err
		}
		if !changed {
			return alert, false, nil
		}

		alert.Version = expected + 1
		alert.UpdatedAt = s.now().UTC()

		err = s.store.UpdateAlert(ctx, alert, expected)
		switch {
		case err == nil:
			return alert, true, nil
		case errors.Is(err, database.ErrNotFound):
			return models.Alert{}, false, &NotFoundError{AlertID: alertID}
		case errors.Is(err, database.ErrVersionConflict):
			metrics.IncVersionConflict()
			if attempt >= maxSaveAttempts {
				return models.Alert{}, false, fmt.Errorf("failed to save alert %s after %d attempts: %w", alertID, attempt, err)
			}
			s.log.Warn("alert version conflict, retrying", "alert_id", alertID, "attempt", attempt)
		default:
			return models.Alert{}, false, fmt.Errorf("failed to save alert %s: %w", alertID, err)
		}
	}
}

func (s *Service) load(ctx context.Context, alertID string) (models.Alert, error) {
	alert, err := s.store.GetAlert(ctx, alertID)
	if errors.Is(err, database.ErrNotFound) {
		return models.Alert{}, &NotFoundError{AlertID: alertID}
	}
	if err != nil {
		return models.Alert{}, fmt.Errorf("failed to load alert %s: %w", alertID, err)
	}
	return alert, nil
}

func (s *Service) replacementPolicy() ReplacementPolicy {
	if s.features.IsEnabled(features.FeatureBestSoFarPolicy) {
		return PolicyBestSoFar
	}
	return s.policy
}

func (s *Service) hooksEnabled() bool {
	if s.events == nil {
		return false
	}
	return s.features == nil || s.features.IsEnabled(features.FeatureEventHooksEnabled)
}

func (s *Service) cacheEnabled() bool {
	if s.cache == nil {
		return false
	}
	return s.features == nil || s.features.IsEnabled(features.FeatureCacheEnabled)
}

func (s *Service) invalidateStats(ctx context.Context, ownerID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.StatsKey(ownerID)); err != nil {
		s.log.Warn("stats cache invalidation failed", "owner_id", ownerID, "error", err)
	}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracing.GetTracer().StartSpan(ctx, name, trace.WithAttributes(attrs...))
}

// spanError records err on span and returns it unchanged.
func spanError(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
