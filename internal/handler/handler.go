package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/igormart21/milha-alerta-fly/internal/auth"
	"github.com/igormart21/milha-alerta-fly/internal/database"
	"github.com/igormart21/milha-alerta-fly/internal/filter"
	"github.com/igormart21/milha-alerta-fly/internal/logger"
	"github.com/igormart21/milha-alerta-fly/internal/models"
	"github.com/igormart21/milha-alerta-fly/internal/service"
	"github.com/igormart21/milha-alerta-fly/internal/validation"
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	maxBodySize int64
	log         logger.Logger
	ping        func(ctx context.Context) error
	now         func() time.Time
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
	Logger      logger.Logger
	// Ping reports storage health for /health.
	Ping func(ctx context.Context) error
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 1 << 20,
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultHandlerOptions().MaxBodySize
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &Handler{
		service:     svc,
		maxBodySize: opts.MaxBodySize,
		log:         opts.Logger,
		ping:        opts.Ping,
		now:         time.Now,
	}
}

// RegisterRoutes mounts the user API behind session and the internal API behind ingest.
func (h *Handler) RegisterRoutes(r chi.Router, session, ingest func(http.Handler) http.Handler) {
	r.Get("/health", h.Health)

	r.Route("/alerts", func(r chi.Router) {
		r.Use(session)
		r.Post("/", h.CreateAlert)
		r.Get("/", h.ListAlerts)
		r.Get("/stats", h.Stats)
		r.Get("/{alert_id}", h.GetAlert)
		r.Delete("/{alert_id}", h.DeleteAlert)
		r.Patch("/{alert_id}/limits", h.UpdateLimits)
		r.Post("/{alert_id}/toggle", h.ToggleStatus)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(ingest)
		r.Post("/alerts/{alert_id}/candidates", h.SubmitCandidate)
		r.Post("/expire", h.ExpireStale)
	})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			h.log.Error("health check failed", "error", err)
			h.respondError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// CreateAlert handles POST /alerts
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req models.AlertConfig
	if !h.decode(w, r, &req) {
		return
	}
	req.NotifyPhone = validation.SanitizeString(req.NotifyPhone)
	if req.NotifyPhone == "" {
		req.NotifyPhone = user.Phone
	}

	alert, err := h.service.CreateAlert(r.Context(), user.ID, req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, alert)
}

// ListAlerts handles GET /alerts?q=&status=
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	status, err := filter.ParseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		h.respondJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Field: "status"})
		return
	}
	q := filter.Query{
		Text:   validation.SanitizeString(r.URL.Query().Get("q")),
		Status: status,
	}

	alerts, err := h.service.ListAlerts(r.Context(), user.ID, q)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, models.ListAlertsResponse{Alerts: alerts, Count: len(alerts)})
}

// Stats handles GET /alerts/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	stats, err := h.service.Stats(r.Context(), user.ID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

// GetAlert handles GET /alerts/{alert_id}
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	id, ok := h.alertID(w, r)
	if !ok {
		return
	}

	alert, err := h.service.GetAlert(r.Context(), user.ID, id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, alert)
}

// ToggleStatus handles POST /alerts/{alert_id}/toggle
func (h *Handler) ToggleStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	id, ok := h.alertID(w, r)
	if !ok {
		return
	}

	alert, err := h.service.ToggleStatus(r.Context(), user.ID, id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, alert)
}

// UpdateLimits handles PATCH /alerts/{alert_id}/limits
func (h *Handler) UpdateLimits(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	id, ok := h.alertID(w, r)
	if !ok {
		return
	}

	var req models.LimitsUpdate
	if !h.decode(w, r, &req) {
		return
	}

	alert, err := h.service.UpdateLimits(r.Context(), user.ID, id, req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, alert)
}

// DeleteAlert handles DELETE /alerts/{alert_id}
func (h *Handler) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	id, ok := h.alertID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteAlert(r.Context(), user.ID, id); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SubmitCandidate handles POST /internal/alerts/{alert_id}/candidates
func (h *Handler) SubmitCandidate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.alertID(w, r)
	if !ok {
		return
	}

	var req models.Opportunity
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.SubmitCandidate(r.Context(), id, req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

// ExpireStale handles POST /internal/expire?now=
func (h *Handler) ExpireStale(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	if nowParam := r.URL.Query().Get("now"); nowParam != "" {
		parsed, err := validation.ValidateTimeString(validation.SanitizeString(nowParam))
		if err != nil {
			h.respondJSON(w, http.StatusBadRequest, models.ErrorResponse{
				Error: "invalid 'now' parameter, must be RFC3339 format",
				Field: "now",
			})
			return
		}
		now = parsed.UTC()
	}

	expired, err := h.service.ExpireStale(r.Context(), now)
	if err != nil && len(expired) == 0 {
		h.respondServiceError(w, r, err)
		return
	}
	if err != nil {
		h.log.Warn("expiry sweep finished with errors", "expired", len(expired), "error", err)
	}

	h.respondJSON(w, http.StatusOK, models.ExpireResponse{Expired: expired, Count: len(expired)})
}

// alertID reads the {alert_id} parameter. Malformed ids are answered as unknown ones.
func (h *Handler) alertID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := validation.SanitizeString(chi.URLParam(r, "alert_id"))
	if err := validation.ValidateUUID(id, "alert_id"); err != nil {
		h.respondError(w, http.StatusNotFound, "action unavailable")
		return "", false
	}
	return id, true
}

func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	user, ok := auth.UserFrom(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	return user, true
}

// decode reads a JSON body into dst, answering the request itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			h.respondError(w, http.StatusBadRequest, "request body is required")
		case errors.As(err, &maxErr):
			h.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		default:
			h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		}
		return false
	}
	return true
}

// respondServiceError maps service errors to HTTP responses.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *validation.ValidationError
		nf   *service.NotFoundError
		ise  *service.InvalidStateError
	)
	switch {
	case errors.As(err, &verr):
		h.respondJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: verr.Message, Field: verr.Field})
	case errors.As(err, &nf):
		h.respondError(w, http.StatusNotFound, "action unavailable")
	case errors.As(err, &ise):
		h.respondError(w, http.StatusConflict, "action unavailable")
	case errors.Is(err, database.ErrVersionConflict):
		h.respondError(w, http.StatusConflict, "alert was modified concurrently, try again")
	case errors.Is(err, context.Canceled):
		h.respondError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		h.log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Warn("failed to encode response", "error", err)
	}
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
