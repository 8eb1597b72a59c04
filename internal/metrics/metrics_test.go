package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHTTPMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(HTTPMiddleware)
	r.Get("/alerts/{alert_id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/alerts/{alert_id}", "404"))

	req := httptest.NewRequest(http.MethodGet, "/alerts/123", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/alerts/{alert_id}", "404"))
	assert.Equal(t, before+1, after)
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(candidates.WithLabelValues(OutcomeAccepted))
	IncCandidate(OutcomeAccepted)
	assert.Equal(t, before+1, testutil.ToFloat64(candidates.WithLabelValues(OutcomeAccepted)))

	beforeErr := testutil.ToFloat64(eventsPublished.WithLabelValues("kafka", "error"))
	IncEventPublished("kafka", assert.AnError)
	assert.Equal(t, beforeErr+1, testutil.ToFloat64(eventsPublished.WithLabelValues("kafka", "error")))
}

func TestRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
}
