package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igormart21/milha-alerta-fly/internal/cache"
)

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", BearerToken(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "", BearerToken(req))

	req.Header.Set("Authorization", "bearer  tok-1 ")
	assert.Equal(t, "tok-1", BearerToken(req))
}

func TestMiddleware(t *testing.T) {
	provider := NewStaticProvider(map[string]User{"tok-1": {ID: "user-1"}})
	h := Middleware(provider, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFrom(r.Context())
		require.True(t, ok)
		w.Write([]byte(u.ID))
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/alerts", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/alerts", nil)
	req.Header.Set("Authorization", "Bearer nope")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, w.Body.String())

	req.Header.Set("Authorization", "Bearer tok-1")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", w.Body.String())
}

type failingProvider struct{}

func (failingProvider) CurrentUser(ctx context.Context, token string) (*User, error) {
	return nil, errors.New("connection refused")
}

func TestMiddleware_ProviderFailure(t *testing.T) {
	h := Middleware(failingProvider{}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/alerts", nil)
	req.Header.Set("Authorization", "Bearer x")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestIngestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	h := IngestMiddleware("s3cret")(ok)
	req := httptest.NewRequest(http.MethodPost, "/internal/expire", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req.Header.Set("Authorization", "Bearer s3cret")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	closed := IngestMiddleware("")(ok)
	req.Header.Set("Authorization", "Bearer ")
	w = httptest.NewRecorder()
	closed.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSupabaseProvider(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"id":"user-9","email":"ana@example.com","phone":"","user_metadata":{"full_name":"Ana","phone":"+5511999990000"}}`))
	}))
	defer srv.Close()

	p := NewSupabaseProvider(srv.URL+"/", "anon-key").WithCache(cache.NewInMemoryCache(), time.Minute)
	ctx := context.Background()

	u, err := p.CurrentUser(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, &User{ID: "user-9", Email: "ana@example.com", Phone: "+5511999990000", FullName: "Ana"}, u)

	_, err = p.CurrentUser(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "second lookup served from cache")

	_, err = p.CurrentUser(ctx, "bad")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSupabaseProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewSupabaseProvider(srv.URL, "k").CurrentUser(context.Background(), "t")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnauthorized))
}

func TestParseStaticTokens(t *testing.T) {
	users, err := ParseStaticTokens("a:user-1, b:user-2:+5511988887777,")
	require.NoError(t, err)
	assert.Equal(t, User{ID: "user-1"}, users["a"])
	assert.Equal(t, User{ID: "user-2", Phone: "+5511988887777"}, users["b"])

	_, err = ParseStaticTokens("broken")
	assert.Error(t, err)
}
