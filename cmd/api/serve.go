package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/igormart21/milha-alerta-fly/internal/auth"
	"github.com/igormart21/milha-alerta-fly/internal/config"
	"github.com/igormart21/milha-alerta-fly/internal/handler"
	"github.com/igormart21/milha-alerta-fly/internal/metrics"
	"github.com/igormart21/milha-alerta-fly/internal/middleware"
	"github.com/igormart21/milha-alerta-fly/internal/sweeper"
	tlsconfig "github.com/igormart21/milha-alerta-fly/internal/tls"
	"github.com/igormart21/milha-alerta-fly/internal/tracing"
)

func runServe(ctx context.Context) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := handler.NewHandlerWithOptions(a.service, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
		Logger:      a.log,
		Ping:        a.db.Ping,
	})

	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(a.log))
	r.Use(chimw.Recoverer)

	if cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, config.Seconds(cfg.RateLimit.Window))
		defer rateLimiter.Stop()
		r.Use(middleware.RateLimitMiddleware(rateLimiter))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Origins(),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.TracingMiddleware(tracing.DefaultServiceName))
	r.Use(metrics.HTTPMiddleware)

	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	h.RegisterRoutes(r,
		auth.Middleware(a.sessions, a.log),
		auth.IngestMiddleware(cfg.Auth.IngestToken))

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var tlsCfg tlsconfig.Config
	if cfg.Server.EnableTLS {
		tlsCfg = tlsconfig.Config{CertFile: cfg.Server.CertFile, KeyFile: cfg.Server.KeyFile}
		server.TLSConfig, err = tlsconfig.LoadTLSConfig(tlsCfg)
		if err != nil {
			return err
		}
		if tlsCfg.SelfSigned() {
			a.log.Warn("no certificate files provided, using a self-signed certificate")
		}
	}

	go sweeper.New(a.service, config.Seconds(cfg.Lifecycle.SweepInterval), a.log).Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("starting server",
			"addr", server.Addr,
			"tls", cfg.Server.EnableTLS,
			"database", cfg.Database.Path,
			"policy", cfg.Lifecycle.ReplacementPolicy,
			"events_sink", cfg.Events.Sink)
		errCh <- listen(server)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Seconds(cfg.Server.ShutdownTimeout))
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.log.Error("graceful shutdown failed", "error", err)
		return err
	}
	return nil
}

func listen(server *http.Server) error {
	if server.TLSConfig == nil {
		return server.ListenAndServe()
	}
	ln, err := tls.Listen("tcp", server.Addr, server.TLSConfig)
	if err != nil {
		return err
	}
	return server.Serve(ln)
}
