package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"convault/native/vault"
	"convault/storage"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
}

// Server hosts the vault, admin, and health endpoints for vaultd.
type Server struct {
	cfg     Config
	engine  *vault.Engine
	store   *storage.Storage
	logger  *slog.Logger
	auth    *Authenticator
	limiter *RateLimiter
}

// New constructs a new HTTP server.
func New(cfg Config, engine *vault.Engine, store *storage.Storage, logger *slog.Logger, auth *Authenticator, limiter *RateLimiter) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine required")
	}
	if store == nil {
		return nil, fmt.Errorf("storage required")
	}
	if auth == nil {
		return nil, fmt.Errorf("admin authenticator required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	return &Server{cfg: cfg, engine: engine, store: store, logger: logger, auth: auth, limiter: limiter}, nil
}

// Handler builds the HTTP routing tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/vault", func(sr chi.Router) {
		if s.limiter != nil {
			sr.Use(s.limiter.Middleware)
		}
		sr.Post("/deposit", s.handleDeposit)
		sr.Post("/withdraw", s.handleWithdraw)
		sr.Post("/estimate", s.handleEstimate)
		sr.Get("/balance/{account}", s.handleBalance)
		sr.Get("/status", s.handleStatus)
		sr.Get("/deposits", s.handleDeposits)
	})

	r.Route("/v1/admin", func(sr chi.Router) {
		sr.Use(s.auth.Middleware)
		sr.Get("/policy", s.getPolicy)
		sr.Put("/policy", s.putPolicy)
	})

	return otelhttp.NewHandler(r, "vaultd.http")
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{Addr: s.cfg.ListenAddress, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", slog.String("address", s.cfg.ListenAddress))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}
