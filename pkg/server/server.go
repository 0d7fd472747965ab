// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package server assembles the HTTP surface of the proxy: health and version
// endpoints, the auth endpoints for the configured mode, and the proxied
// catch-all route behind the middleware chain.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-core-stack/mcp-oidc-proxy/pkg/auth/bearer"
	"github.com/go-core-stack/mcp-oidc-proxy/pkg/auth/bypass"
	"github.com/go-core-stack/mcp-oidc-proxy/pkg/auth/oidc"
	"github.com/go-core-stack/mcp-oidc-proxy/pkg/config"
	"github.com/go-core-stack/mcp-oidc-proxy/pkg/middleware"
	"github.com/go-core-stack/mcp-oidc-proxy/pkg/proxy"
	"github.com/go-core-stack/mcp-oidc-proxy/pkg/session"
	"github.com/go-core-stack/mcp-oidc-proxy/pkg/version"
)

// Server owns the listener and the assembled handler tree.
type Server struct {
	cfg    config.Config
	httpd  *http.Server
	proxy  *proxy.Proxy
	store  session.Store
	logger zerolog.Logger
}

// New builds the full handler tree for the configured auth mode. The session
// store is only consulted in oidc mode but its stats always feed /healthz.
func New(ctx context.Context, cfg config.Config, store session.Store, logger zerolog.Logger) (*Server, error) {
	p, err := proxy.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("build proxy: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		proxy:  p,
		store:  store,
		logger: logger.With().Str("component", "server").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/version", s.handleVersion)

	guard, err := s.authMiddleware(ctx, mux, logger)
	if err != nil {
		return nil, err
	}
	mux.Handle("/", guard(p))

	chain := middleware.Recover(logger)(
		middleware.SecurityHeaders(
			middleware.RequestID(
				middleware.AccessLog(logger)(mux))))

	s.httpd = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      chain,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  cfg.ServerIdleTimeout,
	}

	return s, nil
}

// authMiddleware picks the gate for the configured mode and, for oidc,
// registers the browser flow endpoints on the mux.
func (s *Server) authMiddleware(ctx context.Context, mux *http.ServeMux, logger zerolog.Logger) (func(http.Handler) http.Handler, error) {
	switch s.cfg.AuthMode {
	case config.AuthModeOIDC:
		handler, err := oidc.NewHandler(ctx, s.cfg.OIDC, s.cfg.Session, s.store, logger)
		if err != nil {
			return nil, fmt.Errorf("init oidc: %w", err)
		}
		mux.HandleFunc("/login", handler.Login)
		mux.HandleFunc("/callback", handler.Callback)
		mux.HandleFunc("/logout", handler.Logout)
		return oidc.Middleware(s.store, s.cfg.Session.CookieName, logger), nil

	case config.AuthModeBearer:
		validator, err := bearer.NewValidator(ctx, s.cfg.Bearer)
		if err != nil {
			return nil, fmt.Errorf("init bearer validator: %w", err)
		}
		return bearer.Middleware(validator, logger), nil

	case config.AuthModeBypass:
		s.logger.Warn().Msg("authentication bypassed; do not use in production")
		return bypass.Middleware(logger), nil

	default:
		return nil, fmt.Errorf("unknown auth mode %q", s.cfg.AuthMode)
	}
}

// Run serves until the context is cancelled, then drains connections within
// the configured graceful shutdown window.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("listen", s.cfg.ListenAddr).
			Str("upstream", s.cfg.Upstream.String()).
			Str("auth_mode", s.cfg.AuthMode).
			Msg("server listening")
		errCh <- s.httpd.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulShutdownTimeout)
	defer cancel()

	s.logger.Info().Msg("shutting down")
	if err := s.httpd.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// healthResponse is the /healthz payload.
type healthResponse struct {
	Status   string         `json:"status"`
	Upstream string         `json:"upstream"`
	Sessions *session.Stats `json:"sessions,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Upstream: "reachable"}
	status := http.StatusOK

	if err := s.proxy.Health(ctx); err != nil {
		resp.Status = "degraded"
		resp.Upstream = "unreachable"
		resp.Error = err.Error()
		status = http.StatusServiceUnavailable
	}

	if s.store != nil {
		if stats, err := s.store.Stats(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("session stats failed")
		} else {
			resp.Sessions = &stats
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(version.Get())
}
