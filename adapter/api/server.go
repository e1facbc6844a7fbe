// Package api provides the HTTP surface of the account backend.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/avwx-rest/account-backend/internal/account/domain"
	"github.com/avwx-rest/account-backend/pkg/observability"
)

// Server is the HTTP API server for the account backend.
type Server struct {
	mux     *http.ServeMux
	server  *http.Server
	logger  *slog.Logger
	handler *Handler
	health  *observability.HealthRegistry
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Health, when set, backs GET /health with real dependency checks.
	Health *observability.HealthRegistry
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "0.0.0.0:8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates a new account API server.
func NewServer(cfg ServerConfig, handler *Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	s := &Server{
		mux:     mux,
		logger:  logger,
		handler: handler,
		health:  cfg.Health,
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// registerRoutes sets up the API routes.
func (s *Server) registerRoutes() {
	h := s.handler

	// Health check
	s.mux.HandleFunc("GET /health", s.handleHealth)

	// Authentication
	s.mux.HandleFunc("POST /api/v1/auth/signup", h.Signup)
	s.mux.HandleFunc("POST /api/v1/auth/login", h.Login)
	s.mux.HandleFunc("GET /api/v1/auth/verify/{token}", h.VerifyEmail)
	s.mux.HandleFunc("POST /api/v1/auth/verify/resend", h.authed(h.ResendVerification))
	s.mux.HandleFunc("POST /api/v1/auth/password/forgot", h.ForgotPassword)
	s.mux.HandleFunc("POST /api/v1/auth/password/reset", h.ResetPassword)

	// Account
	s.mux.HandleFunc("GET /api/v1/me", h.authed(h.GetMe))
	s.mux.HandleFunc("PATCH /api/v1/me", h.authed(h.UpdateMe))
	s.mux.HandleFunc("DELETE /api/v1/me", h.authed(h.DeleteMe))
	s.mux.HandleFunc("PUT /api/v1/me/email", h.authed(h.ChangeEmail))
	s.mux.HandleFunc("PUT /api/v1/me/password", h.authed(h.ChangePassword))
	s.mux.HandleFunc("GET /api/v1/me/notifications", h.authed(h.ListNotifications))
	s.mux.HandleFunc("DELETE /api/v1/me/notifications", h.authed(h.ClearNotifications))
	s.mux.HandleFunc("DELETE /api/v1/me/notifications/{id}", h.authed(h.DismissNotification))

	// Tokens
	s.mux.HandleFunc("GET /api/v1/me/tokens", h.authed(h.ListTokens))
	s.mux.HandleFunc("POST /api/v1/me/tokens", h.authed(h.CreateToken))
	s.mux.HandleFunc("GET /api/v1/me/tokens/{id}", h.authed(h.GetToken))
	s.mux.HandleFunc("PATCH /api/v1/me/tokens/{id}", h.authed(h.UpdateToken))
	s.mux.HandleFunc("DELETE /api/v1/me/tokens/{id}", h.authed(h.DeleteToken))
	s.mux.HandleFunc("POST /api/v1/me/tokens/{id}/refresh", h.authed(h.RefreshToken))
	s.mux.HandleFunc("GET /api/v1/me/usage", h.authed(h.TokenUsage))

	// Catalog and subscription management
	s.mux.HandleFunc("GET /api/v1/plans", h.ListPlans)
	s.mux.HandleFunc("GET /api/v1/addons", h.ListAddons)
	s.mux.HandleFunc("POST /api/v1/me/plan/{key}", h.authed(h.ChangePlan))
	s.mux.HandleFunc("POST /api/v1/me/addons/{key}", h.authed(h.AddAddon))
	s.mux.HandleFunc("DELETE /api/v1/me/addons/{key}", h.authed(h.RemoveAddon))
	s.mux.HandleFunc("GET /api/v1/me/portal", h.authed(h.BillingPortal))

	// Token authorization for the API edge
	s.mux.HandleFunc("GET /internal/token/{value}", h.AuthorizeToken)

	// Billing provider callbacks
	s.mux.HandleFunc("POST /webhooks/stripe", h.StripeWebhook)
	s.mux.HandleFunc("GET /stripe/success", h.authed(h.CheckoutSuccess))
	s.mux.HandleFunc("GET /stripe/cancel", h.authed(h.CheckoutCancel))
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	overall := s.health.GetOverallHealth(ctx)
	status := http.StatusOK
	if overall.Status == observability.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, overall)
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info("starting account API server",
		"addr", s.server.Addr,
	)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down account API server")
	return s.server.Shutdown(ctx)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", "error", err)
		}
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}

// writeDomainError maps domain sentinels onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrPlanNotFound),
		errors.Is(err, domain.ErrAddonNotFound),
		errors.Is(err, domain.ErrTokenNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrEmailTaken),
		errors.Is(err, domain.ErrAlreadySubscribed),
		errors.Is(err, domain.ErrAddonOwned),
		errors.Is(err, domain.ErrAddonNotOwned),
		errors.Is(err, domain.ErrNoPlan),
		errors.Is(err, domain.ErrTokenLimit),
		errors.Is(err, domain.ErrVersionConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInvalidCredentials),
		errors.Is(err, domain.ErrBadAuthToken):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrUserDisabled),
		errors.Is(err, domain.ErrCaptchaFailed):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrRemoteBilling):
		writeError(w, http.StatusBadGateway, "billing provider unavailable, no changes were made")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
