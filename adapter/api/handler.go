package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avwx-rest/account-backend/internal/account/application"
	"github.com/avwx-rest/account-backend/internal/account/domain"
	"github.com/avwx-rest/account-backend/internal/account/infrastructure/billing"
	"github.com/avwx-rest/account-backend/pkg/observability"
	"github.com/google/uuid"
)

// WebhookDeduper remembers processed provider event ids across redeliveries.
type WebhookDeduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// Handler handles account API requests.
type Handler struct {
	auth       *application.AuthService
	accounts   *application.AccountService
	tokens     *application.TokenService
	usage      *application.UsageService
	catalog    *application.CatalogService
	reconciler *application.SubscriptionReconciler
	billing    domain.BillingClient
	webhooks   *billing.WebhookTranslator
	deduper    WebhookDeduper
	ackUnknown bool
	logger     *slog.Logger
	metrics    observability.Metrics
}

// HandlerConfig holds dependencies for the account handler.
type HandlerConfig struct {
	Auth       *application.AuthService
	Accounts   *application.AccountService
	Tokens     *application.TokenService
	Usage      *application.UsageService
	Catalog    *application.CatalogService
	Reconciler *application.SubscriptionReconciler
	Billing    domain.BillingClient
	Webhooks   *billing.WebhookTranslator
	Deduper    WebhookDeduper

	// AckUnknownEvents acknowledges unrecognized webhook event types with a
	// 2xx so the provider stops resending them.
	AckUnknownEvents bool

	Logger  *slog.Logger
	Metrics observability.Metrics
}

// NewHandler creates a new account handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	return &Handler{
		auth:       cfg.Auth,
		accounts:   cfg.Accounts,
		tokens:     cfg.Tokens,
		usage:      cfg.Usage,
		catalog:    cfg.Catalog,
		reconciler: cfg.Reconciler,
		billing:    cfg.Billing,
		webhooks:   cfg.Webhooks,
		deduper:    cfg.Deduper,
		ackUnknown: cfg.AckUnknownEvents,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

type contextKey string

const userContextKey contextKey = "api.user"

// authed wraps a handler with bearer-token authentication. The resolved user
// is loaded fresh on every request so handlers always see current state.
func (h *Handler) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, credentials, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		userID, err := h.auth.ParseAccessToken(credentials)
		if err != nil {
			writeError(w, http.StatusUnauthorized, domain.ErrBadAuthToken.Error())
			return
		}

		user, err := h.accounts.Get(r.Context(), userID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, domain.ErrBadAuthToken.Error())
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next(w, r.WithContext(ctx))
	}
}

// requestUser returns the authenticated user placed in the context by authed.
func requestUser(r *http.Request) *domain.User {
	user, _ := r.Context().Value(userContextKey).(*domain.User)
	return user
}

// pathUUID parses a UUID path parameter.
func pathUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	return id, err == nil
}

// userView is the wire representation of a user, with credentials stripped.
type userView struct {
	ID            uuid.UUID             `json:"id"`
	Email         string                `json:"email"`
	FirstName     string                `json:"first_name,omitempty"`
	LastName      string                `json:"last_name,omitempty"`
	Verified      bool                  `json:"verified"`
	Plan          *domain.Plan          `json:"plan,omitempty"`
	Addons        []domain.Entitlement  `json:"addons,omitempty"`
	Tokens        []domain.Token        `json:"tokens,omitempty"`
	AllowOverage  bool                  `json:"allow_overage"`
	Disabled      bool                  `json:"disabled"`
	Subscribed    bool                  `json:"subscribed"`
	Notifications []domain.Notification `json:"notifications,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

func newUserView(u *domain.User) userView {
	return userView{
		ID:            u.ID,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Verified:      u.Verified,
		Plan:          u.Plan,
		Addons:        u.Addons,
		Tokens:        u.Tokens,
		AllowOverage:  u.AllowOverage,
		Disabled:      u.Disabled,
		Subscribed:    u.HasSubscription(),
		Notifications: u.Notifications,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}
