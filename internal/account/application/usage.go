package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/avwx-rest/account-backend/internal/account/domain"
	"github.com/avwx-rest/account-backend/pkg/observability"
	"github.com/google/uuid"
)

// TokenUsage pairs a token with its trailing daily request counts, oldest day
// first.
type TokenUsage struct {
	TokenID uuid.UUID `json:"token_id"`
	Name    string    `json:"name"`
	Kind    string    `json:"type"`
	Counts  []int64   `json:"counts"`
	Total   int64     `json:"total"`
}

// UsageService records per-token request counts and reads them back for the
// account dashboard.
type UsageService struct {
	users   domain.UserRepository
	store   domain.UsageStore
	days    int
	logger  *slog.Logger
	metrics observability.Metrics
}

// NewUsageService creates a new UsageService. days controls how many trailing
// days of history reads return.
func NewUsageService(users domain.UserRepository, store domain.UsageStore, days int, logger *slog.Logger, metrics observability.Metrics) *UsageService {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &UsageService{
		users:   users,
		store:   store,
		days:    days,
		logger:  logger,
		metrics: metrics,
	}
}

// Authorize resolves a token value to its owner for request gating. Inactive
// tokens and disabled accounts are rejected.
func (s *UsageService) Authorize(ctx context.Context, value string) (*domain.User, *domain.Token, error) {
	user, err := s.users.FindByTokenValue(ctx, value)
	if err != nil {
		return nil, nil, err
	}
	if user.Disabled {
		return nil, nil, domain.ErrUserDisabled
	}

	token := user.Token(value)
	if token == nil || !token.Active {
		return nil, nil, domain.ErrTokenNotFound
	}
	return user, token, nil
}

// RecordHit bumps today's counter for the token. Counter failures are logged
// and swallowed so usage accounting never blocks a request.
func (s *UsageService) RecordHit(ctx context.Context, userID, tokenID uuid.UUID) {
	if err := s.store.Record(ctx, userID, tokenID, time.Now().UTC()); err != nil {
		s.logger.Error("recording token usage", "token_id", tokenID, "error", err)
		return
	}
	s.metrics.Counter(observability.MetricTokenUsageWrites, 1)
}

// History returns usage for each of the user's tokens over the configured
// window.
func (s *UsageService) History(ctx context.Context, user *domain.User) ([]TokenUsage, error) {
	ids := make([]uuid.UUID, len(user.Tokens))
	for i, token := range user.Tokens {
		ids[i] = token.ID
	}

	counts, err := s.store.Counts(ctx, ids, s.days)
	if err != nil {
		return nil, err
	}

	out := make([]TokenUsage, 0, len(user.Tokens))
	for _, token := range user.Tokens {
		series := counts[token.ID]
		if series == nil {
			series = make([]int64, s.days)
		}
		var total int64
		for _, n := range series {
			total += n
		}
		out = append(out, TokenUsage{
			TokenID: token.ID,
			Name:    token.Name,
			Kind:    string(token.Kind),
			Counts:  series,
			Total:   total,
		})
	}
	return out, nil
}
