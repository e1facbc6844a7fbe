package application

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/avwx-rest/account-backend/internal/account/domain"
	"github.com/avwx-rest/account-backend/pkg/observability"
	"github.com/google/uuid"
)

const (
	// tokenEntropyBytes is the number of random bytes behind every token
	// value. Encoded without padding this yields a 43 character string.
	tokenEntropyBytes = 32

	// maxGenerateAttempts bounds the uniqueness loop. Collisions on 256 bits
	// of entropy are effectively impossible, so exhausting the loop points at
	// a broken index rather than bad luck.
	maxGenerateAttempts = 100
)

// TokenRegistry mints token values that are unique across every user's token
// collection. Uniqueness is checked against the repository before a value is
// handed out; the repository additionally enforces it at save time.
type TokenRegistry struct {
	users   domain.UserRepository
	logger  *slog.Logger
	metrics observability.Metrics
}

// NewTokenRegistry creates a new TokenRegistry.
func NewTokenRegistry(users domain.UserRepository, logger *slog.Logger, metrics observability.Metrics) *TokenRegistry {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &TokenRegistry{
		users:   users,
		logger:  logger,
		metrics: metrics,
	}
}

// Generate mints a fresh token of the given kind with its default name.
func (r *TokenRegistry) Generate(ctx context.Context, kind domain.TokenKind) (domain.Token, error) {
	name := domain.DefaultTokenName
	if kind == domain.TokenKindDev {
		name = domain.DefaultDevTokenName
	}

	value, err := r.uniqueValue(ctx, kind)
	if err != nil {
		return domain.Token{}, err
	}

	r.metrics.Counter(observability.MetricTokensGenerated, 1, observability.T("kind", string(kind)))
	return domain.Token{
		ID:     uuid.New(),
		Name:   name,
		Kind:   kind,
		Value:  value,
		Active: true,
	}, nil
}

// Regenerate replaces the token's value in place. Identity, name, kind and
// active state are preserved.
func (r *TokenRegistry) Regenerate(ctx context.Context, token *domain.Token) error {
	value, err := r.uniqueValue(ctx, token.Kind)
	if err != nil {
		return err
	}

	token.Value = value
	r.metrics.Counter(observability.MetricTokensGenerated, 1, observability.T("kind", string(token.Kind)))
	return nil
}

func (r *TokenRegistry) uniqueValue(ctx context.Context, kind domain.TokenKind) (string, error) {
	for attempt := 1; attempt <= maxGenerateAttempts; attempt++ {
		value, err := randomTokenValue(kind)
		if err != nil {
			return "", err
		}

		exists, err := r.users.TokenValueExists(ctx, value)
		if err != nil {
			return "", err
		}
		if !exists {
			return value, nil
		}

		r.metrics.Counter(observability.MetricTokenCollisions, 1)
		r.logger.Warn("token value collision", "kind", kind, "attempt", attempt)
	}

	return "", domain.ErrTokenExhausted
}

func randomTokenValue(kind domain.TokenKind) (string, error) {
	buf := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading token entropy: %w", err)
	}

	value := base64.RawURLEncoding.EncodeToString(buf)
	if kind == domain.TokenKindDev {
		value = domain.DevTokenPrefix + value[len(domain.DevTokenPrefix):]
	}
	return value, nil
}
