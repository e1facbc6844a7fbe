package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/avwx-rest/account-backend/internal/account/domain"
	sharedApplication "github.com/avwx-rest/account-backend/internal/shared/application"
	"github.com/avwx-rest/account-backend/internal/shared/infrastructure/outbox"
	"github.com/google/uuid"
)

// maxTokensPerUser bounds the token collection so one account cannot bloat
// the uniqueness index.
const maxTokensPerUser = 10

// TokenService manages the tokens embedded in a user document.
type TokenService struct {
	users    domain.UserRepository
	registry *TokenRegistry
	outbox   outbox.Repository
	uow      sharedApplication.UnitOfWork
	logger   *slog.Logger
}

// NewTokenService creates a new TokenService.
func NewTokenService(users domain.UserRepository, registry *TokenRegistry, outboxRepo outbox.Repository, uow sharedApplication.UnitOfWork, logger *slog.Logger) *TokenService {
	return &TokenService{
		users:    users,
		registry: registry,
		outbox:   outboxRepo,
		uow:      uow,
		logger:   logger,
	}
}

// List returns the user's tokens.
func (s *TokenService) List(user *domain.User) []domain.Token {
	return user.Tokens
}

// Get returns the token with the given id.
func (s *TokenService) Get(user *domain.User, id uuid.UUID) (*domain.Token, error) {
	token := user.TokenByID(id)
	if token == nil {
		return nil, domain.ErrTokenNotFound
	}
	return token, nil
}

// Create mints an additional application token for the user. Development
// tokens cannot be created here; they are granted with a paid plan.
func (s *TokenService) Create(ctx context.Context, user *domain.User, name string) (*domain.Token, error) {
	if len(user.Tokens) >= maxTokensPerUser {
		return nil, domain.ErrTokenLimit
	}

	token, err := s.registry.Generate(ctx, domain.TokenKindApp)
	if err != nil {
		return nil, err
	}
	if name = strings.TrimSpace(name); name != "" {
		token.Name = name
	}

	user.AddToken(token)
	if err := s.saveRetryingValueConflict(ctx, user, token.ID); err != nil {
		return nil, err
	}
	return user.TokenByID(token.ID), nil
}

// Update renames a token or toggles its active flag.
func (s *TokenService) Update(ctx context.Context, user *domain.User, id uuid.UUID, name *string, active *bool) (*domain.Token, error) {
	token := user.TokenByID(id)
	if token == nil {
		return nil, domain.ErrTokenNotFound
	}

	if name != nil {
		if trimmed := strings.TrimSpace(*name); trimmed != "" {
			token.Name = trimmed
		}
	}
	if active != nil {
		token.Active = *active
	}
	user.Touch()

	if err := s.save(ctx, user); err != nil {
		return nil, err
	}
	return token, nil
}

// Refresh replaces the token's value, invalidating the old one.
func (s *TokenService) Refresh(ctx context.Context, user *domain.User, id uuid.UUID) (*domain.Token, error) {
	token := user.TokenByID(id)
	if token == nil {
		return nil, domain.ErrTokenNotFound
	}

	if err := s.registry.Regenerate(ctx, token); err != nil {
		return nil, err
	}
	user.Touch()

	if err := s.saveRetryingValueConflict(ctx, user, token.ID); err != nil {
		return nil, err
	}
	return token, nil
}

// Delete removes a token from the user's collection. The last token cannot be
// removed.
func (s *TokenService) Delete(ctx context.Context, user *domain.User, id uuid.UUID) error {
	token := user.TokenByID(id)
	if token == nil {
		return domain.ErrTokenNotFound
	}
	if len(user.Tokens) == 1 {
		return domain.ErrTokenLimit
	}

	user.RemoveToken(token.Value)
	return s.save(ctx, user)
}

// saveRetryingValueConflict persists the user, regenerating the named token's
// value when the storage unique index catches a concurrent duplicate. The
// uniqueness probe in the registry closes most of the window; this closes the
// rest.
func (s *TokenService) saveRetryingValueConflict(ctx context.Context, user *domain.User, tokenID uuid.UUID) error {
	const attempts = 3

	var err error
	for i := 0; i < attempts; i++ {
		if err = s.save(ctx, user); !errors.Is(err, domain.ErrTokenValueConflict) {
			return err
		}

		token := user.TokenByID(tokenID)
		if token == nil {
			return err
		}
		s.logger.Warn("token value collided at persist, regenerating", "token_id", tokenID)
		if regenErr := s.registry.Regenerate(ctx, token); regenErr != nil {
			return regenErr
		}
	}
	return err
}

func (s *TokenService) save(ctx context.Context, user *domain.User) error {
	return sharedApplication.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		if err := s.users.Save(txCtx, user); err != nil {
			return err
		}
		return saveEvents(txCtx, s.outbox, user)
	})
}
