package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/avwx-rest/account-backend/internal/account/domain"
	sharedApplication "github.com/avwx-rest/account-backend/internal/shared/application"
	"github.com/avwx-rest/account-backend/internal/shared/infrastructure/outbox"
	"github.com/google/uuid"
)

// AccountService covers profile maintenance, the notification feed and
// account deletion.
type AccountService struct {
	users   domain.UserRepository
	billing domain.BillingClient
	outbox  outbox.Repository
	uow     sharedApplication.UnitOfWork
	logger  *slog.Logger
}

// NewAccountService creates a new AccountService.
func NewAccountService(users domain.UserRepository, billing domain.BillingClient, outboxRepo outbox.Repository, uow sharedApplication.UnitOfWork, logger *slog.Logger) *AccountService {
	return &AccountService{
		users:   users,
		billing: billing,
		outbox:  outboxRepo,
		uow:     uow,
		logger:  logger,
	}
}

// Get loads a user by id.
func (s *AccountService) Get(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return s.users.FindByID(ctx, id)
}

// UpdateProfile sets the user's display name fields.
func (s *AccountService) UpdateProfile(ctx context.Context, user *domain.User, firstName, lastName *string) error {
	if firstName != nil {
		user.FirstName = strings.TrimSpace(*firstName)
	}
	if lastName != nil {
		user.LastName = strings.TrimSpace(*lastName)
	}
	user.Touch()
	return s.save(ctx, user)
}

// DismissNotification removes one entry from the notification feed.
func (s *AccountService) DismissNotification(ctx context.Context, user *domain.User, id uuid.UUID) error {
	if !user.RemoveNotification(id) {
		return nil
	}
	return s.save(ctx, user)
}

// Notify appends a notification to the user's feed and persists it.
func (s *AccountService) Notify(ctx context.Context, user *domain.User, kind domain.NotificationKind, text string) error {
	user.Notify(kind, text)
	return s.save(ctx, user)
}

// ClearNotifications empties the notification feed.
func (s *AccountService) ClearNotifications(ctx context.Context, user *domain.User) error {
	if len(user.Notifications) == 0 {
		return nil
	}
	user.Notifications = nil
	user.Touch()
	return s.save(ctx, user)
}

// Delete removes the account. An active remote subscription is cancelled
// first; if that fails the account stays.
func (s *AccountService) Delete(ctx context.Context, user *domain.User) error {
	if user.HasSubscription() {
		if _, err := s.billing.CancelSubscription(ctx, user.Billing.SubscriptionID); err != nil {
			return fmt.Errorf("cancelling subscription: %w", domain.ErrRemoteBilling)
		}
	}

	user.Record(domain.NewUserDeleted(user.ID, user.Email))
	return sharedApplication.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		if err := saveEvents(txCtx, s.outbox, user); err != nil {
			return err
		}
		return s.users.Delete(txCtx, user)
	})
}

func (s *AccountService) save(ctx context.Context, user *domain.User) error {
	return sharedApplication.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		if err := s.users.Save(txCtx, user); err != nil {
			return err
		}
		return saveEvents(txCtx, s.outbox, user)
	})
}
