package domain

import (
	sharedDomain "github.com/avwx-rest/account-backend/internal/shared/domain"
	"github.com/google/uuid"
)

const (
	AggregateType = "User"

	RoutingKeyUserRegistered   = "account.user.registered"
	RoutingKeyUserEmailChanged = "account.user.email_changed"
	RoutingKeyUserDeleted      = "account.user.deleted"
)

// DomainEvent is re-exported so account packages do not import the shared
// kernel directly.
type DomainEvent = sharedDomain.DomainEvent

// UserRegistered is emitted when a new account is created.
type UserRegistered struct {
	sharedDomain.BaseEvent
	Email string `json:"email"`
}

// NewUserRegistered creates a UserRegistered event.
func NewUserRegistered(userID uuid.UUID, email string) *UserRegistered {
	return &UserRegistered{
		BaseEvent: sharedDomain.NewBaseEvent(userID, AggregateType, RoutingKeyUserRegistered),
		Email:     email,
	}
}

// UserEmailChanged is emitted when a user's email address changes.
type UserEmailChanged struct {
	sharedDomain.BaseEvent
	OldEmail string `json:"old_email"`
	NewEmail string `json:"new_email"`
}

// NewUserEmailChanged creates a UserEmailChanged event.
func NewUserEmailChanged(userID uuid.UUID, oldEmail, newEmail string) *UserEmailChanged {
	return &UserEmailChanged{
		BaseEvent: sharedDomain.NewBaseEvent(userID, AggregateType, RoutingKeyUserEmailChanged),
		OldEmail:  oldEmail,
		NewEmail:  newEmail,
	}
}

// UserDeleted is emitted when an account is removed.
type UserDeleted struct {
	sharedDomain.BaseEvent
	Email string `json:"email"`
}

// NewUserDeleted creates a UserDeleted event.
func NewUserDeleted(userID uuid.UUID, email string) *UserDeleted {
	return &UserDeleted{
		BaseEvent: sharedDomain.NewBaseEvent(userID, AggregateType, RoutingKeyUserDeleted),
		Email:     email,
	}
}
