package domain

import (
	"context"

	"github.com/google/uuid"
)

// UserRepository defines access to the user document store. Every operation
// re-reads current state; implementations must not cache documents across
// calls.
type UserRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByCustomerID(ctx context.Context, customerID string) (*User, error)

	// FindByTokenValue resolves the user owning the token value through the
	// token index. ErrUserNotFound when no token matches.
	FindByTokenValue(ctx context.Context, value string) (*User, error)

	// Save persists the whole document. A duplicate token value surfaces as
	// ErrTokenValueConflict, a duplicate email as ErrEmailTaken.
	Save(ctx context.Context, user *User) error

	Delete(ctx context.Context, user *User) error

	// TokenValueExists reports whether any user's token collection contains
	// the value.
	TokenValueExists(ctx context.Context, value string) (bool, error)
}

// CatalogRepository defines read access to the plan and addon catalogs.
type CatalogRepository interface {
	PlanByKey(ctx context.Context, key string) (*Plan, error)
	PlanByPriceID(ctx context.Context, priceID string) (*Plan, error)
	AddonByKey(ctx context.Context, key string) (*Addon, error)
	AddonByPriceID(ctx context.Context, priceID string) (*Addon, error)
	AllPlans(ctx context.Context) ([]Plan, error)
	AllAddons(ctx context.Context) ([]Addon, error)
}
