package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BillingClient is the narrow interface to the remote billing provider. Every
// call is synchronous; callers treat a timeout as unknown outcome and surface
// ErrRemoteBilling instead of assuming success.
type BillingClient interface {
	// CreateCheckoutSession starts a hosted payment flow for the price.
	CreateCheckoutSession(ctx context.Context, user *User, priceID string, metered bool) (*CheckoutSession, error)

	GetSubscription(ctx context.Context, subscriptionID string) (*RemoteSubscription, error)

	// ModifySubscription re-prices the given line items in place.
	ModifySubscription(ctx context.Context, subscriptionID string, changes []ItemChange) error

	// CancelSubscription deletes the remote subscription. The returned flag
	// reports whether the subscription has fully ended.
	CancelSubscription(ctx context.Context, subscriptionID string) (bool, error)

	AddSubscriptionItem(ctx context.Context, subscriptionID, priceID string, metered bool) error
	RemoveSubscriptionItem(ctx context.Context, itemID string) error

	// CreatePortalSession returns a billing-portal URL for the customer.
	CreatePortalSession(ctx context.Context, user *User) (string, error)
}

// Mailer sends transactional mail. Failures are logged by callers and never
// abort the mutation that triggered the mail.
type Mailer interface {
	SendVerification(ctx context.Context, email, link string) error
	SendPasswordReset(ctx context.Context, email, link string) error
	SendDisableWarning(ctx context.Context, email, portalURL string) error
	SendDisabled(ctx context.Context, email string) error
	SendReEnabled(ctx context.Context, email string) error
	SendEmailChanged(ctx context.Context, oldEmail, newEmail string) error
}

// CaptchaVerifier screens signups for automated traffic. Implementations
// return an error wrapping ErrCaptchaFailed when the challenge response does
// not check out.
type CaptchaVerifier interface {
	Verify(ctx context.Context, response string) error
}

// MailingList synchronizes addresses with the marketing list. Invoked through
// the outbox queue; failures retry there and never roll back user mutations.
type MailingList interface {
	Subscribe(ctx context.Context, email string) error
	Unsubscribe(ctx context.Context, email string) error
	UpdateEmail(ctx context.Context, oldEmail, newEmail string) error
}

// UsageStore records and reads per-token daily request counts.
type UsageStore interface {
	// Record increments the counter for the token on the given day.
	Record(ctx context.Context, userID, tokenID uuid.UUID, day time.Time) error

	// Counts returns, per token, counts for each of the trailing days ending
	// today. Each slice is aligned oldest first and has exactly days entries.
	Counts(ctx context.Context, tokenIDs []uuid.UUID, days int) (map[uuid.UUID][]int64, error)
}
