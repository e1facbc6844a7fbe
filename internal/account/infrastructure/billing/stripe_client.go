package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avwx-rest/account-backend/internal/account/domain"
	"github.com/avwx-rest/account-backend/pkg/observability"
	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v78"
	portalsession "github.com/stripe/stripe-go/v78/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v78/checkout/session"
	"github.com/stripe/stripe-go/v78/subscription"
	"github.com/stripe/stripe-go/v78/subscriptionitem"
)

// Config holds the Stripe client settings.
type Config struct {
	APIKey      string
	RootURL     string
	CallTimeout time.Duration

	// Breaker settings; zero values fall back to defaults.
	BreakerMaxRequests      uint32
	BreakerInterval         time.Duration
	BreakerTimeout          time.Duration
	BreakerFailureThreshold uint32
}

// StripeClient implements domain.BillingClient against the Stripe API. Every
// call runs under a deadline and a shared circuit breaker, so a provider
// outage fails fast instead of tying up request handlers.
type StripeClient struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
	metrics observability.Metrics
}

// NewStripeClient creates a new StripeClient and sets the global API key.
func NewStripeClient(cfg Config, logger *slog.Logger, metrics observability.Metrics) *StripeClient {
	stripe.Key = cfg.APIKey

	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.BreakerMaxRequests == 0 {
		cfg.BreakerMaxRequests = 3
	}
	if cfg.BreakerInterval <= 0 {
		cfg.BreakerInterval = time.Minute
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.BreakerFailureThreshold == 0 {
		cfg.BreakerFailureThreshold = 5
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}

	settings := gobreaker.Settings{
		Name:        "stripe",
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("billing circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	return &StripeClient{
		cfg:     cfg,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		logger:  logger,
		metrics: metrics,
	}
}

// call runs a Stripe operation under the breaker and records metrics.
func (c *StripeClient) call(op string, fn func() (any, error)) (any, error) {
	timer := observability.StartTimer(op).WithMetrics(c.metrics)
	result, err := c.breaker.Execute(fn)
	timer.StopWithError(err)
	c.metrics.Counter(observability.MetricBillingCalls, 1, observability.T("op", op))
	if err != nil {
		c.metrics.Counter(observability.MetricBillingErrors, 1, observability.T("op", op))
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s: circuit open: %w", op, domain.ErrRemoteBilling)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

func (c *StripeClient) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.CallTimeout)
}

// CreateCheckoutSession starts a hosted payment flow for the price. The user
// id rides along as the client reference so the completion webhook can find
// the account.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, user *domain.User, priceID string, metered bool) (*domain.CheckoutSession, error) {
	ctx, cancel := c.deadline(ctx)
	defer cancel()

	item := &stripe.CheckoutSessionLineItemParams{Price: stripe.String(priceID)}
	if !metered {
		item.Quantity = stripe.Int64(1)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(user.ID.String()),
		SuccessURL:        stripe.String(c.cfg.RootURL + "/stripe/success"),
		CancelURL:         stripe.String(c.cfg.RootURL + "/stripe/cancel"),
		LineItems:         []*stripe.CheckoutSessionLineItemParams{item},
	}
	params.Context = ctx
	if user.Billing != nil && user.Billing.CustomerID != "" {
		params.Customer = stripe.String(user.Billing.CustomerID)
	} else {
		params.CustomerEmail = stripe.String(user.Email)
	}

	result, err := c.call("create_checkout_session", func() (any, error) {
		return checkoutsession.New(params)
	})
	if err != nil {
		return nil, err
	}

	sess := result.(*stripe.CheckoutSession)
	return &domain.CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// GetSubscription loads the remote subscription with its line items.
func (c *StripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*domain.RemoteSubscription, error) {
	ctx, cancel := c.deadline(ctx)
	defer cancel()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	result, err := c.call("get_subscription", func() (any, error) {
		return subscription.Get(subscriptionID, params)
	})
	if err != nil {
		return nil, err
	}

	return toRemoteSubscription(result.(*stripe.Subscription)), nil
}

// ModifySubscription re-prices the given line items in place without
// proration surprises on metered items.
func (c *StripeClient) ModifySubscription(ctx context.Context, subscriptionID string, changes []domain.ItemChange) error {
	if len(changes) == 0 {
		return nil
	}

	ctx, cancel := c.deadline(ctx)
	defer cancel()

	items := make([]*stripe.SubscriptionItemsParams, len(changes))
	for i, change := range changes {
		items[i] = &stripe.SubscriptionItemsParams{
			ID:    stripe.String(change.ItemID),
			Price: stripe.String(change.PriceID),
		}
	}

	params := &stripe.SubscriptionParams{Items: items}
	params.Context = ctx

	_, err := c.call("modify_subscription", func() (any, error) {
		return subscription.Update(subscriptionID, params)
	})
	return err
}

// CancelSubscription deletes the remote subscription immediately. The
// returned flag reports whether Stripe confirmed the final canceled state.
func (c *StripeClient) CancelSubscription(ctx context.Context, subscriptionID string) (bool, error) {
	ctx, cancel := c.deadline(ctx)
	defer cancel()

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	result, err := c.call("cancel_subscription", func() (any, error) {
		return subscription.Cancel(subscriptionID, params)
	})
	if err != nil {
		return false, err
	}

	sub := result.(*stripe.Subscription)
	return sub.Status == stripe.SubscriptionStatusCanceled, nil
}

// AddSubscriptionItem attaches a price to an existing subscription. Metered
// prices must not carry a quantity.
func (c *StripeClient) AddSubscriptionItem(ctx context.Context, subscriptionID, priceID string, metered bool) error {
	ctx, cancel := c.deadline(ctx)
	defer cancel()

	params := &stripe.SubscriptionItemParams{
		Subscription: stripe.String(subscriptionID),
		Price:        stripe.String(priceID),
	}
	if !metered {
		params.Quantity = stripe.Int64(1)
	}
	params.Context = ctx

	_, err := c.call("add_subscription_item", func() (any, error) {
		return subscriptionitem.New(params)
	})
	return err
}

// RemoveSubscriptionItem detaches a line item. Usage on metered items is
// cleared so the final invoice does not bill a removed addon.
func (c *StripeClient) RemoveSubscriptionItem(ctx context.Context, itemID string) error {
	ctx, cancel := c.deadline(ctx)
	defer cancel()

	params := &stripe.SubscriptionItemParams{
		ClearUsage: stripe.Bool(true),
	}
	params.Context = ctx

	_, err := c.call("remove_subscription_item", func() (any, error) {
		return subscriptionitem.Del(itemID, params)
	})
	return err
}

// CreatePortalSession returns a billing-portal URL for the customer.
func (c *StripeClient) CreatePortalSession(ctx context.Context, user *domain.User) (string, error) {
	if user.Billing == nil || user.Billing.CustomerID == "" {
		return "", fmt.Errorf("user has no billing customer: %w", domain.ErrRemoteBilling)
	}

	ctx, cancel := c.deadline(ctx)
	defer cancel()

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(user.Billing.CustomerID),
		ReturnURL: stripe.String(c.cfg.RootURL),
	}
	params.Context = ctx

	result, err := c.call("create_portal_session", func() (any, error) {
		return portalsession.New(params)
	})
	if err != nil {
		return "", err
	}
	return result.(*stripe.BillingPortalSession).URL, nil
}

// CheckoutPrice resolves the price id purchased through a completed checkout
// session. Line items are not included in webhook payloads, so this is a
// follow-up fetch.
func (c *StripeClient) CheckoutPrice(ctx context.Context, sessionID string) (string, error) {
	ctx, cancel := c.deadline(ctx)
	defer cancel()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("line_items")

	result, err := c.call("get_checkout_session", func() (any, error) {
		return checkoutsession.Get(sessionID, params)
	})
	if err != nil {
		return "", err
	}

	sess := result.(*stripe.CheckoutSession)
	if sess.LineItems == nil || len(sess.LineItems.Data) == 0 || sess.LineItems.Data[0].Price == nil {
		return "", fmt.Errorf("checkout session %s has no line items", sessionID)
	}
	return sess.LineItems.Data[0].Price.ID, nil
}

func toRemoteSubscription(sub *stripe.Subscription) *domain.RemoteSubscription {
	remote := &domain.RemoteSubscription{ID: sub.ID}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item.Price == nil {
				continue
			}
			remote.Items = append(remote.Items, domain.SubscriptionItem{
				ID:      item.ID,
				PriceID: item.Price.ID,
			})
		}
	}
	return remote
}
