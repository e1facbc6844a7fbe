package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/avwx-rest/account-backend/internal/account/domain"
	sharedApplication "github.com/avwx-rest/account-backend/internal/shared/application"
	"github.com/avwx-rest/account-backend/internal/shared/infrastructure/outbox"
	"github.com/avwx-rest/account-backend/pkg/observability"
	"github.com/google/uuid"
)

// SubscriptionReconciler keeps the local user document in agreement with the
// remote billing provider. All remote mutations happen before any local write,
// so a failed provider call never leaves the document claiming entitlements
// the provider does not bill for.
type SubscriptionReconciler struct {
	users    domain.UserRepository
	catalog  domain.CatalogRepository
	billing  domain.BillingClient
	mailer   domain.Mailer
	registry *TokenRegistry
	outbox   outbox.Repository
	uow      sharedApplication.UnitOfWork
	logger   *slog.Logger
	metrics  observability.Metrics
}

// NewSubscriptionReconciler creates a new SubscriptionReconciler.
func NewSubscriptionReconciler(
	users domain.UserRepository,
	catalog domain.CatalogRepository,
	billing domain.BillingClient,
	mailer domain.Mailer,
	registry *TokenRegistry,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
	logger *slog.Logger,
	metrics observability.Metrics,
) *SubscriptionReconciler {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &SubscriptionReconciler{
		users:    users,
		catalog:  catalog,
		billing:  billing,
		mailer:   mailer,
		registry: registry,
		outbox:   outboxRepo,
		uow:      uow,
		logger:   logger,
		metrics:  metrics,
	}
}

// ChangePlan moves the user onto the named plan. Moving a user without a
// remote subscription onto a paid plan returns a checkout session instead of
// mutating anything; the change lands later through the checkout webhook.
func (s *SubscriptionReconciler) ChangePlan(ctx context.Context, user *domain.User, planKey string, removeAddons bool) (*domain.CheckoutSession, error) {
	target, err := s.catalog.PlanByKey(ctx, planKey)
	if err != nil {
		return nil, err
	}
	if user.Plan != nil && user.Plan.Key == target.Key {
		return nil, domain.ErrAlreadySubscribed
	}

	if target.IsFree() {
		return nil, s.downgrade(ctx, user, target, removeAddons)
	}

	if !user.HasSubscription() {
		session, err := s.billing.CreateCheckoutSession(ctx, user, target.StripeID, false)
		if err != nil {
			s.metrics.Counter(observability.MetricBillingErrors, 1)
			return nil, fmt.Errorf("creating checkout session: %w", domain.ErrRemoteBilling)
		}
		s.metrics.Counter(observability.MetricCheckoutSessions, 1)
		return session, nil
	}

	// Re-price addon entitlements for the new tier before touching the
	// provider. A missing price aborts with nothing changed.
	repriced := make(map[string]string, len(user.Addons))
	for _, ent := range user.Addons {
		addon, err := s.catalog.AddonByKey(ctx, ent.Key)
		if err != nil {
			return nil, fmt.Errorf("addon %q: %w", ent.Key, domain.ErrCatalogMisconfigured)
		}
		price, ok := addon.PriceFor(target.Key)
		if !ok {
			return nil, fmt.Errorf("addon %q has no price for plan %q: %w", ent.Key, target.Key, domain.ErrCatalogMisconfigured)
		}
		repriced[ent.Key] = price
	}

	if err := s.modifyRemote(ctx, user, target, repriced); err != nil {
		s.metrics.Counter(observability.MetricBillingErrors, 1)
		s.logger.Error("remote plan change failed", "user_id", user.ID, "plan", target.Key, "error", err)
		user.Notify(domain.NotificationError, "We couldn't update your subscription. No changes were made.")
		if saveErr := s.persist(ctx, user); saveErr != nil {
			s.logger.Error("persisting failure notification", "user_id", user.ID, "error", saveErr)
		}
		return nil, fmt.Errorf("modifying subscription: %w", domain.ErrRemoteBilling)
	}

	planCopy := *target
	user.Plan = &planCopy
	for i := range user.Addons {
		user.Addons[i].PriceID = repriced[user.Addons[i].Key]
	}
	user.Notify(domain.NotificationSuccess, "Your "+target.Name+" plan is now active.")
	return nil, s.persist(ctx, user)
}

// modifyRemote applies a paid-to-paid (or free-to-paid) plan switch on the
// provider subscription: the plan line item is swapped or added, and every
// addon item whose price differs on the new tier is repriced in one call.
func (s *SubscriptionReconciler) modifyRemote(ctx context.Context, user *domain.User, target *domain.Plan, repriced map[string]string) error {
	sub, err := s.billing.GetSubscription(ctx, user.Billing.SubscriptionID)
	if err != nil {
		return err
	}

	wasFree := user.Plan == nil || user.Plan.IsFree()

	var changes []domain.ItemChange
	if !wasFree {
		if item := sub.Item(user.Plan.StripeID); item != nil {
			changes = append(changes, domain.ItemChange{ItemID: item.ID, PriceID: target.StripeID})
		}
	}
	for _, ent := range user.Addons {
		newPrice := repriced[ent.Key]
		if newPrice == ent.PriceID {
			continue
		}
		if item := sub.Item(ent.PriceID); item != nil {
			changes = append(changes, domain.ItemChange{ItemID: item.ID, PriceID: newPrice})
		}
	}

	if len(changes) > 0 {
		if err := s.billing.ModifySubscription(ctx, sub.ID, changes); err != nil {
			return err
		}
	}
	if wasFree && sub.Item(target.StripeID) == nil {
		if err := s.billing.AddSubscriptionItem(ctx, sub.ID, target.StripeID, false); err != nil {
			return err
		}
	}
	return nil
}

// downgrade moves the user to the free tier. Dev tokens are revoked. When
// removeAddons is false and addon entitlements remain, the remote subscription
// stays alive carrying only the addon items.
func (s *SubscriptionReconciler) downgrade(ctx context.Context, user *domain.User, target *domain.Plan, removeAddons bool) error {
	if user.HasSubscription() {
		if err := s.releaseRemote(ctx, user, removeAddons); err != nil {
			s.metrics.Counter(observability.MetricBillingErrors, 1)
			return fmt.Errorf("releasing subscription: %w", domain.ErrRemoteBilling)
		}
	}

	planCopy := *target
	user.Plan = &planCopy
	user.StripDevTokens()
	if removeAddons {
		user.ClearAddons()
		user.AllowOverage = false
	}
	user.Notify(domain.NotificationSuccess, "Your "+target.Name+" plan is now active.")
	return s.persist(ctx, user)
}

func (s *SubscriptionReconciler) releaseRemote(ctx context.Context, user *domain.User, removeAddons bool) error {
	sub, err := s.billing.GetSubscription(ctx, user.Billing.SubscriptionID)
	if err != nil {
		return err
	}

	if removeAddons {
		for _, ent := range user.Addons {
			if item := sub.Item(ent.PriceID); item != nil {
				if err := s.billing.RemoveSubscriptionItem(ctx, item.ID); err != nil {
					return err
				}
			}
		}
	} else if len(user.Addons) > 0 {
		// Addon items stay billed; only the plan item goes away.
		if user.Plan != nil && !user.Plan.IsFree() {
			if item := sub.Item(user.Plan.StripeID); item != nil {
				if err := s.billing.RemoveSubscriptionItem(ctx, item.ID); err != nil {
					return err
				}
			}
		}
		return nil
	}

	ended, err := s.billing.CancelSubscription(ctx, sub.ID)
	if err != nil {
		return err
	}
	if !ended {
		s.logger.Warn("subscription cancellation pending", "user_id", user.ID, "subscription_id", sub.ID)
	}
	user.Billing.SubscriptionID = ""
	return nil
}

// AddAddon attaches the addon to the user's subscription at the price for
// their current plan tier. Without a remote subscription a checkout session is
// returned and the entitlement lands through the webhook.
func (s *SubscriptionReconciler) AddAddon(ctx context.Context, user *domain.User, addonKey string) (*domain.CheckoutSession, error) {
	addon, err := s.catalog.AddonByKey(ctx, addonKey)
	if err != nil {
		return nil, err
	}
	if user.HasAddon(addon.Key) {
		return nil, domain.ErrAddonOwned
	}
	if user.Plan == nil {
		return nil, domain.ErrNoPlan
	}

	price, ok := addon.PriceFor(user.Plan.Key)
	if !ok {
		return nil, fmt.Errorf("addon %q has no price for plan %q: %w", addon.Key, user.Plan.Key, domain.ErrCatalogMisconfigured)
	}

	if !user.HasSubscription() {
		session, err := s.billing.CreateCheckoutSession(ctx, user, price, addon.Metered)
		if err != nil {
			s.metrics.Counter(observability.MetricBillingErrors, 1)
			return nil, fmt.Errorf("creating checkout session: %w", domain.ErrRemoteBilling)
		}
		s.metrics.Counter(observability.MetricCheckoutSessions, 1)
		return session, nil
	}

	if err := s.billing.AddSubscriptionItem(ctx, user.Billing.SubscriptionID, price, addon.Metered); err != nil {
		s.metrics.Counter(observability.MetricBillingErrors, 1)
		return nil, fmt.Errorf("adding subscription item: %w", domain.ErrRemoteBilling)
	}

	s.grantAddon(user, addon, price)
	return nil, s.persist(ctx, user)
}

// RemoveAddon detaches the addon from the user's subscription and revokes the
// entitlement.
func (s *SubscriptionReconciler) RemoveAddon(ctx context.Context, user *domain.User, addonKey string) error {
	ent := user.Addon(addonKey)
	if ent == nil {
		return domain.ErrAddonNotOwned
	}

	if user.HasSubscription() {
		sub, err := s.billing.GetSubscription(ctx, user.Billing.SubscriptionID)
		if err != nil {
			s.metrics.Counter(observability.MetricBillingErrors, 1)
			return fmt.Errorf("loading subscription: %w", domain.ErrRemoteBilling)
		}
		if item := sub.Item(ent.PriceID); item != nil {
			if err := s.billing.RemoveSubscriptionItem(ctx, item.ID); err != nil {
				s.metrics.Counter(observability.MetricBillingErrors, 1)
				return fmt.Errorf("removing subscription item: %w", domain.ErrRemoteBilling)
			}
		}
	}

	user.RemoveAddon(addonKey)
	if addonKey == domain.OverageAddonKey {
		user.AllowOverage = false
	}
	user.Notify(domain.NotificationSuccess, "The "+addonKey+" addon has been removed from your account.")
	return s.persist(ctx, user)
}

// ApplyEvent folds a verified billing-provider event into local state. Safe to
// call more than once per event.
func (s *SubscriptionReconciler) ApplyEvent(ctx context.Context, event domain.BillingEvent) error {
	switch ev := event.(type) {
	case domain.CheckoutCompleted:
		return s.applyCheckoutCompleted(ctx, ev)
	case domain.InvoicePaid:
		return s.applyInvoicePaid(ctx, ev)
	case domain.InvoicePaymentFailed:
		return s.applyInvoiceFailed(ctx, ev)
	default:
		return fmt.Errorf("unhandled billing event %T", event)
	}
}

func (s *SubscriptionReconciler) applyCheckoutCompleted(ctx context.Context, ev domain.CheckoutCompleted) error {
	userID, err := uuid.Parse(ev.ClientReferenceID)
	if err != nil {
		return fmt.Errorf("parsing client reference %q: %w", ev.ClientReferenceID, err)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}

	// Redelivery of a session already folded in.
	if ev.SubscriptionID != "" && user.Billing != nil && user.Billing.SubscriptionID == ev.SubscriptionID {
		s.metrics.Counter(observability.MetricWebhookDuplicates, 1)
		return nil
	}

	user.Billing = &domain.BillingInfo{
		CustomerID:     ev.CustomerID,
		SubscriptionID: ev.SubscriptionID,
	}

	plan, err := s.catalog.PlanByPriceID(ctx, ev.PriceID)
	switch {
	case err == nil:
		planCopy := *plan
		user.Plan = &planCopy
		if !user.HasDevToken() {
			token, genErr := s.registry.Generate(ctx, domain.TokenKindDev)
			if genErr != nil {
				s.logger.Error("issuing development token", "user_id", user.ID, "error", genErr)
			} else {
				user.AddToken(token)
			}
		}
		user.Notify(domain.NotificationSuccess, "Your "+plan.Name+" plan is now active.")

	case errors.Is(err, domain.ErrPlanNotFound):
		addon, addonErr := s.catalog.AddonByPriceID(ctx, ev.PriceID)
		if addonErr != nil {
			return fmt.Errorf("checkout price %q: %w", ev.PriceID, domain.ErrUnknownPrice)
		}
		s.grantAddon(user, addon, ev.PriceID)

	default:
		return err
	}

	if err := s.persist(ctx, user); err != nil {
		// The dev token minted above can lose a race with a concurrent
		// generation. Draw a new value and try once more.
		if errors.Is(err, domain.ErrTokenValueConflict) {
			if retryErr := s.regenerateDevToken(ctx, user); retryErr != nil {
				return retryErr
			}
			return s.persist(ctx, user)
		}
		return err
	}
	return nil
}

func (s *SubscriptionReconciler) regenerateDevToken(ctx context.Context, user *domain.User) error {
	for i := range user.Tokens {
		if user.Tokens[i].IsDev() {
			return s.registry.Regenerate(ctx, &user.Tokens[i])
		}
	}
	return domain.ErrTokenValueConflict
}

func (s *SubscriptionReconciler) applyInvoicePaid(ctx context.Context, ev domain.InvoicePaid) error {
	user, err := s.users.FindByCustomerID(ctx, ev.CustomerID)
	if err != nil {
		return err
	}
	if !user.Disabled {
		return nil
	}

	user.Disabled = false
	user.Notify(domain.NotificationSuccess, "Your account has been re-enabled. Thank you!")
	if err := s.persist(ctx, user); err != nil {
		return err
	}

	if err := s.mailer.SendReEnabled(ctx, user.Email); err != nil {
		s.logger.Error("sending re-enabled mail", "user_id", user.ID, "error", err)
	}
	return nil
}

func (s *SubscriptionReconciler) applyInvoiceFailed(ctx context.Context, ev domain.InvoicePaymentFailed) error {
	if ev.Paid || ev.AttemptCount == 0 {
		return nil
	}

	user, err := s.users.FindByCustomerID(ctx, ev.CustomerID)
	if err != nil {
		return err
	}

	if ev.AttemptCount == 1 {
		portalURL, portalErr := s.billing.CreatePortalSession(ctx, user)
		if portalErr != nil {
			s.logger.Error("creating portal session for payment warning", "user_id", user.ID, "error", portalErr)
		}
		user.Notify(domain.NotificationWarning, "We couldn't process your last payment. Please update your payment details.")
		if err := s.persist(ctx, user); err != nil {
			return err
		}
		if err := s.mailer.SendDisableWarning(ctx, user.Email, portalURL); err != nil {
			s.logger.Error("sending payment warning mail", "user_id", user.ID, "error", err)
		}
		return nil
	}

	if user.Disabled {
		return nil
	}
	user.Disabled = true
	user.Notify(domain.NotificationError, "Your account has been disabled after repeated failed payments.")
	if err := s.persist(ctx, user); err != nil {
		return err
	}
	if err := s.mailer.SendDisabled(ctx, user.Email); err != nil {
		s.logger.Error("sending account disabled mail", "user_id", user.ID, "error", err)
	}
	return nil
}

func (s *SubscriptionReconciler) grantAddon(user *domain.User, addon *domain.Addon, priceID string) {
	user.SetAddon(domain.Entitlement{Key: addon.Key, PriceID: priceID})
	if addon.Key == domain.OverageAddonKey {
		user.AllowOverage = true
	}
	user.Notify(domain.NotificationSuccess, "The "+addon.Key+" addon has been added to your account.")
}

func (s *SubscriptionReconciler) persist(ctx context.Context, user *domain.User) error {
	return sharedApplication.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		if err := s.users.Save(txCtx, user); err != nil {
			return err
		}
		return saveEvents(txCtx, s.outbox, user)
	})
}
