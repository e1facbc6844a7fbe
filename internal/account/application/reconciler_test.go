package application

import (
	"context"
	"testing"

	"github.com/avwx-rest/account-backend/internal/account/domain"
	"github.com/avwx-rest/account-backend/pkg/observability"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEmail(t *testing.T, value string) domain.Email {
	t.Helper()
	email, err := domain.NewEmail(value)
	require.NoError(t, err)
	return email
}

func testCatalog() *fakeCatalog {
	return &fakeCatalog{
		plans: []domain.Plan{
			{Key: "free", Name: "Free", Level: 0, Limit: 4000},
			{Key: "pro", Name: "Pro", Level: 1, Price: 10, Limit: 400000, StripeID: "price_pro"},
			{Key: "enterprise", Name: "Enterprise", Level: 2, Price: 50, Limit: 4000000, StripeID: "price_ent"},
		},
		addons: []domain.Addon{
			{
				Key:       "overage",
				ProductID: "prod_overage",
				PriceIDs:  map[string]string{"pro": "price_ov_pro", "enterprise": "price_ov_ent"},
				Metered:   true,
			},
		},
	}
}

func freeUser(t *testing.T) *domain.User {
	t.Helper()
	user := domain.NewUser(mustEmail(t, "pilot@example.com"), "hash", &domain.Plan{Key: "free", Name: "Free"})
	user.ClearEvents()
	return user
}

func paidUser(t *testing.T) *domain.User {
	t.Helper()
	user := freeUser(t)
	user.Plan = &domain.Plan{Key: "pro", Name: "Pro", Level: 1, StripeID: "price_pro"}
	user.Billing = &domain.BillingInfo{CustomerID: "cus_1", SubscriptionID: "sub_1"}
	user.AddToken(domain.Token{ID: uuid.New(), Name: "Token", Kind: domain.TokenKindApp, Value: "appvalue", Active: true})
	user.AddToken(domain.Token{ID: uuid.New(), Name: "Development", Kind: domain.TokenKindDev, Value: "dev-value", Active: true})
	return user
}

type reconcilerEnv struct {
	repo    *fakeUserRepo
	catalog *fakeCatalog
	billing *fakeBilling
	mailer  *fakeMailer
	outbox  *fakeOutbox
	rec     *SubscriptionReconciler
}

func newReconcilerEnv(users ...*domain.User) *reconcilerEnv {
	repo := newFakeUserRepo(users...)
	env := &reconcilerEnv{
		repo:    repo,
		catalog: testCatalog(),
		billing: &fakeBilling{},
		mailer:  &fakeMailer{},
		outbox:  &fakeOutbox{},
	}
	registry := NewTokenRegistry(repo, testLogger(), nil)
	env.rec = NewSubscriptionReconciler(
		repo, env.catalog, env.billing, env.mailer, registry,
		env.outbox, &fakeUnitOfWork{}, testLogger(), observability.NewInMemoryMetrics(),
	)
	return env
}

func proSubscription() *domain.RemoteSubscription {
	return &domain.RemoteSubscription{
		ID: "sub_1",
		Items: []domain.SubscriptionItem{
			{ID: "si_plan", PriceID: "price_pro"},
			{ID: "si_ov", PriceID: "price_ov_pro"},
		},
	}
}

func TestChangePlan_UnknownPlan(t *testing.T) {
	user := freeUser(t)
	env := newReconcilerEnv(user)

	_, err := env.rec.ChangePlan(context.Background(), user, "ultimate", false)
	require.ErrorIs(t, err, domain.ErrPlanNotFound)
}

func TestChangePlan_SamePlan(t *testing.T) {
	user := freeUser(t)
	env := newReconcilerEnv(user)

	_, err := env.rec.ChangePlan(context.Background(), user, "free", false)
	require.ErrorIs(t, err, domain.ErrAlreadySubscribed)
}

func TestChangePlan_FreeToPaidReturnsCheckout(t *testing.T) {
	user := freeUser(t)
	env := newReconcilerEnv(user)
	env.billing.session = &domain.CheckoutSession{ID: "cs_1", URL: "https://checkout.example.com/cs_1"}

	session, err := env.rec.ChangePlan(context.Background(), user, "pro", false)
	require.NoError(t, err)

	require.NotNil(t, session)
	assert.Equal(t, "cs_1", session.ID)

	// Nothing changes locally until the checkout webhook lands.
	assert.Equal(t, "free", user.Plan.Key)
	assert.Empty(t, env.repo.saved)
}

func TestChangePlan_PaidToPaidModifiesInPlace(t *testing.T) {
	user := paidUser(t)
	user.SetAddon(domain.Entitlement{Key: "overage", PriceID: "price_ov_pro"})
	user.AllowOverage = true
	env := newReconcilerEnv(user)
	env.billing.subscription = proSubscription()

	session, err := env.rec.ChangePlan(context.Background(), user, "enterprise", false)
	require.NoError(t, err)
	assert.Nil(t, session)

	require.Equal(t, 1, env.billing.called("ModifySubscription"))
	modify := env.billing.calls[len(env.billing.calls)-1]
	assert.Equal(t, []string{"sub_1", "si_plan=price_ent", "si_ov=price_ov_ent"}, modify.args)

	assert.Equal(t, "enterprise", user.Plan.Key)
	require.NotNil(t, user.Addon("overage"))
	assert.Equal(t, "price_ov_ent", user.Addon("overage").PriceID)
	assert.True(t, user.HasDevToken())
	require.Len(t, env.repo.saved, 1)
	require.NotEmpty(t, user.Notifications)
	assert.Equal(t, domain.NotificationSuccess, user.Notifications[len(user.Notifications)-1].Kind)
}

func TestChangePlan_RemoteFailureLeavesStateAlone(t *testing.T) {
	user := paidUser(t)
	env := newReconcilerEnv(user)
	env.billing.subscription = proSubscription()
	env.billing.modifyErr = assert.AnError

	_, err := env.rec.ChangePlan(context.Background(), user, "enterprise", false)
	require.ErrorIs(t, err, domain.ErrRemoteBilling)

	assert.Equal(t, "pro", user.Plan.Key)
	require.NotEmpty(t, user.Notifications)
	assert.Equal(t, domain.NotificationError, user.Notifications[len(user.Notifications)-1].Kind)
	// The failure notification itself is persisted.
	assert.Len(t, env.repo.saved, 1)
}

func TestChangePlan_MissingAddonPriceAborts(t *testing.T) {
	user := paidUser(t)
	user.SetAddon(domain.Entitlement{Key: "overage", PriceID: "price_ov_pro"})
	env := newReconcilerEnv(user)
	// The catalog has no overage price for the free tier's paid sibling; use a
	// plan outside the addon's price map.
	env.catalog.plans = append(env.catalog.plans, domain.Plan{Key: "legacy", Name: "Legacy", Level: 3, StripeID: "price_legacy"})

	_, err := env.rec.ChangePlan(context.Background(), user, "legacy", false)
	require.ErrorIs(t, err, domain.ErrCatalogMisconfigured)

	assert.Empty(t, env.billing.calls)
	assert.Equal(t, "pro", user.Plan.Key)
}

func TestChangePlan_DowngradeKeepingAddons(t *testing.T) {
	user := paidUser(t)
	user.SetAddon(domain.Entitlement{Key: "overage", PriceID: "price_ov_pro"})
	user.AllowOverage = true
	env := newReconcilerEnv(user)
	env.billing.subscription = proSubscription()

	session, err := env.rec.ChangePlan(context.Background(), user, "free", false)
	require.NoError(t, err)
	assert.Nil(t, session)

	// Only the plan item is dropped; the subscription keeps billing addons.
	assert.Equal(t, 1, env.billing.called("RemoveSubscriptionItem"))
	assert.Equal(t, 0, env.billing.called("CancelSubscription"))
	assert.Equal(t, "sub_1", user.Billing.SubscriptionID)

	assert.Equal(t, "free", user.Plan.Key)
	assert.True(t, user.HasAddon("overage"))
	assert.True(t, user.AllowOverage)
	assert.False(t, user.HasDevToken())
}

func TestChangePlan_DowngradeRemovingAddons(t *testing.T) {
	user := paidUser(t)
	user.SetAddon(domain.Entitlement{Key: "overage", PriceID: "price_ov_pro"})
	user.AllowOverage = true
	env := newReconcilerEnv(user)
	env.billing.subscription = proSubscription()
	env.billing.cancelEnded = true

	_, err := env.rec.ChangePlan(context.Background(), user, "free", true)
	require.NoError(t, err)

	assert.Equal(t, 1, env.billing.called("RemoveSubscriptionItem"))
	assert.Equal(t, 1, env.billing.called("CancelSubscription"))

	assert.Equal(t, "free", user.Plan.Key)
	assert.False(t, user.HasAddon("overage"))
	assert.False(t, user.AllowOverage)
	assert.False(t, user.HasDevToken())
	assert.Empty(t, user.Billing.SubscriptionID)
}

func TestChangePlan_DowngradeCancelFailureAborts(t *testing.T) {
	user := paidUser(t)
	env := newReconcilerEnv(user)
	env.billing.subscription = proSubscription()
	env.billing.cancelErr = assert.AnError

	_, err := env.rec.ChangePlan(context.Background(), user, "free", true)
	require.ErrorIs(t, err, domain.ErrRemoteBilling)

	assert.Equal(t, "pro", user.Plan.Key)
	assert.True(t, user.HasDevToken())
	assert.Equal(t, "sub_1", user.Billing.SubscriptionID)
}

func TestAddAddon_WithoutSubscriptionReturnsCheckout(t *testing.T) {
	user := freeUser(t)
	user.Plan = &domain.Plan{Key: "pro", Name: "Pro", Level: 1, StripeID: "price_pro"}
	env := newReconcilerEnv(user)
	env.billing.session = &domain.CheckoutSession{ID: "cs_2", URL: "https://checkout.example.com/cs_2"}

	session, err := env.rec.AddAddon(context.Background(), user, "overage")
	require.NoError(t, err)

	require.NotNil(t, session)
	assert.False(t, user.HasAddon("overage"))
	assert.Empty(t, env.repo.saved)
}

func TestAddAddon_WithSubscription(t *testing.T) {
	user := paidUser(t)
	env := newReconcilerEnv(user)

	session, err := env.rec.AddAddon(context.Background(), user, "overage")
	require.NoError(t, err)
	assert.Nil(t, session)

	require.Equal(t, 1, env.billing.called("AddSubscriptionItem"))
	add := env.billing.calls[0]
	assert.Equal(t, []string{"sub_1", "price_ov_pro"}, add.args)

	require.True(t, user.HasAddon("overage"))
	assert.Equal(t, "price_ov_pro", user.Addon("overage").PriceID)
	assert.True(t, user.AllowOverage)
	assert.Len(t, env.repo.saved, 1)
}

func TestAddAddon_AlreadyOwned(t *testing.T) {
	user := paidUser(t)
	user.SetAddon(domain.Entitlement{Key: "overage", PriceID: "price_ov_pro"})
	env := newReconcilerEnv(user)

	_, err := env.rec.AddAddon(context.Background(), user, "overage")
	require.ErrorIs(t, err, domain.ErrAddonOwned)
	assert.Empty(t, env.billing.calls)
}

func TestAddAddon_NoPlan(t *testing.T) {
	user := freeUser(t)
	user.Plan = nil
	env := newReconcilerEnv(user)

	_, err := env.rec.AddAddon(context.Background(), user, "overage")
	require.ErrorIs(t, err, domain.ErrNoPlan)
}

func TestRemoveAddon(t *testing.T) {
	user := paidUser(t)
	user.SetAddon(domain.Entitlement{Key: "overage", PriceID: "price_ov_pro"})
	user.AllowOverage = true
	env := newReconcilerEnv(user)
	env.billing.subscription = proSubscription()

	require.NoError(t, env.rec.RemoveAddon(context.Background(), user, "overage"))

	require.Equal(t, 1, env.billing.called("RemoveSubscriptionItem"))
	assert.False(t, user.HasAddon("overage"))
	assert.False(t, user.AllowOverage)
	assert.Len(t, env.repo.saved, 1)
}

func TestRemoveAddon_NotOwned(t *testing.T) {
	user := paidUser(t)
	env := newReconcilerEnv(user)

	err := env.rec.RemoveAddon(context.Background(), user, "overage")
	require.ErrorIs(t, err, domain.ErrAddonNotOwned)
}

func TestApplyEvent_CheckoutCompletedPlan(t *testing.T) {
	user := freeUser(t)
	env := newReconcilerEnv(user)

	err := env.rec.ApplyEvent(context.Background(), domain.CheckoutCompleted{
		EventID:           "evt_1",
		SessionID:         "cs_1",
		ClientReferenceID: user.ID.String(),
		CustomerID:        "cus_9",
		SubscriptionID:    "sub_9",
		PriceID:           "price_pro",
	})
	require.NoError(t, err)

	require.NotNil(t, user.Billing)
	assert.Equal(t, "cus_9", user.Billing.CustomerID)
	assert.Equal(t, "sub_9", user.Billing.SubscriptionID)
	assert.Equal(t, "pro", user.Plan.Key)
	assert.True(t, user.HasDevToken())
	assert.Len(t, env.repo.saved, 1)
	require.NotEmpty(t, user.Notifications)
	assert.Equal(t, domain.NotificationSuccess, user.Notifications[0].Kind)
}

func TestApplyEvent_CheckoutCompletedRedelivery(t *testing.T) {
	user := paidUser(t)
	env := newReconcilerEnv(user)

	err := env.rec.ApplyEvent(context.Background(), domain.CheckoutCompleted{
		EventID:           "evt_1",
		ClientReferenceID: user.ID.String(),
		CustomerID:        "cus_1",
		SubscriptionID:    "sub_1",
		PriceID:           "price_pro",
	})
	require.NoError(t, err)

	assert.Empty(t, env.repo.saved)
	assert.Empty(t, user.Notifications)
}

func TestApplyEvent_CheckoutCompletedAddon(t *testing.T) {
	user := paidUser(t)
	user.Billing.SubscriptionID = ""
	env := newReconcilerEnv(user)

	err := env.rec.ApplyEvent(context.Background(), domain.CheckoutCompleted{
		EventID:           "evt_2",
		ClientReferenceID: user.ID.String(),
		CustomerID:        "cus_1",
		SubscriptionID:    "sub_2",
		PriceID:           "price_ov_pro",
	})
	require.NoError(t, err)

	require.True(t, user.HasAddon("overage"))
	assert.Equal(t, "price_ov_pro", user.Addon("overage").PriceID)
	assert.True(t, user.AllowOverage)
	assert.Equal(t, "sub_2", user.Billing.SubscriptionID)
}

func TestApplyEvent_CheckoutCompletedUnknownPrice(t *testing.T) {
	user := freeUser(t)
	env := newReconcilerEnv(user)

	err := env.rec.ApplyEvent(context.Background(), domain.CheckoutCompleted{
		EventID:           "evt_3",
		ClientReferenceID: user.ID.String(),
		CustomerID:        "cus_9",
		SubscriptionID:    "sub_9",
		PriceID:           "price_mystery",
	})
	require.ErrorIs(t, err, domain.ErrUnknownPrice)
	assert.Empty(t, env.repo.saved)
}

func TestApplyEvent_InvoicePaidReEnables(t *testing.T) {
	user := paidUser(t)
	user.Disabled = true
	env := newReconcilerEnv(user)

	err := env.rec.ApplyEvent(context.Background(), domain.InvoicePaid{EventID: "evt_4", CustomerID: "cus_1"})
	require.NoError(t, err)

	assert.False(t, user.Disabled)
	assert.Equal(t, "re_enabled", env.mailer.lastKind())
	assert.Len(t, env.repo.saved, 1)
}

func TestApplyEvent_InvoicePaidAlreadyEnabled(t *testing.T) {
	user := paidUser(t)
	env := newReconcilerEnv(user)

	err := env.rec.ApplyEvent(context.Background(), domain.InvoicePaid{EventID: "evt_5", CustomerID: "cus_1"})
	require.NoError(t, err)

	assert.Empty(t, env.repo.saved)
	assert.Empty(t, env.mailer.sent)
}

func TestApplyEvent_InvoiceFailedFirstAttemptWarns(t *testing.T) {
	user := paidUser(t)
	env := newReconcilerEnv(user)
	env.billing.portalURL = "https://portal.example.com/p_1"

	err := env.rec.ApplyEvent(context.Background(), domain.InvoicePaymentFailed{
		EventID:      "evt_6",
		CustomerID:   "cus_1",
		AttemptCount: 1,
	})
	require.NoError(t, err)

	assert.False(t, user.Disabled)
	require.Len(t, env.mailer.sent, 1)
	assert.Equal(t, "disable_warning", env.mailer.sent[0].kind)
	assert.Equal(t, "https://portal.example.com/p_1", env.mailer.sent[0].link)
	require.NotEmpty(t, user.Notifications)
	assert.Equal(t, domain.NotificationWarning, user.Notifications[0].Kind)
}

func TestApplyEvent_InvoiceFailedSecondAttemptDisables(t *testing.T) {
	user := paidUser(t)
	env := newReconcilerEnv(user)

	err := env.rec.ApplyEvent(context.Background(), domain.InvoicePaymentFailed{
		EventID:      "evt_7",
		CustomerID:   "cus_1",
		AttemptCount: 2,
	})
	require.NoError(t, err)

	assert.True(t, user.Disabled)
	assert.Equal(t, "disabled", env.mailer.lastKind())
	require.NotEmpty(t, user.Notifications)
	assert.Equal(t, domain.NotificationError, user.Notifications[0].Kind)
}

func TestApplyEvent_InvoiceFailedButPaid(t *testing.T) {
	user := paidUser(t)
	env := newReconcilerEnv(user)

	err := env.rec.ApplyEvent(context.Background(), domain.InvoicePaymentFailed{
		EventID:      "evt_8",
		CustomerID:   "cus_1",
		Paid:         true,
		AttemptCount: 3,
	})
	require.NoError(t, err)

	assert.False(t, user.Disabled)
	assert.Empty(t, env.repo.saved)
	assert.Empty(t, env.mailer.sent)
}
