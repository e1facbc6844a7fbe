package application

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/avwx-rest/account-backend/internal/account/domain"
	"github.com/avwx-rest/account-backend/internal/shared/infrastructure/outbox"
	"github.com/google/uuid"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*domain.User

	// existingValues seeds TokenValueExists independently of stored users.
	existingValues map[string]bool

	// collideFirst makes TokenValueExists report true for the first n calls.
	collideFirst int
	existsCalls  int

	saveErr    error
	saveErrors []error
	saved      []*domain.User
	deleted    []*domain.User
}

func newFakeUserRepo(users ...*domain.User) *fakeUserRepo {
	r := &fakeUserRepo{
		users:          make(map[uuid.UUID]*domain.User),
		existingValues: make(map[string]bool),
	}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeUserRepo) FindByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return nil, domain.ErrUserNotFound
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *fakeUserRepo) FindByCustomerID(_ context.Context, customerID string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Billing != nil && u.Billing.CustomerID == customerID {
			return u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *fakeUserRepo) FindByTokenValue(_ context.Context, value string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Token(value) != nil {
			return u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *fakeUserRepo) Save(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.saveErrors) > 0 {
		err := r.saveErrors[0]
		r.saveErrors = r.saveErrors[1:]
		if err != nil {
			return err
		}
	} else if r.saveErr != nil {
		return r.saveErr
	}
	r.users[user.ID] = user
	r.saved = append(r.saved, user)
	return nil
}

func (r *fakeUserRepo) Delete(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.users, user.ID)
	r.deleted = append(r.deleted, user)
	return nil
}

func (r *fakeUserRepo) TokenValueExists(_ context.Context, value string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.existsCalls++
	if r.existsCalls <= r.collideFirst {
		return true, nil
	}
	if r.existingValues[value] {
		return true, nil
	}
	for _, u := range r.users {
		if u.Token(value) != nil {
			return true, nil
		}
	}
	return false, nil
}

type fakeCatalog struct {
	plans  []domain.Plan
	addons []domain.Addon
}

func (c *fakeCatalog) PlanByKey(_ context.Context, key string) (*domain.Plan, error) {
	for i := range c.plans {
		if c.plans[i].Key == key {
			return &c.plans[i], nil
		}
	}
	return nil, domain.ErrPlanNotFound
}

func (c *fakeCatalog) PlanByPriceID(_ context.Context, priceID string) (*domain.Plan, error) {
	for i := range c.plans {
		if c.plans[i].StripeID == priceID && priceID != "" {
			return &c.plans[i], nil
		}
	}
	return nil, domain.ErrPlanNotFound
}

func (c *fakeCatalog) AddonByKey(_ context.Context, key string) (*domain.Addon, error) {
	for i := range c.addons {
		if c.addons[i].Key == key {
			return &c.addons[i], nil
		}
	}
	return nil, domain.ErrAddonNotFound
}

func (c *fakeCatalog) AddonByPriceID(_ context.Context, priceID string) (*domain.Addon, error) {
	for i := range c.addons {
		if c.addons[i].HasPrice(priceID) {
			return &c.addons[i], nil
		}
	}
	return nil, domain.ErrAddonNotFound
}

func (c *fakeCatalog) AllPlans(_ context.Context) ([]domain.Plan, error)   { return c.plans, nil }
func (c *fakeCatalog) AllAddons(_ context.Context) ([]domain.Addon, error) { return c.addons, nil }

type billingCall struct {
	method string
	args   []string
}

type fakeBilling struct {
	calls []billingCall

	session      *domain.CheckoutSession
	sessionErr   error
	subscription *domain.RemoteSubscription
	getSubErr    error
	modifyErr    error
	cancelEnded  bool
	cancelErr    error
	addItemErr   error
	removeErr    error
	portalURL    string
	portalErr    error
}

func (b *fakeBilling) record(method string, args ...string) {
	b.calls = append(b.calls, billingCall{method: method, args: args})
}

func (b *fakeBilling) called(method string) int {
	n := 0
	for _, c := range b.calls {
		if c.method == method {
			n++
		}
	}
	return n
}

func (b *fakeBilling) CreateCheckoutSession(_ context.Context, user *domain.User, priceID string, _ bool) (*domain.CheckoutSession, error) {
	b.record("CreateCheckoutSession", user.ID.String(), priceID)
	return b.session, b.sessionErr
}

func (b *fakeBilling) GetSubscription(_ context.Context, subscriptionID string) (*domain.RemoteSubscription, error) {
	b.record("GetSubscription", subscriptionID)
	return b.subscription, b.getSubErr
}

func (b *fakeBilling) ModifySubscription(_ context.Context, subscriptionID string, changes []domain.ItemChange) error {
	args := []string{subscriptionID}
	for _, ch := range changes {
		args = append(args, ch.ItemID+"="+ch.PriceID)
	}
	b.record("ModifySubscription", args...)
	return b.modifyErr
}

func (b *fakeBilling) CancelSubscription(_ context.Context, subscriptionID string) (bool, error) {
	b.record("CancelSubscription", subscriptionID)
	return b.cancelEnded, b.cancelErr
}

func (b *fakeBilling) AddSubscriptionItem(_ context.Context, subscriptionID, priceID string, _ bool) error {
	b.record("AddSubscriptionItem", subscriptionID, priceID)
	return b.addItemErr
}

func (b *fakeBilling) RemoveSubscriptionItem(_ context.Context, itemID string) error {
	b.record("RemoveSubscriptionItem", itemID)
	return b.removeErr
}

func (b *fakeBilling) CreatePortalSession(_ context.Context, user *domain.User) (string, error) {
	b.record("CreatePortalSession", user.ID.String())
	return b.portalURL, b.portalErr
}

type mailCall struct {
	kind string
	to   string
	link string
}

type fakeCaptcha struct {
	seen      []string
	verifyErr error
}

func (c *fakeCaptcha) Verify(_ context.Context, response string) error {
	c.seen = append(c.seen, response)
	return c.verifyErr
}

type fakeMailer struct {
	sent    []mailCall
	sendErr error
}

func (m *fakeMailer) SendVerification(_ context.Context, email, link string) error {
	m.sent = append(m.sent, mailCall{kind: "verification", to: email, link: link})
	return m.sendErr
}

func (m *fakeMailer) SendPasswordReset(_ context.Context, email, link string) error {
	m.sent = append(m.sent, mailCall{kind: "password_reset", to: email, link: link})
	return m.sendErr
}

func (m *fakeMailer) SendDisableWarning(_ context.Context, email, portalURL string) error {
	m.sent = append(m.sent, mailCall{kind: "disable_warning", to: email, link: portalURL})
	return m.sendErr
}

func (m *fakeMailer) SendDisabled(_ context.Context, email string) error {
	m.sent = append(m.sent, mailCall{kind: "disabled", to: email})
	return m.sendErr
}

func (m *fakeMailer) SendReEnabled(_ context.Context, email string) error {
	m.sent = append(m.sent, mailCall{kind: "re_enabled", to: email})
	return m.sendErr
}

func (m *fakeMailer) SendEmailChanged(_ context.Context, oldEmail, newEmail string) error {
	m.sent = append(m.sent, mailCall{kind: "email_changed", to: oldEmail, link: newEmail})
	return m.sendErr
}

func (m *fakeMailer) lastKind() string {
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].kind
}

type fakeOutbox struct {
	messages []*outbox.Message
	saveErr  error
}

func (o *fakeOutbox) Save(_ context.Context, msg *outbox.Message) error {
	if o.saveErr != nil {
		return o.saveErr
	}
	o.messages = append(o.messages, msg)
	return nil
}

func (o *fakeOutbox) SaveBatch(_ context.Context, msgs []*outbox.Message) error {
	if o.saveErr != nil {
		return o.saveErr
	}
	o.messages = append(o.messages, msgs...)
	return nil
}

func (o *fakeOutbox) GetUnpublished(_ context.Context, _ int) ([]*outbox.Message, error) {
	return nil, nil
}

func (o *fakeOutbox) MarkPublished(_ context.Context, _ int64) error { return nil }

func (o *fakeOutbox) MarkFailed(_ context.Context, _ int64, _ string, _ time.Time) error {
	return nil
}

func (o *fakeOutbox) MarkDead(_ context.Context, _ int64, _ string) error { return nil }

func (o *fakeOutbox) GetFailed(_ context.Context, _, _ int) ([]*outbox.Message, error) {
	return nil, nil
}

func (o *fakeOutbox) DeleteOld(_ context.Context, _ int) (int64, error) { return 0, nil }

type fakeUnitOfWork struct {
	commits   int
	rollbacks int
}

func (u *fakeUnitOfWork) Begin(ctx context.Context) (context.Context, error) { return ctx, nil }
func (u *fakeUnitOfWork) Commit(_ context.Context) error                     { u.commits++; return nil }
func (u *fakeUnitOfWork) Rollback(_ context.Context) error                   { u.rollbacks++; return nil }

type fakeUsageStore struct {
	records []uuid.UUID
	counts  map[uuid.UUID][]int64
	err     error
}

func (s *fakeUsageStore) Record(_ context.Context, _, tokenID uuid.UUID, _ time.Time) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, tokenID)
	return nil
}

func (s *fakeUsageStore) Counts(_ context.Context, tokenIDs []uuid.UUID, days int) (map[uuid.UUID][]int64, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[uuid.UUID][]int64, len(tokenIDs))
	for _, id := range tokenIDs {
		if series, ok := s.counts[id]; ok {
			out[id] = series
		} else {
			out[id] = make([]int64, days)
		}
	}
	return out, nil
}
