package subscribers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/avwx-rest/account-backend/internal/account/domain"
	"github.com/avwx-rest/account-backend/internal/shared/infrastructure/eventbus"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listCall struct {
	op       string
	email    string
	newEmail string
}

type fakeMailingList struct {
	calls []listCall
	err   error
}

func (l *fakeMailingList) Subscribe(_ context.Context, email string) error {
	l.calls = append(l.calls, listCall{op: "subscribe", email: email})
	return l.err
}

func (l *fakeMailingList) Unsubscribe(_ context.Context, email string) error {
	l.calls = append(l.calls, listCall{op: "unsubscribe", email: email})
	return l.err
}

func (l *fakeMailingList) UpdateEmail(_ context.Context, oldEmail, newEmail string) error {
	l.calls = append(l.calls, listCall{op: "update", email: oldEmail, newEmail: newEmail})
	return l.err
}

func consumedEvent(t *testing.T, routingKey string, payload any) *eventbus.ConsumedEvent {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &eventbus.ConsumedEvent{
		EventID:     uuid.New(),
		AggregateID: uuid.New(),
		RoutingKey:  routingKey,
		Payload:     raw,
	}
}

func TestMailingSubscriber_EventTypes(t *testing.T) {
	sub := NewMailingSubscriber(&fakeMailingList{}, nil)
	assert.ElementsMatch(t, []string{
		"account.user.registered",
		"account.user.email_changed",
		"account.user.deleted",
	}, sub.EventTypes())
}

func TestMailingSubscriber_Registered(t *testing.T) {
	list := &fakeMailingList{}
	sub := NewMailingSubscriber(list, nil)

	event := consumedEvent(t, domain.RoutingKeyUserRegistered, map[string]string{"email": "pilot@example.com"})
	require.NoError(t, sub.Handle(context.Background(), event))

	require.Len(t, list.calls, 1)
	assert.Equal(t, listCall{op: "subscribe", email: "pilot@example.com"}, list.calls[0])
}

func TestMailingSubscriber_EmailChanged(t *testing.T) {
	list := &fakeMailingList{}
	sub := NewMailingSubscriber(list, nil)

	event := consumedEvent(t, domain.RoutingKeyUserEmailChanged, map[string]string{
		"old_email": "pilot@example.com",
		"new_email": "captain@example.com",
	})
	require.NoError(t, sub.Handle(context.Background(), event))

	require.Len(t, list.calls, 1)
	assert.Equal(t, listCall{op: "update", email: "pilot@example.com", newEmail: "captain@example.com"}, list.calls[0])
}

func TestMailingSubscriber_Deleted(t *testing.T) {
	list := &fakeMailingList{}
	sub := NewMailingSubscriber(list, nil)

	event := consumedEvent(t, domain.RoutingKeyUserDeleted, map[string]string{"email": "pilot@example.com"})
	require.NoError(t, sub.Handle(context.Background(), event))

	require.Len(t, list.calls, 1)
	assert.Equal(t, "unsubscribe", list.calls[0].op)
}

func TestMailingSubscriber_ProviderErrorPropagates(t *testing.T) {
	list := &fakeMailingList{err: assert.AnError}
	sub := NewMailingSubscriber(list, nil)

	event := consumedEvent(t, domain.RoutingKeyUserRegistered, map[string]string{"email": "pilot@example.com"})
	require.Error(t, sub.Handle(context.Background(), event))
}
