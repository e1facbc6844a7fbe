package application

import (
	"context"
	"testing"

	"github.com/avwx-rest/account-backend/internal/account/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountService_Delete_CancelsSubscriptionFirst(t *testing.T) {
	user := paidUser(t)
	repo := newFakeUserRepo(user)
	billing := &fakeBilling{cancelEnded: true}
	outboxRepo := &fakeOutbox{}
	svc := NewAccountService(repo, billing, outboxRepo, &fakeUnitOfWork{}, testLogger())

	require.NoError(t, svc.Delete(context.Background(), user))

	assert.Equal(t, 1, billing.called("CancelSubscription"))
	require.Len(t, repo.deleted, 1)
	require.Len(t, outboxRepo.messages, 1)
	assert.Equal(t, domain.RoutingKeyUserDeleted, outboxRepo.messages[0].EventType)
}

func TestAccountService_Delete_AbortsWhenCancelFails(t *testing.T) {
	user := paidUser(t)
	repo := newFakeUserRepo(user)
	billing := &fakeBilling{cancelErr: assert.AnError}
	svc := NewAccountService(repo, billing, &fakeOutbox{}, &fakeUnitOfWork{}, testLogger())

	err := svc.Delete(context.Background(), user)
	require.ErrorIs(t, err, domain.ErrRemoteBilling)
	assert.Empty(t, repo.deleted)
}

func TestAccountService_NotificationFeed(t *testing.T) {
	user := freeUser(t)
	user.Notify(domain.NotificationInfo, "welcome aboard")
	user.Notify(domain.NotificationWarning, "payment due")
	repo := newFakeUserRepo(user)
	svc := NewAccountService(repo, &fakeBilling{}, &fakeOutbox{}, &fakeUnitOfWork{}, testLogger())

	require.NoError(t, svc.DismissNotification(context.Background(), user, user.Notifications[0].ID))
	require.Len(t, user.Notifications, 1)
	assert.Equal(t, "payment due", user.Notifications[0].Text)

	require.NoError(t, svc.ClearNotifications(context.Background(), user))
	assert.Empty(t, user.Notifications)
}

func TestAccountService_UpdateProfile(t *testing.T) {
	user := freeUser(t)
	repo := newFakeUserRepo(user)
	svc := NewAccountService(repo, &fakeBilling{}, &fakeOutbox{}, &fakeUnitOfWork{}, testLogger())

	first := " Amelia "
	require.NoError(t, svc.UpdateProfile(context.Background(), user, &first, nil))
	assert.Equal(t, "Amelia", user.FirstName)
	assert.Empty(t, user.LastName)
}
