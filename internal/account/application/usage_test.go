package application

import (
	"context"
	"testing"

	"github.com/avwx-rest/account-backend/internal/account/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageService_Authorize(t *testing.T) {
	user := paidUser(t)
	repo := newFakeUserRepo(user)
	svc := NewUsageService(repo, &fakeUsageStore{}, 30, testLogger(), nil)

	got, token, err := svc.Authorize(context.Background(), "appvalue")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, "appvalue", token.Value)

	_, _, err = svc.Authorize(context.Background(), "unknown-value")
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestUsageService_Authorize_InactiveToken(t *testing.T) {
	user := paidUser(t)
	user.Tokens[0].Active = false
	repo := newFakeUserRepo(user)
	svc := NewUsageService(repo, &fakeUsageStore{}, 30, testLogger(), nil)

	_, _, err := svc.Authorize(context.Background(), "appvalue")
	require.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestUsageService_Authorize_DisabledUser(t *testing.T) {
	user := paidUser(t)
	user.Disabled = true
	repo := newFakeUserRepo(user)
	svc := NewUsageService(repo, &fakeUsageStore{}, 30, testLogger(), nil)

	_, _, err := svc.Authorize(context.Background(), "appvalue")
	require.ErrorIs(t, err, domain.ErrUserDisabled)
}

func TestUsageService_RecordHit_SwallowsStoreErrors(t *testing.T) {
	user := paidUser(t)
	store := &fakeUsageStore{err: assert.AnError}
	svc := NewUsageService(newFakeUserRepo(user), store, 30, testLogger(), nil)

	// Must not panic or propagate.
	svc.RecordHit(context.Background(), user.ID, user.Tokens[0].ID)
	assert.Empty(t, store.records)
}

func TestUsageService_History(t *testing.T) {
	user := paidUser(t)
	appID := user.Tokens[0].ID
	store := &fakeUsageStore{
		counts: map[uuid.UUID][]int64{
			appID: {0, 2, 5},
		},
	}
	svc := NewUsageService(newFakeUserRepo(user), store, 3, testLogger(), nil)

	history, err := svc.History(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, appID, history[0].TokenID)
	assert.Equal(t, []int64{0, 2, 5}, history[0].Counts)
	assert.Equal(t, int64(7), history[0].Total)

	// Tokens with no recorded usage get a zero-filled series.
	assert.Equal(t, []int64{0, 0, 0}, history[1].Counts)
	assert.Equal(t, int64(0), history[1].Total)
}
