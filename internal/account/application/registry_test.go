package application

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/avwx-rest/account-backend/internal/account/domain"
	"github.com/avwx-rest/account-backend/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTokenRegistry_Generate_AppToken(t *testing.T) {
	repo := newFakeUserRepo()
	registry := NewTokenRegistry(repo, testLogger(), observability.NewInMemoryMetrics())

	token, err := registry.Generate(context.Background(), domain.TokenKindApp)
	require.NoError(t, err)

	assert.Len(t, token.Value, 43)
	assert.Equal(t, domain.DefaultTokenName, token.Name)
	assert.Equal(t, domain.TokenKindApp, token.Kind)
	assert.True(t, token.Active)
	assert.NotEqual(t, token.ID.String(), "00000000-0000-0000-0000-000000000000")
	assert.False(t, strings.HasPrefix(token.Value, domain.DevTokenPrefix))
}

func TestTokenRegistry_Generate_DevTokenPrefix(t *testing.T) {
	repo := newFakeUserRepo()
	registry := NewTokenRegistry(repo, testLogger(), nil)

	token, err := registry.Generate(context.Background(), domain.TokenKindDev)
	require.NoError(t, err)

	assert.Len(t, token.Value, 43)
	assert.True(t, strings.HasPrefix(token.Value, domain.DevTokenPrefix))
	assert.Equal(t, domain.DefaultDevTokenName, token.Name)
	assert.True(t, token.IsDev())
}

func TestTokenRegistry_Generate_UniqueAcrossCalls(t *testing.T) {
	repo := newFakeUserRepo()
	registry := NewTokenRegistry(repo, testLogger(), nil)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		token, err := registry.Generate(context.Background(), domain.TokenKindApp)
		require.NoError(t, err)
		require.False(t, seen[token.Value])
		seen[token.Value] = true
	}
}

func TestTokenRegistry_Generate_ConcurrentCallsStayDistinct(t *testing.T) {
	repo := newFakeUserRepo()
	registry := NewTokenRegistry(repo, testLogger(), nil)

	const n = 32
	values := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := registry.Generate(context.Background(), domain.TokenKindApp)
			assert.NoError(t, err)
			values <- token.Value
		}()
	}
	wg.Wait()
	close(values)

	seen := make(map[string]bool, n)
	for v := range values {
		require.False(t, seen[v], "duplicate token value %s", v)
		seen[v] = true
	}
	require.Len(t, seen, n)
}

func TestTokenRegistry_Generate_RetriesOnCollision(t *testing.T) {
	repo := newFakeUserRepo()
	repo.collideFirst = 2
	metrics := observability.NewInMemoryMetrics()
	registry := NewTokenRegistry(repo, testLogger(), metrics)

	token, err := registry.Generate(context.Background(), domain.TokenKindApp)
	require.NoError(t, err)

	assert.NotEmpty(t, token.Value)
	assert.Equal(t, 3, repo.existsCalls)
	assert.Equal(t, int64(2), metrics.GetCounter(observability.MetricTokenCollisions))
}

func TestTokenRegistry_Generate_GivesUpAfterMaxAttempts(t *testing.T) {
	repo := newFakeUserRepo()
	repo.collideFirst = maxGenerateAttempts + 1
	registry := NewTokenRegistry(repo, testLogger(), nil)

	_, err := registry.Generate(context.Background(), domain.TokenKindApp)
	require.ErrorIs(t, err, domain.ErrTokenExhausted)
	assert.Equal(t, maxGenerateAttempts, repo.existsCalls)
}

func TestTokenRegistry_Regenerate_PreservesIdentity(t *testing.T) {
	repo := newFakeUserRepo()
	registry := NewTokenRegistry(repo, testLogger(), nil)

	token, err := registry.Generate(context.Background(), domain.TokenKindDev)
	require.NoError(t, err)

	id := token.ID
	name := token.Name
	oldValue := token.Value

	require.NoError(t, registry.Regenerate(context.Background(), &token))

	assert.Equal(t, id, token.ID)
	assert.Equal(t, name, token.Name)
	assert.Equal(t, domain.TokenKindDev, token.Kind)
	assert.NotEqual(t, oldValue, token.Value)
	assert.True(t, strings.HasPrefix(token.Value, domain.DevTokenPrefix))
}
