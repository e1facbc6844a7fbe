package usage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process UsageStore for development when Redis is not
// available. Counts are lost on restart.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[string]int64)}
}

func (m *MemoryStore) Record(ctx context.Context, userID, tokenID uuid.UUID, day time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[usageKey(tokenID, day)]++
	return nil
}

func (m *MemoryStore) Counts(ctx context.Context, tokenIDs []uuid.UUID, days int) (map[uuid.UUID][]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	out := make(map[uuid.UUID][]int64, len(tokenIDs))
	for _, id := range tokenIDs {
		series := make([]int64, days)
		for i := 0; i < days; i++ {
			day := now.AddDate(0, 0, i-days+1)
			series[i] = m.counts[usageKey(id, day)]
		}
		out[id] = series
	}
	return out, nil
}

// MemoryDeduper is an in-process webhook deduper for development.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryDeduper creates a new MemoryDeduper.
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]struct{})}
}

func (m *MemoryDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[eventID]; ok {
		return true, nil
	}
	m.seen[eventID] = struct{}{}
	return false, nil
}

func (m *MemoryDeduper) Forget(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, eventID)
	return nil
}
