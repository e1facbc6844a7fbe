package usage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const dayFormat = "2006-01-02"

// RedisStore keeps per-token daily request counters. Keys expire shortly
// after the retention window so the keyspace stays bounded without a sweeper.
type RedisStore struct {
	client        *redis.Client
	retentionDays int
}

// NewRedisStore creates a new RedisStore.
func NewRedisStore(client *redis.Client, retentionDays int) *RedisStore {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &RedisStore{client: client, retentionDays: retentionDays}
}

func usageKey(tokenID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("usage:token:%s:%s", tokenID, day.UTC().Format(dayFormat))
}

// Record increments the counter for the token on the given day.
func (s *RedisStore) Record(ctx context.Context, _ uuid.UUID, tokenID uuid.UUID, day time.Time) error {
	key := usageKey(tokenID, day)
	ttl := time.Duration(s.retentionDays+1) * 24 * time.Hour

	pipe := s.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("incrementing usage counter: %w", err)
	}
	return nil
}

// Counts returns, per token, counters for each of the trailing days ending
// today, oldest first. Days without traffic read as zero.
func (s *RedisStore) Counts(ctx context.Context, tokenIDs []uuid.UUID, days int) (map[uuid.UUID][]int64, error) {
	out := make(map[uuid.UUID][]int64, len(tokenIDs))
	if len(tokenIDs) == 0 || days <= 0 {
		return out, nil
	}

	today := time.Now().UTC()
	keys := make([]string, 0, len(tokenIDs)*days)
	for _, tokenID := range tokenIDs {
		for offset := days - 1; offset >= 0; offset-- {
			keys = append(keys, usageKey(tokenID, today.AddDate(0, 0, -offset)))
		}
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading usage counters: %w", err)
	}

	for i, tokenID := range tokenIDs {
		series := make([]int64, days)
		for d := 0; d < days; d++ {
			raw := values[i*days+d]
			if raw == nil {
				continue
			}
			if str, ok := raw.(string); ok {
				if n, err := strconv.ParseInt(str, 10, 64); err == nil {
					series[d] = n
				}
			}
		}
		out[tokenID] = series
	}
	return out, nil
}
