package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventDeduper remembers processed webhook event ids so provider redeliveries
// become no-ops. A Redis outage fails open: the reconciler is idempotent, so
// reprocessing is safe, just wasteful.
type EventDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewEventDeduper creates a new EventDeduper. The TTL should comfortably
// exceed the provider's redelivery horizon.
func NewEventDeduper(client *redis.Client, ttl time.Duration) *EventDeduper {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &EventDeduper{client: client, ttl: ttl}
}

// Seen marks the event id and reports whether it was already recorded.
func (d *EventDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}

	fresh, err := d.client.SetNX(ctx, "webhook:event:"+eventID, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("marking webhook event: %w", err)
	}
	return !fresh, nil
}

// Forget releases the event id so a provider redelivery is processed again.
// Called when handling failed after the id was already marked.
func (d *EventDeduper) Forget(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	if err := d.client.Del(ctx, "webhook:event:"+eventID).Err(); err != nil {
		return fmt.Errorf("releasing webhook event: %w", err)
	}
	return nil
}
