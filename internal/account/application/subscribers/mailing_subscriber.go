package subscribers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/avwx-rest/account-backend/internal/account/domain"
	"github.com/avwx-rest/account-backend/internal/shared/infrastructure/eventbus"
)

// MailingSubscriber keeps the marketing list in step with account lifecycle
// events. It runs off the outbox queue, so a mailing-provider outage delays
// the sync without touching the originating request.
type MailingSubscriber struct {
	list   domain.MailingList
	logger *slog.Logger
}

// NewMailingSubscriber creates a new MailingSubscriber.
func NewMailingSubscriber(list domain.MailingList, logger *slog.Logger) *MailingSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &MailingSubscriber{list: list, logger: logger}
}

// EventTypes returns the routing keys this consumer handles.
func (s *MailingSubscriber) EventTypes() []string {
	return []string{
		domain.RoutingKeyUserRegistered,
		domain.RoutingKeyUserEmailChanged,
		domain.RoutingKeyUserDeleted,
	}
}

// Handle processes one account event. Returning an error requeues the
// message through the outbox retry schedule.
func (s *MailingSubscriber) Handle(ctx context.Context, event *eventbus.ConsumedEvent) error {
	switch event.RoutingKey {
	case domain.RoutingKeyUserRegistered:
		var payload struct {
			Email string `json:"email"`
		}
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("decoding registered payload: %w", err)
		}
		s.logger.Info("subscribing new account to mailing list", "user_id", event.AggregateID)
		return s.list.Subscribe(ctx, payload.Email)

	case domain.RoutingKeyUserEmailChanged:
		var payload struct {
			OldEmail string `json:"old_email"`
			NewEmail string `json:"new_email"`
		}
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("decoding email change payload: %w", err)
		}
		s.logger.Info("updating mailing list address", "user_id", event.AggregateID)
		return s.list.UpdateEmail(ctx, payload.OldEmail, payload.NewEmail)

	case domain.RoutingKeyUserDeleted:
		var payload struct {
			Email string `json:"email"`
		}
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("decoding deleted payload: %w", err)
		}
		s.logger.Info("unsubscribing deleted account", "user_id", event.AggregateID)
		return s.list.Unsubscribe(ctx, payload.Email)

	default:
		return nil
	}
}
