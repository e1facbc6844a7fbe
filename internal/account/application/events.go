package application

import (
	"context"

	"github.com/avwx-rest/account-backend/internal/account/domain"
	sharedApplication "github.com/avwx-rest/account-backend/internal/shared/application"
	"github.com/avwx-rest/account-backend/internal/shared/infrastructure/outbox"
)

// saveEvents drains the user's recorded domain events into the outbox. Must
// run inside the same transaction as the user save so events and state commit
// together.
func saveEvents(ctx context.Context, repo outbox.Repository, user *domain.User) error {
	events := user.Events()
	if len(events) == 0 {
		return nil
	}

	sharedApplication.ApplyEventMetadata(events, sharedApplication.NewEventMetadata(user.ID))

	msgs := make([]*outbox.Message, 0, len(events))
	for _, event := range events {
		msg, err := outbox.NewMessage(event)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := repo.SaveBatch(ctx, msgs); err != nil {
		return err
	}

	user.ClearEvents()
	return nil
}
