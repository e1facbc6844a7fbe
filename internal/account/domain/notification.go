package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind classifies entries in the user's notification feed.
type NotificationKind string

const (
	NotificationSuccess NotificationKind = "success"
	NotificationInfo    NotificationKind = "info"
	NotificationWarning NotificationKind = "warning"
	NotificationError   NotificationKind = "error"
)

// Notification is a feed entry persisted inside the user document.
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	Kind      NotificationKind `json:"type"`
	Text      string           `json:"message"`
	CreatedAt time.Time        `json:"created_at"`
}

// NewNotification creates a feed entry with a fresh id.
func NewNotification(kind NotificationKind, text string) Notification {
	return Notification{
		ID:        uuid.New(),
		Kind:      kind,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
}
