package domain

import (
	"time"

	"github.com/google/uuid"
)

// BillingInfo holds the user's identifiers in the remote billing system. The
// subscription id is empty after cancellation even when a customer id remains.
type BillingInfo struct {
	CustomerID     string `json:"customer_id"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}

// User is the aggregate root of the account context, persisted as a single
// document. All mutation of plan, addons, billing ids, tokens and the disabled
// flag goes through the token registry and the subscription reconciler.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	OldEmails    []string  `json:"old_emails,omitempty"`
	PasswordHash string    `json:"password_hash,omitempty"`

	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`

	Verified   bool       `json:"verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`

	Plan    *Plan         `json:"plan,omitempty"`
	Addons  []Entitlement `json:"addons,omitempty"`
	Tokens  []Token       `json:"tokens,omitempty"`
	Billing *BillingInfo  `json:"billing,omitempty"`

	AllowOverage bool `json:"allow_overage"`
	Disabled     bool `json:"disabled"`

	Notifications []Notification `json:"notifications,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version backs optimistic concurrency in the document store. It is a
	// storage column, not part of the document body.
	Version int `json:"-"`

	events []DomainEvent
}

// NewUser creates a user on the given plan snapshot.
func NewUser(email Email, passwordHash string, plan *Plan) *User {
	now := time.Now().UTC()
	u := &User{
		ID:           uuid.New(),
		Email:        email.String(),
		PasswordHash: passwordHash,
		Plan:         plan,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	u.Record(NewUserRegistered(u.ID, u.Email))
	return u
}

// Touch updates the modification timestamp.
func (u *User) Touch() {
	u.UpdatedAt = time.Now().UTC()
}

// Record appends a domain event for publication after the next save.
func (u *User) Record(event DomainEvent) {
	u.events = append(u.events, event)
}

// Events returns uncommitted domain events.
func (u *User) Events() []DomainEvent {
	return u.events
}

// ClearEvents drops uncommitted domain events after publication.
func (u *User) ClearEvents() {
	u.events = nil
}

// HasSubscription reports whether the user holds an active remote
// subscription id.
func (u *User) HasSubscription() bool {
	return u.Billing != nil && u.Billing.SubscriptionID != ""
}

// ChangeEmail swaps the address, keeping the previous one in the audit trail.
func (u *User) ChangeEmail(email Email) {
	if u.Email == email.String() {
		return
	}
	old := u.Email
	u.OldEmails = append(u.OldEmails, old)
	u.Email = email.String()
	u.Verified = false
	u.VerifiedAt = nil
	u.Touch()
	u.Record(NewUserEmailChanged(u.ID, old, u.Email))
}

// MarkVerified records email confirmation.
func (u *User) MarkVerified() {
	if u.Verified {
		return
	}
	now := time.Now().UTC()
	u.Verified = true
	u.VerifiedAt = &now
	u.Touch()
}

// Token returns the token matching the bearer value.
func (u *User) Token(value string) *Token {
	for i := range u.Tokens {
		if u.Tokens[i].Value == value {
			return &u.Tokens[i]
		}
	}
	return nil
}

// TokenByID returns the token with the given id.
func (u *User) TokenByID(id uuid.UUID) *Token {
	for i := range u.Tokens {
		if u.Tokens[i].ID == id {
			return &u.Tokens[i]
		}
	}
	return nil
}

// AddToken appends a token to the user's collection.
func (u *User) AddToken(t Token) {
	u.Tokens = append(u.Tokens, t)
	u.Touch()
}

// RemoveToken deletes the token matching the bearer value.
func (u *User) RemoveToken(value string) bool {
	for i := range u.Tokens {
		if u.Tokens[i].Value == value {
			u.Tokens = append(u.Tokens[:i], u.Tokens[i+1:]...)
			u.Touch()
			return true
		}
	}
	return false
}

// HasDevToken reports whether a development token is already present.
func (u *User) HasDevToken() bool {
	for _, t := range u.Tokens {
		if t.IsDev() {
			return true
		}
	}
	return false
}

// StripDevTokens removes all development tokens. Dev tokens are only valid on
// a paid plan, so cancellation calls this.
func (u *User) StripDevTokens() {
	kept := u.Tokens[:0]
	for _, t := range u.Tokens {
		if !t.IsDev() {
			kept = append(kept, t)
		}
	}
	u.Tokens = kept
}

// HasAddon reports whether the user holds the addon entitlement.
func (u *User) HasAddon(key string) bool {
	return u.Addon(key) != nil
}

// Addon returns the entitlement matching the addon key.
func (u *User) Addon(key string) *Entitlement {
	for i := range u.Addons {
		if u.Addons[i].Key == key {
			return &u.Addons[i]
		}
	}
	return nil
}

// SetAddon appends the entitlement, replacing an existing entry for the same
// addon key.
func (u *User) SetAddon(ent Entitlement) {
	for i := range u.Addons {
		if u.Addons[i].Key == ent.Key {
			u.Addons[i] = ent
			u.Touch()
			return
		}
	}
	u.Addons = append(u.Addons, ent)
	u.Touch()
}

// RemoveAddon deletes the entitlement matching the addon key.
func (u *User) RemoveAddon(key string) bool {
	for i := range u.Addons {
		if u.Addons[i].Key == key {
			u.Addons = append(u.Addons[:i], u.Addons[i+1:]...)
			u.Touch()
			return true
		}
	}
	return false
}

// ClearAddons drops every entitlement and the overage flag.
func (u *User) ClearAddons() {
	u.Addons = nil
	u.AllowOverage = false
	u.Touch()
}

// Notify appends an entry to the user's notification feed.
func (u *User) Notify(kind NotificationKind, text string) {
	u.Notifications = append(u.Notifications, NewNotification(kind, text))
	u.Touch()
}

// RemoveNotification deletes a feed entry by id.
func (u *User) RemoveNotification(id uuid.UUID) bool {
	for i := range u.Notifications {
		if u.Notifications[i].ID == id {
			u.Notifications = append(u.Notifications[:i], u.Notifications[i+1:]...)
			u.Touch()
			return true
		}
	}
	return false
}
