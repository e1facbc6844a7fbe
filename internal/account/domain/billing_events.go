package domain

// CheckoutSession references a billing-hosted payment flow. It is returned to
// the caller when an operation needs payment before any local state changes;
// the transition itself arrives later through a CheckoutCompleted event.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// BillingEvent is the tagged union of inbound billing-provider events the
// reconciler applies.
type BillingEvent interface {
	// RemoteEventID returns the provider's event id, used for redelivery
	// detection.
	RemoteEventID() string

	billingEvent()
}

// CheckoutCompleted reports a finished checkout session: payment succeeded and
// the remote subscription exists.
type CheckoutCompleted struct {
	EventID           string
	SessionID         string
	ClientReferenceID string
	CustomerID        string
	SubscriptionID    string
	PriceID           string
}

func (e CheckoutCompleted) RemoteEventID() string { return e.EventID }
func (CheckoutCompleted) billingEvent()           {}

// InvoicePaid reports a successful recurring payment.
type InvoicePaid struct {
	EventID    string
	CustomerID string
}

func (e InvoicePaid) RemoteEventID() string { return e.EventID }
func (InvoicePaid) billingEvent()           {}

// InvoicePaymentFailed reports a failed payment attempt. AttemptCount comes
// from the provider payload and is never computed locally.
type InvoicePaymentFailed struct {
	EventID      string
	CustomerID   string
	Paid         bool
	AttemptCount int
}

func (e InvoicePaymentFailed) RemoteEventID() string { return e.EventID }
func (InvoicePaymentFailed) billingEvent()           {}

// SubscriptionItem is a line item on a remote subscription.
type SubscriptionItem struct {
	ID      string
	PriceID string
}

// RemoteSubscription is the reconciler's view of the billing provider's
// subscription object.
type RemoteSubscription struct {
	ID    string
	Items []SubscriptionItem
}

// Item returns the line item priced at the given price id.
func (s RemoteSubscription) Item(priceID string) *SubscriptionItem {
	for i := range s.Items {
		if s.Items[i].PriceID == priceID {
			return &s.Items[i]
		}
	}
	return nil
}

// ItemChange re-prices an existing line item during a subscription modify.
type ItemChange struct {
	ItemID  string
	PriceID string
}
