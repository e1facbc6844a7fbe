package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/avwx-rest/account-backend/internal/account/domain"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

var (
	// ErrBadSignature indicates the payload failed signature verification.
	ErrBadSignature = errors.New("webhook signature verification failed")

	// ErrUnhandledEvent indicates an event type this service does not fold
	// into local state.
	ErrUnhandledEvent = errors.New("unhandled webhook event type")
)

// PriceResolver fetches the purchased price for a completed checkout session.
// Checkout webhook payloads do not carry line items.
type PriceResolver interface {
	CheckoutPrice(ctx context.Context, sessionID string) (string, error)
}

// WebhookTranslator verifies provider webhook payloads and maps them onto
// domain billing events.
type WebhookTranslator struct {
	secret   string
	resolver PriceResolver
}

// NewWebhookTranslator creates a new WebhookTranslator.
func NewWebhookTranslator(secret string, resolver PriceResolver) *WebhookTranslator {
	return &WebhookTranslator{secret: secret, resolver: resolver}
}

// Translate verifies the signature and converts the payload. Unknown event
// types return ErrUnhandledEvent with the event id still usable for dedup.
func (t *WebhookTranslator) Translate(ctx context.Context, payload []byte, sigHeader string) (domain.BillingEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, t.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	return t.translateEvent(ctx, event)
}

func (t *WebhookTranslator) translateEvent(ctx context.Context, event stripe.Event) (domain.BillingEvent, error) {
	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("decoding checkout session: %w", err)
		}

		priceID, err := t.resolver.CheckoutPrice(ctx, sess.ID)
		if err != nil {
			return nil, fmt.Errorf("resolving checkout price: %w", err)
		}

		out := domain.CheckoutCompleted{
			EventID:           event.ID,
			SessionID:         sess.ID,
			ClientReferenceID: sess.ClientReferenceID,
			PriceID:           priceID,
		}
		if sess.Customer != nil {
			out.CustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil {
			out.SubscriptionID = sess.Subscription.ID
		}
		return out, nil

	case "invoice.paid":
		invoice, err := decodeInvoice(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		return domain.InvoicePaid{
			EventID:    event.ID,
			CustomerID: invoiceCustomer(invoice),
		}, nil

	case "invoice.payment_failed":
		invoice, err := decodeInvoice(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		return domain.InvoicePaymentFailed{
			EventID:      event.ID,
			CustomerID:   invoiceCustomer(invoice),
			Paid:         invoice.Paid,
			AttemptCount: int(invoice.AttemptCount),
		}, nil

	default:
		return nil, fmt.Errorf("%q: %w", event.Type, ErrUnhandledEvent)
	}
}

func decodeInvoice(raw json.RawMessage) (*stripe.Invoice, error) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return nil, fmt.Errorf("decoding invoice: %w", err)
	}
	return &invoice, nil
}

func invoiceCustomer(invoice *stripe.Invoice) string {
	if invoice.Customer == nil {
		return ""
	}
	return invoice.Customer.ID
}
