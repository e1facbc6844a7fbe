package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/avwx-rest/account-backend/internal/account/domain"
	"github.com/avwx-rest/account-backend/internal/account/infrastructure/billing"
	"github.com/avwx-rest/account-backend/pkg/observability"
)

// maxWebhookBody bounds provider payload reads.
const maxWebhookBody = 1 << 16

// StripeWebhook handles POST /webhooks/stripe
//
// Acknowledgement policy: 2xx for everything the provider should not resend,
// including unknown event types and redeliveries. Non-2xx only for bad
// signatures and transient processing failures where a retry can succeed.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable payload")
		return
	}

	h.metrics.Counter(observability.MetricWebhookEvents, 1)

	event, err := h.webhooks.Translate(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrBadSignature):
			h.metrics.Counter(observability.MetricWebhookBadSig, 1)
			h.logger.Warn("webhook signature rejected", "error", err)
			writeError(w, http.StatusBadRequest, "invalid signature")
		case errors.Is(err, billing.ErrUnhandledEvent):
			if h.ackUnknown {
				w.WriteHeader(http.StatusOK)
			} else {
				writeError(w, http.StatusBadRequest, "unhandled event type")
			}
		default:
			h.logger.Error("translating webhook event", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	seen, err := h.deduper.Seen(r.Context(), event.RemoteEventID())
	if err != nil {
		// Fail open. ApplyEvent is idempotent, duplicates are just wasted work.
		h.logger.Warn("webhook dedup unavailable", "event_id", event.RemoteEventID(), "error", err)
	}
	if seen {
		h.metrics.Counter(observability.MetricWebhookDuplicates, 1)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.reconciler.ApplyEvent(r.Context(), event); err != nil {
		switch {
		case errors.Is(err, domain.ErrUserNotFound), errors.Is(err, domain.ErrUnknownPrice):
			// Retrying will not change the outcome, acknowledge and log loudly.
			h.logger.Error("webhook event not applicable", "event_id", event.RemoteEventID(), "error", err)
			w.WriteHeader(http.StatusOK)
		default:
			// Release the dedup mark so the provider's retry is processed.
			if forgetErr := h.deduper.Forget(r.Context(), event.RemoteEventID()); forgetErr != nil {
				h.logger.Warn("releasing webhook dedup mark", "event_id", event.RemoteEventID(), "error", forgetErr)
			}
			h.logger.Error("applying webhook event", "event_id", event.RemoteEventID(), "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}
