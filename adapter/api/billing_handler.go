package api

import (
	"net/http"

	"github.com/avwx-rest/account-backend/internal/account/domain"
)

// ListPlans handles GET /api/v1/plans
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.catalog.Plans(r.Context())
	if err != nil {
		h.logger.Error("listing plans", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

// ListAddons handles GET /api/v1/addons
func (h *Handler) ListAddons(w http.ResponseWriter, r *http.Request) {
	addons, err := h.catalog.Addons(r.Context())
	if err != nil {
		h.logger.Error("listing addons", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, addons)
}

type planChangeResponse struct {
	User     userView                `json:"user"`
	Checkout *domain.CheckoutSession `json:"checkout,omitempty"`
}

// ChangePlan handles POST /api/v1/me/plan/{key}
//
// When payment is needed first, the response carries a checkout session and
// the user is unchanged. The plan switch itself lands via webhook.
func (h *Handler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	removeAddons := r.URL.Query().Get("remove_addons") == "true"

	checkout, err := h.reconciler.ChangePlan(r.Context(), user, r.PathValue("key"), removeAddons)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if checkout != nil {
		status = http.StatusAccepted
	}
	writeJSON(w, status, planChangeResponse{
		User:     newUserView(user),
		Checkout: checkout,
	})
}

// AddAddon handles POST /api/v1/me/addons/{key}
func (h *Handler) AddAddon(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)

	checkout, err := h.reconciler.AddAddon(r.Context(), user, r.PathValue("key"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if checkout != nil {
		status = http.StatusAccepted
	}
	writeJSON(w, status, planChangeResponse{
		User:     newUserView(user),
		Checkout: checkout,
	})
}

// RemoveAddon handles DELETE /api/v1/me/addons/{key}
func (h *Handler) RemoveAddon(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)

	if err := h.reconciler.RemoveAddon(r.Context(), user, r.PathValue("key")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(user))
}

// BillingPortal handles GET /api/v1/me/portal
func (h *Handler) BillingPortal(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	if user.Billing == nil || user.Billing.CustomerID == "" {
		writeError(w, http.StatusConflict, "no billing profile on record")
		return
	}

	url, err := h.billing.CreatePortalSession(r.Context(), user)
	if err != nil {
		writeDomainError(w, domain.ErrRemoteBilling)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// CheckoutSuccess handles GET /stripe/success
//
// The frontend calls this after the hosted checkout redirects back. State
// changes arrive through the webhook; this records the return trip on the
// user's feed.
func (h *Handler) CheckoutSuccess(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	if err := h.accounts.Notify(r.Context(), user, domain.NotificationSuccess, "Payment received. Your account will update shortly."); err != nil {
		h.logger.Error("recording checkout success", "user_id", user.ID, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "payment received, your account will update shortly",
	})
}

// CheckoutCancel handles GET /stripe/cancel
func (h *Handler) CheckoutCancel(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	if err := h.accounts.Notify(r.Context(), user, domain.NotificationInfo, "Checkout cancelled. No changes were made."); err != nil {
		h.logger.Error("recording checkout cancel", "user_id", user.ID, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "cancelled",
		"message": "checkout cancelled, no changes were made",
	})
}
