package api

import (
	"encoding/json"
	"net/http"

	"github.com/avwx-rest/account-backend/internal/account/domain"
)

// GetMe handles GET /api/v1/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newUserView(requestUser(r)))
}

type updateProfileRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

// UpdateMe handles PATCH /api/v1/me
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user := requestUser(r)
	if err := h.accounts.UpdateProfile(r.Context(), user, req.FirstName, req.LastName); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(user))
}

// DeleteMe handles DELETE /api/v1/me
//
// Any active subscription is cancelled first; a billing failure aborts the
// deletion so the account and the remote state never diverge.
func (h *Handler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Delete(r.Context(), requestUser(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type changeEmailRequest struct {
	Email string `json:"email"`
}

// ChangeEmail handles PUT /api/v1/me/email
func (h *Handler) ChangeEmail(w http.ResponseWriter, r *http.Request) {
	var req changeEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user := requestUser(r)
	if err := h.auth.ChangeEmail(r.Context(), user, req.Email); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(user))
}

type changePasswordRequest struct {
	Current string `json:"current_password"`
	New     string `json:"new_password"`
}

// ChangePassword handles PUT /api/v1/me/password
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.New == "" {
		writeError(w, http.StatusBadRequest, "new password is required")
		return
	}

	if err := h.auth.ChangePassword(r.Context(), requestUser(r), req.Current, req.New); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListNotifications handles GET /api/v1/me/notifications
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	notifications := requestUser(r).Notifications
	if notifications == nil {
		notifications = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, notifications)
}

// ClearNotifications handles DELETE /api/v1/me/notifications
func (h *Handler) ClearNotifications(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.ClearNotifications(r.Context(), requestUser(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DismissNotification handles DELETE /api/v1/me/notifications/{id}
func (h *Handler) DismissNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid notification id")
		return
	}

	if err := h.accounts.DismissNotification(r.Context(), requestUser(r), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
