package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// ListTokens handles GET /api/v1/me/tokens
func (h *Handler) ListTokens(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tokens.List(requestUser(r)))
}

// GetToken handles GET /api/v1/me/tokens/{id}
func (h *Handler) GetToken(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid token id")
		return
	}

	token, err := h.tokens.Get(requestUser(r), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

type createTokenRequest struct {
	Name string `json:"name"`
}

// CreateToken handles POST /api/v1/me/tokens
func (h *Handler) CreateToken(w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := h.tokens.Create(r.Context(), requestUser(r), req.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, token)
}

type updateTokenRequest struct {
	Name   *string `json:"name"`
	Active *bool   `json:"active"`
}

// UpdateToken handles PATCH /api/v1/me/tokens/{id}
func (h *Handler) UpdateToken(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid token id")
		return
	}

	var req updateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := h.tokens.Update(r.Context(), requestUser(r), id, req.Name, req.Active)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

// DeleteToken handles DELETE /api/v1/me/tokens/{id}
func (h *Handler) DeleteToken(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid token id")
		return
	}

	if err := h.tokens.Delete(r.Context(), requestUser(r), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RefreshToken handles POST /api/v1/me/tokens/{id}/refresh
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid token id")
		return
	}

	token, err := h.tokens.Refresh(r.Context(), requestUser(r), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

// TokenUsage handles GET /api/v1/me/usage
func (h *Handler) TokenUsage(w http.ResponseWriter, r *http.Request) {
	history, err := h.usage.History(r.Context(), requestUser(r))
	if err != nil {
		h.logger.Error("loading token usage history", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, history)
}

type authorizeResponse struct {
	UserID    uuid.UUID `json:"user_id"`
	TokenID   uuid.UUID `json:"token_id"`
	TokenKind string    `json:"token_type"`
	PlanLevel int       `json:"plan_level"`
	Limit     int       `json:"limit"`
	Overage   bool      `json:"allow_overage"`
}

// AuthorizeToken handles GET /internal/token/{value}
//
// The API edge calls this on every request. A successful lookup also counts
// as a hit against today's usage unless count=false is passed.
func (h *Handler) AuthorizeToken(w http.ResponseWriter, r *http.Request) {
	user, token, err := h.usage.Authorize(r.Context(), r.PathValue("value"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if r.URL.Query().Get("count") != "false" {
		h.usage.RecordHit(r.Context(), user.ID, token.ID)
	}

	resp := authorizeResponse{
		UserID:    user.ID,
		TokenID:   token.ID,
		TokenKind: string(token.Kind),
		Overage:   user.AllowOverage,
	}
	if user.Plan != nil {
		resp.PlanLevel = user.Plan.Level
		resp.Limit = user.Plan.Limit
	}
	writeJSON(w, http.StatusOK, resp)
}
