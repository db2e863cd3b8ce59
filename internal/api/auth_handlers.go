package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/davidahmann/voicebooks/internal/observability"
	"github.com/davidahmann/voicebooks/internal/xero"
	"github.com/davidahmann/voicebooks/pkg/types"
)

type tokenRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TenantID     string `json:"tenant_id"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueToken exchanges an accounting credential for a bearer token, and sets
// the equivalent signed cookie for browser clients.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		respondError(w, r, &httpError{status: http.StatusMethodNotAllowed,
			body: types.ErrorBody{Code: types.CodeBadRequest, Message: "method not allowed"}})
		return
	}

	var req tokenRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || json.Unmarshal(body, &req) != nil {
		respondError(w, r, badRequest("malformed JSON body"))
		return
	}

	cred := xero.Credential{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		TenantID:     req.TenantID,
	}
	if !cred.Valid() {
		respondError(w, r, validationError("access_token", "access_token and tenant_id are required"))
		return
	}

	token, expires, err := h.Tokens.Issue(cred)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if cookie, err := h.Cookies.Cookie(cred); err == nil {
		http.SetCookie(w, cookie)
	}

	observability.LoggerFromContext(r.Context()).Info("token issued", "tenant_id", cred.TenantID)
	respondData(w, r, http.StatusOK, tokenResponse{Token: token, ExpiresAt: expires})
}

// RefreshToken refreshes the accounting grant and rotates the credential on
// the caller's channel. One immediate retry covers a transient identity
// endpoint failure; a rejected refresh token surfaces as re-auth required.
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		respondError(w, r, &httpError{status: http.StatusMethodNotAllowed,
			body: types.ErrorBody{Code: types.CodeBadRequest, Message: "method not allowed"}})
		return
	}

	resolved, err := h.Resolver.ResolveRequest(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	fresh, err := h.Ledger.Refresh(r.Context(), resolved.Credential)
	if err != nil && !errors.Is(err, xero.ErrReauthRequired) {
		var apiErr *xero.APIError
		if !errors.As(err, &apiErr) || apiErr.Status >= 500 {
			fresh, err = h.Ledger.Refresh(r.Context(), resolved.Credential)
		}
	}
	if err != nil {
		respondError(w, r, err)
		return
	}

	log := observability.LoggerFromContext(r.Context())
	if resolved.Bearer != "" {
		token, expires, err := h.Tokens.Rotate(resolved.Bearer, fresh)
		if err != nil {
			respondError(w, r, err)
			return
		}
		log.Info("token refreshed", "tenant_id", fresh.TenantID)
		respondData(w, r, http.StatusOK, tokenResponse{Token: token, ExpiresAt: expires})
		return
	}

	cookie, err := h.Cookies.Cookie(fresh)
	if err != nil {
		respondError(w, r, err)
		return
	}
	http.SetCookie(w, cookie)
	log.Info("cookie refreshed", "tenant_id", fresh.TenantID)
	respondData(w, r, http.StatusOK, map[string]string{"status": "refreshed"})
}
