package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/davidahmann/voicebooks/internal/auth"
	"github.com/davidahmann/voicebooks/internal/voice"
	"github.com/davidahmann/voicebooks/internal/workflow"
	"github.com/davidahmann/voicebooks/internal/xero"
	"github.com/davidahmann/voicebooks/pkg/types"
)

// wantsHTML picks the response channel from the Accept header. Machine
// clients get the JSON envelope; anything asking for text/html gets a page.
func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

// respondState renders a step state on the channel the caller asked for.
func respondState(w http.ResponseWriter, r *http.Request, status int, state types.StepState) {
	if wantsHTML(r) {
		writeStepPage(w, status, state)
		return
	}
	writeJSON(w, status, types.Success(state))
}

func respondData(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, status, types.Success(data))
}

// respondError maps an internal failure onto the stable error vocabulary and
// renders it on the caller's channel.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if wantsHTML(r) {
		writeErrorPage(w, status, body)
		return
	}
	writeJSON(w, status, types.Failure(body.Code, body.Message, body.Field))
}

// respondValidation is respondError plus the transcript salvage a voice
// rejection carries.
func respondValidation(w http.ResponseWriter, r *http.Request, verr *voice.ValidationError) {
	body := types.ErrorBody{Code: types.CodeValidation, Message: verr.Message, Field: verr.Field}
	if wantsHTML(r) {
		writeErrorPage(w, http.StatusUnprocessableEntity, body)
		return
	}
	env := types.Failure(body.Code, body.Message, body.Field)
	if verr.Transcript != "" {
		env.Data = map[string]string{"transcript": verr.Transcript}
	}
	writeJSON(w, http.StatusUnprocessableEntity, env)
}

type httpError struct {
	status int
	body   types.ErrorBody
}

func (e *httpError) Error() string { return e.body.Message }

func badRequest(msg string) error {
	return &httpError{status: http.StatusBadRequest, body: types.ErrorBody{Code: types.CodeBadRequest, Message: msg}}
}

func validationError(field, msg string) error {
	return &httpError{status: http.StatusUnprocessableEntity, body: types.ErrorBody{Code: types.CodeValidation, Message: msg, Field: field}}
}

func transitionError(msg string) error {
	return &httpError{status: http.StatusConflict, body: types.ErrorBody{Code: types.CodeTransition, Message: msg}}
}

func sessionExpired() error {
	return &httpError{status: http.StatusGone, body: types.ErrorBody{Code: types.CodeSessionExpired, Message: "session expired or unknown, start again"}}
}

func classify(err error) (int, types.ErrorBody) {
	var he *httpError
	if errors.As(err, &he) {
		return he.status, he.body
	}

	var verr *voice.ValidationError
	if errors.As(err, &verr) {
		return http.StatusUnprocessableEntity, types.ErrorBody{Code: types.CodeValidation, Message: verr.Message, Field: verr.Field}
	}

	var apiErr *xero.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Validation() {
			msg := "the accounting service rejected the record"
			if len(apiErr.Messages) > 0 {
				msg = apiErr.Messages[0]
			}
			return http.StatusUnprocessableEntity, types.ErrorBody{Code: types.CodeValidation, Message: msg}
		}
		return http.StatusBadGateway, types.ErrorBody{Code: types.CodeUpstream, Message: apiErr.Error()}
	}

	switch {
	case errors.Is(err, workflow.ErrInvalidStep):
		return http.StatusUnprocessableEntity, types.ErrorBody{Code: types.CodeValidation, Message: "unknown step", Field: "step"}
	case errors.Is(err, workflow.ErrIllegalTransition), errors.Is(err, workflow.ErrStepIncomplete),
		errors.Is(err, workflow.ErrNoPendingItem), errors.Is(err, workflow.ErrPendingItem),
		errors.Is(err, workflow.ErrNotLoopStep), errors.Is(err, workflow.ErrNotVoiceStep):
		return http.StatusConflict, types.ErrorBody{Code: types.CodeTransition, Message: err.Error()}
	case errors.Is(err, workflow.ErrLineItemLimit):
		return http.StatusConflict, types.ErrorBody{Code: types.CodeCapacity, Message: "this invoice already has the maximum number of line items"}
	case errors.Is(err, workflow.ErrUnknownField):
		return http.StatusUnprocessableEntity, types.ErrorBody{Code: types.CodeValidation, Message: "unknown field", Field: "field"}
	case errors.Is(err, workflow.ErrInvalidFieldValue):
		return http.StatusUnprocessableEntity, types.ErrorBody{Code: types.CodeValidation, Message: err.Error()}
	case errors.Is(err, auth.ErrMissingCredential):
		return http.StatusUnauthorized, types.ErrorBody{Code: types.CodeAuthRequired, Message: "connect your accounting account first"}
	case errors.Is(err, auth.ErrTokenExpired), errors.Is(err, xero.ErrAuthExpired):
		return http.StatusUnauthorized, types.ErrorBody{Code: types.CodeAuthExpired, Message: "authentication expired, refresh or sign in again"}
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, types.ErrorBody{Code: types.CodeAuthRequired, Message: "invalid credential"}
	case errors.Is(err, xero.ErrReauthRequired):
		return http.StatusUnauthorized, types.ErrorBody{Code: types.CodeAuthExpired, Message: "accounting connection requires re-authorization"}
	}
	return http.StatusInternalServerError, types.ErrorBody{Code: types.CodeInternal, Message: err.Error()}
}

func upstreamError(err error) error {
	return &httpError{status: http.StatusBadGateway, body: types.ErrorBody{Code: types.CodeUpstream, Message: err.Error()}}
}
