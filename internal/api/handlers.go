package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/davidahmann/voicebooks/internal/auth"
	"github.com/davidahmann/voicebooks/internal/observability"
	"github.com/davidahmann/voicebooks/internal/voice"
	"github.com/davidahmann/voicebooks/internal/workflow"
	"github.com/davidahmann/voicebooks/internal/xero"
	"github.com/davidahmann/voicebooks/pkg/types"
)

// Handler carries the workflow stores and collaborators behind the HTTP
// surface. One store per workflow kind; sessions never cross kinds.
type Handler struct {
	Contacts *workflow.Store
	Invoices *workflow.Store
	Pipeline *voice.Pipeline
	Ledger   xero.Ledger
	Resolver *auth.Resolver
	Tokens   *auth.TokenManager
	Cookies  *auth.CookieCodec
}

func (h *Handler) store(kind types.WorkflowKind) *workflow.Store {
	if kind == types.KindInvoice {
		return h.Invoices
	}
	return h.Contacts
}

func (h *Handler) Contact(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, types.KindContact, "/v1/contact/")
}

func (h *Handler) Invoice(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, types.KindInvoice, "/v1/invoice/")
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, kind types.WorkflowKind, prefix string) {
	op := strings.TrimPrefix(r.URL.Path, prefix)

	type route struct {
		method string
		fn     func(http.ResponseWriter, *http.Request, types.WorkflowKind)
	}
	routes := map[string]route{
		"start":     {http.MethodPost, h.start},
		"step":      {http.MethodPost, h.step},
		"confirm":   {http.MethodPost, h.confirm},
		"goto":      {http.MethodPost, h.goTo},
		"line-item": {http.MethodPost, h.lineItem},
		"field":     {http.MethodPost, h.field},
		"reset":     {http.MethodPost, h.reset},
		"submit":    {http.MethodPost, h.submit},
		"state":     {http.MethodGet, h.state},
		"prompt":    {http.MethodGet, h.prompt},
	}

	rt, ok := routes[op]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.Method != rt.method {
		w.Header().Set("Allow", rt.method)
		respondError(w, r, &httpError{status: http.StatusMethodNotAllowed,
			body: types.ErrorBody{Code: types.CodeBadRequest, Message: "method not allowed"}})
		return
	}
	rt.fn(w, r, kind)
}

// opRequest is the union of the non-audio operation bodies, accepted as JSON
// or form fields.
type opRequest struct {
	SessionID string `json:"session_id"`
	Step      string `json:"step"`
	Decision  string `json:"decision"`
	Field     string `json:"field"`
	Value     string `json:"value"`
}

func decodeOp(r *http.Request) (opRequest, error) {
	var req opRequest
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			return req, badRequest("unreadable body")
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				return req, badRequest("malformed JSON body")
			}
		}
		return req, nil
	}
	if err := r.ParseForm(); err != nil {
		return req, badRequest("malformed form body")
	}
	req.SessionID = r.FormValue("session_id")
	req.Step = r.FormValue("step")
	req.Decision = r.FormValue("decision")
	req.Field = r.FormValue("field")
	req.Value = r.FormValue("value")
	return req, nil
}

// start opens a session, resuming a live one when the caller supplies its id.
// An expired or unknown id yields a fresh session under that id.
func (h *Handler) start(w http.ResponseWriter, r *http.Request, kind types.WorkflowKind) {
	req, err := decodeOp(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	h.store(kind).Reap()
	sess, created := h.store(kind).GetOrCreate(req.SessionID)
	log := observability.LoggerFromContext(r.Context())
	log.Info("session started", "workflow", kind, "session_id", sess.ID(), "resumed", !created)
	respondState(w, r, http.StatusOK, h.stepState(sess, ""))
}

// step runs the voice pipeline for the session's current step. The audio
// arrives as a multipart "audio" part. A successful parse records the step's
// data but does not advance; confirm does that.
func (h *Handler) step(w http.ResponseWriter, r *http.Request, kind types.WorkflowKind) {
	r.Body = http.MaxBytesReader(w, r.Body, voice.MaxAudioBytes+(1<<20))
	if err := r.ParseMultipartForm(voice.MaxAudioBytes + (1 << 20)); err != nil {
		respondError(w, r, badRequest("expected multipart form with an audio part"))
		return
	}

	sess, ok := h.store(kind).Get(r.FormValue("session_id"))
	if !ok {
		respondError(w, r, sessionExpired())
		return
	}

	stepID := workflow.StepID(r.FormValue("step"))
	if stepID == "" {
		stepID = sess.CurrentStep()
	}
	if stepID != sess.CurrentStep() {
		respondError(w, r, transitionError("audio submitted for a step that is not current"))
		return
	}
	catalog := h.store(kind).Catalog()
	if step, ok := catalog.Step(stepID); !ok || !step.Voice {
		respondError(w, r, workflow.ErrNotVoiceStep)
		return
	}

	audio, err := readAudioPart(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	transcript, res, err := h.Pipeline.Process(r.Context(), stepID, audio)
	if err != nil {
		var verr *voice.ValidationError
		if errors.As(err, &verr) {
			sess.SetStepError(stepID, verr.Message)
			respondValidation(w, r, verr)
			return
		}
		observability.LoggerFromContext(r.Context()).Error("voice pipeline failed",
			"session_id", sess.ID(), "step", stepID, "error", err)
		respondError(w, r, upstreamError(err))
		return
	}

	if item, isItem := res.(workflow.LineItemResult); isItem && stepID == catalog.LoopStep {
		if err := sess.StashPending(item.Item, transcript, res); err != nil {
			respondError(w, r, err)
			return
		}
	} else if err := sess.MarkComplete(stepID, transcript, res); err != nil {
		respondError(w, r, err)
		return
	}

	observability.LoggerFromContext(r.Context()).Info("utterance recorded",
		"session_id", sess.ID(), "step", stepID, "parsed", voice.Describe(res))
	respondState(w, r, http.StatusOK, h.stepState(sess, transcript))
}

func readAudioPart(r *http.Request) ([]byte, error) {
	file, _, err := r.FormFile("audio")
	if err != nil {
		return nil, badRequest("missing audio part")
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, voice.MaxAudioBytes+1))
	if err != nil {
		return nil, badRequest("unreadable audio part")
	}
	return audio, nil
}

// confirm advances past the current step once its data is in place.
func (h *Handler) confirm(w http.ResponseWriter, r *http.Request, kind types.WorkflowKind) {
	req, err := decodeOp(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	sess, ok := h.store(kind).Get(req.SessionID)
	if !ok {
		respondError(w, r, sessionExpired())
		return
	}

	catalog := h.store(kind).Catalog()
	current := sess.CurrentStep()
	switch current {
	case workflow.StepFinalSubmit:
		respondError(w, r, transitionError("use submit to create the record"))
		return
	case workflow.StepComplete:
		respondError(w, r, transitionError("the workflow is already complete"))
		return
	}
	if current == catalog.LoopStep && sess.HasPendingItem() {
		respondError(w, r, transitionError("decide on the pending line item first"))
		return
	}

	idx := catalog.Index(current)
	if err := sess.GoTo(catalog.Steps[idx+1].ID); err != nil {
		respondError(w, r, err)
		return
	}
	respondState(w, r, http.StatusOK, h.stepState(sess, ""))
}

// goTo jumps to a completed step for editing, or forward one step when the
// current data allows it.
func (h *Handler) goTo(w http.ResponseWriter, r *http.Request, kind types.WorkflowKind) {
	req, err := decodeOp(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	sess, ok := h.store(kind).Get(req.SessionID)
	if !ok {
		respondError(w, r, sessionExpired())
		return
	}
	if err := sess.GoTo(workflow.StepID(req.Step)); err != nil {
		respondError(w, r, err)
		return
	}
	respondState(w, r, http.StatusOK, h.stepState(sess, ""))
}

// lineItem resolves the pending line item: add_another loops, proceed moves
// on to review.
func (h *Handler) lineItem(w http.ResponseWriter, r *http.Request, kind types.WorkflowKind) {
	req, err := decodeOp(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	sess, ok := h.store(kind).Get(req.SessionID)
	if !ok {
		respondError(w, r, sessionExpired())
		return
	}

	var addAnother bool
	switch req.Decision {
	case "add_another":
		addAnother = true
	case "proceed":
	default:
		respondError(w, r, validationError("decision", "decision must be add_another or proceed"))
		return
	}

	if err := sess.CommitPending(addAnother); err != nil {
		respondError(w, r, err)
		return
	}
	respondState(w, r, http.StatusOK, h.stepState(sess, ""))
}

// field edits one draft value directly, for review-screen corrections.
func (h *Handler) field(w http.ResponseWriter, r *http.Request, kind types.WorkflowKind) {
	req, err := decodeOp(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	sess, ok := h.store(kind).Get(req.SessionID)
	if !ok {
		respondError(w, r, sessionExpired())
		return
	}
	if req.Field == "" {
		respondError(w, r, validationError("field", "field is required"))
		return
	}
	value, err := voice.SanitizeField(req.Field, req.Value)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := sess.UpdateField(req.Field, value); err != nil {
		respondError(w, r, err)
		return
	}
	respondState(w, r, http.StatusOK, h.stepState(sess, ""))
}

// reset abandons the session and mints a fresh one.
func (h *Handler) reset(w http.ResponseWriter, r *http.Request, kind types.WorkflowKind) {
	req, err := decodeOp(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	sess := h.store(kind).Reset(req.SessionID)
	respondState(w, r, http.StatusOK, h.stepState(sess, ""))
}

func (h *Handler) state(w http.ResponseWriter, r *http.Request, kind types.WorkflowKind) {
	sess, ok := h.store(kind).Get(r.URL.Query().Get("session_id"))
	if !ok {
		respondError(w, r, sessionExpired())
		return
	}
	if wantsHTML(r) {
		writeStepPage(w, http.StatusOK, h.stepState(sess, ""))
		return
	}
	respondData(w, r, http.StatusOK, sess.Snapshot())
}

func (h *Handler) prompt(w http.ResponseWriter, r *http.Request, kind types.WorkflowKind) {
	sess, ok := h.store(kind).Get(r.URL.Query().Get("session_id"))
	if !ok {
		respondError(w, r, sessionExpired())
		return
	}
	catalog := h.store(kind).Catalog()
	current := sess.CurrentStep()
	step, _ := catalog.Step(current)
	respondData(w, r, http.StatusOK, map[string]any{
		"session_id": sess.ID(),
		"step":       string(current),
		"prompt":     step.Prompt,
		"voice":      step.Voice,
		"steps":      catalog.StepIDs(),
	})
}

// submit pushes the finished draft to the accounting service. An expired
// access token gets one refresh-and-retry before the caller sees an error.
func (h *Handler) submit(w http.ResponseWriter, r *http.Request, kind types.WorkflowKind) {
	req, err := decodeOp(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	sess, ok := h.store(kind).Get(req.SessionID)
	if !ok {
		respondError(w, r, sessionExpired())
		return
	}
	if sess.CurrentStep() != workflow.StepFinalSubmit {
		respondError(w, r, transitionError("the session is not ready to submit"))
		return
	}

	resolved, err := h.Resolver.ResolveRequest(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	log := observability.LoggerFromContext(r.Context())
	snap := sess.Snapshot()

	result, err := h.submitDraft(r, w, kind, snap.Draft, resolved)
	if err != nil {
		log.Error("submission failed", "workflow", kind, "session_id", sess.ID(), "error", err)
		respondError(w, r, err)
		return
	}

	_ = sess.MarkComplete(workflow.StepFinalSubmit, "", nil)
	sess.Advance()
	log.Info("record created", "workflow", kind, "session_id", sess.ID(), "remote_id", result.RemoteID)

	state := h.stepState(sess, "")
	state.RemoteID = result.RemoteID
	respondState(w, r, http.StatusOK, state)
}

func (h *Handler) submitDraft(r *http.Request, w http.ResponseWriter, kind types.WorkflowKind, draft types.Draft, resolved auth.Resolved) (xero.SubmitResult, error) {
	submit := func(cred xero.Credential) (xero.SubmitResult, error) {
		if kind == types.KindInvoice {
			return h.Ledger.SubmitInvoice(r.Context(), draft, cred)
		}
		return h.Ledger.SubmitContact(r.Context(), draft, cred)
	}

	result, err := submit(resolved.Credential)
	if !errors.Is(err, xero.ErrAuthExpired) {
		return result, err
	}

	fresh, refreshErr := h.Ledger.Refresh(r.Context(), resolved.Credential)
	if refreshErr != nil {
		return xero.SubmitResult{}, refreshErr
	}
	h.persistCredential(w, resolved, fresh)
	return submit(fresh)
}

// persistCredential writes a refreshed credential back to the channel the
// request came in on.
func (h *Handler) persistCredential(w http.ResponseWriter, resolved auth.Resolved, fresh xero.Credential) {
	if resolved.Bearer != "" {
		_ = h.Tokens.UpdateCredential(resolved.Bearer, fresh)
		return
	}
	if cookie, err := h.Cookies.Cookie(fresh); err == nil {
		http.SetCookie(w, cookie)
	}
}

func (h *Handler) stepState(sess *workflow.Session, transcript string) types.StepState {
	snap := sess.Snapshot()
	catalog := h.store(snap.WorkflowKind).Catalog()

	state := types.StepState{
		SessionID:      snap.SessionID,
		WorkflowKind:   snap.WorkflowKind,
		CurrentStep:    snap.CurrentStep,
		StepPrompt:     catalog.Prompt(workflow.StepID(snap.CurrentStep)),
		CompletedSteps: snap.CompletedSteps,
		Progress:       snap.Progress,
		Draft:          snap.Draft,
		PendingItem:    snap.PendingItem,
		Transcript:     transcript,
		CanConfirm:     sess.CanAdvance(),
	}
	if snap.PendingItem != nil {
		state.RequiresItemDecision = true
		state.CanConfirm = false
	}
	if snap.WorkflowKind == types.KindInvoice {
		state.InvoiceTotal = snap.Draft.InvoiceTotal()
	}
	return state
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"contact_sessions": h.Contacts.Len(),
		"invoice_sessions": h.Invoices.Len(),
	})
}
