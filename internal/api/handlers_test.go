package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/davidahmann/voicebooks/internal/auth"
	"github.com/davidahmann/voicebooks/internal/voice"
	"github.com/davidahmann/voicebooks/internal/workflow"
	"github.com/davidahmann/voicebooks/internal/xero"
	"github.com/davidahmann/voicebooks/pkg/types"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestHandler(t *testing.T, ledger xero.Ledger) *Handler {
	t.Helper()

	sessions := auth.NewMachineSessions()
	tokens, err := auth.NewTokenManager(testSecret, sessions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cookies, err := auth.NewCookieCodec(testSecret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ledger == nil {
		ledger = &xero.DevLedger{}
	}

	return &Handler{
		Contacts: workflow.NewStore(workflow.ContactCatalog(), 0),
		Invoices: workflow.NewStore(workflow.InvoiceCatalog(), 0),
		Pipeline: &voice.Pipeline{
			Transcriber: voice.DevTranscriber{},
			Extractor:   voice.DevExtractor{},
		},
		Ledger:   ledger,
		Resolver: &auth.Resolver{Tokens: tokens, Cookies: cookies},
		Tokens:   tokens,
		Cookies:  cookies,
	}
}

func postForm(t *testing.T, srv *httptest.Server, path string, values url.Values, headers map[string]string) (*http.Response, types.Envelope) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(values.Encode()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Body.Close()
	var env types.Envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return res, env
}

func postAudio(t *testing.T, srv *httptest.Server, path, sessionID, step, spoken string) (*http.Response, types.Envelope) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("session_id", sessionID)
	_ = mw.WriteField("step", step)
	part, err := mw.CreateFormFile("audio", "clip.wav")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _ = part.Write([]byte(spoken))
	_ = mw.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Body.Close()
	var env types.Envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return res, env
}

func stateFrom(t *testing.T, env types.Envelope) types.StepState {
	t.Helper()
	raw, err := json.Marshal(env.Data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var state types.StepState
	if err := json.Unmarshal(raw, &state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return state
}

func confirmStep(t *testing.T, srv *httptest.Server, prefix, sessionID string) types.StepState {
	t.Helper()
	res, env := postForm(t, srv, prefix+"confirm", url.Values{"session_id": {sessionID}}, nil)
	if res.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("confirm failed: %d %+v", res.StatusCode, env.Error)
	}
	return stateFrom(t, env)
}

func TestContactFlowEndToEnd(t *testing.T) {
	h := newTestHandler(t, nil)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	res, env := postForm(t, srv, "/v1/contact/start", url.Values{}, nil)
	if res.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("start failed: %d %+v", res.StatusCode, env.Error)
	}
	state := stateFrom(t, env)
	if state.CurrentStep != "welcome" {
		t.Fatalf("expected welcome step, got %q", state.CurrentStep)
	}
	sid := state.SessionID

	state = confirmStep(t, srv, "/v1/contact/", sid)
	if state.CurrentStep != "name" {
		t.Fatalf("expected name step, got %q", state.CurrentStep)
	}

	_, env = postAudio(t, srv, "/v1/contact/step", sid, "name", "Acme Ltd")
	if !env.Success {
		t.Fatalf("name step failed: %+v", env.Error)
	}
	state = stateFrom(t, env)
	if state.CurrentStep != "name" {
		t.Fatalf("voice success must not advance, got %q", state.CurrentStep)
	}
	if state.Draft.Name != "Acme Ltd" || !state.Draft.IsOrganization {
		t.Fatalf("unexpected draft %+v", state.Draft)
	}
	if state.Transcript != "Acme Ltd" {
		t.Fatalf("expected transcript echo, got %q", state.Transcript)
	}

	confirmStep(t, srv, "/v1/contact/", sid)
	postAudio(t, srv, "/v1/contact/step", sid, "email", "billing@acme.example, 0113 496 0000")
	confirmStep(t, srv, "/v1/contact/", sid)
	postAudio(t, srv, "/v1/contact/step", sid, "address", "1 Main St, Leeds, LS1 1AA")
	state = confirmStep(t, srv, "/v1/contact/", sid)
	if state.CurrentStep != "review" {
		t.Fatalf("expected review, got %q", state.CurrentStep)
	}
	state = confirmStep(t, srv, "/v1/contact/", sid)
	if state.CurrentStep != "final_submit" {
		t.Fatalf("expected final_submit, got %q", state.CurrentStep)
	}

	token := issueToken(t, srv)
	res, env = postForm(t, srv, "/v1/contact/submit", url.Values{"session_id": {sid}},
		map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("submit failed: %d %+v", res.StatusCode, env.Error)
	}
	state = stateFrom(t, env)
	if state.CurrentStep != "complete" || state.RemoteID == "" {
		t.Fatalf("expected completed state with remote id, got %+v", state)
	}
}

func TestInvoiceLineItemLoop(t *testing.T) {
	h := newTestHandler(t, nil)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	_, env := postForm(t, srv, "/v1/invoice/start", url.Values{}, nil)
	sid := stateFrom(t, env).SessionID

	confirmStep(t, srv, "/v1/invoice/", sid)
	postAudio(t, srv, "/v1/invoice/step", sid, "contact_name", "Acme Ltd")
	confirmStep(t, srv, "/v1/invoice/", sid)
	postAudio(t, srv, "/v1/invoice/step", sid, "due_date", "in 30 days")
	state := confirmStep(t, srv, "/v1/invoice/", sid)
	if state.CurrentStep != "line_item" {
		t.Fatalf("expected line_item, got %q", state.CurrentStep)
	}

	_, env = postAudio(t, srv, "/v1/invoice/step", sid, "line_item", "Design work, 3, 250")
	state = stateFrom(t, env)
	if !state.RequiresItemDecision || state.PendingItem == nil {
		t.Fatalf("expected pending item decision, got %+v", state)
	}
	if len(state.Draft.LineItems) != 0 {
		t.Fatalf("pending item must not be committed yet")
	}

	res, env := postForm(t, srv, "/v1/invoice/line-item", url.Values{"session_id": {sid}, "decision": {"add_another"}}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("decision failed: %d %+v", res.StatusCode, env.Error)
	}
	state = stateFrom(t, env)
	if state.CurrentStep != "line_item" || len(state.Draft.LineItems) != 1 {
		t.Fatalf("add_another should stay on loop with one committed item, got %+v", state)
	}

	postAudio(t, srv, "/v1/invoice/step", sid, "line_item", "Travel, 1, 80")
	_, env = postForm(t, srv, "/v1/invoice/line-item", url.Values{"session_id": {sid}, "decision": {"proceed"}}, nil)
	state = stateFrom(t, env)
	if state.CurrentStep != "review" || len(state.Draft.LineItems) != 2 {
		t.Fatalf("proceed should land on review with two items, got %+v", state)
	}
	if state.InvoiceTotal != 3*250+80 {
		t.Fatalf("unexpected invoice total %g", state.InvoiceTotal)
	}
}

func TestPromptListsCatalogSteps(t *testing.T) {
	h := newTestHandler(t, nil)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	_, env := postForm(t, srv, "/v1/contact/start", url.Values{}, nil)
	sid := stateFrom(t, env).SessionID

	res, err := srv.Client().Get(srv.URL + "/v1/contact/prompt?session_id=" + sid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	env = types.Envelope{}
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %T", env.Data)
	}
	if data["step"] != "welcome" || data["voice"] != false {
		t.Fatalf("unexpected prompt payload: %+v", data)
	}
	steps, ok := data["steps"].([]any)
	if !ok || len(steps) == 0 {
		t.Fatalf("expected catalog step list, got %+v", data["steps"])
	}
	if steps[0] != "welcome" || steps[len(steps)-1] != "complete" {
		t.Fatalf("unexpected step order: %+v", steps)
	}
}

func TestStepRejectsControlStepAudio(t *testing.T) {
	h := newTestHandler(t, nil)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	_, env := postForm(t, srv, "/v1/contact/start", url.Values{}, nil)
	sid := stateFrom(t, env).SessionID

	// welcome is control-only
	res, env := postAudio(t, srv, "/v1/contact/step", sid, "welcome", "hello there")
	if res.StatusCode != http.StatusConflict || env.Error == nil || env.Error.Code != "TRANSITION_ERROR" {
		t.Fatalf("expected transition conflict, got %d %+v", res.StatusCode, env.Error)
	}
}

func TestGotoBlockedByPendingItem(t *testing.T) {
	h := newTestHandler(t, nil)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	_, env := postForm(t, srv, "/v1/invoice/start", url.Values{}, nil)
	sid := stateFrom(t, env).SessionID

	confirmStep(t, srv, "/v1/invoice/", sid)
	postAudio(t, srv, "/v1/invoice/step", sid, "contact_name", "Acme Ltd")
	confirmStep(t, srv, "/v1/invoice/", sid)
	postAudio(t, srv, "/v1/invoice/step", sid, "due_date", "in 30 days")
	confirmStep(t, srv, "/v1/invoice/", sid)

	postAudio(t, srv, "/v1/invoice/step", sid, "line_item", "Design work, 3, 250")
	postForm(t, srv, "/v1/invoice/line-item", url.Values{"session_id": {sid}, "decision": {"add_another"}}, nil)
	postAudio(t, srv, "/v1/invoice/step", sid, "line_item", "Travel, 1, 80")

	// one item committed so the loop predicate holds, but the second is
	// still undecided; navigation must stay pinned
	res, env := postForm(t, srv, "/v1/invoice/goto", url.Values{"session_id": {sid}, "step": {"review"}}, nil)
	if res.StatusCode != http.StatusConflict || env.Error == nil || env.Error.Code != "TRANSITION_ERROR" {
		t.Fatalf("expected transition conflict, got %d %+v", res.StatusCode, env.Error)
	}

	res, env = postForm(t, srv, "/v1/invoice/goto", url.Values{"session_id": {sid}, "step": {"contact_name"}}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected backward navigation blocked too, got %d %+v", res.StatusCode, env.Error)
	}

	_, env = postForm(t, srv, "/v1/invoice/line-item", url.Values{"session_id": {sid}, "decision": {"proceed"}}, nil)
	state := stateFrom(t, env)
	if state.CurrentStep != "review" || len(state.Draft.LineItems) != 2 {
		t.Fatalf("proceed should release the session with both items, got %+v", state)
	}
}

func TestLineItemDecisionValidation(t *testing.T) {
	h := newTestHandler(t, nil)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	_, env := postForm(t, srv, "/v1/invoice/start", url.Values{}, nil)
	sid := stateFrom(t, env).SessionID

	res, env := postForm(t, srv, "/v1/invoice/line-item", url.Values{"session_id": {sid}, "decision": {"maybe"}}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity || env.Error == nil || env.Error.Field != "decision" {
		t.Fatalf("expected decision validation error, got %d %+v", res.StatusCode, env.Error)
	}

	res, env = postForm(t, srv, "/v1/invoice/line-item", url.Values{"session_id": {sid}, "decision": {"proceed"}}, nil)
	if res.StatusCode != http.StatusConflict || env.Error == nil || env.Error.Code != types.CodeTransition {
		t.Fatalf("expected transition error without pending item, got %d %+v", res.StatusCode, env.Error)
	}
}

func TestUnknownSessionIsGone(t *testing.T) {
	h := newTestHandler(t, nil)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	res, env := postForm(t, srv, "/v1/contact/confirm", url.Values{"session_id": {"nope"}}, nil)
	if res.StatusCode != http.StatusGone || env.Error == nil || env.Error.Code != types.CodeSessionExpired {
		t.Fatalf("expected session expired, got %d %+v", res.StatusCode, env.Error)
	}
}

func TestStartResumesLiveSession(t *testing.T) {
	h := newTestHandler(t, nil)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	_, env := postForm(t, srv, "/v1/contact/start", url.Values{}, nil)
	sid := stateFrom(t, env).SessionID
	confirmStep(t, srv, "/v1/contact/", sid)

	_, env = postForm(t, srv, "/v1/contact/start", url.Values{"session_id": {sid}}, nil)
	state := stateFrom(t, env)
	if state.SessionID != sid || state.CurrentStep != "name" {
		t.Fatalf("expected resumed session on name step, got %+v", state)
	}
}

func TestVoiceRejectionKeepsTranscript(t *testing.T) {
	h := newTestHandler(t, nil)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	_, env := postForm(t, srv, "/v1/contact/start", url.Values{}, nil)
	sid := stateFrom(t, env).SessionID
	confirmStep(t, srv, "/v1/contact/", sid)

	res, env := postAudio(t, srv, "/v1/contact/step", sid, "name", "Acme <script>")
	if res.StatusCode != http.StatusUnprocessableEntity || env.Error == nil {
		t.Fatalf("expected validation rejection, got %d %+v", res.StatusCode, env.Error)
	}
	if env.Error.Code != types.CodeValidation || env.Error.Field != "name" {
		t.Fatalf("unexpected error body %+v", env.Error)
	}
	data, _ := env.Data.(map[string]any)
	if data["transcript"] != "Acme <script>" {
		t.Fatalf("expected transcript salvage, got %v", env.Data)
	}

	_, env = postForm(t, srv, "/v1/contact/start", url.Values{"session_id": {sid}}, nil)
	state := stateFrom(t, env)
	if state.Draft.Name != "" {
		t.Fatalf("rejected input must not touch the draft")
	}
}

func TestConfirmRequiresStepData(t *testing.T) {
	h := newTestHandler(t, nil)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	_, env := postForm(t, srv, "/v1/contact/start", url.Values{}, nil)
	sid := stateFrom(t, env).SessionID
	state := confirmStep(t, srv, "/v1/contact/", sid)
	if state.CanConfirm {
		t.Fatalf("empty name step must not report can_confirm")
	}

	res, env := postForm(t, srv, "/v1/contact/confirm", url.Values{"session_id": {sid}}, nil)
	if res.StatusCode != http.StatusConflict || env.Error == nil || env.Error.Code != types.CodeTransition {
		t.Fatalf("expected transition error on empty name, got %d %+v", res.StatusCode, env.Error)
	}

	_, env = postAudio(t, srv, "/v1/contact/step", sid, "name", "Jane Smith")
	if state = stateFrom(t, env); !state.CanConfirm {
		t.Fatalf("recorded name step should report can_confirm")
	}
}

func TestFieldEdit(t *testing.T) {
	h := newTestHandler(t, nil)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	_, env := postForm(t, srv, "/v1/contact/start", url.Values{}, nil)
	sid := stateFrom(t, env).SessionID
	confirmStep(t, srv, "/v1/contact/", sid)
	postAudio(t, srv, "/v1/contact/step", sid, "name", "Acme Ltd")

	_, env = postForm(t, srv, "/v1/contact/field",
		url.Values{"session_id": {sid}, "field": {"name"}, "value": {"Acme Holdings Ltd"}}, nil)
	state := stateFrom(t, env)
	if state.Draft.Name != "Acme Holdings Ltd" {
		t.Fatalf("expected edited name, got %q", state.Draft.Name)
	}

	res, env := postForm(t, srv, "/v1/contact/field",
		url.Values{"session_id": {sid}, "field": {"shoe_size"}, "value": {"42"}}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity || env.Error == nil {
		t.Fatalf("expected unknown field rejection, got %d %+v", res.StatusCode, env.Error)
	}

	// edits face the same rules as voice input
	res, env = postForm(t, srv, "/v1/contact/field",
		url.Values{"session_id": {sid}, "field": {"email"}, "value": {"not-an-email"}}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity || env.Error == nil || env.Error.Field != "email" {
		t.Fatalf("expected email rejection, got %d %+v", res.StatusCode, env.Error)
	}
	res, env = postForm(t, srv, "/v1/contact/field",
		url.Values{"session_id": {sid}, "field": {"email"}, "value": {"  Jane@Example.COM "}}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("edit failed: %d %+v", res.StatusCode, env.Error)
	}
	if state = stateFrom(t, env); state.Draft.Email != "jane@example.com" {
		t.Fatalf("expected normalized email, got %q", state.Draft.Email)
	}
}

func TestResetMintsNewIdentity(t *testing.T) {
	h := newTestHandler(t, nil)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	_, env := postForm(t, srv, "/v1/contact/start", url.Values{}, nil)
	sid := stateFrom(t, env).SessionID

	_, env = postForm(t, srv, "/v1/contact/reset", url.Values{"session_id": {sid}}, nil)
	state := stateFrom(t, env)
	if state.SessionID == sid {
		t.Fatalf("reset must mint a new session id")
	}
	if state.CurrentStep != "welcome" {
		t.Fatalf("reset must land on welcome, got %q", state.CurrentStep)
	}
}

func TestSubmitRequiresCredential(t *testing.T) {
	h := newTestHandler(t, nil)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	sid := driveContactToFinalSubmit(t, srv)
	res, env := postForm(t, srv, "/v1/contact/submit", url.Values{"session_id": {sid}}, nil)
	if res.StatusCode != http.StatusUnauthorized || env.Error == nil || env.Error.Code != types.CodeAuthRequired {
		t.Fatalf("expected auth required, got %d %+v", res.StatusCode, env.Error)
	}
}

func TestSubmitBeforeFinalStepRejected(t *testing.T) {
	h := newTestHandler(t, nil)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	_, env := postForm(t, srv, "/v1/contact/start", url.Values{}, nil)
	sid := stateFrom(t, env).SessionID

	res, env := postForm(t, srv, "/v1/contact/submit", url.Values{"session_id": {sid}}, nil)
	if res.StatusCode != http.StatusConflict || env.Error == nil || env.Error.Code != types.CodeTransition {
		t.Fatalf("expected transition error, got %d %+v", res.StatusCode, env.Error)
	}
}

// staleLedger rejects the first submission with an expired token and accepts
// after a refresh.
type staleLedger struct {
	refreshed   bool
	submissions int
}

func (l *staleLedger) SubmitContact(_ context.Context, _ types.Draft, cred xero.Credential) (xero.SubmitResult, error) {
	l.submissions++
	if cred.AccessToken != "fresh-at" {
		return xero.SubmitResult{}, xero.ErrAuthExpired
	}
	return xero.SubmitResult{RemoteID: "c-1"}, nil
}

func (l *staleLedger) SubmitInvoice(ctx context.Context, draft types.Draft, cred xero.Credential) (xero.SubmitResult, error) {
	return l.SubmitContact(ctx, draft, cred)
}

func (l *staleLedger) Refresh(_ context.Context, cred xero.Credential) (xero.Credential, error) {
	l.refreshed = true
	cred.AccessToken = "fresh-at"
	return cred, nil
}

func TestSubmitRefreshesOnceOnExpiredToken(t *testing.T) {
	ledger := &staleLedger{}
	h := newTestHandler(t, ledger)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	sid := driveContactToFinalSubmit(t, srv)
	token := issueToken(t, srv)

	res, env := postForm(t, srv, "/v1/contact/submit", url.Values{"session_id": {sid}},
		map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("submit failed: %d %+v", res.StatusCode, env.Error)
	}
	if !ledger.refreshed || ledger.submissions != 2 {
		t.Fatalf("expected refresh and retry, got refreshed=%v submissions=%d", ledger.refreshed, ledger.submissions)
	}

	cred, err := h.Tokens.Credential(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.AccessToken != "fresh-at" {
		t.Fatalf("refreshed credential must persist in the token session, got %q", cred.AccessToken)
	}
}

func TestHTMLChannel(t *testing.T) {
	h := newTestHandler(t, nil)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/contact/start", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/html")
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Body.Close()

	if ct := res.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Fatalf("expected html response, got %q", ct)
	}
	body, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(body), "New Contact") {
		t.Fatalf("expected contact page, got %s", body)
	}
}

func TestTokenIssueAndRefreshEndpoints(t *testing.T) {
	h := newTestHandler(t, nil)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	token := issueToken(t, srv)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/auth/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Body.Close()
	var env types.Envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("refresh failed: %d %+v", res.StatusCode, env.Error)
	}

	data, _ := env.Data.(map[string]any)
	next, _ := data["token"].(string)
	if next == "" || next == token {
		t.Fatalf("expected rotated token")
	}
	if _, err := h.Tokens.Credential(token); err == nil {
		t.Fatalf("old token should be retired")
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, nil)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	_, env := postForm(t, srv, "/v1/contact/start", url.Values{}, nil)
	if stateFrom(t, env).SessionID == "" {
		t.Fatalf("expected a session")
	}

	res, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if got := res.Header.Get("X-Request-ID"); got == "" {
		t.Fatalf("expected request id header")
	}
	var payload struct {
		Status          string `json:"status"`
		ContactSessions int    `json:"contact_sessions"`
		InvoiceSessions int    `json:"invoice_sessions"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if payload.Status != "ok" || payload.ContactSessions != 1 || payload.InvoiceSessions != 0 {
		t.Fatalf("unexpected health payload: %+v", payload)
	}
}

func issueToken(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	payload := `{"access_token":"at","refresh_token":"rt","tenant_id":"tenant-1"}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/auth/token", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Body.Close()
	var env types.Envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !env.Success {
		t.Fatalf("token issue failed: %+v", env.Error)
	}
	data, _ := env.Data.(map[string]any)
	token, _ := data["token"].(string)
	if token == "" {
		t.Fatalf("missing token in %v", env.Data)
	}
	return token
}

func driveContactToFinalSubmit(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	_, env := postForm(t, srv, "/v1/contact/start", url.Values{}, nil)
	sid := stateFrom(t, env).SessionID

	confirmStep(t, srv, "/v1/contact/", sid)
	postAudio(t, srv, "/v1/contact/step", sid, "name", "Acme Ltd")
	confirmStep(t, srv, "/v1/contact/", sid)
	postAudio(t, srv, "/v1/contact/step", sid, "email", "billing@acme.example")
	confirmStep(t, srv, "/v1/contact/", sid)
	postAudio(t, srv, "/v1/contact/step", sid, "address", "1 Main St, Leeds, LS1 1AA")
	confirmStep(t, srv, "/v1/contact/", sid)
	state := confirmStep(t, srv, "/v1/contact/", sid)
	if state.CurrentStep != "final_submit" {
		t.Fatalf("expected final_submit, got %q", state.CurrentStep)
	}
	return sid
}
