package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
)

const defaultAddr = "http://localhost:8080"

func main() {
	exitFn(run(os.Args, os.Stdout, os.Stderr))
}

var exitFn = os.Exit

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	switch args[1] {
	case "start":
		return handleStart(args[2:], stdout, stderr)
	case "say":
		return handleSay(args[2:], stdout, stderr)
	case "confirm":
		return handleConfirm(args[2:], stdout, stderr)
	case "state":
		return handleState(args[2:], stdout, stderr)
	case "prompt":
		return handlePrompt(args[2:], stdout, stderr)
	case "token":
		return handleToken(args[2:], stdout, stderr)
	default:
		usage(stderr)
		return 2
	}
}

type commonFlags struct {
	addr  *string
	kind  *string
	token *string
}

func addCommon(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		addr:  fs.String("addr", envOrDefault("VOICEBOOKS_ADDR", defaultAddr), "gateway address"),
		kind:  fs.String("kind", "contact", "workflow kind: contact | invoice"),
		token: fs.String("token", os.Getenv("VOICEBOOKS_TOKEN"), "bearer token"),
	}
}

func handleStart(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.SetOutput(stderr)
	c := addCommon(fs)
	session := fs.String("session", "", "session id to resume (optional)")
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}

	form := url.Values{}
	if *session != "" {
		form.Set("session_id", *session)
	}
	body, status, err := httpPostForm(*c.addr+"/v1/"+*c.kind+"/start", *c.token, form)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	return printState(stdout, stderr, body, status)
}

func handleSay(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("say", flag.ContinueOnError)
	fs.SetOutput(stderr)
	c := addCommon(fs)
	session := fs.String("session", "", "session id (required)")
	step := fs.String("step", "", "step id (required)")
	audioPath := fs.String("audio", "", "audio file; omit to send the text argument as audio bytes")
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}
	if *session == "" || *step == "" {
		fmt.Fprintln(stderr, "say requires --session and --step")
		fs.Usage()
		return 2
	}

	var audio []byte
	switch {
	case *audioPath != "":
		data, err := os.ReadFile(*audioPath)
		if err != nil {
			fmt.Fprintln(stderr, "read audio:", err)
			return 1
		}
		audio = data
	case fs.NArg() == 1:
		// Dev gateways echo audio bytes back as the transcript, so plain
		// text stands in for a recording.
		audio = []byte(fs.Arg(0))
	default:
		fmt.Fprintln(stderr, "say requires --audio or a single <text> argument")
		fs.Usage()
		return 2
	}

	body, status, err := httpPostAudio(*c.addr+"/v1/"+*c.kind+"/step", *c.token, *session, *step, audio)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	return printState(stdout, stderr, body, status)
}

func handleConfirm(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("confirm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	c := addCommon(fs)
	session := fs.String("session", "", "session id (required)")
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}
	if *session == "" {
		fmt.Fprintln(stderr, "confirm requires --session")
		fs.Usage()
		return 2
	}

	form := url.Values{}
	form.Set("session_id", *session)
	body, status, err := httpPostForm(*c.addr+"/v1/"+*c.kind+"/confirm", *c.token, form)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	return printState(stdout, stderr, body, status)
}

func handleState(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("state", flag.ContinueOnError)
	fs.SetOutput(stderr)
	c := addCommon(fs)
	session := fs.String("session", "", "session id (required)")
	jsonOut := fs.Bool("json", false, "print raw JSON response")
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}
	if *session == "" {
		fmt.Fprintln(stderr, "state requires --session")
		fs.Usage()
		return 2
	}

	body, status, err := httpGet(*c.addr+"/v1/"+*c.kind+"/state?session_id="+url.QueryEscape(*session), *c.token)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	if *jsonOut {
		_, _ = stdout.Write(body)
		return 0
	}
	return printState(stdout, stderr, body, status)
}

func handlePrompt(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("prompt", flag.ContinueOnError)
	fs.SetOutput(stderr)
	c := addCommon(fs)
	session := fs.String("session", "", "session id (required)")
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}
	if *session == "" {
		fmt.Fprintln(stderr, "prompt requires --session")
		fs.Usage()
		return 2
	}

	body, status, err := httpGet(*c.addr+"/v1/"+*c.kind+"/prompt?session_id="+url.QueryEscape(*session), *c.token)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	if status != http.StatusOK {
		fmt.Fprintf(stderr, "prompt failed: %s\n", strings.TrimSpace(string(body)))
		return 1
	}

	var env struct {
		Data struct {
			Step   string `json:"step"`
			Prompt string `json:"prompt"`
			Voice  bool   `json:"voice"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		fmt.Fprintln(stderr, "invalid response:", err)
		return 1
	}
	fmt.Fprintf(stdout, "step=%s voice=%t prompt=%q\n", env.Data.Step, env.Data.Voice, env.Data.Prompt)
	return 0
}

func handleToken(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", envOrDefault("VOICEBOOKS_ADDR", defaultAddr), "gateway address")
	access := fs.String("access", "dev-access-token", "upstream access token")
	refresh := fs.String("refresh", "dev-refresh-token", "upstream refresh token")
	tenant := fs.String("tenant", "dev-tenant", "tenant id")
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}

	payload, _ := json.Marshal(map[string]string{
		"access_token":  *access,
		"refresh_token": *refresh,
		"tenant_id":     *tenant,
	})
	body, status, err := httpPostJSON(*addr+"/v1/auth/token", payload)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	if status != http.StatusOK {
		fmt.Fprintf(stderr, "token failed: %s\n", strings.TrimSpace(string(body)))
		return 1
	}

	var env struct {
		Data struct {
			Token     string `json:"token"`
			ExpiresAt string `json:"expires_at"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		fmt.Fprintln(stderr, "invalid response:", err)
		return 1
	}
	fmt.Fprintf(stdout, "token=%s expires_at=%s\n", env.Data.Token, env.Data.ExpiresAt)
	return 0
}

// printState renders the step-state envelope the workflow endpoints share.
func printState(stdout io.Writer, stderr io.Writer, body []byte, status int) int {
	var env struct {
		Success bool `json:"success"`
		Data    struct {
			SessionID   string  `json:"session_id"`
			CurrentStep string  `json:"current_step"`
			StepPrompt  string  `json:"step_prompt"`
			Progress    float64 `json:"progress"`
			RemoteID    string  `json:"remote_id"`
		} `json:"data"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		fmt.Fprintln(stderr, "invalid response:", err)
		return 1
	}
	if status != http.StatusOK || !env.Success {
		if env.Error != nil {
			fmt.Fprintf(stderr, "error code=%s message=%q\n", env.Error.Code, env.Error.Message)
		} else {
			fmt.Fprintf(stderr, "request failed: %s\n", strings.TrimSpace(string(body)))
		}
		return 1
	}
	fmt.Fprintf(stdout, "session=%s step=%s progress=%.0f%%\n",
		env.Data.SessionID, env.Data.CurrentStep, env.Data.Progress)
	if env.Data.StepPrompt != "" {
		fmt.Fprintf(stdout, "prompt=%q\n", env.Data.StepPrompt)
	}
	if env.Data.RemoteID != "" {
		fmt.Fprintf(stdout, "remote_id=%s\n", env.Data.RemoteID)
	}
	return 0
}

func httpGet(rawURL string, token string) ([]byte, int, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	return do(req, token)
}

func httpPostForm(rawURL string, token string, form url.Values) ([]byte, int, error) {
	req, err := http.NewRequest(http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return do(req, token)
}

func httpPostJSON(rawURL string, payload []byte) ([]byte, int, error) {
	req, err := http.NewRequest(http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(req, "")
}

func httpPostAudio(rawURL string, token string, sessionID string, step string, audio []byte) ([]byte, int, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("session_id", sessionID); err != nil {
		return nil, 0, err
	}
	if err := mw.WriteField("step", step); err != nil {
		return nil, 0, err
	}
	part, err := mw.CreateFormFile("audio", "utterance")
	if err != nil {
		return nil, 0, err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, 0, err
	}
	if err := mw.Close(); err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequest(http.MethodPost, rawURL, &buf)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return do(req, token)
}

func do(req *http.Request, token string) ([]byte, int, error) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func envOrDefault(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage: voicebooks <command> [flags]

commands:
  start    begin or resume a workflow session
  say      submit an utterance for the current step
  confirm  accept the recorded step and advance
  state    show the session snapshot
  prompt   show the current step's prompt
  token    mint a bearer token from upstream credentials`)
}
