// Package deepgram transcribes recorded voice clips against the Deepgram
// speech API. The REST client covers the normal per-step upload; the
// websocket client in streaming.go is an alternative for callers that want
// transcription to start before the clip finishes uploading.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// requestTimeout bounds a whole transcription exchange, REST or websocket.
const requestTimeout = 30 * time.Second

// Config controls the Deepgram connection. Zero values fall back to the
// hosted API with the nova-2 model.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
}

func (c Config) withDefaults() Config {
	if c.APIBaseURL == "" {
		c.APIBaseURL = "https://api.deepgram.com/v1"
	}
	if c.Model == "" {
		c.Model = "nova-2"
	}
	return c
}

// Client transcribes pre-recorded audio over the REST listen endpoint.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("DEEPGRAM_API_KEY is not configured")
	}
	return &Client{
		cfg:  cfg.withDefaults(),
		http: &http.Client{Timeout: requestTimeout},
	}, nil
}

// Transcribe posts the clip and returns the top alternative's transcript.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	listenURL, err := c.listenURL()
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, listenURL, bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("build deepgram request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call deepgram: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read deepgram response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("deepgram returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed listenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode deepgram response: %w", err)
	}
	return parsed.transcript(), nil
}

func (c *Client) listenURL() (string, error) {
	base := strings.TrimRight(strings.TrimSpace(c.cfg.APIBaseURL), "/")
	u, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}
	q := u.Query()
	q.Set("model", c.cfg.Model)
	q.Set("smart_format", fmt.Sprintf("%t", c.cfg.SmartFormat))
	q.Set("punctuate", "true")
	if c.cfg.Language != "" {
		q.Set("language", c.cfg.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type listenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (r listenResponse) transcript() string {
	if len(r.Results.Channels) == 0 || len(r.Results.Channels[0].Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Results.Channels[0].Alternatives[0].Transcript)
}
