package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// streamChunkSize is the payload size per websocket frame. Deepgram accepts
// larger frames, but chunking keeps memory flat for long clips.
const streamChunkSize = 32 << 10

// StreamingClient pushes the clip over the websocket listen endpoint and
// accumulates final transcript segments. It satisfies the same contract as
// the REST Client and is selected by configuration.
type StreamingClient struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewStreamingClient(cfg Config) (*StreamingClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("DEEPGRAM_API_KEY is not configured")
	}
	return &StreamingClient{
		cfg:    cfg.withDefaults(),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

func (c *StreamingClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	wsURL, err := c.listenURL()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+c.cfg.APIKey)

	conn, _, err := c.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return "", fmt.Errorf("connect to deepgram websocket: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(requestTimeout)
	_ = conn.SetReadDeadline(deadline)
	_ = conn.SetWriteDeadline(deadline)

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- c.send(conn, audio)
	}()

	transcript, readErr := readFinals(conn)
	if readErr != nil {
		return "", readErr
	}
	if err := <-writeErr; err != nil {
		return "", err
	}
	return transcript, nil
}

func (c *StreamingClient) send(conn *websocket.Conn, audio []byte) error {
	for off := 0; off < len(audio); off += streamChunkSize {
		end := off + streamChunkSize
		if end > len(audio) {
			end = len(audio)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, audio[off:end]); err != nil {
			return fmt.Errorf("send audio: %w", err)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("close stream: %w", err)
	}
	return nil
}

// readFinals drains events until the server closes, joining is_final
// segments in arrival order.
func readFinals(conn *websocket.Conn) (string, error) {
	var parts []string
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				return strings.Join(parts, " "), nil
			}
			return "", fmt.Errorf("read deepgram event: %w", err)
		}

		var event streamEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			continue
		}
		if strings.EqualFold(event.Type, "Error") {
			msg := strings.TrimSpace(event.Message)
			if msg == "" {
				msg = "deepgram returned an unknown error"
			}
			return "", errors.New(msg)
		}
		if !event.IsFinal {
			continue
		}
		if text := event.transcript(); text != "" {
			parts = append(parts, text)
		}
	}
}

func (c *StreamingClient) listenURL() (string, error) {
	base := strings.TrimRight(strings.TrimSpace(c.cfg.APIBaseURL), "/")
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	u, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}
	q := u.Query()
	q.Set("model", c.cfg.Model)
	q.Set("smart_format", fmt.Sprintf("%t", c.cfg.SmartFormat))
	q.Set("interim_results", "false")
	if c.cfg.Language != "" {
		q.Set("language", c.cfg.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type streamEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	IsFinal bool   `json:"is_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (e streamEvent) transcript() string {
	if len(e.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(e.Channel.Alternatives[0].Transcript)
}
