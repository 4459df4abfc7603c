// Package chat implements the turn-based conversation client. Messages go
// out as form posts; replies come back as JSON with an optional MP3
// payload when the assistant is in voice mode.
package chat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mitra-ai/mitra-live/pkg/core"
)

// CheckInMessage is the synthetic user message sent after a live session
// ends. The server recognizes the post-live flag, not the text, but the
// text still lands in the conversation history.
const CheckInMessage = "I just returned from the live session"

// DefaultSystemKey selects the default assistant persona.
const DefaultSystemKey = "mental_health_wellness"

// Mode is the assistant's reply mode.
type Mode string

const (
	ModeText  Mode = "text"
	ModeVoice Mode = "voice_assistant"
)

// Request is one user turn.
type Request struct {
	Message         string
	SessionID       string
	SystemKey       string
	Context         string
	CareerSuggest   bool
	PostLiveSession bool
}

// Response is the server's reply to one turn. Reply is set in text mode,
// TextReply plus Audio in voice mode.
type Response struct {
	Reply               string `json:"reply,omitempty"`
	TextReply           string `json:"text_reply,omitempty"`
	Mode                Mode   `json:"mode"`
	Audio               string `json:"audio,omitempty"`
	CareerSuggestActive bool   `json:"career_suggest_active"`
	SearchPerformed     bool   `json:"search_performed"`
	SearchSource        string `json:"search_source,omitempty"`
	CrisisDetected      bool   `json:"crisis_detected,omitempty"`
	PostLiveCheckin     bool   `json:"post_live_checkin,omitempty"`
	Error               string `json:"error,omitempty"`
}

// Text returns the reply text regardless of mode.
func (r *Response) Text() string {
	if r.TextReply != "" {
		return r.TextReply
	}
	return r.Reply
}

// AudioBytes decodes the MP3 payload. Nil when the reply carries none.
func (r *Response) AudioBytes() ([]byte, error) {
	if r.Audio == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(r.Audio)
	if err != nil {
		return nil, core.NewDecodeError("invalid audio payload", err)
	}
	return data, nil
}

// Config configures a chat client.
type Config struct {
	// BaseURL is the server root, e.g. "http://localhost:8000".
	BaseURL string

	// SessionID scopes conversation history on the server. Defaults to
	// "default".
	SessionID string

	// HTTPClient overrides the transport. Defaults to a client with a
	// 60 second timeout; generation plus synthesis can be slow.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client posts turns to the chat endpoint.
type Client struct {
	baseURL   string
	sessionID string
	http      *http.Client
	logger    *slog.Logger
}

// New creates a chat client.
func New(cfg Config) *Client {
	if cfg.SessionID == "" {
		cfg.SessionID = "default"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		sessionID: cfg.SessionID,
		http:      cfg.HTTPClient,
		logger:    cfg.Logger.With("component", "chat"),
	}
}

// Send posts one turn and decodes the reply.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	if req.SessionID == "" {
		req.SessionID = c.sessionID
	}
	if req.SystemKey == "" {
		req.SystemKey = DefaultSystemKey
	}

	form := url.Values{}
	form.Set("message", req.Message)
	form.Set("session_id", req.SessionID)
	form.Set("system_key", req.SystemKey)
	if req.Context != "" {
		form.Set("context", req.Context)
	}
	form.Set("career_suggest", strconv.FormatBool(req.CareerSuggest))
	form.Set("post_live_session", strconv.FormatBool(req.PostLiveSession))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, core.NewTransportConnectError("chat request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewTransportProtocolError("reading chat response", err)
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, core.NewDecodeError(fmt.Sprintf("chat response (status %d)", resp.StatusCode), err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := out.Error
		if msg == "" {
			msg = fmt.Sprintf("chat endpoint returned status %d", resp.StatusCode)
		}
		return &out, core.NewTransportProtocolError(msg, nil)
	}
	return &out, nil
}

// PostLiveCheckIn sends the single automatic check-in turn that follows a
// live session, returning the assistant's reply and its MP3 audio.
func (c *Client) PostLiveCheckIn(ctx context.Context) (string, []byte, error) {
	resp, err := c.Send(ctx, Request{
		Message:         CheckInMessage,
		PostLiveSession: true,
	})
	if err != nil {
		return "", nil, err
	}
	audio, err := resp.AudioBytes()
	if err != nil {
		c.logger.Warn("check-in audio decode failed", "error", err)
		return resp.Text(), nil, nil
	}
	return resp.Text(), audio, nil
}
