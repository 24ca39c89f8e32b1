// Package wasocket talks to the external socket engine that terminates the
// chat protocol. The gateway never speaks the wire protocol itself; it
// drives engine sessions over HTTP and watches their status.
package wasocket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"wagate/pkg/wasocket/types"
)

// EngineError carries the engine's HTTP status so callers can distinguish
// protocol rejections (4xx) from engine unavailability (5xx, transport).
type EngineError struct {
	StatusCode int
	Message    string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine returned status %d: %s", e.StatusCode, e.Message)
}

// Fatal reports whether the engine rejected the request outright rather
// than failing transiently.
func (e *EngineError) Fatal() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// Client is the HTTP client for the socket engine API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// StartSession asks the engine to bring up a session, resuming from
// material when present.
func (c *Client) StartSession(ctx context.Context, session, material string) error {
	payload := map[string]string{"name": session}
	if material != "" {
		payload["material"] = material
	}
	return c.do(ctx, http.MethodPost, "/api/sessions/start", payload, nil)
}

// GetSession fetches the engine's current view of a session.
func (c *Client) GetSession(ctx context.Context, session string) (*types.EngineSession, error) {
	var result types.EngineSession
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+session, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StopSession tears the engine session down without discarding credentials.
func (c *Client) StopSession(ctx context.Context, session string) error {
	return c.do(ctx, http.MethodPost, "/api/sessions/"+session+"/stop", nil, nil)
}

// LogoutSession unpairs the device; the engine discards credentials.
func (c *Client) LogoutSession(ctx context.Context, session string) error {
	return c.do(ctx, http.MethodPost, "/api/sessions/"+session+"/logout", nil, nil)
}

// SendMessage hands one outbound message to the engine.
func (c *Client) SendMessage(ctx context.Context, payload *types.OutboundPayload) (*types.SendResult, error) {
	var result types.SendResult
	if err := c.do(ctx, http.MethodPost, "/api/messages/send", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteMessage asks the engine to retract an already-sent message.
func (c *Client) DeleteMessage(ctx context.Context, session, chatID, providerMessageID string) error {
	payload := map[string]string{
		"session":   session,
		"chatId":    chatID,
		"messageId": providerMessageID,
	}
	return c.do(ctx, http.MethodPost, "/api/messages/delete", payload, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload, result interface{}) error {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := readErrorMessage(resp.Body)
		return &EngineError{StatusCode: resp.StatusCode, Message: message}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func readErrorMessage(body io.Reader) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	if jsonErr := json.Unmarshal(raw, &parsed); jsonErr == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return string(raw)
}
