package chatstate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/12313awe/skalgpt/internal/store"
)

// HTTPClient implements API over the server's REST endpoints, streaming
// the chat turn body as it arrives.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{}, // No client timeout: turn streams are long-lived
	}
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// apiError decodes the structured {error, details?} body.
func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return fmt.Errorf("%s (status %d)", body.Error, resp.StatusCode)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, payload, out any) error {
	req, err := c.newRequest(ctx, method, path, payload)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) ListSessions(ctx context.Context) ([]store.ChatSession, error) {
	var sessions []store.ChatSession
	if err := c.doJSON(ctx, http.MethodGet, "/api/sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *HTTPClient) SessionMessages(ctx context.Context, sessionID string) ([]store.Message, error) {
	var messages []store.Message
	if err := c.doJSON(ctx, http.MethodGet, "/api/sessions/"+sessionID+"/messages", nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *HTTPClient) CreateSession(ctx context.Context, title string) (*store.ChatSession, error) {
	var session store.ChatSession
	payload := map[string]string{"title": title}
	if err := c.doJSON(ctx, http.MethodPost, "/api/sessions", payload, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *HTTPClient) DeleteSession(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/sessions/"+sessionID, nil, nil)
}

func (c *HTTPClient) GenerateTitle(ctx context.Context, seed string) (string, error) {
	var out struct {
		Title string `json:"title"`
	}
	payload := map[string]string{"message": seed}
	if err := c.doJSON(ctx, http.MethodPost, "/api/generate-title", payload, &out); err != nil {
		return "", err
	}
	return out.Title, nil
}

func (c *HTTPClient) StreamTurn(ctx context.Context, sessionID, message string) (TurnStream, error) {
	payload := map[string]string{"message": message, "sessionId": sessionID}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/chat", payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, apiError(resp)
	}
	return &httpTurnStream{body: resp.Body}, nil
}

type httpTurnStream struct {
	body io.ReadCloser
	buf  [4096]byte
}

func (s *httpTurnStream) Recv() (string, error) {
	for {
		n, err := s.body.Read(s.buf[:])
		if n > 0 {
			// Defer the error to the next call so the fragment is not lost.
			return string(s.buf[:n]), nil
		}
		if err != nil {
			return "", err
		}
	}
}

func (s *httpTurnStream) Close() error {
	return s.body.Close()
}
