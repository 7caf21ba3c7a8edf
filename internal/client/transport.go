// ABOUTME: Transport abstraction for opening a chat reply stream
// ABOUTME: HTTPTransport posts the turn request and returns the SSE response body

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/coven-chat/internal/auth"
)

// StreamPath is the endpoint, relative to the base URL, that streams replies.
const StreamPath = "/chats/message/stream"

// maxErrorBody bounds how much of a rejected response is kept for the error.
const maxErrorBody = 4 << 10

// TurnRequest is the body of a stream request.
type TurnRequest struct {
	ChatID       string `json:"chat_id"`
	Content      string `json:"content"`
	Role         string `json:"role"`
	ThinkingMode bool   `json:"thinking_mode"`
	SearchMode   bool   `json:"search_mode"`
}

// Transport opens the byte stream for one turn. Implementations return a
// *StatusError for non-2xx responses and must make the returned body's Read
// return once ctx is done or the body is closed.
type Transport interface {
	OpenStream(ctx context.Context, req TurnRequest) (io.ReadCloser, error)
}

// HTTPTransport opens streams against the chat HTTP API.
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client
	tokens     auth.TokenSource
	logger     *slog.Logger
}

// NewHTTPTransport creates a transport for baseURL. httpClient must not set
// a Timeout, which would cut long replies off mid-stream; bound the turn with
// its context instead. A nil httpClient uses a fresh http.Client.
func NewHTTPTransport(baseURL string, tokens auth.TokenSource, httpClient *http.Client, logger *slog.Logger) *HTTPTransport {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger.With("component", "http_transport"),
	}
}

// OpenStream posts req and returns the response body once the server has
// accepted it with a 2xx status.
func (t *HTTPTransport) OpenStream(ctx context.Context, req TurnRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding turn request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+StreamPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	if t.tokens != nil {
		token, err := t.tokens.Token(ctx)
		switch {
		case err == nil:
			httpReq.Header.Set("Authorization", "Bearer "+token)
		case errors.Is(err, auth.ErrNoToken):
			// the server decides whether anonymous requests are allowed
			t.logger.Debug("sending stream request without token")
		default:
			return nil, fmt.Errorf("getting auth token: %w", err)
		}
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("opening stream: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		t.logger.Warn("stream request rejected",
			"chat_id", req.ChatID,
			"status", resp.StatusCode,
		)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	return resp.Body, nil
}
