// ABOUTME: HTTP client for the chat REST endpoints
// ABOUTME: Chats, history paging, message deletion, titles, transcription and auth/me

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/2389/coven-chat/internal/auth"
)

// DefaultTitle is used when the server has no title to offer.
const DefaultTitle = "New Chat"

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// Chat is a chat as listed by the server.
type Chat struct {
	ID        string    `json:"chat_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a stored message as returned by the history endpoint.
type Message struct {
	ID        string    `json:"message_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Moderated bool      `json:"moderated,omitempty"`
}

// Principal is the signed-in identity.
type Principal struct {
	ID          string `json:"principal_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// Client calls the chat REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     auth.TokenSource
	logger     *slog.Logger
}

// New creates a client for baseURL. A nil httpClient gets a 30s timeout.
func New(baseURL string, tokens auth.TokenSource, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger.With("component", "api"),
	}
}

// Me returns the principal the token belongs to.
func (c *Client) Me(ctx context.Context) (*Principal, error) {
	var p Principal
	if err := c.doJSON(ctx, http.MethodGet, "/auth/me", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateChat creates a chat. An empty title lets the server pick one.
func (c *Client) CreateChat(ctx context.Context, title string) (*Chat, error) {
	var chat Chat
	body := map[string]string{"title": title}
	if err := c.doJSON(ctx, http.MethodPost, "/chats/new", body, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// ListChats returns the user's chats, most recently active first.
func (c *Client) ListChats(ctx context.Context) ([]Chat, error) {
	var chats []Chat
	if err := c.doJSON(ctx, http.MethodGet, "/chats", nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// Messages returns up to limit messages preceding the message with ID before,
// oldest first. A zero limit uses the server default and an empty before
// returns the newest page.
func (c *Client) Messages(ctx context.Context, chatID string, limit int, before string) ([]Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before != "" {
		q.Set("before", before)
	}
	path := "/chats/" + url.PathEscape(chatID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var msgs []Message
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// DeleteChat removes a chat and its history.
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/chats/"+url.PathEscape(chatID), nil, nil)
}

// DeleteMessagesAfter removes messageID and every later message in the chat.
func (c *Client) DeleteMessagesAfter(ctx context.Context, chatID, messageID string) error {
	path := "/chats/" + url.PathEscape(chatID) + "/messages/after/" + url.PathEscape(messageID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// GenerateTitle asks the server to title the chat from its first message.
// A blank title from the server becomes DefaultTitle.
func (c *Client) GenerateTitle(ctx context.Context, chatID string) (string, error) {
	var resp struct {
		Title string `json:"title"`
	}
	path := "/chats/" + url.PathEscape(chatID) + "/generate-title"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return "", err
	}
	if title := strings.TrimSpace(resp.Title); title != "" {
		return title, nil
	}
	return DefaultTitle, nil
}

// Transcribe uploads audio and returns the recognised text.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", filename)
	if err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("reading audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/audio/transcribe", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp struct {
		Text string `json:"text"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		switch {
		case err == nil:
			req.Header.Set("Authorization", "Bearer "+token)
		case errors.Is(err, auth.ErrNoToken):
		default:
			return nil, fmt.Errorf("getting auth token: %w", err)
		}
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Debug("request rejected",
			"method", req.Method,
			"path", req.URL.Path,
			"status", resp.StatusCode,
		)
		return &Error{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", req.URL.Path, err)
	}
	return nil
}
