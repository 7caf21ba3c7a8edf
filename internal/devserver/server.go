// ABOUTME: In-memory chat server with SSE reply streaming and REST chat endpoints
// ABOUTME: Mirrors the production HTTP surface for local development and tests

package devserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/auth"
)

// DefaultTitle is given to chats created without a title.
const DefaultTitle = "New Chat"

// Config configures a Server. Zero values give an unauthenticated echo
// server.
type Config struct {
	// Verifier checks bearer tokens. Nil disables authentication.
	Verifier auth.TokenVerifier
	// Responder scripts stream replies. Nil uses EchoResponder.
	Responder Responder
	// Title generates chat titles from the first user message. Nil uses the
	// first few words of the message.
	Title func(firstMessage string) (string, error)
	// Transcribe turns uploaded audio into text. Nil reports the size.
	Transcribe func(audio []byte, filename string) (string, error)
	Logger     *slog.Logger
}

// Chat is the JSON shape of a chat.
type Chat struct {
	ID        string    `json:"chat_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is the JSON shape of a stored message.
type Message struct {
	ID        string    `json:"message_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Moderated bool      `json:"moderated,omitempty"`
}

type chatRecord struct {
	Chat
	messages []Message
}

// Server holds chats in memory. It is safe for concurrent use.
type Server struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	chats    map[string]*chatRecord
	requests []StreamRequest
}

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.Responder == nil {
		cfg.Responder = EchoResponder(0, "")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		logger: logger.With("component", "devserver"),
		chats:  make(map[string]*chatRecord),
	}
}

// Handler returns the HTTP handler for every endpoint.
func (s *Server) Handler() http.Handler {
	authed := http.NewServeMux()
	authed.HandleFunc("POST /chats/message/stream", s.handleStream)
	authed.HandleFunc("POST /chats/new", s.handleCreateChat)
	authed.HandleFunc("GET /chats", s.handleListChats)
	authed.HandleFunc("GET /chats/{id}/messages", s.handleMessages)
	authed.HandleFunc("DELETE /chats/{id}", s.handleDeleteChat)
	authed.HandleFunc("DELETE /chats/{id}/messages/after/{mid}", s.handleDeleteAfter)
	authed.HandleFunc("POST /chats/{id}/generate-title", s.handleGenerateTitle)
	authed.HandleFunc("POST /audio/transcribe", s.handleTranscribe)
	authed.HandleFunc("GET /auth/me", s.handleMe)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/", auth.RequireBearer(s.cfg.Verifier)(authed))
	return mux
}

// CreateChat adds a chat directly, bypassing HTTP.
func (s *Server) CreateChat(title string) Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createChatLocked(uuid.New().String(), title).Chat
}

// Messages returns a copy of a chat's messages, oldest first.
func (s *Server) Messages(chatID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chats[chatID]; ok {
		return slices.Clone(c.messages)
	}
	return nil
}

// Requests returns every stream request received so far.
func (s *Server) Requests() []StreamRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

func (s *Server) createChatLocked(id, title string) *chatRecord {
	if title == "" {
		title = DefaultTitle
	}
	now := time.Now().UTC()
	rec := &chatRecord{Chat: Chat{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}}
	s.chats[id] = rec
	return rec
}

// appendMessage stores msg, creating the chat on first use.
func (s *Server) appendMessage(chatID string, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.chats[chatID]
	if !ok {
		rec = s.createChatLocked(chatID, "")
	}
	rec.messages = append(rec.messages, msg)
	rec.UpdatedAt = msg.Timestamp
}

// markModerated flags a stored user message as rejected by moderation.
func (s *Server) markModerated(chatID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.chats[chatID]
	if !ok {
		return
	}
	if i := slices.IndexFunc(rec.messages, func(m Message) bool { return m.ID == messageID }); i >= 0 {
		rec.messages[i].Moderated = true
	}
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	chat := s.CreateChat(req.Title)
	s.logger.Debug("created chat", "chat_id", chat.ID)
	s.sendJSON(w, http.StatusOK, chat)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	chats := make([]Chat, 0, len(s.chats))
	for _, rec := range s.chats {
		chats = append(chats, rec.Chat)
	}
	s.mu.Unlock()

	slices.SortFunc(chats, func(a, b Chat) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	s.sendJSON(w, http.StatusOK, chats)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	before := r.URL.Query().Get("before")

	s.mu.Lock()
	rec, ok := s.chats[r.PathValue("id")]
	var msgs []Message
	if ok {
		msgs = slices.Clone(rec.messages)
	}
	s.mu.Unlock()

	if !ok {
		s.sendJSONError(w, http.StatusNotFound, "chat not found")
		return
	}
	s.sendJSON(w, http.StatusOK, pageMessages(msgs, limit, before))
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	_, ok := s.chats[id]
	delete(s.chats, id)
	s.mu.Unlock()

	if !ok {
		s.sendJSONError(w, http.StatusNotFound, "chat not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAfter(w http.ResponseWriter, r *http.Request) {
	chatID, messageID := r.PathValue("id"), r.PathValue("mid")

	s.mu.Lock()
	rec, ok := s.chats[chatID]
	idx := -1
	if ok {
		idx = slices.IndexFunc(rec.messages, func(m Message) bool { return m.ID == messageID })
		if idx >= 0 {
			rec.messages = rec.messages[:idx]
		}
	}
	s.mu.Unlock()

	switch {
	case !ok:
		s.sendJSONError(w, http.StatusNotFound, "chat not found")
	case idx < 0:
		s.sendJSONError(w, http.StatusNotFound, "message not found")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleGenerateTitle(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")

	s.mu.Lock()
	rec, ok := s.chats[chatID]
	var first string
	if ok {
		if i := slices.IndexFunc(rec.messages, func(m Message) bool { return m.Role == "user" }); i >= 0 {
			first = rec.messages[i].Content
		}
	}
	s.mu.Unlock()

	if !ok {
		s.sendJSONError(w, http.StatusNotFound, "chat not found")
		return
	}

	titleFn := s.cfg.Title
	if titleFn == nil {
		titleFn = firstWordsTitle
	}
	title, err := titleFn(first)
	if err != nil {
		s.logger.Error("title generation failed", "chat_id", chatID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "title generation failed")
		return
	}

	s.mu.Lock()
	if rec, ok := s.chats[chatID]; ok && title != "" {
		rec.Title = title
	}
	s.mu.Unlock()

	s.sendJSON(w, http.StatusOK, map[string]string{"title": title})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("audio")
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "reading audio upload failed")
		return
	}

	transcribe := s.cfg.Transcribe
	if transcribe == nil {
		transcribe = sizeTranscript
	}
	text, err := transcribe(audio, header.Filename)
	if err != nil {
		s.sendJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal == "" {
		principal = "anonymous"
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"principal_id": principal})
}

// sendJSON writes v as a JSON response.
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response in the {"detail": ...} shape
// the chat backend uses.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"detail": message})
}

func firstWordsTitle(first string) (string, error) {
	words := strings.Fields(first)
	if len(words) == 0 {
		return DefaultTitle, nil
	}
	if len(words) > 5 {
		words = words[:5]
	}
	return strings.Join(words, " "), nil
}

func sizeTranscript(audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("audio file is empty")
	}
	return "transcribed " + filename, nil
}
