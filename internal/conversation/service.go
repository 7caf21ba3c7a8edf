// ABOUTME: Conversation service composing the stream client, REST API, local history and dedupe
// ABOUTME: Sends, edits and retries turns, persists terminal turns, and titles new chats

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/coven-chat/internal/api"
	"github.com/2389/coven-chat/internal/client"
	"github.com/2389/coven-chat/internal/dedupe"
	"github.com/2389/coven-chat/internal/event"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/turn"
)

const (
	saveTimeout  = 5 * time.Second
	titleTimeout = 30 * time.Second
)

var (
	// ErrDuplicateSubmission is returned when the same message is sent twice
	// within the dedupe window.
	ErrDuplicateSubmission = errors.New("duplicate submission")
	// ErrEmptyMessage is returned for blank message content.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNothingToRetry is returned by Retry when the chat has no user message.
	ErrNothingToRetry = errors.New("no user message to retry")
)

// TurnSender streams turns. *client.Client implements it.
type TurnSender interface {
	SendTurn(ctx context.Context, chatID, content string, opts turn.Options, obs client.Observer) client.Outcome
	Cancel(chatID string) bool
}

// ChatAPI is the part of the REST API the service drives. *api.Client
// implements it.
type ChatAPI interface {
	CreateChat(ctx context.Context, title string) (*api.Chat, error)
	DeleteChat(ctx context.Context, chatID string) error
	DeleteMessagesAfter(ctx context.Context, chatID, messageID string) error
	GenerateTitle(ctx context.Context, chatID string) (string, error)
}

// Service is the conversation layer between a front end and the backend.
// Turns are recorded in the local store once they are terminal.
type Service struct {
	sender      TurnSender
	remote      ChatAPI
	store       store.Store
	dedupe      *dedupe.Cache
	broadcaster *Broadcaster
	logger      *slog.Logger

	titles  sync.WaitGroup
	titleMu sync.Mutex
	titling map[string]bool

	// sends on each chat that have not finished recording
	sendMu  sync.Mutex
	sending map[string]map[chan struct{}]struct{}
}

// New creates a Service. cache may be nil to disable duplicate detection.
func New(sender TurnSender, remote ChatAPI, st store.Store, cache *dedupe.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sender:      sender,
		remote:      remote,
		store:       st,
		dedupe:      cache,
		broadcaster: NewBroadcaster(logger),
		logger:      logger.With("component", "conversation"),
		titling:     make(map[string]bool),
		sending:     make(map[string]map[chan struct{}]struct{}),
	}
}

// Broadcaster returns the notification fan-out for this service.
func (s *Service) Broadcaster() *Broadcaster {
	return s.broadcaster
}

// SendRequest is one user message.
type SendRequest struct {
	ChatID  string
	Content string
	Options turn.Options
	// IdempotencyKey identifies the submission for duplicate detection.
	// Empty derives a key from ChatID and Content.
	IdempotencyKey string
}

// CreateChat creates a chat on the server and records it locally.
func (s *Service) CreateChat(ctx context.Context, title string) (*store.Chat, error) {
	remote, err := s.remote.CreateChat(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("creating chat: %w", err)
	}

	chat := &store.Chat{
		ID:        remote.ID,
		Title:     remote.Title,
		CreatedAt: remote.CreatedAt,
		UpdatedAt: remote.UpdatedAt,
	}
	if chat.Title == "" {
		chat.Title = store.DefaultChatTitle
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now()
		chat.UpdatedAt = chat.CreatedAt
	}
	if err := s.store.CreateChat(ctx, chat); err != nil && !errors.Is(err, store.ErrDuplicateChat) {
		return nil, fmt.Errorf("recording chat: %w", err)
	}

	s.logger.Info("chat created", "chat_id", chat.ID)
	return chat, nil
}

// DeleteChat removes a chat remotely and from local history.
func (s *Service) DeleteChat(ctx context.Context, chatID string) error {
	if err := s.settle(ctx, chatID); err != nil {
		return err
	}

	if err := s.remote.DeleteChat(ctx, chatID); err != nil && !isNotFound(err) {
		return fmt.Errorf("deleting chat: %w", err)
	}
	if err := s.store.DeleteChat(ctx, chatID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("deleting local chat: %w", err)
	}
	s.logger.Info("chat deleted", "chat_id", chatID)
	return nil
}

// Chat returns the locally recorded chat.
func (s *Service) Chat(ctx context.Context, chatID string) (*store.Chat, error) {
	return s.store.GetChat(ctx, chatID)
}

// ListChats returns locally known chats, most recently active first.
func (s *Service) ListChats(ctx context.Context, limit int) ([]*store.Chat, error) {
	return s.store.ListChats(ctx, limit)
}

// History returns a page of the chat's local history, oldest first.
func (s *Service) History(ctx context.Context, chatID string, limit int, before string) ([]*store.Message, error) {
	return s.store.GetChatMessages(ctx, chatID, limit, before)
}

// Cancel stops the turn streaming on chatID, if any.
func (s *Service) Cancel(chatID string) bool {
	return s.sender.Cancel(chatID)
}

// Send streams the reply to one user message and blocks until the turn is
// terminal. obs and subscribers of the chat see the turn's progress. The
// returned error covers rejection and bookkeeping failures; a failed turn is
// reported through the Outcome.
func (s *Service) Send(ctx context.Context, req SendRequest, obs client.Observer) (client.Outcome, error) {
	if strings.TrimSpace(req.Content) == "" {
		return client.Outcome{}, ErrEmptyMessage
	}
	defer s.track(req.ChatID)()

	key := req.IdempotencyKey
	if key == "" {
		key = dedupe.SubmissionKey(req.ChatID, req.Content)
	}
	if s.dedupe != nil && s.dedupe.CheckAndMark(key) {
		s.logger.Debug("rejected duplicate submission", "chat_id", req.ChatID)
		return client.Outcome{}, ErrDuplicateSubmission
	}

	if err := s.ensureChat(ctx, req.ChatID); err != nil {
		s.forget(key)
		return client.Outcome{}, err
	}

	out := s.sender.SendTurn(ctx, req.ChatID, req.Content, req.Options, s.relay(req.ChatID, obs))

	if !out.Completed() {
		// a failed or cancelled send may be repeated straight away
		s.forget(key)
	}

	if err := s.record(ctx, out); err != nil {
		return out, err
	}

	if out.Completed() && !out.Moderated() {
		s.maybeGenerateTitle(req.ChatID)
	}
	return out, nil
}

// Edit replaces the user message messageID, and everything after it, with a
// new turn carrying newContent. A turn still streaming on the chat is
// cancelled and recorded first. Think and search modes are off for the new
// turn.
func (s *Service) Edit(ctx context.Context, chatID, messageID, newContent string, obs client.Observer) (client.Outcome, error) {
	if strings.TrimSpace(newContent) == "" {
		return client.Outcome{}, ErrEmptyMessage
	}

	// a superseded turn is recorded before history is cut
	if err := s.settle(ctx, chatID); err != nil {
		return client.Outcome{}, err
	}

	if err := s.remote.DeleteMessagesAfter(ctx, chatID, messageID); err != nil {
		if !isNotFound(err) {
			return client.Outcome{}, fmt.Errorf("deleting messages on server: %w", err)
		}
		// messages that never got a server ID only exist locally
		s.logger.Warn("message unknown to server, editing local history only",
			"chat_id", chatID,
			"message_id", messageID)
	}

	n, err := s.store.DeleteMessagesFrom(ctx, chatID, messageID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return client.Outcome{}, fmt.Errorf("deleting local messages: %w", err)
	}
	s.logger.Debug("truncated history for edit", "chat_id", chatID, "message_id", messageID, "removed", n)

	return s.Send(ctx, SendRequest{
		ChatID:         chatID,
		Content:        newContent,
		IdempotencyKey: "edit:" + dedupe.SubmissionKey(chatID+"\x00"+messageID, newContent),
	}, obs)
}

// Retry resends the chat's last user message, dropping it and any reply
// that followed.
func (s *Service) Retry(ctx context.Context, chatID string, obs client.Observer) (client.Outcome, error) {
	if err := s.settle(ctx, chatID); err != nil {
		return client.Outcome{}, err
	}
	msgs, err := s.store.GetChatMessages(ctx, chatID, 0, "")
	if err != nil {
		return client.Outcome{}, fmt.Errorf("loading history: %w", err)
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == store.RoleUser {
			return s.Edit(ctx, chatID, msgs[i].ID, msgs[i].Content, obs)
		}
	}
	return client.Outcome{}, ErrNothingToRetry
}

// Wait blocks until background title generation has finished.
func (s *Service) Wait() {
	s.titles.Wait()
}

// Close waits for background work and closes subscriber channels.
func (s *Service) Close() {
	s.Wait()
	s.broadcaster.Close()
}

// track registers a send on chatID. The returned func marks it recorded.
func (s *Service) track(chatID string) func() {
	done := make(chan struct{})

	s.sendMu.Lock()
	if s.sending[chatID] == nil {
		s.sending[chatID] = make(map[chan struct{}]struct{})
	}
	s.sending[chatID][done] = struct{}{}
	s.sendMu.Unlock()

	return func() {
		s.sendMu.Lock()
		delete(s.sending[chatID], done)
		if len(s.sending[chatID]) == 0 {
			delete(s.sending, chatID)
		}
		s.sendMu.Unlock()
		close(done)
	}
}

// settle cancels the turn streaming on chatID and waits until every send on
// the chat has recorded its outcome.
func (s *Service) settle(ctx context.Context, chatID string) error {
	s.sender.Cancel(chatID)

	s.sendMu.Lock()
	pending := make([]chan struct{}, 0, len(s.sending[chatID]))
	for done := range s.sending[chatID] {
		pending = append(pending, done)
	}
	s.sendMu.Unlock()

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for in-flight turn: %w", ctx.Err())
		}
	}
	return nil
}

func (s *Service) forget(key string) {
	if s.dedupe != nil {
		s.dedupe.Forget(key)
	}
}

// ensureChat records a chat the local store has not seen, e.g. one created
// by another device.
func (s *Service) ensureChat(ctx context.Context, chatID string) error {
	_, err := s.store.GetChat(ctx, chatID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("looking up chat: %w", err)
	}

	now := time.Now()
	err = s.store.CreateChat(ctx, &store.Chat{
		ID:        chatID,
		Title:     store.DefaultChatTitle,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil && !errors.Is(err, store.ErrDuplicateChat) {
		return fmt.Errorf("recording chat: %w", err)
	}
	return nil
}

// relay forwards turn progress to obs and to the chat's subscribers.
func (s *Service) relay(chatID string, obs client.Observer) client.Observer {
	if obs == nil {
		obs = client.NopObserver{}
	}
	return client.ObserverFuncs{
		Started: func(info client.StartInfo, moderated bool) {
			obs.OnStarted(info, moderated)
			s.broadcaster.Publish(chatID, Notification{Kind: NotifyStarted, Start: info, Moderated: moderated}, "")
		},
		Update: func(snap turn.Snapshot) {
			obs.OnUpdate(snap)
			s.broadcaster.Publish(chatID, Notification{Kind: NotifySnapshot, Snapshot: snap}, "")
		},
	}
}

// record saves a terminal turn. Moderated turns keep only the user message,
// and a cancelled turn that produced nothing stores no assistant message.
func (s *Service) record(ctx context.Context, out client.Outcome) error {
	t := out.Turn
	if t.ID == "" {
		return nil
	}

	msgs := []*store.Message{{
		ID:        t.User.ID,
		ChatID:    t.ChatID,
		TurnID:    t.ID,
		Role:      store.RoleUser,
		Content:   t.User.Content,
		Status:    store.StatusComplete,
		Moderated: t.User.Moderated,
		CreatedAt: t.User.CreatedAt,
	}}

	snap := out.Snapshot
	cancelledEmpty := snap.Reason == event.ReasonCancelled && snap.Content == ""
	if !out.Moderated() && !cancelledEmpty {
		status := store.StatusComplete
		if snap.Status == turn.StatusFailed {
			status = store.StatusFailed
		}
		createdAt := t.Assistant.CreatedAt
		if createdAt.IsZero() {
			createdAt = t.CompletedAt
		}
		msgs = append(msgs, &store.Message{
			ID:        snap.ID,
			ChatID:    t.ChatID,
			TurnID:    t.ID,
			Role:      store.RoleAssistant,
			Content:   snap.Content,
			Thinking:  snap.Thinking,
			Status:    status,
			Reason:    snap.Reason,
			CreatedAt: createdAt,
		})
	}

	// the turn may have ended because ctx was cancelled; record it anyway
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()

	if err := s.store.SaveMessages(saveCtx, msgs...); err != nil {
		s.logger.Error("failed to save turn",
			"error", err,
			"chat_id", t.ChatID,
			"turn_id", t.ID)
		return fmt.Errorf("saving turn: %w", err)
	}
	s.logger.Debug("turn saved",
		"chat_id", t.ChatID,
		"turn_id", t.ID,
		"messages", len(msgs))
	return nil
}

// maybeGenerateTitle asks the server for a title in the background while the
// chat still has the default one.
func (s *Service) maybeGenerateTitle(chatID string) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	chat, err := s.store.GetChat(ctx, chatID)
	cancel()
	if err != nil || chat.Title != store.DefaultChatTitle {
		return
	}

	s.titleMu.Lock()
	if s.titling[chatID] {
		s.titleMu.Unlock()
		return
	}
	s.titling[chatID] = true
	s.titleMu.Unlock()

	s.titles.Add(1)
	go func() {
		defer s.titles.Done()
		defer func() {
			s.titleMu.Lock()
			delete(s.titling, chatID)
			s.titleMu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
		defer cancel()

		title, err := s.remote.GenerateTitle(ctx, chatID)
		if err != nil {
			s.logger.Warn("title generation failed", "chat_id", chatID, "error", err)
			return
		}
		title = strings.TrimSpace(title)
		if title == "" || title == store.DefaultChatTitle {
			return
		}

		if err := s.store.UpdateChatTitle(ctx, chatID, title); err != nil {
			s.logger.Error("failed to save title", "chat_id", chatID, "error", err)
			return
		}
		s.logger.Info("chat titled", "chat_id", chatID, "title", title)
		s.broadcaster.Publish(chatID, Notification{Kind: NotifyTitleChanged, Title: title}, "")
	}()
}

func isNotFound(err error) bool {
	var apiErr *api.Error
	return errors.As(err, &apiErr) && apiErr.NotFound()
}
