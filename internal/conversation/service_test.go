// ABOUTME: Tests for the conversation service against the development chat server
// ABOUTME: Covers persistence rules, duplicate rejection, edit, retry, cancellation and titles

package conversation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/api"
	"github.com/2389/coven-chat/internal/client"
	"github.com/2389/coven-chat/internal/dedupe"
	"github.com/2389/coven-chat/internal/devserver"
	"github.com/2389/coven-chat/internal/event"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/turn"
)

type harness struct {
	svc   *Service
	srv   *devserver.Server
	store *store.MockStore
}

func newHarness(t *testing.T, cfg devserver.Config) *harness {
	t.Helper()
	return newHarnessWithStore(t, cfg, nil)
}

// newHarnessWithStore lets wrap stand between the service and the mock store.
func newHarnessWithStore(t *testing.T, cfg devserver.Config, wrap func(store.Store) store.Store) *harness {
	t.Helper()
	srv := devserver.New(cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	cache := dedupe.New(time.Minute, 100)
	t.Cleanup(cache.Close)

	st := store.NewMockStore()
	var backing store.Store = st
	if wrap != nil {
		backing = wrap(st)
	}
	streams := client.New(client.NewHTTPTransport(ts.URL, nil, nil, nil), 5*time.Millisecond, nil)
	svc := New(streams, api.New(ts.URL, nil, nil, nil), backing, cache, nil)
	t.Cleanup(svc.Close)

	return &harness{svc: svc, srv: srv, store: st}
}

func (h *harness) newChat(t *testing.T) string {
	t.Helper()
	chat, err := h.svc.CreateChat(t.Context(), "")
	require.NoError(t, err)
	return chat.ID
}

func (h *harness) history(t *testing.T, chatID string) []*store.Message {
	t.Helper()
	msgs, err := h.store.GetChatMessages(t.Context(), chatID, 0, "")
	require.NoError(t, err)
	return msgs
}

// waitForContent returns an observer that closes the returned channel once
// an update carries want.
func waitForContent(want string) (client.Observer, <-chan struct{}) {
	seen := make(chan struct{})
	var once sync.Once
	return client.ObserverFuncs{
		Update: func(s turn.Snapshot) {
			if s.Content == want {
				once.Do(func() { close(seen) })
			}
		},
	}, seen
}

func TestService_SendRecordsTurn(t *testing.T) {
	h := newHarness(t, devserver.Config{})
	chatID := h.newChat(t)

	notes, _ := h.svc.Broadcaster().Subscribe(t.Context(), chatID)

	out, err := h.svc.Send(t.Context(), SendRequest{ChatID: chatID, Content: "hello there"}, nil)
	require.NoError(t, err)
	require.True(t, out.Completed())
	assert.Equal(t, "You said: hello there", out.Snapshot.Content)

	msgs := h.history(t, chatID)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello there", msgs[0].Content)
	assert.Equal(t, store.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "You said: hello there", msgs[1].Content)
	assert.Equal(t, store.StatusComplete, msgs[1].Status)
	assert.Equal(t, out.Turn.ID, msgs[1].TurnID)

	server := h.srv.Messages(chatID)
	require.Len(t, server, 2)
	assert.Equal(t, server[0].ID, msgs[0].ID, "user row keeps the server's message ID")
	assert.Equal(t, server[1].ID, msgs[1].ID, "assistant row keeps the server's message ID")

	h.svc.Wait()
	chat, err := h.store.GetChat(t.Context(), chatID)
	require.NoError(t, err)
	assert.Equal(t, "hello there", chat.Title)

	var kinds []NotificationKind
	var last Notification
	for n := range drain(notes) {
		kinds = append(kinds, n.Kind)
		last = n
	}
	require.NotEmpty(t, kinds)
	assert.Equal(t, NotifyStarted, kinds[0])
	assert.Contains(t, kinds, NotifySnapshot)
	assert.Equal(t, NotifyTitleChanged, last.Kind)
	assert.Equal(t, "hello there", last.Title)
}

// drain yields whatever is buffered on ch.
func drain(ch <-chan Notification) func(func(Notification) bool) {
	return func(yield func(Notification) bool) {
		for {
			select {
			case n, ok := <-ch:
				if !ok || !yield(n) {
					return
				}
			case <-time.After(50 * time.Millisecond):
				return
			}
		}
	}
}

func TestService_RejectsDuplicateSubmission(t *testing.T) {
	h := newHarness(t, devserver.Config{})
	chatID := h.newChat(t)
	ctx := t.Context()

	_, err := h.svc.Send(ctx, SendRequest{ChatID: chatID, Content: "ping"}, nil)
	require.NoError(t, err)

	_, err = h.svc.Send(ctx, SendRequest{ChatID: chatID, Content: "ping"}, nil)
	assert.ErrorIs(t, err, ErrDuplicateSubmission)

	out, err := h.svc.Send(ctx, SendRequest{ChatID: chatID, Content: "ping", IdempotencyKey: "second-ping"}, nil)
	require.NoError(t, err)
	assert.True(t, out.Completed())

	assert.Len(t, h.srv.Requests(), 2)
}

func TestService_RejectsEmptyMessage(t *testing.T) {
	h := newHarness(t, devserver.Config{})

	_, err := h.svc.Send(t.Context(), SendRequest{ChatID: "c", Content: "  \n"}, nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, h.srv.Requests())
}

func TestService_ModeratedTurnKeepsOnlyUserMessage(t *testing.T) {
	h := newHarness(t, devserver.Config{Responder: devserver.EchoResponder(0, "forbidden")})
	chatID := h.newChat(t)

	out, err := h.svc.Send(t.Context(), SendRequest{ChatID: chatID, Content: "something forbidden"}, nil)
	require.NoError(t, err)
	assert.True(t, out.Moderated())
	assert.True(t, out.Completed())

	msgs := h.history(t, chatID)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
	assert.True(t, msgs[0].Moderated)

	h.svc.Wait()
	chat, err := h.store.GetChat(t.Context(), chatID)
	require.NoError(t, err)
	assert.Equal(t, store.DefaultChatTitle, chat.Title, "moderated turns do not trigger titling")
}

func TestService_FailedTurnIsRecordedAndCanBeResent(t *testing.T) {
	h := newHarness(t, devserver.Config{Responder: devserver.RejectResponder(http.StatusServiceUnavailable, "overloaded")})
	chatID := h.newChat(t)
	ctx := t.Context()

	out, err := h.svc.Send(ctx, SendRequest{ChatID: chatID, Content: "hi"}, nil)
	require.NoError(t, err)
	require.NotNil(t, out.Err)
	assert.Equal(t, client.KindServer, out.Err.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, out.HTTPStatus)

	msgs := h.history(t, chatID)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.StatusFailed, msgs[1].Status)
	assert.Equal(t, event.ReasonRequestError, msgs[1].Reason)

	_, err = h.svc.Send(ctx, SendRequest{ChatID: chatID, Content: "hi"}, nil)
	assert.NoError(t, err, "a failed submission is not a duplicate")
}

func TestService_CancelledTurnWithoutContent(t *testing.T) {
	h := newHarness(t, devserver.Config{Responder: devserver.ScriptResponder(
		devserver.Step{Event: event.Started{}},
		devserver.Step{Event: event.Token{Delta: "late"}, Pause: 10 * time.Second},
	)})
	chatID := h.newChat(t)

	started := make(chan struct{})
	obs := client.ObserverFuncs{Started: func(client.StartInfo, bool) { close(started) }}

	result := make(chan client.Outcome, 1)
	go func() {
		out, _ := h.svc.Send(context.Background(), SendRequest{ChatID: chatID, Content: "long question"}, obs)
		result <- out
	}()

	<-started
	assert.True(t, h.svc.Cancel(chatID))

	out := <-result
	assert.Equal(t, event.ReasonCancelled, out.Reason)

	msgs := h.history(t, chatID)
	require.Len(t, msgs, 1, "no assistant row for an empty cancelled reply")
	assert.Equal(t, store.RoleUser, msgs[0].Role)
}

func TestService_CancelledTurnKeepsPartialReply(t *testing.T) {
	h := newHarness(t, devserver.Config{Responder: devserver.ScriptResponder(
		devserver.Step{Event: event.Started{}},
		devserver.Step{Event: event.Token{Delta: "partial"}},
		devserver.Step{Event: event.Token{Delta: " rest"}, Pause: 10 * time.Second},
	)})
	chatID := h.newChat(t)
	obs, seen := waitForContent("partial")

	ctx, cancel := context.WithCancel(t.Context())
	result := make(chan client.Outcome, 1)
	go func() {
		out, _ := h.svc.Send(ctx, SendRequest{ChatID: chatID, Content: "tell me"}, obs)
		result <- out
	}()

	<-seen
	cancel()
	out := <-result
	assert.Equal(t, event.ReasonCancelled, out.Reason)

	msgs := h.history(t, chatID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial", msgs[1].Content)
	assert.Equal(t, store.StatusFailed, msgs[1].Status)
	assert.Equal(t, event.ReasonCancelled, msgs[1].Reason)
}

func TestService_Edit(t *testing.T) {
	h := newHarness(t, devserver.Config{})
	chatID := h.newChat(t)
	ctx := t.Context()

	_, err := h.svc.Send(ctx, SendRequest{ChatID: chatID, Content: "one"}, nil)
	require.NoError(t, err)
	_, err = h.svc.Send(ctx, SendRequest{ChatID: chatID, Content: "two", Options: turn.Options{ThinkMode: true}}, nil)
	require.NoError(t, err)

	msgs := h.history(t, chatID)
	require.Len(t, msgs, 4)

	out, err := h.svc.Edit(ctx, chatID, msgs[2].ID, "deux", nil)
	require.NoError(t, err)
	assert.Equal(t, "You said: deux", out.Snapshot.Content)

	msgs = h.history(t, chatID)
	require.Len(t, msgs, 4)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "deux", msgs[2].Content)
	assert.Equal(t, "You said: deux", msgs[3].Content)

	server := h.srv.Messages(chatID)
	require.Len(t, server, 4)
	assert.Equal(t, "deux", server[2].Content)

	reqs := h.srv.Requests()
	assert.False(t, reqs[len(reqs)-1].ThinkingMode, "edits are sent with think mode off")
}

func TestService_Retry(t *testing.T) {
	var calls atomic.Int32
	echo := devserver.EchoResponder(0, "")
	h := newHarness(t, devserver.Config{Responder: func(req devserver.StreamRequest) devserver.Reply {
		if calls.Add(1) == 1 {
			return devserver.Reply{Status: http.StatusBadGateway}
		}
		return echo(req)
	}})
	chatID := h.newChat(t)
	ctx := t.Context()

	out, err := h.svc.Send(ctx, SendRequest{ChatID: chatID, Content: "are you there"}, nil)
	require.NoError(t, err)
	require.False(t, out.Completed())

	out, err = h.svc.Retry(ctx, chatID, nil)
	require.NoError(t, err)
	require.True(t, out.Completed())

	msgs := h.history(t, chatID)
	require.Len(t, msgs, 2, "the failed attempt is replaced")
	assert.Equal(t, "are you there", msgs[0].Content)
	assert.Equal(t, "You said: are you there", msgs[1].Content)
}

func TestService_RetryWithoutMessages(t *testing.T) {
	h := newHarness(t, devserver.Config{})
	chatID := h.newChat(t)

	_, err := h.svc.Retry(t.Context(), chatID, nil)
	assert.ErrorIs(t, err, ErrNothingToRetry)
}

func TestService_TitleFailureKeepsDefault(t *testing.T) {
	h := newHarness(t, devserver.Config{Title: func(string) (string, error) {
		return "", errors.New("title model unavailable")
	}})
	chatID := h.newChat(t)

	_, err := h.svc.Send(t.Context(), SendRequest{ChatID: chatID, Content: "hello"}, nil)
	require.NoError(t, err)
	h.svc.Wait()

	chat, err := h.store.GetChat(t.Context(), chatID)
	require.NoError(t, err)
	assert.Equal(t, store.DefaultChatTitle, chat.Title)
}

func TestService_SendToUnknownChatRecordsIt(t *testing.T) {
	h := newHarness(t, devserver.Config{})

	_, err := h.svc.Send(t.Context(), SendRequest{ChatID: "from-another-device", Content: "hi"}, nil)
	require.NoError(t, err)

	chat, err := h.store.GetChat(t.Context(), "from-another-device")
	require.NoError(t, err)
	assert.Len(t, h.history(t, chat.ID), 2)
}

func TestService_DeleteChat(t *testing.T) {
	h := newHarness(t, devserver.Config{})
	chatID := h.newChat(t)
	ctx := t.Context()

	_, err := h.svc.Send(ctx, SendRequest{ChatID: chatID, Content: "hi"}, nil)
	require.NoError(t, err)
	h.svc.Wait()

	require.NoError(t, h.svc.DeleteChat(ctx, chatID))

	_, err = h.store.GetChat(ctx, chatID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Nil(t, h.srv.Messages(chatID))

	chats, err := h.svc.ListChats(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, chats)
}

// slowSaveStore delays saving any batch that carries content.
type slowSaveStore struct {
	store.Store
	content string
	delay   time.Duration
}

func (s *slowSaveStore) SaveMessages(ctx context.Context, msgs ...*store.Message) error {
	for _, m := range msgs {
		if m.Content == s.content {
			time.Sleep(s.delay)
			break
		}
	}
	return s.Store.SaveMessages(ctx, msgs...)
}

// stallOn streams a partial reply and then stalls the first time content is
// sent, echoing everything else.
func stallOn(content string) devserver.Responder {
	echo := devserver.EchoResponder(0, "")
	var stalled atomic.Bool
	return func(req devserver.StreamRequest) devserver.Reply {
		if req.Content != content || stalled.Swap(true) {
			return echo(req)
		}
		return devserver.Reply{Steps: []devserver.Step{
			{Event: event.Started{}},
			{Event: event.Token{Delta: "part"}},
			{Event: event.Token{Delta: " never"}, Pause: 10 * time.Second},
		}}
	}
}

func TestService_EditWhileTurnInFlight(t *testing.T) {
	h := newHarnessWithStore(t, devserver.Config{Responder: stallOn("second")}, func(st store.Store) store.Store {
		return &slowSaveStore{Store: st, content: "second", delay: 100 * time.Millisecond}
	})
	chatID := h.newChat(t)
	ctx := t.Context()

	_, err := h.svc.Send(ctx, SendRequest{ChatID: chatID, Content: "first"}, nil)
	require.NoError(t, err)
	firstID := h.history(t, chatID)[0].ID

	obs, seen := waitForContent("part")
	superseded := make(chan client.Outcome, 1)
	go func() {
		out, _ := h.svc.Send(context.Background(), SendRequest{ChatID: chatID, Content: "second"}, obs)
		superseded <- out
	}()
	<-seen

	out, err := h.svc.Edit(ctx, chatID, firstID, "edited", nil)
	require.NoError(t, err)
	assert.Equal(t, "You said: edited", out.Snapshot.Content)
	assert.Equal(t, event.ReasonCancelled, (<-superseded).Reason)

	msgs := h.history(t, chatID)
	require.Len(t, msgs, 2, "the cancelled turn must not reappear after the edit")
	assert.Equal(t, "edited", msgs[0].Content)
	assert.Equal(t, "You said: edited", msgs[1].Content)
}

func TestService_RetryWhileTurnInFlight(t *testing.T) {
	h := newHarnessWithStore(t, devserver.Config{Responder: stallOn("stuck")}, func(st store.Store) store.Store {
		return &slowSaveStore{Store: st, content: "stuck", delay: 100 * time.Millisecond}
	})
	chatID := h.newChat(t)

	obs, seen := waitForContent("part")
	superseded := make(chan client.Outcome, 1)
	go func() {
		out, _ := h.svc.Send(context.Background(), SendRequest{ChatID: chatID, Content: "stuck"}, obs)
		superseded <- out
	}()
	<-seen

	out, err := h.svc.Retry(t.Context(), chatID, nil)
	require.NoError(t, err, "the stalled message is recorded before retry looks for it")
	assert.Equal(t, "You said: stuck", out.Snapshot.Content)
	assert.Equal(t, event.ReasonCancelled, (<-superseded).Reason)

	msgs := h.history(t, chatID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "stuck", msgs[0].Content)
	assert.Equal(t, "You said: stuck", msgs[1].Content)
}
