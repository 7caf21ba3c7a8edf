// ABOUTME: Tests for the REST client against the development chat server
// ABOUTME: Covers auth, chat CRUD, history paging, message deletion, titles and transcription

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/client"
	"github.com/2389/coven-chat/internal/devserver"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fixture struct {
	srv    *devserver.Server
	ts     *httptest.Server
	token  string
	client *Client
}

func newFixture(t *testing.T, cfg devserver.Config) *fixture {
	t.Helper()
	verifier, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)
	token, err := verifier.Generate("user-42", time.Hour)
	require.NoError(t, err)

	cfg.Verifier = verifier
	srv := devserver.New(cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{
		srv:    srv,
		ts:     ts,
		token:  token,
		client: New(ts.URL+"/", auth.StaticSource(token), nil, nil),
	}
}

// converse streams one echo turn so the server has history to page through.
func (f *fixture) converse(t *testing.T, chatID, content string) {
	t.Helper()
	body, err := json.Marshal(client.TurnRequest{ChatID: chatID, Content: content, Role: "user"})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, f.ts.URL+client.StreamPath, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, err = io.Copy(io.Discard, resp.Body)
	require.NoError(t, err)
}

func TestClient_Me(t *testing.T) {
	f := newFixture(t, devserver.Config{})

	p, err := f.client.Me(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "user-42", p.ID)
}

func TestClient_Unauthenticated(t *testing.T) {
	f := newFixture(t, devserver.Config{})
	anon := New(f.ts.URL, nil, nil, nil)

	_, err := anon.ListChats(t.Context())
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, client.KindAuth, apiErr.Kind())
	assert.NotEmpty(t, apiErr.Detail())
}

func TestClient_TokenSourceFailure(t *testing.T) {
	f := newFixture(t, devserver.Config{})
	broken := auth.TokenSourceFunc(func(ctx context.Context) (string, error) {
		return "", errors.New("keychain locked")
	})
	c := New(f.ts.URL, broken, nil, nil)

	_, err := c.ListChats(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keychain locked")
}

func TestClient_ChatLifecycle(t *testing.T) {
	f := newFixture(t, devserver.Config{})
	ctx := t.Context()

	chat, err := f.client.CreateChat(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, chat.ID)
	assert.Equal(t, DefaultTitle, chat.Title)

	named, err := f.client.CreateChat(ctx, "Trip planning")
	require.NoError(t, err)
	assert.Equal(t, "Trip planning", named.Title)

	chats, err := f.client.ListChats(ctx)
	require.NoError(t, err)
	assert.Len(t, chats, 2)

	require.NoError(t, f.client.DeleteChat(ctx, chat.ID))

	err = f.client.DeleteChat(ctx, chat.ID)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.NotFound())
	assert.Equal(t, "chat not found", apiErr.Detail())

	chats, err = f.client.ListChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, named.ID, chats[0].ID)
}

func TestClient_MessagesPaging(t *testing.T) {
	f := newFixture(t, devserver.Config{})
	ctx := t.Context()
	chat := f.srv.CreateChat("")

	f.converse(t, chat.ID, "one")
	f.converse(t, chat.ID, "two")
	f.converse(t, chat.ID, "three")

	all, err := f.client.Messages(ctx, chat.ID, 0, "")
	require.NoError(t, err)
	require.Len(t, all, 6)
	assert.Equal(t, "user", all[0].Role)
	assert.Equal(t, "one", all[0].Content)
	assert.Equal(t, "assistant", all[1].Role)

	latest, err := f.client.Messages(ctx, chat.ID, 2, "")
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, all[4].ID, latest[0].ID)

	older, err := f.client.Messages(ctx, chat.ID, 2, latest[0].ID)
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, all[2].ID, older[0].ID)
	assert.Equal(t, all[3].ID, older[1].ID)

	_, err = f.client.Messages(ctx, "no-such-chat", 0, "")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.NotFound())
}

func TestClient_DeleteMessagesAfter(t *testing.T) {
	f := newFixture(t, devserver.Config{})
	ctx := t.Context()
	chat := f.srv.CreateChat("")
	f.converse(t, chat.ID, "one")
	f.converse(t, chat.ID, "two")

	all, err := f.client.Messages(ctx, chat.ID, 0, "")
	require.NoError(t, err)
	require.Len(t, all, 4)

	require.NoError(t, f.client.DeleteMessagesAfter(ctx, chat.ID, all[2].ID))

	rest, err := f.client.Messages(ctx, chat.ID, 0, "")
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "one", rest[0].Content)

	err = f.client.DeleteMessagesAfter(ctx, chat.ID, "missing")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "message not found", apiErr.Detail())
}

func TestClient_GenerateTitle(t *testing.T) {
	t.Run("from first message", func(t *testing.T) {
		f := newFixture(t, devserver.Config{})
		chat := f.srv.CreateChat("")
		f.converse(t, chat.ID, "how do goroutines get scheduled onto threads")

		title, err := f.client.GenerateTitle(t.Context(), chat.ID)
		require.NoError(t, err)
		assert.Equal(t, "how do goroutines get scheduled", title)
	})

	t.Run("blank title falls back", func(t *testing.T) {
		f := newFixture(t, devserver.Config{Title: func(string) (string, error) { return "  ", nil }})
		chat := f.srv.CreateChat("")

		title, err := f.client.GenerateTitle(t.Context(), chat.ID)
		require.NoError(t, err)
		assert.Equal(t, DefaultTitle, title)
	})

	t.Run("server failure", func(t *testing.T) {
		f := newFixture(t, devserver.Config{Title: func(string) (string, error) { return "", errors.New("model down") }})
		chat := f.srv.CreateChat("")

		_, err := f.client.GenerateTitle(t.Context(), chat.ID)
		var apiErr *Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, client.KindServer, apiErr.Kind())
	})
}

func TestClient_Transcribe(t *testing.T) {
	var gotName string
	var gotAudio []byte
	f := newFixture(t, devserver.Config{Transcribe: func(audio []byte, filename string) (string, error) {
		gotName, gotAudio = filename, audio
		if len(audio) == 0 {
			return "", errors.New("audio file is empty")
		}
		return "hello world", nil
	}})

	text, err := f.client.Transcribe(t.Context(), strings.NewReader("RIFF....WAVE"), "note.wav")
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
	assert.Equal(t, "note.wav", gotName)
	assert.Equal(t, []byte("RIFF....WAVE"), gotAudio)

	_, err = f.client.Transcribe(t.Context(), strings.NewReader(""), "empty.wav")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, "audio file is empty", apiErr.Detail())
	assert.Equal(t, client.KindRequest, apiErr.Kind())
}

func TestError_DetailFallsBackToBody(t *testing.T) {
	e := &Error{Status: http.StatusBadGateway, Body: "<html>bad gateway</html>"}
	assert.Equal(t, "<html>bad gateway</html>", e.Detail())
	assert.Contains(t, e.Error(), "502")

	e = &Error{Status: http.StatusBadRequest}
	assert.Equal(t, "request failed with status 400", e.Error())
}
