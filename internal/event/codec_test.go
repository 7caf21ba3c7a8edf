// ABOUTME: Tests for mapping SSE payloads to typed stream events
// ABOUTME: Covers every discriminant, unknown types, and malformed payloads

package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_KnownTypes(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Event
	}{
		{"start", `{"type":"start","message_id":"m1"}`, Started{AssistantMessageID: "m1"}},
		{"start with user id", `{"type":"start","message_id":"m1","user_message_id":"u1"}`, Started{AssistantMessageID: "m1", UserMessageID: "u1"}},
		{"start with null user id", `{"type":"start","message_id":"m1","user_message_id":null}`, Started{AssistantMessageID: "m1"}},
		{"moderated start", `{"type":"start","message_id":"m1","moderated":true}`, Started{AssistantMessageID: "m1", Moderated: true}},
		{"thinking start", `{"type":"thinking_start"}`, ThinkingStarted{}},
		{"thinking", `{"type":"thinking","content":"let me see"}`, Thinking{Text: "let me see"}},
		{"thinking end", `{"type":"thinking_end"}`, ThinkingEnded{}},
		{"token", `{"type":"token","content":"Hel"}`, Token{Delta: "Hel"}},
		{"done", `{"type":"done","message_id":"m1","content":"Hello"}`, Done{AssistantMessageID: "m1", FinalContent: "Hello"}},
		{"error", `{"type":"error","content":"rate limited"}`, Failed{Reason: "rate limited"}},
		{"error without content", `{"type":"error"}`, Failed{Reason: ReasonServerError}},
		{"extra fields ignored", `{"type":"token","content":"x","index":3}`, Token{Delta: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Decode(tt.payload)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_UnknownTypeSkipped(t *testing.T) {
	got, ok := Decode(`{"type":"citation","url":"https://example.com"}`)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestDecode_MalformedPayloads(t *testing.T) {
	payloads := []string{
		`{"type":"token","content":`,
		`not json`,
		`{"content":"no discriminant"}`,
		`null`,
		`{"type":"token","content":42}`,
		`{"type":"start","message_id":["m1"]}`,
		`{"type":"done","message_id":"m1","content":false}`,
	}

	for _, payload := range payloads {
		t.Run(payload, func(t *testing.T) {
			got, ok := Decode(payload)
			require.True(t, ok)
			failed, isFailed := got.(Failed)
			require.True(t, isFailed, "expected Failed, got %T", got)
			assert.Equal(t, ReasonDecodeError, failed.Reason)
			assert.NotEmpty(t, failed.Detail)
		})
	}
}

func TestEncode_DecodesBack(t *testing.T) {
	events := []Event{
		Started{AssistantMessageID: "m1", UserMessageID: "u1"},
		Started{AssistantMessageID: "m2", Moderated: true},
		ThinkingStarted{},
		Thinking{Text: "hmm"},
		ThinkingEnded{},
		Token{Delta: "a\nb"},
		Done{AssistantMessageID: "m1", FinalContent: "ab"},
		Failed{Reason: "overloaded"},
	}

	for _, ev := range events {
		data, err := Encode(ev)
		require.NoError(t, err)

		got, ok := Decode(string(data))
		require.True(t, ok, "payload %s", data)
		assert.Equal(t, ev, got)
	}
}

func TestEncode_StartOmitsEmptyUserID(t *testing.T) {
	data, err := Encode(Started{AssistantMessageID: "m1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"start","message_id":"m1"}`, string(data))
}
