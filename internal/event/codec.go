// ABOUTME: JSON mapping between SSE frame payloads and typed stream events
// ABOUTME: Unknown discriminants are skipped, malformed payloads become decode failures

package event

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Type *string `json:"type"`
}

type startPayload struct {
	MessageID     string  `json:"message_id"`
	UserMessageID *string `json:"user_message_id,omitempty"`
	Moderated     bool    `json:"moderated,omitempty"`
}

type contentPayload struct {
	Content string `json:"content"`
}

type donePayload struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

// Decode maps one frame payload to an event. It returns false for payloads
// with an unrecognised discriminant, which callers skip. Payloads that are
// not valid JSON, lack a discriminant, or carry wrongly typed fields for a
// known discriminant decode to Failed with ReasonDecodeError.
func Decode(payload string) (Event, bool) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return decodeFailure("payload", err), true
	}
	if env.Type == nil {
		return Failed{Reason: ReasonDecodeError, Detail: "payload has no type"}, true
	}

	switch *env.Type {
	case TypeStart:
		var p startPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return decodeFailure(TypeStart, err), true
		}
		ev := Started{AssistantMessageID: p.MessageID, Moderated: p.Moderated}
		if p.UserMessageID != nil {
			ev.UserMessageID = *p.UserMessageID
		}
		return ev, true

	case TypeThinkingStart:
		return ThinkingStarted{}, true

	case TypeThinking:
		var p contentPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return decodeFailure(TypeThinking, err), true
		}
		return Thinking{Text: p.Content}, true

	case TypeThinkingEnd:
		return ThinkingEnded{}, true

	case TypeToken:
		var p contentPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return decodeFailure(TypeToken, err), true
		}
		return Token{Delta: p.Content}, true

	case TypeDone:
		var p donePayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return decodeFailure(TypeDone, err), true
		}
		return Done{AssistantMessageID: p.MessageID, FinalContent: p.Content}, true

	case TypeError:
		var p contentPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return decodeFailure(TypeError, err), true
		}
		reason := p.Content
		if reason == "" {
			reason = ReasonServerError
		}
		return Failed{Reason: reason}, true

	default:
		return nil, false
	}
}

func decodeFailure(what string, err error) Failed {
	return Failed{
		Reason: ReasonDecodeError,
		Detail: fmt.Sprintf("decoding %s: %v", what, err),
	}
}

// Encode maps an event to its wire payload.
func Encode(ev Event) ([]byte, error) {
	var v any
	switch e := ev.(type) {
	case Started:
		p := struct {
			Type string `json:"type"`
			startPayload
		}{Type: TypeStart, startPayload: startPayload{MessageID: e.AssistantMessageID, Moderated: e.Moderated}}
		if e.UserMessageID != "" {
			id := e.UserMessageID
			p.UserMessageID = &id
		}
		v = p
	case ThinkingStarted, ThinkingEnded:
		v = struct {
			Type string `json:"type"`
		}{Type: ev.Type()}
	case Thinking:
		v = typedContent{Type: TypeThinking, Content: e.Text}
	case Token:
		v = typedContent{Type: TypeToken, Content: e.Delta}
	case Done:
		v = struct {
			Type string `json:"type"`
			donePayload
		}{Type: TypeDone, donePayload: donePayload{MessageID: e.AssistantMessageID, Content: e.FinalContent}}
	case Failed:
		v = typedContent{Type: TypeError, Content: e.Reason}
	default:
		return nil, fmt.Errorf("unsupported event %T", ev)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", ev.Type(), err)
	}
	return data, nil
}

type typedContent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}
