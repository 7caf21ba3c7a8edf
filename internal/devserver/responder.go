// ABOUTME: Scripted replies for the development chat server
// ABOUTME: Default responder echoes the prompt token by token, with optional thinking and moderation

package devserver

import (
	"fmt"
	"strings"
	"time"

	"github.com/2389/coven-chat/internal/event"
)

// StreamRequest is the body the stream endpoint accepts.
type StreamRequest struct {
	ChatID       string `json:"chat_id"`
	Content      string `json:"content"`
	Role         string `json:"role"`
	ThinkingMode bool   `json:"thinking_mode"`
	SearchMode   bool   `json:"search_mode"`
}

// Step is one write on the reply stream.
type Step struct {
	// Event is encoded as a data frame. Message IDs left empty on Started
	// and Done are filled in by the server.
	Event event.Event
	// Raw is written verbatim when Event is nil.
	Raw string
	// Pause is waited before the write. The wait ends early if the client
	// goes away.
	Pause time.Duration
}

// Reply is what a Responder wants the server to do with one request.
type Reply struct {
	// Status, when non-zero, rejects the request with a JSON error body.
	Status int
	Detail string
	Steps  []Step
}

// Responder decides the reply to a stream request. A reply whose steps do
// not end in Done or an error event leaves the stream unterminated.
type Responder func(req StreamRequest) Reply

// EchoResponder answers with "You said: <content>" streamed word by word,
// pausing tokenDelay between tokens. Content containing blockedWord (when
// non-empty) is moderated.
func EchoResponder(tokenDelay time.Duration, blockedWord string) Responder {
	return func(req StreamRequest) Reply {
		if blockedWord != "" && strings.Contains(strings.ToLower(req.Content), strings.ToLower(blockedWord)) {
			return Reply{Steps: []Step{{Event: event.Started{Moderated: true}}}}
		}

		steps := []Step{{Event: event.Started{}}}
		if req.ThinkingMode {
			steps = append(steps,
				Step{Event: event.ThinkingStarted{}},
				Step{Event: event.Thinking{Text: "Reading the message."}, Pause: tokenDelay},
				Step{Event: event.Thinking{Text: "Reading the message. Preparing an echo."}, Pause: tokenDelay},
				Step{Event: event.ThinkingEnded{}},
			)
		}

		reply := fmt.Sprintf("You said: %s", req.Content)
		for i, word := range strings.Fields(reply) {
			if i > 0 {
				word = " " + word
			}
			steps = append(steps, Step{Event: event.Token{Delta: word}, Pause: tokenDelay})
		}
		steps = append(steps, Step{Event: event.Done{FinalContent: reply}})
		return Reply{Steps: steps}
	}
}

// ScriptResponder replies to every request with the same steps.
func ScriptResponder(steps ...Step) Responder {
	return func(StreamRequest) Reply {
		return Reply{Steps: steps}
	}
}

// RejectResponder rejects every request with status.
func RejectResponder(status int, detail string) Responder {
	return func(StreamRequest) Reply {
		return Reply{Status: status, Detail: detail}
	}
}

// Events wraps events as steps without pauses.
func Events(evs ...event.Event) []Step {
	steps := make([]Step, len(evs))
	for i, ev := range evs {
		steps[i] = Step{Event: ev}
	}
	return steps
}
