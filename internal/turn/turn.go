// ABOUTME: Turn, message and snapshot types for a single chat exchange
// ABOUTME: Status values are ordered so transitions can be checked for monotonicity

package turn

import "time"

// Status is the lifecycle position of the assistant message.
type Status int

const (
	StatusPending Status = iota
	StatusThinking
	StatusSearching
	StatusStreaming
	StatusComplete
	StatusFailed
)

var statusNames = [...]string{
	StatusPending:   "pending",
	StatusThinking:  "thinking",
	StatusSearching: "searching",
	StatusStreaming: "streaming",
	StatusComplete:  "complete",
	StatusFailed:    "failed",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// IsTerminal reports whether no further events can change the turn.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Options are the per-turn generation switches sent with the request.
type Options struct {
	ThinkMode  bool
	SearchMode bool
}

// UserMessage is the optimistic copy of what the user sent.
type UserMessage struct {
	ID        string
	Content   string
	CreatedAt time.Time
	Moderated bool
}

// AssistantMessage is the reply being assembled.
type AssistantMessage struct {
	ID          string
	Content     string
	Thinking    string
	IsThinking  bool
	Searching   bool
	Status      Status
	Reason      string
	ErrorDetail string
	CreatedAt   time.Time
}

// Turn is one user-input/assistant-output exchange.
type Turn struct {
	ID          string
	ChatID      string
	Options     Options
	User        UserMessage
	Assistant   AssistantMessage
	StartedAt   time.Time
	CompletedAt time.Time
}

// Snapshot is an immutable view of the assistant side of a turn. Seq grows
// with every applied change, so a larger Seq is always a newer view.
type Snapshot struct {
	TurnID      string
	ID          string
	Content     string
	Thinking    string
	IsThinking  bool
	Searching   bool
	Status      Status
	Reason      string
	ErrorDetail string
	Seq         uint64
}

// PlaceholderID is the local assistant message ID used until the server
// assigns one.
func PlaceholderID(turnID string) string {
	return "temp-" + turnID
}
