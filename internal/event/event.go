// ABOUTME: Typed stream events for one chat turn, as a closed set of variants
// ABOUTME: Wire discriminants and failure reasons shared by decoder and client

package event

// Wire discriminants carried in the "type" field of each payload.
const (
	TypeStart         = "start"
	TypeThinkingStart = "thinking_start"
	TypeThinking      = "thinking"
	TypeThinkingEnd   = "thinking_end"
	TypeToken         = "token"
	TypeDone          = "done"
	TypeError         = "error"
)

// Failure reasons produced locally rather than by the server.
const (
	ReasonRequestError   = "request_error"
	ReasonDecodeError    = "decode_error"
	ReasonStreamClosed   = "stream_closed_unexpectedly"
	ReasonCancelled      = "cancelled"
	ReasonTransportError = "transport_error"
	ReasonAuthError      = "auth_error"
	ReasonServerError    = "server_error"
)

// Event is one decoded stream event.
type Event interface {
	// Type returns the wire discriminant.
	Type() string
	sealed()
}

// Started opens the turn and carries the canonical message IDs. A moderated
// start rejects the user input and ends the turn.
type Started struct {
	AssistantMessageID string
	UserMessageID      string
	Moderated          bool
}

// ThinkingStarted resets the reasoning trace.
type ThinkingStarted struct{}

// Thinking carries the full reasoning trace so far, not a delta.
type Thinking struct {
	Text string
}

// ThinkingEnded marks the end of the reasoning phase.
type ThinkingEnded struct{}

// Token carries an incremental piece of assistant content.
type Token struct {
	Delta string
}

// Done ends the turn. FinalContent is authoritative and replaces whatever
// was accumulated from tokens.
type Done struct {
	AssistantMessageID string
	FinalContent       string
}

// Failed ends the turn with a reason. Status is the HTTP status when the
// failure came from a rejected request, otherwise zero.
type Failed struct {
	Reason string
	Detail string
	Status int
}

func (Started) Type() string         { return TypeStart }
func (ThinkingStarted) Type() string { return TypeThinkingStart }
func (Thinking) Type() string        { return TypeThinking }
func (ThinkingEnded) Type() string   { return TypeThinkingEnd }
func (Token) Type() string           { return TypeToken }
func (Done) Type() string            { return TypeDone }
func (Failed) Type() string          { return TypeError }

func (Started) sealed()         {}
func (ThinkingStarted) sealed() {}
func (Thinking) sealed()        {}
func (ThinkingEnded) sealed()   {}
func (Token) sealed()           {}
func (Done) sealed()            {}
func (Failed) sealed()          {}
