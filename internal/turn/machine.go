// ABOUTME: State machine applying stream events to one turn in arrival order
// ABOUTME: Fences events by turn ID and ignores everything after a terminal status

package turn

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/event"
)

// Machine owns one turn while it streams. It is safe for concurrent use.
type Machine struct {
	mu      sync.Mutex
	turn    Turn
	content strings.Builder
	seq     uint64
	now     func() time.Time
}

// NewMachine creates the optimistic user message and the placeholder
// assistant message for a new turn. The placeholder already reflects the
// requested think and search modes.
func NewMachine(chatID, content string, opts Options) *Machine {
	return newMachine(chatID, content, opts, time.Now)
}

func newMachine(chatID, content string, opts Options, now func() time.Time) *Machine {
	id := uuid.New().String()
	ts := now()
	return &Machine{
		now: now,
		turn: Turn{
			ID:      id,
			ChatID:  chatID,
			Options: opts,
			User: UserMessage{
				ID:        "local-" + id,
				Content:   content,
				CreatedAt: ts,
			},
			Assistant: AssistantMessage{
				ID:         PlaceholderID(id),
				IsThinking: opts.ThinkMode,
				Searching:  opts.SearchMode,
				Status:     StatusPending,
				CreatedAt:  ts,
			},
			StartedAt: ts,
		},
	}
}

// TurnID returns the local ID of the turn this machine owns.
func (m *Machine) TurnID() string {
	return m.turn.ID
}

// Apply applies ev if it belongs to this turn and is valid in the current
// status. It returns the new snapshot and true when the turn changed, or a
// zero Snapshot and false when the event was ignored.
func (m *Machine) Apply(turnID string, ev event.Event) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if turnID != m.turn.ID || m.turn.Assistant.Status.IsTerminal() {
		return Snapshot{}, false
	}

	a := &m.turn.Assistant
	if a.Status == StatusPending {
		switch e := ev.(type) {
		case event.Started:
			m.start(e)
		case event.Failed:
			m.fail(e)
		default:
			return Snapshot{}, false
		}
		return m.commit(), true
	}

	switch e := ev.(type) {
	case event.Started:
		return Snapshot{}, false
	case event.ThinkingStarted:
		a.Thinking = ""
		a.IsThinking = true
	case event.Thinking:
		a.Thinking = e.Text
		a.IsThinking = true
	case event.ThinkingEnded:
		a.IsThinking = false
	case event.Token:
		m.content.WriteString(e.Delta)
		a.Searching = false
		a.Status = StatusStreaming
	case event.Done:
		m.content.Reset()
		m.content.WriteString(e.FinalContent)
		if e.AssistantMessageID != "" {
			a.ID = e.AssistantMessageID
		}
		a.IsThinking = false
		a.Searching = false
		a.Status = StatusComplete
		m.turn.CompletedAt = m.now()
	case event.Failed:
		m.fail(e)
	default:
		return Snapshot{}, false
	}
	return m.commit(), true
}

// Cancel fails the turn locally with reason, keeping partial content.
// httpStatus is the status of a rejected request, otherwise zero. It is a
// no-op once the turn is terminal.
func (m *Machine) Cancel(reason string, httpStatus int) (Snapshot, bool) {
	return m.Apply(m.turn.ID, event.Failed{Reason: reason, Status: httpStatus})
}

// Snapshot returns the current view without changing anything.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Turn returns a copy of the whole turn.
func (m *Machine) Turn() Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.turn
	t.Assistant.Content = m.content.String()
	return t
}

func (m *Machine) start(e event.Started) {
	a := &m.turn.Assistant
	if e.AssistantMessageID != "" {
		a.ID = e.AssistantMessageID
	}
	if e.UserMessageID != "" {
		m.turn.User.ID = e.UserMessageID
	}

	if e.Moderated {
		m.turn.User.Moderated = true
		m.content.Reset()
		a.IsThinking = false
		a.Searching = false
		a.Status = StatusComplete
		m.turn.CompletedAt = m.now()
		return
	}

	switch {
	case m.turn.Options.ThinkMode:
		a.Status = StatusThinking
	case m.turn.Options.SearchMode:
		a.Status = StatusSearching
	default:
		a.Status = StatusStreaming
	}
}

func (m *Machine) fail(e event.Failed) {
	a := &m.turn.Assistant
	a.Status = StatusFailed
	a.Reason = e.Reason
	a.ErrorDetail = MessageForFailure(e.Reason, e.Status)
	a.IsThinking = false
	a.Searching = false
	m.turn.CompletedAt = m.now()
}

func (m *Machine) commit() Snapshot {
	m.seq++
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	a := m.turn.Assistant
	return Snapshot{
		TurnID:      m.turn.ID,
		ID:          a.ID,
		Content:     m.content.String(),
		Thinking:    a.Thinking,
		IsThinking:  a.IsThinking,
		Searching:   a.Searching,
		Status:      a.Status,
		Reason:      a.Reason,
		ErrorDetail: a.ErrorDetail,
		Seq:         m.seq,
	}
}
