// ABOUTME: Observer callbacks a renderer implements to follow a streaming turn
// ABOUTME: Function adapter and a no-op observer for callers that only need the outcome

package client

import "github.com/2389/coven-chat/internal/turn"

// StartInfo carries the canonical IDs assigned when the stream starts.
// UserMessageID is empty when the server did not send one.
type StartInfo struct {
	TurnID             string
	AssistantMessageID string
	UserMessageID      string
}

// Observer follows one turn. OnStarted is called at most once, on the
// goroutine running SendTurn. OnUpdate calls never overlap and never go
// backwards, but may arrive on a timer goroutine.
type Observer interface {
	OnStarted(info StartInfo, moderated bool)
	OnUpdate(s turn.Snapshot)
}

// ObserverFuncs adapts optional functions to Observer.
type ObserverFuncs struct {
	Started func(info StartInfo, moderated bool)
	Update  func(s turn.Snapshot)
}

func (f ObserverFuncs) OnStarted(info StartInfo, moderated bool) {
	if f.Started != nil {
		f.Started(info, moderated)
	}
}

func (f ObserverFuncs) OnUpdate(s turn.Snapshot) {
	if f.Update != nil {
		f.Update(s)
	}
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) OnStarted(StartInfo, bool) {}
func (NopObserver) OnUpdate(turn.Snapshot)    {}
