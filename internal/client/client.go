// ABOUTME: Streaming chat client driving one SSE reply stream per turn
// ABOUTME: Parses, decodes and applies events, batches updates, and handles cancellation

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-chat/internal/batch"
	"github.com/2389/coven-chat/internal/event"
	"github.com/2389/coven-chat/internal/sse"
	"github.com/2389/coven-chat/internal/turn"
)

const readBufferSize = 32 << 10

// Outcome is the terminal result of a turn. Err is nil when the turn
// completed, including when the input was moderated.
type Outcome struct {
	Snapshot   turn.Snapshot
	Turn       turn.Turn
	Reason     string
	HTTPStatus int
	Err        *Error
}

// Completed reports whether the turn ended in StatusComplete.
func (o Outcome) Completed() bool {
	return o.Snapshot.Status == turn.StatusComplete
}

// Moderated reports whether the server rejected the user input.
func (o Outcome) Moderated() bool {
	return o.Turn.User.Moderated
}

// Client sends chat turns and tracks the one in flight per chat.
type Client struct {
	transport     Transport
	flushInterval time.Duration
	logger        *slog.Logger

	mu     sync.Mutex
	active map[string]*inflight // keyed by chat ID
}

type inflight struct {
	turnID string
	cancel context.CancelCauseFunc
}

// New creates a Client. A non-positive flushInterval uses
// batch.DefaultInterval.
func New(transport Transport, flushInterval time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		transport:     transport,
		flushInterval: flushInterval,
		logger:        logger.With("component", "stream_client"),
		active:        make(map[string]*inflight),
	}
}

// SendTurn streams the assistant reply to content and blocks until the turn
// is terminal. A turn already in flight on chatID is cancelled first.
func (c *Client) SendTurn(ctx context.Context, chatID, content string, opts turn.Options, obs Observer) Outcome {
	if obs == nil {
		obs = NopObserver{}
	}
	m := turn.NewMachine(chatID, content, opts)

	turnCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	c.register(chatID, m.TurnID(), cancel)
	defer c.unregister(chatID, m.TurnID())

	r := &run{
		ctx:      turnCtx,
		machine:  m,
		batcher:  batch.New(c.flushInterval, obs.OnUpdate),
		observer: obs,
		logger:   c.logger.With("chat_id", chatID, "turn_id", m.TurnID()),
		started:  time.Now(),
	}
	defer r.batcher.Stop()

	r.logger.Debug("sending turn", "think_mode", opts.ThinkMode, "search_mode", opts.SearchMode)

	body, err := c.transport.OpenStream(turnCtx, TurnRequest{
		ChatID:       chatID,
		Content:      content,
		Role:         "user",
		ThinkingMode: opts.ThinkMode,
		SearchMode:   opts.SearchMode,
	})
	if err != nil {
		return r.openFailed(err)
	}
	defer body.Close()

	// unblock a pending Read as soon as the turn is cancelled
	stop := context.AfterFunc(turnCtx, func() { _ = body.Close() })
	defer stop()

	return r.consume(body)
}

// Cancel cancels the turn in flight on chatID. It reports whether there was
// one; calling it again, or after the turn finished, does nothing.
func (c *Client) Cancel(chatID string) bool {
	c.mu.Lock()
	a := c.active[chatID]
	c.mu.Unlock()

	if a == nil {
		return false
	}
	a.cancel(ErrCancelled)
	return true
}

// InFlight returns the local turn ID streaming on chatID, if any.
func (c *Client) InFlight(chatID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a := c.active[chatID]; a != nil {
		return a.turnID, true
	}
	return "", false
}

func (c *Client) register(chatID, turnID string, cancel context.CancelCauseFunc) {
	c.mu.Lock()
	prev := c.active[chatID]
	c.active[chatID] = &inflight{turnID: turnID, cancel: cancel}
	c.mu.Unlock()

	if prev != nil {
		c.logger.Info("superseding in-flight turn",
			"chat_id", chatID,
			"previous_turn_id", prev.turnID,
			"turn_id", turnID,
		)
		prev.cancel(ErrSuperseded)
	}
}

func (c *Client) unregister(chatID, turnID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a := c.active[chatID]; a != nil && a.turnID == turnID {
		delete(c.active, chatID)
	}
}

// run is the state of one SendTurn call.
type run struct {
	ctx      context.Context
	machine  *turn.Machine
	batcher  *batch.Batcher
	observer Observer
	logger   *slog.Logger
	started  time.Time
}

func (r *run) consume(body io.Reader) Outcome {
	parser := sse.NewParser()
	defer func() {
		if dropped := parser.Dropped(); dropped > 0 {
			r.logger.Warn("dropped oversized frames", "frames", dropped, "max_bytes", parser.MaxFrameSize)
		}
	}()
	buf := make([]byte, readBufferSize)

	for {
		n, readErr := body.Read(buf)
		if out, done := r.checkCancelled(); done {
			return out
		}

		for frame := range parser.Frames(buf[:n]) {
			if out, done := r.checkCancelled(); done {
				return out
			}
			ev, ok := event.Decode(frame.Data)
			if !ok {
				r.logger.Debug("skipping unknown event", "frame_event", frame.Event)
				continue
			}
			if out, done := r.handle(ev); done {
				return out
			}
		}

		if errors.Is(readErr, io.EOF) {
			if discarded := parser.Close(); discarded > 0 {
				r.logger.Debug("discarding unterminated frame", "bytes", discarded)
			}
			return r.fail(event.Failed{Reason: event.ReasonStreamClosed}, KindClosed, io.ErrUnexpectedEOF)
		}
		if readErr != nil {
			return r.fail(event.Failed{Reason: event.ReasonTransportError}, KindTransport, fmt.Errorf("reading stream: %w", readErr))
		}
	}
}

// handle applies one decoded event. It returns done once the turn is
// terminal.
func (r *run) handle(ev event.Event) (Outcome, bool) {
	snap, applied := r.machine.Apply(r.machine.TurnID(), ev)
	if !applied {
		r.logger.Debug("ignoring event", "type", ev.Type(), "status", r.machine.Snapshot().Status.String())
		return Outcome{}, false
	}

	if started, ok := ev.(event.Started); ok {
		r.observer.OnStarted(StartInfo{
			TurnID:             snap.TurnID,
			AssistantMessageID: started.AssistantMessageID,
			UserMessageID:      started.UserMessageID,
		}, started.Moderated)
	}

	if !snap.Status.IsTerminal() {
		r.batcher.Push(snap)
		return Outcome{}, false
	}

	var turnErr *Error
	if f, ok := ev.(event.Failed); ok {
		kind := KindStream
		if f.Reason == event.ReasonDecodeError {
			kind = KindDecode
		}
		detail := f.Detail
		if detail == "" {
			detail = f.Reason
		}
		turnErr = &Error{Kind: kind, Reason: f.Reason, Err: errors.New(detail)}
	}
	return r.finish(snap, turnErr), true
}

func (r *run) openFailed(err error) Outcome {
	if out, done := r.checkCancelled(); done {
		return out
	}

	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		return r.fail(event.Failed{Reason: event.ReasonRequestError, Status: statusErr.StatusCode}, ClassifyStatus(statusErr.StatusCode), err)
	case isAuthError(err):
		return r.fail(event.Failed{Reason: event.ReasonAuthError}, KindAuth, err)
	default:
		return r.fail(event.Failed{Reason: event.ReasonTransportError}, KindTransport, err)
	}
}

// checkCancelled fails the turn if its context is done. A deadline counts as
// a transport failure, anything else as a cancellation.
func (r *run) checkCancelled() (Outcome, bool) {
	if r.ctx.Err() == nil {
		return Outcome{}, false
	}
	cause := context.Cause(r.ctx)
	if errors.Is(cause, context.DeadlineExceeded) {
		return r.fail(event.Failed{Reason: event.ReasonTransportError}, KindTransport, cause), true
	}
	return r.fail(event.Failed{Reason: event.ReasonCancelled}, KindCancelled, cause), true
}

func (r *run) fail(ev event.Failed, kind Kind, cause error) Outcome {
	snap, applied := r.machine.Cancel(ev.Reason, ev.Status)
	if !applied {
		// already terminal, and that snapshot went out with the flush
		r.batcher.Stop()
		snap = r.machine.Snapshot()
	}
	return r.finish(snap, &Error{Kind: kind, Reason: ev.Reason, HTTPStatus: ev.Status, Err: cause})
}

func (r *run) finish(snap turn.Snapshot, turnErr *Error) Outcome {
	r.batcher.Flush(snap)

	out := Outcome{
		Snapshot: snap,
		Turn:     r.machine.Turn(),
		Reason:   snap.Reason,
		Err:      turnErr,
	}
	stats := r.batcher.Stats()
	attrs := []any{
		"status", snap.Status.String(),
		"duration", time.Since(r.started),
		"updates", stats.Emitted,
		"content_len", len(snap.Content),
	}

	if turnErr == nil {
		r.logger.Info("turn finished", append(attrs, "moderated", out.Moderated())...)
		return out
	}
	out.HTTPStatus = turnErr.HTTPStatus
	if turnErr.Kind == KindCancelled {
		r.logger.Info("turn cancelled", append(attrs, "cause", turnErr.Err)...)
	} else {
		r.logger.Warn("turn failed", append(attrs, "kind", string(turnErr.Kind), "reason", turnErr.Reason, "error", turnErr.Err)...)
	}
	return out
}
