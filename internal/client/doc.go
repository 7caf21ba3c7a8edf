// Package client streams assistant replies for chat turns.
//
// # Overview
//
// Client.SendTurn opens one server-sent-event stream per user message and
// drives it to a terminal state on the caller's goroutine:
//
//	transport bytes -> sse.Parser -> event.Decode -> turn.Machine -> batch.Batcher -> Observer
//
// The Observer hears about the canonical message IDs once, synchronously,
// when the stream starts, and receives snapshot updates at a bounded rate.
// The terminal snapshot is always delivered before SendTurn returns.
//
// # Cancellation
//
// Cancelling the context passed to SendTurn, or calling Client.Cancel for the
// chat, stops reading and fails the turn with reason "cancelled" while keeping
// whatever content had arrived. Starting a new turn on a chat that still has
// one in flight cancels the older turn the same way.
//
// # Errors
//
// SendTurn never returns a Go error; failures are part of the Outcome. The
// Outcome's Err classifies them by Kind so callers can decide whether a retry
// makes sense:
//
//	KindTransport  connection or read failure (retryable)
//	KindAuth       401/403 or an expired local token
//	KindServer     5xx response (retryable)
//	KindRequest    any other non-2xx response
//	KindDecode     malformed frame payload
//	KindStream     server sent an error event
//	KindClosed     stream ended without a terminal event (retryable)
//	KindCancelled  cancelled locally or superseded
package client
