// Package turn owns the state of one in-flight chat turn.
//
// A Machine holds the optimistic user message and the placeholder assistant
// message, applies stream events to them in arrival order and hands out
// immutable Snapshots. Status only moves forward:
//
//	Pending -> Thinking | Searching | Streaming -> Complete
//	any non-terminal status -> Failed
//
// Events for another turn, and anything after a terminal status, are ignored.
package turn
