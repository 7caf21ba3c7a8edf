// Package event defines the typed stream events of a chat turn and maps them
// to and from the JSON payloads carried in SSE frames.
//
// Event is a closed set: only the types in this package implement it, so a
// type switch over Started, ThinkingStarted, Thinking, ThinkingEnded, Token,
// Done and Failed is exhaustive.
package event
