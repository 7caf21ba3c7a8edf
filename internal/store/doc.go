// Package store keeps the local conversation history in SQLite.
//
// Completed turns are handed over by the conversation service as a user
// message and, unless the input was moderated or nothing arrived, an
// assistant message. Messages are ordered by insertion, which matches the
// order turns finished in.
//
// # Implementations
//
//   - SQLiteStore: modernc.org/sqlite (pure Go, no cgo), WAL journal,
//     foreign keys on so deleting a chat removes its messages
//   - MockStore: in-memory, for tests
//
// # Editing
//
// DeleteMessagesFrom removes a message and everything after it in the same
// chat, which is how an edited or retried turn replaces the old branch.
package store
