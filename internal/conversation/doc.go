// Package conversation coordinates chat turns between the streaming client,
// the REST API and the local history store.
//
// # Service
//
// The Service is what the CLI talks to:
//
//	svc := conversation.New(streamClient, apiClient, historyStore, dedupeCache, logger)
//
// Key operations:
//
//   - Send(ctx, req, obs): stream one reply, recording the turn when it ends
//   - Edit(ctx, chatID, msgID, content, obs): drop a message and everything
//     after it, then resend the new content
//   - Retry(ctx, chatID, obs): resend the last user message
//   - Cancel(chatID): stop the in-flight turn, keeping partial content
//   - CreateChat, DeleteChat, ListChats, History
//
// # Persistence
//
// Only terminal turns are written. The user message is always kept. The
// assistant message is kept unless the input was moderated or the turn was
// cancelled before any content arrived. Writes outlive the caller's context
// so a cancelled turn still lands in history.
//
// # Submissions
//
// Sends are keyed by chat and content (or an explicit idempotency key) and a
// repeat inside the dedupe window returns ErrDuplicateSubmission. The key is
// released when the turn does not complete, so a failed send can be resent.
//
// # Titles
//
// After the first completed exchange in a chat that still has the default
// title, a title is generated in the background and announced on the
// Broadcaster as NotifyTitleChanged.
//
// # Broadcasting
//
// Every observer callback of an in-flight turn is also published on the
// Broadcaster, so other views of the same chat can follow along:
//
//	ch, subID := svc.Broadcaster().Subscribe(ctx, chatID)
//	defer svc.Broadcaster().Unsubscribe(chatID, subID)
package conversation
