// Package devserver is an in-memory chat server that speaks the same HTTP and
// SSE protocol as the production backend.
//
// It backs cmd/fake-chat-server for local development and is mounted in
// httptest servers by the client, api and conversation tests. Replies are
// scripted by a Responder, which can also reject requests with a status,
// inject raw frames or stop mid-stream, so failure paths can be exercised
// over a real connection.
//
// # Endpoints
//
//	POST   /chats/message/stream                  SSE reply stream
//	POST   /chats/new                             create chat
//	GET    /chats                                 list chats
//	GET    /chats/{id}/messages                   paged history (limit, before)
//	DELETE /chats/{id}                            delete chat
//	DELETE /chats/{id}/messages/after/{mid}       delete a message and all after it
//	POST   /chats/{id}/generate-title             title from the first user message
//	POST   /audio/transcribe                      multipart "audio" upload
//	GET    /auth/me                               authenticated principal
//	GET    /health                                liveness, never authenticated
package devserver
