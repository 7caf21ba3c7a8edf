// Package api is the REST client for the chat backend endpoints that sit
// beside reply streaming: chat listing and creation, message history, edits,
// title generation, audio transcription and the signed-in principal.
//
// Every call sends the bearer token from an auth.TokenSource. Non-2xx
// responses come back as *Error, whose Kind classifies the status the same
// way failed stream requests are classified.
package api
