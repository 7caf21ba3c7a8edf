// ABOUTME: User-facing text for failed turns
// ABOUTME: Maps failure reasons and HTTP statuses onto a small set of messages

package turn

import (
	"net/http"
	"strings"

	"github.com/2389/coven-chat/internal/event"
)

// User-facing failure messages.
const (
	MessageConnectivity   = "Could not reach the server. Check your connection and try again."
	MessageSessionExpired = "Your session has expired. Please sign in again."
	MessageUnavailable    = "The assistant is temporarily unavailable. Please try again in a moment."
	MessageInterrupted    = "The reply was interrupted before it finished. Please try again."
	MessageGeneric        = "Something went wrong while generating a reply. Please try again."
)

// MessageForFailure returns the text shown for a failed turn. Cancelled turns
// have no text: the user asked for them to stop.
func MessageForFailure(reason string, status int) string {
	switch {
	case reason == event.ReasonCancelled:
		return ""
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return MessageSessionExpired
	case status >= 500:
		return MessageUnavailable
	case status != 0:
		return MessageGeneric
	}

	switch reason {
	case event.ReasonTransportError:
		return MessageConnectivity
	case event.ReasonAuthError:
		return MessageSessionExpired
	case event.ReasonStreamClosed:
		return MessageInterrupted
	case event.ReasonDecodeError, event.ReasonRequestError:
		return MessageGeneric
	}

	// server-sent reasons are free text
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "network"), strings.Contains(lower, "failed to fetch"):
		return MessageConnectivity
	case strings.Contains(lower, "401"), strings.Contains(lower, "unauthorized"):
		return MessageSessionExpired
	case strings.Contains(lower, "500"), strings.Contains(lower, "502"), strings.Contains(lower, "503"),
		strings.Contains(lower, "unavailable"), strings.Contains(lower, "overloaded"):
		return MessageUnavailable
	default:
		return MessageGeneric
	}
}
