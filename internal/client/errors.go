// ABOUTME: Error taxonomy for failed chat turns
// ABOUTME: Classifies HTTP statuses and maps kinds to retryability and user-facing text

package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/turn"
)

// Kind classifies why a turn failed.
type Kind string

const (
	KindTransport Kind = "transport"
	KindAuth      Kind = "auth"
	KindServer    Kind = "server"
	KindRequest   Kind = "request"
	KindDecode    Kind = "decode"
	KindStream    Kind = "stream"
	KindClosed    Kind = "closed"
	KindCancelled Kind = "cancelled"
)

// Cancellation causes reported through Error.Err.
var (
	ErrCancelled  = errors.New("turn cancelled")
	ErrSuperseded = errors.New("turn superseded by a newer turn on the same chat")
)

// Error describes a failed turn.
type Error struct {
	Kind       Kind
	Reason     string
	HTTPStatus int
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error (%s)", e.Kind, e.Reason)
	if e.HTTPStatus != 0 {
		msg += fmt.Sprintf(" status %d", e.HTTPStatus)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether sending the same turn again may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindServer, KindClosed:
		return true
	default:
		return e.HTTPStatus == http.StatusTooManyRequests
	}
}

// StatusError is returned by transports when the server answers a stream
// request with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("stream request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("stream request failed with status %d: %s", e.StatusCode, e.Body)
}

// ClassifyStatus maps a non-2xx HTTP status onto a Kind.
func ClassifyStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code >= 500:
		return KindServer
	default:
		return KindRequest
	}
}

// UserMessage returns the text shown to the user for a failure of kind k.
// Cancelled turns have none.
func UserMessage(k Kind) string {
	switch k {
	case KindCancelled:
		return ""
	case KindTransport:
		return turn.MessageConnectivity
	case KindAuth:
		return turn.MessageSessionExpired
	case KindServer:
		return turn.MessageUnavailable
	case KindClosed:
		return turn.MessageInterrupted
	default:
		return turn.MessageGeneric
	}
}

// isAuthError reports whether a token source failure means the session is
// gone rather than the network.
func isAuthError(err error) bool {
	return errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken)
}
