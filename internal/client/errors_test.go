// ABOUTME: Tests for the failed-turn error taxonomy
// ABOUTME: Covers status classification, retryability and user-facing text

package client

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-chat/internal/turn"
)

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, KindAuth, ClassifyStatus(401))
	assert.Equal(t, KindAuth, ClassifyStatus(403))
	assert.Equal(t, KindServer, ClassifyStatus(500))
	assert.Equal(t, KindServer, ClassifyStatus(503))
	assert.Equal(t, KindRequest, ClassifyStatus(400))
	assert.Equal(t, KindRequest, ClassifyStatus(404))
	assert.Equal(t, KindRequest, ClassifyStatus(429))
}

func TestError_Retryable(t *testing.T) {
	retryable := []Kind{KindTransport, KindServer, KindClosed}
	for _, k := range retryable {
		assert.True(t, (&Error{Kind: k}).Retryable(), k)
	}
	for _, k := range []Kind{KindAuth, KindRequest, KindDecode, KindStream, KindCancelled} {
		assert.False(t, (&Error{Kind: k}).Retryable(), k)
	}
	assert.True(t, (&Error{Kind: KindRequest, HTTPStatus: 429}).Retryable(), "rate limits clear up")
}

func TestError_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &Error{Kind: KindServer, Reason: "request_error", HTTPStatus: 502, Err: cause}

	assert.Equal(t, "server error (request_error) status 502: boom", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestUserMessage(t *testing.T) {
	assert.Empty(t, UserMessage(KindCancelled))
	assert.Equal(t, turn.MessageConnectivity, UserMessage(KindTransport))
	assert.Equal(t, turn.MessageSessionExpired, UserMessage(KindAuth))
	assert.Equal(t, turn.MessageUnavailable, UserMessage(KindServer))
	assert.Equal(t, turn.MessageInterrupted, UserMessage(KindClosed))
	assert.Equal(t, turn.MessageGeneric, UserMessage(KindDecode))
}
