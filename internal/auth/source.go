// ABOUTME: Token sources the chat client asks for a bearer token before each request
// ABOUTME: Environment, file, static and chained sources plus a local expiry check

package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoToken is returned when a source has no token to offer.
var ErrNoToken = errors.New("no auth token available")

// TokenSource yields the current bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

func (f TokenSourceFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticSource always returns the same token.
func StaticSource(token string) TokenSource {
	return TokenSourceFunc(func(context.Context) (string, error) {
		if token == "" {
			return "", ErrNoToken
		}
		return token, nil
	})
}

// EnvSource reads the token from an environment variable on every call.
func EnvSource(name string) TokenSource {
	return TokenSourceFunc(func(context.Context) (string, error) {
		if token := strings.TrimSpace(os.Getenv(name)); token != "" {
			return token, nil
		}
		return "", ErrNoToken
	})
}

// FileSource reads the token from a file on every call, so a token refreshed
// on disk is picked up without restarting.
func FileSource(path string) TokenSource {
	return TokenSourceFunc(func(context.Context) (string, error) {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoToken
		}
		if err != nil {
			return "", fmt.Errorf("reading token file: %w", err)
		}
		token := strings.TrimSpace(string(data))
		if token == "" {
			return "", ErrNoToken
		}
		return token, nil
	})
}

// DefaultTokenPath returns ~/.config/coven/token.
func DefaultTokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "coven", "token")
}

// Chain tries each source in order and returns the first token found.
// Errors other than ErrNoToken stop the chain.
func Chain(sources ...TokenSource) TokenSource {
	return TokenSourceFunc(func(ctx context.Context) (string, error) {
		for _, src := range sources {
			token, err := src.Token(ctx)
			if err == nil {
				return token, nil
			}
			if !errors.Is(err, ErrNoToken) {
				return "", err
			}
		}
		return "", ErrNoToken
	})
}

// CheckExpiry wraps src so that JWTs already past their exp claim fail with
// ErrExpiredToken.
func CheckExpiry(src TokenSource) TokenSource {
	return checkExpiry(src, time.Now)
}

func checkExpiry(src TokenSource, now func() time.Time) TokenSource {
	return TokenSourceFunc(func(ctx context.Context) (string, error) {
		token, err := src.Token(ctx)
		if err != nil {
			return "", err
		}
		if exp, ok := Expiry(token); ok && !now().Before(exp) {
			return "", ErrExpiredToken
		}
		return token, nil
	})
}
