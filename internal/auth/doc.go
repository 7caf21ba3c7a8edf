// Package auth supplies bearer tokens to the chat client and verifies them in
// the development server.
//
// # Token Sources
//
// The streaming client asks a TokenSource for a token before every request:
//
//	src := auth.Chain(auth.EnvSource("COVEN_TOKEN"), auth.FileSource(path))
//	token, err := auth.CheckExpiry(src).Token(ctx)
//
// CheckExpiry rejects JWTs whose exp claim has passed with ErrExpiredToken,
// so an expired session fails locally instead of costing a round trip.
// Opaque (non-JWT) tokens pass through unchanged.
//
// # Verification
//
// JWTVerifier signs and verifies HS256 tokens whose "sub" claim names the
// principal. RequireBearer wraps an http.Handler and stores the principal in
// the request context, where PrincipalFromContext retrieves it.
package auth
