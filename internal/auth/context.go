// ABOUTME: Request context helpers carrying the authenticated principal
// ABOUTME: Populated by RequireBearer and read by dev server handlers

package auth

import "context"

type principalKey struct{}

// WithPrincipal returns a context carrying principalID.
func WithPrincipal(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, principalKey{}, principalID)
}

// PrincipalFromContext returns the principal stored by RequireBearer, or ""
// for unauthenticated requests.
func PrincipalFromContext(ctx context.Context) string {
	id, _ := ctx.Value(principalKey{}).(string)
	return id
}
