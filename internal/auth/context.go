package auth

import "context"

type claimsKey struct{}

// WithClaims returns a copy of ctx carrying the caller's claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the claims stored by Middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok && claims != nil
}

// Caller names the authenticated user for audit logging, or "" when anonymous.
func Caller(ctx context.Context) string {
	if claims, ok := ClaimsFromContext(ctx); ok {
		if claims.UserID != "" {
			return claims.UserID
		}
		return claims.Subject
	}
	return ""
}
