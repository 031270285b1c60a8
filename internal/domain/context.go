package domain

import "context"

type principalKey struct{}

// ContextPrincipal carries the authenticated identity through request context.
// Groups holds the ids of every group the principal belongs to, resolved once
// at authentication time.
type ContextPrincipal struct {
	Name    string
	IsAdmin bool
	Groups  []int64
}

// WithPrincipal stores a ContextPrincipal in the context.
func WithPrincipal(ctx context.Context, p ContextPrincipal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext extracts the ContextPrincipal from the context.
func PrincipalFromContext(ctx context.Context) (ContextPrincipal, bool) {
	p, ok := ctx.Value(principalKey{}).(ContextPrincipal)
	return p, ok
}
