package decision

import "context"

// callerKey is a private type for the caller address context key.
type callerKey struct{}

// WithCallerAddr stores the caller's network address in the context.
// The address is used only as audit log context, never for decisions.
func WithCallerAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// CallerAddr retrieves the caller's network address from the context.
// Returns an empty string if none is set.
func CallerAddr(ctx context.Context) string {
	if v, ok := ctx.Value(callerKey{}).(string); ok {
		return v
	}
	return ""
}
