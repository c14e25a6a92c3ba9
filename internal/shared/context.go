package shared

import "context"

type sessionContextKey struct{}

// ContextWithSession stores the editing session in context.
func ContextWithSession(ctx context.Context, sess *EditingSession) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the editing session from context.
func SessionFromContext(ctx context.Context) *EditingSession {
	sess, _ := ctx.Value(sessionContextKey{}).(*EditingSession)
	return sess
}
