package userctx

import (
	"context"

	"github.com/nkiryanov/pgtemplate/internal/service/auth"
)

type ctxKey string

const sessionKey ctxKey = "user_session"

// Create a new context with the authenticated user session
func New(ctx context.Context, s auth.UserSession) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// Extract the user session from the context
func FromContext(ctx context.Context) (auth.UserSession, bool) {
	s, ok := ctx.Value(sessionKey).(auth.UserSession)
	return s, ok
}
