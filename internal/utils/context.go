package utils

import (
	"context"

	"github.com/gin-gonic/gin"
)

type SessionContext struct {
	SessionID string
	UserEmail string
}

type contextKey string

const sessionContextKey contextKey = "SESSION_CONTEXT"

func WithSessionContext(ctx context.Context, sessionContext *SessionContext) context.Context {
	return context.WithValue(ctx, sessionContextKey, sessionContext)
}

func WithSessionContextFromGinRequest(c *gin.Context) context.Context {
	sessionContext := &SessionContext{
		SessionID: c.GetString("SessionId"),
		UserEmail: c.GetString("UserEmail"),
	}
	return WithSessionContext(c.Request.Context(), sessionContext)
}

func GetSessionContext(ctx context.Context) *SessionContext {
	sessionContext, ok := ctx.Value(sessionContextKey).(*SessionContext)
	if !ok {
		return new(SessionContext)
	}
	return sessionContext
}

func GetUserEmailFromContext(ctx context.Context) string {
	return GetSessionContext(ctx).UserEmail
}

func GetSessionIDFromContext(ctx context.Context) string {
	return GetSessionContext(ctx).SessionID
}
