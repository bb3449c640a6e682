package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/pos_backend/appctx"
)

// Alias the shared context key type so existing code keeps working.
type contextKey = appctx.ContextKey

var (
	ContextKeyToken         = appctx.ContextKeyToken
	ContextKeyCallerId      = appctx.ContextKeyCallerId
	ContextKeyCallerRole    = appctx.ContextKeyCallerRole
	ContextKeyUsername      = appctx.ContextKeyUsername
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
)

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyToken)
}

func GetCallerIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCallerId)
}

func GetCallerRoleFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCallerRole)
}

func GetUsernameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUsername)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.Set(ctx, ContextKeyToken, token)
}

func SetCallerIdInContext(ctx context.Context, callerId string) context.Context {
	return appctx.Set(ctx, ContextKeyCallerId, callerId)
}

func SetCallerRoleInContext(ctx context.Context, role string) context.Context {
	return appctx.Set(ctx, ContextKeyCallerRole, role)
}

func SetUsernameInContext(ctx context.Context, username string) context.Context {
	return appctx.Set(ctx, ContextKeyUsername, username)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}
