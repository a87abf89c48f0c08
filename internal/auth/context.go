package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxNickname ctxKey = iota
	ctxSessionID
	ctxRole
)

func WithIdentity(ctx context.Context, nickname, sessionID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxNickname, nickname)
	ctx = context.WithValue(ctx, ctxSessionID, sessionID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func Nickname(ctx context.Context) (string, error) {
	v := ctx.Value(ctxNickname)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("nickname not in context")
}

func SessionID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxSessionID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("session id not in context")
}

func Role(ctx context.Context) (string, error) {
	v := ctx.Value(ctxRole)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}
