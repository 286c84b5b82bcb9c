package api

import (
	"context"

	"github.com/org/querygate/pkg/models"
)

type contextKey string

const (
	ctxKeyIdentity  contextKey = "identity"
	ctxKeyRequestID contextKey = "request_id"
)

// identity is the authenticated caller, as asserted by the upstream
// application through trusted headers.
type identity struct {
	UserID string
	Role   models.Role
}

func withIdentity(ctx context.Context, id identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

func identityFromCtx(ctx context.Context) identity {
	id, _ := ctx.Value(ctxKeyIdentity).(identity)
	return id
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func requestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}
