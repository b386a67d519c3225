package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const (
	apiKeyIDKey     contextKey = "api_key_id"
	apiKeyScopesKey contextKey = "api_key_scopes"
	requestInfoKey  contextKey = "request_info"
)

// requestInfo is shared by pointer so Logger and Recovery, which sit outside
// Authenticate, can see which key made the request once it returns.
type requestInfo struct {
	keyID uuid.UUID
}

func withRequestInfo(ctx context.Context) (context.Context, *requestInfo) {
	if info, ok := ctx.Value(requestInfoKey).(*requestInfo); ok {
		return ctx, info
	}
	info := &requestInfo{}
	return context.WithValue(ctx, requestInfoKey, info), info
}

// SetAPIKeyID records the authenticated key on ctx and on the request's
// log record, if one is open.
func SetAPIKeyID(ctx context.Context, id uuid.UUID) context.Context {
	if info, ok := ctx.Value(requestInfoKey).(*requestInfo); ok {
		info.keyID = id
	}
	return context.WithValue(ctx, apiKeyIDKey, id)
}

func GetAPIKeyID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(apiKeyIDKey).(uuid.UUID)
	return id, ok
}

func setScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, apiKeyScopesKey, scopes)
}

func getScopes(r *http.Request) []string {
	scopes, _ := r.Context().Value(apiKeyScopesKey).([]string)
	return scopes
}

// requestAttrs are the fields Logger and Recovery share.
func requestAttrs(r *http.Request, info *requestInfo) []any {
	attrs := []any{"method", r.Method, "route", routePattern(r)}
	if info != nil && info.keyID != uuid.Nil {
		attrs = append(attrs, "api_key_id", info.keyID.String())
	}
	return attrs
}
