package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/kiranshivaraju/eventsync/internal/api/response"
)

// Recovery turns a handler panic into a 500 and logs the stack with the
// route and calling key. http.ErrAbortHandler is re-raised so the server can
// drop the connection.
func Recovery(l *slog.Logger) func(http.Handler) http.Handler {
	if l == nil {
		l = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, info := withRequestInfo(r.Context())
			r = r.WithContext(ctx)
			defer func() {
				rv := recover()
				if rv == nil {
					return
				}
				if rv == http.ErrAbortHandler {
					panic(rv)
				}
				attrs := append(requestAttrs(r, info), "panic", rv, "stack", string(debug.Stack()))
				l.Error("panic recovered", attrs...)
				response.Error(w, http.StatusInternalServerError,
					response.CodeInternal, "An unexpected error occurred", nil)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
