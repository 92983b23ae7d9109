package httpx

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/logging"
	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type PrincipalParser interface {
	Parse(raw string) (orders.Principal, error)
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p orders.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFrom(ctx context.Context) (orders.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(orders.Principal)
	return p, ok
}

// requestLogger puts a request-scoped zap logger on the context and logs
// one line per request.
func requestLogger(base *zap.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := base.With(
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(logging.IntoContext(r.Context(), log)))
			log.Info("http_request",
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func authenticate(parser PrincipalParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" || parser == nil {
				writeJSON(w, http.StatusUnauthorized, errorBody{Code: "unauthorized", Message: "missing bearer token"})
				return
			}
			p, err := parser.Parse(strings.TrimSpace(raw))
			if err != nil {
				logging.FromContext(r.Context(), nil).Debug("auth_rejected", zap.Error(err))
				writeJSON(w, http.StatusUnauthorized, errorBody{Code: "unauthorized", Message: "invalid token"})
				return
			}
			ctx := logging.IntoContext(r.Context(), logging.FromContext(r.Context(), nil).With(zap.String("user_id", p.UserID.String())))
			next.ServeHTTP(w, r.WithContext(withPrincipal(ctx, p)))
		})
	}
}
