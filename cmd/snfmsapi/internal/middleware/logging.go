package middleware

import (
	"context"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/auth"
)

// AccessLog logs one entry per request with zap. It must run after chi's
// RequestID middleware for the request id to be included.
func AccessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			// Filled in by RecordPrincipal once authentication has run.
			var principal string
			next.ServeHTTP(ww, r.WithContext(withPrincipalSink(r.Context(), &principal)))

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote", r.RemoteAddr),
			}
			if id := chimw.GetReqID(r.Context()); id != "" {
				fields = append(fields, zap.String("request_id", id))
			}
			if principal != "" {
				fields = append(fields, zap.String("principal", principal))
			}
			logger.Info("request", fields...)
		})
	}
}

// RecordPrincipal copies the authenticated principal into the access log
// entry. Mount it after the authentication middleware.
func RecordPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sink, ok := principalSinkFrom(r.Context()); ok {
			if p, ok := auth.GetUserFromContext(r.Context()); ok {
				*sink = p.Username
			}
		}
		next.ServeHTTP(w, r)
	})
}

type principalSinkKey struct{}

func withPrincipalSink(ctx context.Context, sink *string) context.Context {
	return context.WithValue(ctx, principalSinkKey{}, sink)
}

func principalSinkFrom(ctx context.Context) (*string, bool) {
	sink, ok := ctx.Value(principalSinkKey{}).(*string)
	return sink, ok && sink != nil
}
