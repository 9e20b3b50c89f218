// Package middleware provides the HTTP middleware chain shared by the service.
package middleware

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// ActorHeader carries the authenticated user id set by the gateway.
const ActorHeader = "X-User-ID"

type actorKey struct{}

// RequestID assigns every request an id, echoes it in the X-Request-Id
// response header and adds it to the request logger.
func RequestID(next http.Handler) http.Handler {
	return hlog.RequestIDHandler("request_id", "X-Request-Id")(next)
}

// Logger installs l as the request logger and writes one access log line per
// request.
func Logger(l *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		access := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			evt := hlog.FromRequest(r).Info()
			if status >= http.StatusInternalServerError {
				evt = hlog.FromRequest(r).Error()
			}
			evt.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("HTTP request")
		})(next)
		return hlog.NewHandler(*l)(access)
	}
}

// Recovery turns a handler panic into a 500 response.
func Recovery(l *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					l.Error().
						Interface("panic", rec).
						Bytes("stack", debug.Stack()).
						Str("path", r.URL.Path).
						Msg("Recovered from panic")
					http.Error(w, "Internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Timeout bounds handler execution time.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"error":"request timed out"}`)
	}
}

// Actor copies the caller identity from ActorHeader into the request context.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
			r = r.WithContext(WithActor(r.Context(), actor))
			hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("actor_id", actor)
			})
		}
		next.ServeHTTP(w, r)
	})
}

// WithActor stores the caller identity in ctx.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFromContext returns the caller identity, or "" when unauthenticated.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}
