// Package shield holds the HTTP middleware in front of the API: security
// headers, a request body cap, request tracing with a per-request logger,
// and API key checks.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.Stack(20 << 20) {
//	    r.Use(mw)
//	}
//	r.With(keys.Middleware).Post("/api/render/{format}", ...)
package shield

import "net/http"

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// Stack returns the middleware applied to every route, outermost first:
// SecurityHeaders, MaxBody, TraceID.
func Stack(maxBody int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		MaxBody(maxBody),
		TraceID,
	}
}
