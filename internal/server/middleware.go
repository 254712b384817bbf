package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/httplog/v3"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-Id"

// Recovery recovers from panics in HTTP handlers and returns HTTP 500 to the client.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recover() != nil {
				writeError(w, r, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
				// Logging of panics is handled in Logging middleware
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// Logging logs HTTP requests with method, path, status, and duration.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return httplog.RequestLogger(logger, &httplog.Options{
		Schema: httplog.SchemaECS.Concise(true),

		// Request bodies carry tokens and passwords; never log them.
		LogRequestHeaders:  []string{"Content-Type", "Origin"},
		LogResponseHeaders: []string{},
		LogRequestBody:     nil,
		LogResponseBody:    nil,

		RecoverPanics: false, // use dedicated middleware, panics are logged regardless
	})
}

// RequestID tags each request with the caller's X-Request-Id, or a new UUID,
// echoes it in the response and adds it to the request log line.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		httplog.SetAttrs(r.Context(), slog.String("request_id", id))

		next.ServeHTTP(w, r)
	})
}

// applyMiddlewares applies middlewares to a handler in the order they appear.
// The first middleware in the slice is the outermost (executes first).
func applyMiddlewares(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
