package middleware

import (
	"net/http"
	"runtime/debug"

	"meshmon/internal/logger"
)

// Recovery converts a handler panic into a 500 instead of killing the
// whole daemon. The panic value stays in the log; clients get a
// generic body.
func Recovery(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error("Handler panic on %s %s: %v", r.Method, r.URL.Path, err)
					log.Error("Stack trace:\n%s", debug.Stack())

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					w.Write([]byte(`{"error": "internal server error"}`))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
