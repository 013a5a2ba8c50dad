package middleware

import (
	"net/http"
	"strings"
)

var corsMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}

// CORS allows the desktop UI (usually a dev server on another port, or
// a file:// shell) to call the API. An empty list behaves like "*".
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			switch {
			case len(allowedOrigins) == 0,
				len(allowedOrigins) == 1 && allowedOrigins[0] == "*":
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case originAllowed(allowedOrigins, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}

			w.Header().Set("Access-Control-Allow-Methods", strings.Join(corsMethods, ","))
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == origin {
			return true
		}
	}
	return false
}
