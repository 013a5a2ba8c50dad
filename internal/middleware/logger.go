package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"meshmon/internal/logger"
)

// responseWriter captures the status code and byte count for the
// request log line.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// Hijack keeps the WebSocket upgrade working behind this wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}

func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	httpLog := log.Component("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			httpLog.Debug("%s %s %d %dms %d bytes %s",
				r.Method,
				r.URL.Path,
				rw.statusCode,
				time.Since(start).Milliseconds(),
				rw.bytesWritten,
				r.RemoteAddr,
			)
		})
	}
}
