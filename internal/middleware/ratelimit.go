package middleware

import (
	"net/http"
	"strconv"

	"github.com/zhouzirui/z-chat/backend/internal/ratelimit"
)

// RateLimitHeaders reports the caller's limiter state on every response. The
// values are read when the header is written, so they include the request
// charged by the handler itself.
func RateLimitHeaders(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := CallerFrom(r).LimitKey()
			next.ServeHTTP(&rateLimitWriter{ResponseWriter: w, limiter: limiter, key: key}, r)
		})
	}
}

type rateLimitWriter struct {
	http.ResponseWriter
	limiter     *ratelimit.Limiter
	key         string
	wroteHeader bool
}

func (w *rateLimitWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(w.limiter.Limit()))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(w.limiter.Remaining(w.key)))
		h.Set("X-RateLimit-Reset", strconv.Itoa(w.limiter.ResetAfter(w.key)))
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *rateLimitWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *rateLimitWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
