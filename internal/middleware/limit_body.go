package middleware

import (
	"net/http"
)

// DefaultMaxBodySize bounds provider request bodies (1MB)
const DefaultMaxBodySize int64 = 1 << 20

// LimitBody caps request bodies at limit bytes; handlers see a read error
// past it.
func LimitBody(limit int64) func(http.Handler) http.Handler {
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
