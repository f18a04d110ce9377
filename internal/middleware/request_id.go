package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/rabby-mobile/provider-core/internal/logger"
)

// RequestIDHeader is echoed on every response
const RequestIDHeader = "X-Request-ID"

// RequestID tags the request context with an id taken from the upstream
// proxy or freshly generated. Approvals created while serving the request
// carry it as their task id.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := logger.WithRequestID(r.Context(), requestID)
		if origin := r.Header.Get(OriginHeader); origin != "" {
			ctx = logger.WithOrigin(ctx, origin)
		}

		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
