package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabby-mobile/provider-core/internal/logger"
	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := NewRateLimiter(ctx, 1, 2, true)
	h := rl.Limit(okHandler)

	call := func(origin string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/provider/rpc", nil)
		if origin != "" {
			req.Header.Set(OriginHeader, origin)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	t.Run("burst then throttled per origin", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, call("https://a.com"))
		assert.Equal(t, http.StatusOK, call("https://a.com"))
		assert.Equal(t, http.StatusTooManyRequests, call("https://a.com"))

		// another origin has its own bucket
		assert.Equal(t, http.StatusOK, call("https://b.com"))
	})

	t.Run("error body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set(OriginHeader, "https://a.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("Retry-After"))

		var body ErrorBody
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, apperrors.ErrCodeRateLimited, body.Error.Code)
		assert.Equal(t, apperrors.RPCLimitExceeded, body.Error.RPCCode)
	})

	t.Run("idle visitors are evicted", func(t *testing.T) {
		now := time.Now()
		rl.now = func() time.Time { return now.Add(visitorTTL + time.Second) }
		assert.GreaterOrEqual(t, rl.evictIdle(), 2)
		rl.now = time.Now
		assert.Equal(t, http.StatusOK, call("https://a.com"))
	})

	t.Run("disabled", func(t *testing.T) {
		off := NewRateLimiter(ctx, 1, 1, false).Limit(okHandler)
		for range 5 {
			rec := httptest.NewRecorder()
			off.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		}
	})
}

func TestVisitorKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "ip:10.0.0.1", visitorKey(req))

	req.Header.Set("X-Real-IP", "192.168.1.9")
	assert.Equal(t, "ip:192.168.1.9", visitorKey(req))

	req.Header.Set(OriginHeader, "https://a.com")
	assert.Equal(t, "origin:https://a.com", visitorKey(req))
}

func TestRequestID(t *testing.T) {
	var gotID, gotOrigin string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotID = logger.GetRequestID(r.Context())
		gotOrigin = logger.GetOrigin(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, gotID)
	assert.Equal(t, gotID, rec.Header().Get(RequestIDHeader))
	assert.Empty(t, gotOrigin)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-1")
	req.Header.Set(OriginHeader, "https://a.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "upstream-1", gotID)
	assert.Equal(t, "https://a.com", gotOrigin)
}

func TestLimitBody(t *testing.T) {
	var readErr error
	h := LimitBody(8)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small")))
	assert.NoError(t, readErr)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("far too large")))
	assert.Error(t, readErr)
}

func TestChainAndAccessLog(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
	}), mark("first"), mark("second"), AccessLog)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
