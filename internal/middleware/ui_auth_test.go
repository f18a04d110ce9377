package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestUIAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("ui-secret"), bcrypt.MinCost)
	require.NoError(t, err)
	auth, err := NewUIAuth(string(hash))
	require.NoError(t, err)

	var seenSecret string
	h := auth.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenSecret = r.Header.Get(UISecretHeader)
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "valid secret",
			headers:    map[string]string{UISecretHeader: "ui-secret"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing secret",
			wantStatus: http.StatusUnauthorized,
			wantMsg:    "missing wallet UI credentials",
		},
		{
			name:       "wrong secret",
			headers:    map[string]string{UISecretHeader: "guess"},
			wantStatus: http.StatusUnauthorized,
			wantMsg:    "invalid wallet UI credentials",
		},
		{
			name:       "basic auth refused",
			headers:    map[string]string{"Authorization": "Basic dWk6c2VjcmV0", UISecretHeader: "ui-secret"},
			wantStatus: http.StatusUnauthorized,
			wantMsg:    "Authorization: Basic is not supported",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/approvals/x/resolve", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantMsg != "" {
				body := decodeBody(t, rec)
				assert.Equal(t, apperrors.ErrCodeUnauthorized, body.Error.Code)
				assert.Equal(t, tt.wantMsg, body.Error.Message)
			}
		})
	}

	// the secret is stripped before reaching handlers and logs
	assert.Empty(t, seenSecret)
}

func TestUIAuth_Construction(t *testing.T) {
	_, err := NewUIAuth("not-a-hash")
	assert.Error(t, err)

	_, err = NewUIAuthFromSecret("", bcrypt.MinCost)
	assert.Error(t, err)

	auth, err := NewUIAuthFromSecret("s3cret", bcrypt.MinCost)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/dapps", nil)
	req.Header.Set(UISecretHeader, "s3cret")
	rec := httptest.NewRecorder()
	auth.Authenticate(okHandler).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUIAuth_NilRejects(t *testing.T) {
	var auth *UIAuth
	req := httptest.NewRequest(http.MethodGet, "/v1/dapps", nil)
	req.Header.Set(UISecretHeader, "anything")
	rec := httptest.NewRecorder()
	auth.Authenticate(okHandler).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
