package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
)

// UISecretHeader carries the wallet UI credential
const UISecretHeader = "X-Wallet-Secret"

// UIAuth guards the approval and wallet routes. Only the wallet UI holds
// the secret; dapp pages reach the provider endpoint alone.
type UIAuth struct {
	hash []byte
}

// NewUIAuth creates the middleware from a bcrypt hash of the UI secret
func NewUIAuth(secretHash string) (*UIAuth, error) {
	if _, err := bcrypt.Cost([]byte(secretHash)); err != nil {
		return nil, fmt.Errorf("invalid UI secret hash: %w", err)
	}
	return &UIAuth{hash: []byte(secretHash)}, nil
}

// NewUIAuthFromSecret hashes a plain secret with cost and builds the middleware
func NewUIAuthFromSecret(secret string, cost int) (*UIAuth, error) {
	if secret == "" {
		return nil, fmt.Errorf("UI secret is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return nil, fmt.Errorf("hash UI secret: %w", err)
	}
	return &UIAuth{hash: hash}, nil
}

func unauthorized(message, detail string) *apperrors.AppError {
	return apperrors.NewWithDetail(apperrors.ErrCodeUnauthorized, message, detail,
		apperrors.RPCUnauthorized, http.StatusUnauthorized)
}

// Authenticate requires UISecretHeader to match the configured secret.
// A nil UIAuth rejects every request.
func (a *UIAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			WriteError(w, unauthorized("wallet UI access is not configured", "set UI_SECRET or UI_SECRET_HASH"))
			return
		}

		// the secret travels in its own header, never as Basic auth
		if strings.HasPrefix(r.Header.Get("Authorization"), "Basic ") {
			WriteError(w, unauthorized("Authorization: Basic is not supported", "use "+UISecretHeader))
			return
		}

		secret := r.Header.Get(UISecretHeader)
		if secret == "" {
			WriteError(w, unauthorized("missing wallet UI credentials", "provide "+UISecretHeader))
			return
		}
		if err := bcrypt.CompareHashAndPassword(a.hash, []byte(secret)); err != nil {
			WriteError(w, unauthorized("invalid wallet UI credentials", ""))
			return
		}

		r.Header.Del(UISecretHeader)
		next.ServeHTTP(w, r)
	})
}
