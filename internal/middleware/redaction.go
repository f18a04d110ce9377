package middleware

import (
	"net/http"
	"strings"
)

const redactedValue = "[REDACTED]"

// headers never written to logs in clear
var redactHeaderKeys = map[string]bool{
	"authorization":   true,
	"cookie":          true,
	"set-cookie":      true,
	"x-api-key":       true,
	"x-wallet-secret": true,
}

// RedactHeaders returns a copy of h that is safe to log. Dapp identity
// headers pass through.
func RedactHeaders(h http.Header) http.Header {
	if h == nil {
		return nil
	}
	out := make(http.Header, len(h))
	for key, values := range h {
		copied := make([]string, len(values))
		if !redactHeaderKeys[strings.ToLower(key)] {
			copy(copied, values)
			out[key] = copied
			continue
		}
		for i, v := range values {
			copied[i] = redactedValue
			// keep the auth scheme
			if scheme, _, ok := strings.Cut(strings.TrimSpace(v), " "); ok && strings.EqualFold(key, "Authorization") && scheme != "" {
				copied[i] = scheme + " " + redactedValue
			}
		}
		out[key] = copied
	}
	return out
}
