// Package validation checks bodies of the HTTP bridge endpoints.
package validation

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
)

// FieldError is one failed check
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors is a collection of field errors
type Errors []FieldError

func (ve Errors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(ve))
	for i, e := range ve {
		msgs[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return strings.Join(msgs, "; ")
}

// Validator collects field errors across several checks
type Validator struct {
	errors Errors
}

// New creates a validator
func New() *Validator {
	return &Validator{}
}

// HasErrors returns true if any check failed
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns the collected errors
func (v *Validator) Errors() Errors {
	return v.errors
}

// AddError records a failed check
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, FieldError{Field: field, Message: message})
}

// Err returns nil, or the collected errors as an InvalidParams AppError
func (v *Validator) Err() error {
	if !v.HasErrors() {
		return nil
	}
	return apperrors.InvalidParams(v.errors.Error())
}

// Required checks that value is not blank
func (v *Validator) Required(field, value string) bool {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required")
		return false
	}
	return true
}

// UUID checks that a non-empty value parses as a UUID
func (v *Validator) UUID(field, value string) bool {
	if value == "" {
		return true
	}
	if _, err := uuid.Parse(value); err != nil {
		v.AddError(field, "must be a valid UUID")
		return false
	}
	return true
}

// EthereumAddress checks for a 0x-prefixed 20-byte hex address
func (v *Validator) EthereumAddress(field, value string) bool {
	if !strings.HasPrefix(value, "0x") || !common.IsHexAddress(value) {
		v.AddError(field, "must be a valid Ethereum address")
		return false
	}
	return true
}

// Origin checks for an http(s) origin without path, query or fragment
func (v *Validator) Origin(field, value string) bool {
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" ||
		strings.Trim(u.Path, "/") != "" || u.RawQuery != "" || u.Fragment != "" {
		v.AddError(field, "must be an http(s) origin")
		return false
	}
	return true
}

// ChainID checks for a positive chain id
func (v *Validator) ChainID(field string, value int64) bool {
	if value <= 0 {
		v.AddError(field, "must be positive")
		return false
	}
	return true
}

// OneOf checks value against the allowed set
func (v *Validator) OneOf(field, value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	v.AddError(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
	return false
}

// MaxItems checks a list length
func (v *Validator) MaxItems(field string, n, max int) bool {
	if n > max {
		v.AddError(field, fmt.Sprintf("must have at most %d items", max))
		return false
	}
	return true
}
