package middleware

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
)

// ErrorBody is the error envelope for non JSON-RPC endpoints
type ErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		RPCCode int    `json:"rpcCode,omitempty"`
		Detail  string `json:"detail,omitempty"`
	} `json:"error"`
}

// WriteError writes err with its HTTP status
func WriteError(w http.ResponseWriter, err *apperrors.AppError) {
	var body ErrorBody
	body.Error.Code = err.Code
	body.Error.Message = err.Message
	body.Error.RPCCode = err.RPCCode
	body.Error.Detail = err.Detail

	status := err.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
