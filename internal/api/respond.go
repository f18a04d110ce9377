package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rabby-mobile/provider-core/internal/middleware"
	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes err on a REST endpoint. Provider errors carry status
// 200 for the JSON-RPC envelope, so they get a REST status here.
func writeError(w http.ResponseWriter, err error) {
	appErr := toAppError(err)
	if appErr.StatusCode == http.StatusOK {
		e := *appErr
		e.StatusCode = restStatus(appErr.Code)
		appErr = &e
	}
	middleware.WriteError(w, appErr)
}

func restStatus(code string) int {
	switch code {
	case apperrors.ErrCodeInvalidParams, apperrors.ErrCodeBadRequest:
		return http.StatusBadRequest
	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeResourceUnavailable, apperrors.ErrCodeApprovalPending, apperrors.ErrCodeUserRejected:
		return http.StatusConflict
	case apperrors.ErrCodeRequestBlocked:
		return http.StatusForbidden
	case apperrors.ErrCodeTransactionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func toAppError(err error) *apperrors.AppError {
	if appErr, ok := apperrors.IsAppError(err); ok {
		return appErr
	}
	return apperrors.Internal(err.Error())
}

// decodeJSON reads the request body into dst. An empty body is accepted
// when optional is set.
func decodeJSON(r *http.Request, dst any, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return nil
	}
	if optional && errors.Is(err, io.EOF) {
		return nil
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return apperrors.NewWithDetail(apperrors.ErrCodeBadRequest, "request body too large", err.Error(), apperrors.RPCInvalidParams, http.StatusRequestEntityTooLarge)
	}
	return apperrors.NewWithDetail(apperrors.ErrCodeBadRequest, "invalid request body", err.Error(), apperrors.RPCInvalidParams, http.StatusBadRequest)
}
