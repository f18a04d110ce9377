package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rabby-mobile/provider-core/internal/flow"
	"github.com/rabby-mobile/provider-core/internal/logger"
	"github.com/rabby-mobile/provider-core/internal/middleware"
	"github.com/rabby-mobile/provider-core/internal/provider"
	"github.com/rabby-mobile/provider-core/internal/session"
	"github.com/rabby-mobile/provider-core/internal/validation"
	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
)

// JSONRPCRequest is one provider call from a dapp page
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	Ctx     json.RawMessage `json:"$ctx,omitempty"`
}

// JSONRPCResponse carries a successful result. Result is always present,
// null included.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
}

// JSONRPCErrorResponse carries an EIP-1193 error
type JSONRPCErrorResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   JSONRPCError    `json:"error"`
}

// JSONRPCError represents a JSON-RPC 2.0 error
type JSONRPCError struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Data    *JSONRPCErrorData `json:"data,omitempty"`
}

// JSONRPCErrorData keeps the wallet-side error code and detail
type JSONRPCErrorData struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// dappOrigin validates an origin claimed by a dapp page. The internal
// origin is always connected, so it only enters through wallet routes.
func dappOrigin(v *validation.Validator, field, origin string) {
	if v.Origin(field, origin) && strings.EqualFold(origin, session.InternalOrigin) {
		v.AddError(field, "is reserved for the wallet")
	}
}

// handleRPC runs one provider call through the pipeline
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var rpcReq JSONRPCRequest
	if err := decodeJSON(r, &rpcReq, false); err != nil {
		writeRPCError(w, http.StatusBadRequest, nil, err)
		return
	}

	origin := strings.TrimSuffix(r.Header.Get(middleware.OriginHeader), "/")
	v := validation.New()
	dappOrigin(v, middleware.OriginHeader, origin)
	v.Required("method", rpcReq.Method)
	if rpcReq.JSONRPC != "" && rpcReq.JSONRPC != "2.0" {
		v.AddError("jsonrpc", "must be 2.0")
	}
	if err := v.Err(); err != nil {
		writeRPCError(w, http.StatusBadRequest, rpcReq.ID, err)
		return
	}

	req := &flow.ProviderRequest{
		Data: provider.RequestData{
			Method: rpcReq.Method,
			Params: rpcReq.Params,
			Ctx:    rpcReq.Ctx,
		},
		Session: provider.Session{
			Origin: origin,
			Name:   r.Header.Get(NameHeader),
			Icon:   r.Header.Get(IconHeader),
		},
		Origin: origin,
	}
	result, err := s.pipeline.Handle(r.Context(), req)
	if err != nil {
		writeRPCError(w, http.StatusOK, rpcReq.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, JSONRPCResponse{JSONRPC: "2.0", ID: rpcReq.ID, Result: result})
}

func writeRPCError(w http.ResponseWriter, status int, id json.RawMessage, err error) {
	appErr := toAppError(err)
	resp := JSONRPCErrorResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: JSONRPCError{
			Code:    appErr.RPCCode,
			Message: appErr.Message,
			Data:    &JSONRPCErrorData{Code: appErr.Code, Detail: appErr.Detail},
		},
	}
	if resp.Error.Code == 0 {
		resp.Error.Code = apperrors.RPCInternal
	}
	writeJSON(w, status, resp)
}

// handleEvents streams provider events for one origin as server-sent events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	origin := strings.TrimSuffix(r.URL.Query().Get("origin"), "/")
	v := validation.New()
	dappOrigin(v, "origin", origin)
	if err := v.Err(); err != nil {
		writeError(w, err)
		return
	}
	ch, cancel := s.events.Subscribe(origin)
	defer cancel()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logger.Warn(r.Context(), "event stream unsupported", "error", err)
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev.Data)
			if err != nil {
				logger.Warn(ctx, "failed to encode event", "event", ev.Name, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
