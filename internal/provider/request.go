// Package provider implements the injected-provider methods: RPC proxying,
// signing, transaction submission, chain management and permissions.
package provider

import (
	"encoding/json"
	"fmt"

	"github.com/rabby-mobile/provider-core/internal/stats"
	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
	"github.com/rabby-mobile/provider-core/pkg/types"
)

// RequestData is the JSON-RPC payload sent by the dapp
type RequestData struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	Ctx    json.RawMessage `json:"$ctx,omitempty"`
}

// Session is the calling site
type Session struct {
	Origin string `json:"origin"`
	Name   string `json:"name"`
	Icon   string `json:"icon"`
}

// Request is one inbound provider call as it moves through the pipeline.
type Request struct {
	Data              RequestData
	Session           Session
	Account           *types.Account
	Origin            string
	RequestedApproval bool

	// ApprovalRes is the UI's answer to the approval, when one was shown
	ApprovalRes json.RawMessage
	SigningTxID string
	Stats       *stats.Flow
}

// CallerOrigin returns Origin, falling back to the session origin
func (r *Request) CallerOrigin() string {
	if r.Origin != "" {
		return r.Origin
	}
	return r.Session.Origin
}

// ParamList decodes params as a positional array. A bare object is treated
// as a single positional argument.
func (r *Request) ParamList() ([]json.RawMessage, error) {
	return decodeParamList(r.Data.Params)
}

func decodeParamList(raw json.RawMessage) ([]json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, apperrors.InvalidParams("params must be an array or an object")
	}
	return []json.RawMessage{raw}, nil
}

// EncodeParams marshals positional params back into the request
func EncodeParams(list []json.RawMessage) (json.RawMessage, error) {
	out, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return out, nil
}

func stringParam(list []json.RawMessage, i int) (string, bool) {
	if i >= len(list) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(list[i], &s); err != nil {
		return "", false
	}
	return s, true
}

// SignTxApproval is the UI's answer to a SignTx approval. Fee and nonce
// fields override the dapp's transaction when set.
type SignTxApproval struct {
	Gas                  string `json:"gas,omitempty"`
	GasPrice             string `json:"gasPrice,omitempty"`
	MaxFeePerGas         string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas,omitempty"`
	Nonce                string `json:"nonce,omitempty"`

	PushType           string `json:"pushType,omitempty"`
	LowGasDeadline     int64  `json:"lowGasDeadline,omitempty"`
	ReqID              string `json:"reqId,omitempty"`
	Sig                string `json:"sig,omitempty"`
	IsGasless          bool   `json:"isGasLess,omitempty"`
	IsGasAccount       bool   `json:"isGasAccount,omitempty"`
	IsSpeedUp          bool   `json:"isSpeedUp,omitempty"`
	IsCancel           bool   `json:"isCancel,omitempty"`
	IsRevoke7702       bool   `json:"isRevoke7702,omitempty"`
	SigningTxID        string `json:"signingTxId,omitempty"`
	UIRequestComponent string `json:"uiRequestComponent,omitempty"`
}

// DecodeSignTxApproval parses an approval result; empty input yields the zero value
func DecodeSignTxApproval(raw json.RawMessage) (SignTxApproval, error) {
	var a SignTxApproval
	if len(raw) == 0 || string(raw) == "null" {
		return a, nil
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return a, apperrors.InvalidParams("malformed approval result")
	}
	return a, nil
}

// Apply returns tx with the approval's fee and nonce choices applied.
// A legacy gas price replaces 1559 fields and vice versa.
func (a SignTxApproval) Apply(tx *types.TxParams) *types.TxParams {
	out := tx.Clone()
	if a.Gas != "" {
		out.Gas = a.Gas
	}
	if a.Nonce != "" {
		out.Nonce = a.Nonce
	}
	switch {
	case a.MaxFeePerGas != "":
		out.MaxFeePerGas = a.MaxFeePerGas
		out.MaxPriorityFeePerGas = a.MaxPriorityFeePerGas
		if out.MaxPriorityFeePerGas == "" {
			out.MaxPriorityFeePerGas = a.MaxFeePerGas
		}
		out.GasPrice = ""
	case a.GasPrice != "":
		out.GasPrice = a.GasPrice
		out.MaxFeePerGas = ""
		out.MaxPriorityFeePerGas = ""
	}
	return out
}

// WithoutOverrides drops the fee and nonce choices, keeping the flags
func (a SignTxApproval) WithoutOverrides() SignTxApproval {
	a.Gas, a.GasPrice, a.MaxFeePerGas, a.MaxPriorityFeePerGas, a.Nonce = "", "", "", "", ""
	return a
}
