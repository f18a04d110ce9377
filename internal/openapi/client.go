// Package openapi is the client for the wallet backend: default RPC
// multiplexing, transaction relay, pre-execution and dapp metadata.
package openapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rabby-mobile/provider-core/pkg/types"
)

// Backend is the subset of the wallet backend the pipeline calls.
type Backend interface {
	EthRPC(ctx context.Context, chainServerID, method string, params json.RawMessage) (json.RawMessage, error)
	SubmitTx(ctx context.Context, req *SubmitTxRequest) (*SubmitTxResponse, error)
	ReportPushedTx(ctx context.Context, report *PushReport) error
	GetRecommendNonce(ctx context.Context, address, chainServerID string) (uint64, error)
	IsOriginScam(ctx context.Context, origin string) (bool, error)
	GetDappInfo(ctx context.Context, origin string) (*DappInfo, error)
	Explain(ctx context.Context, req *ExplainRequest) (*ExplainResult, error)
}

// SubmitTxRequest is the body of POST /v2/wallet/submit_tx
type SubmitTxRequest struct {
	ChainServerID     string                     `json:"chain_id"`
	Tx                *types.TxParams            `json:"tx"`
	RawTx             string                     `json:"raw_tx,omitempty"`
	PushType          string                     `json:"push_type"`
	LowGasDeadline    int64                      `json:"low_gas_deadline,omitempty"`
	ReqID             string                     `json:"req_id,omitempty"`
	Origin            string                     `json:"origin"`
	Sig               string                     `json:"sig,omitempty"`
	AuthorizationList []types.AuthorizationTuple `json:"authorization_list,omitempty"`
	IsGasless         bool                       `json:"is_gasless,omitempty"`
	IsGasAccount      bool                       `json:"is_gas_account,omitempty"`
}

// SubmitTxResponse carries the relay request id and, once known, the hash
type SubmitTxResponse struct {
	ReqID  string `json:"req_id"`
	TxHash string `json:"tx_id"`
}

// PushReport tells the backend the outcome of a frontend push
type PushReport struct {
	ChainServerID string `json:"chain_id"`
	Success       bool   `json:"success"`
	TxHash        string `json:"tx_id,omitempty"`
	RPCURL        string `json:"rpc_url,omitempty"`
	Error         string `json:"error,omitempty"`
}

// DappInfo is backend metadata about a site
type DappInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	LogoURL     string `json:"logo_url"`
	IsScam      bool   `json:"is_scam"`
	IsVerified  bool   `json:"is_verified"`
}

// ExplainRequest asks the backend to simulate a transaction
type ExplainRequest struct {
	Tx     *types.TxParams `json:"tx"`
	Origin string          `json:"origin"`
	Update map[string]any  `json:"update_nonce,omitempty"`
}

// ExplainResult is the pre-execution outcome of a transaction
type ExplainResult struct {
	PreExecVersion string          `json:"pre_exec_version"`
	Gas            ExplainGas      `json:"gas"`
	PreExec        ExplainPreExec  `json:"pre_exec"`
	Raw            json.RawMessage `json:"-"`
}

// ExplainGas is the simulated gas usage
type ExplainGas struct {
	GasUsed  uint64 `json:"gas_used"`
	GasLimit uint64 `json:"gas_limit"`
}

// ExplainPreExec reports whether simulation succeeded
type ExplainPreExec struct {
	Success bool   `json:"success"`
	Error   string `json:"err_msg,omitempty"`
}

// Client talks to the backend over HTTPS
type Client struct {
	httpClient *http.Client
	baseURL    string
}

var _ Backend = (*Client)(nil)

// NewClient creates a backend client
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{httpClient: httpClient, baseURL: baseURL}
}

// APIError is a non-2xx backend response
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openapi: status %d: %s", e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

type rpcRequest struct {
	ChainServerID string          `json:"chain_id"`
	Method        string          `json:"method"`
	Params        json.RawMessage `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error relayed by the backend
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// EthRPC proxies a JSON-RPC call through the backend's default RPC
func (c *Client) EthRPC(ctx context.Context, chainServerID, method string, params json.RawMessage) (json.RawMessage, error) {
	if len(params) == 0 {
		params = json.RawMessage("[]")
	}
	var out rpcResponse
	err := c.do(ctx, http.MethodPost, "/v1/wallet/eth_rpc", nil,
		rpcRequest{ChainServerID: chainServerID, Method: method, Params: params}, &out)
	if err != nil {
		return nil, err
	}
	if out.Error != nil {
		return nil, &RPCError{Code: out.Error.Code, Message: out.Error.Message}
	}
	return out.Result, nil
}

// SubmitTx relays a signed or to-be-signed tx through the backend
func (c *Client) SubmitTx(ctx context.Context, req *SubmitTxRequest) (*SubmitTxResponse, error) {
	var out SubmitTxResponse
	if err := c.do(ctx, http.MethodPost, "/v2/wallet/submit_tx", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReportPushedTx records a frontend push outcome
func (c *Client) ReportPushedTx(ctx context.Context, report *PushReport) error {
	return c.do(ctx, http.MethodPost, "/v1/wallet/tx_push_report", nil, report, nil)
}

// GetRecommendNonce returns the backend's view of the next usable nonce
func (c *Client) GetRecommendNonce(ctx context.Context, address, chainServerID string) (uint64, error) {
	var out struct {
		Nonce json.RawMessage `json:"nonce"`
	}
	q := url.Values{"user_addr": {address}, "chain_id": {chainServerID}}
	if err := c.do(ctx, http.MethodGet, "/v1/wallet/get_recommend_nonce", q, nil, &out); err != nil {
		return 0, err
	}
	return parseQuantity(strings.Trim(string(out.Nonce), `"`))
}

// IsOriginScam reports whether the backend flags origin
func (c *Client) IsOriginScam(ctx context.Context, origin string) (bool, error) {
	var out struct {
		IsScam bool `json:"is_scam"`
	}
	q := url.Values{"origin": {origin}}
	if err := c.do(ctx, http.MethodGet, "/v1/engine/origin/is_scam", q, nil, &out); err != nil {
		return false, err
	}
	return out.IsScam, nil
}

// GetDappInfo returns backend metadata for origin
func (c *Client) GetDappInfo(ctx context.Context, origin string) (*DappInfo, error) {
	var out DappInfo
	q := url.Values{"origin": {origin}}
	if err := c.do(ctx, http.MethodGet, "/v1/dapp/info", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Explain simulates tx and returns the pre-execution result
func (c *Client) Explain(ctx context.Context, req *ExplainRequest) (*ExplainResult, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/v1/wallet/pre_exec_tx", nil, req, &raw); err != nil {
		return nil, err
	}
	var out ExplainResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode explain result: %w", err)
	}
	out.Raw = raw
	return &out, nil
}

// parseQuantity accepts decimal or 0x hex
func parseQuantity(s string) (uint64, error) {
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}
