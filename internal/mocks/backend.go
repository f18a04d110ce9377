// Package mocks provides mock implementations of the external
// collaborators for testing.
package mocks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rabby-mobile/provider-core/internal/openapi"
)

// ErrNotImplemented is returned by mock methods without a configured func
var ErrNotImplemented = errors.New("not implemented")

// RPCCall is one recorded backend EthRPC call
type RPCCall struct {
	ChainServerID string
	Method        string
	Params        json.RawMessage
}

// MockBackend is a configurable openapi.Backend that records its calls.
type MockBackend struct {
	EthRPCFn            func(ctx context.Context, chainServerID, method string, params json.RawMessage) (json.RawMessage, error)
	SubmitTxFn          func(ctx context.Context, req *openapi.SubmitTxRequest) (*openapi.SubmitTxResponse, error)
	ReportPushedTxFn    func(ctx context.Context, report *openapi.PushReport) error
	GetRecommendNonceFn func(ctx context.Context, address, chainServerID string) (uint64, error)
	IsOriginScamFn      func(ctx context.Context, origin string) (bool, error)
	GetDappInfoFn       func(ctx context.Context, origin string) (*openapi.DappInfo, error)
	ExplainFn           func(ctx context.Context, req *openapi.ExplainRequest) (*openapi.ExplainResult, error)

	mu        sync.Mutex
	rpcCalls  []RPCCall
	submitted []*openapi.SubmitTxRequest
	reports   []*openapi.PushReport
}

var _ openapi.Backend = (*MockBackend)(nil)

func (m *MockBackend) EthRPC(ctx context.Context, chainServerID, method string, params json.RawMessage) (json.RawMessage, error) {
	m.mu.Lock()
	m.rpcCalls = append(m.rpcCalls, RPCCall{ChainServerID: chainServerID, Method: method, Params: params})
	m.mu.Unlock()
	if m.EthRPCFn == nil {
		return nil, ErrNotImplemented
	}
	return m.EthRPCFn(ctx, chainServerID, method, params)
}

func (m *MockBackend) SubmitTx(ctx context.Context, req *openapi.SubmitTxRequest) (*openapi.SubmitTxResponse, error) {
	m.mu.Lock()
	m.submitted = append(m.submitted, req)
	m.mu.Unlock()
	if m.SubmitTxFn == nil {
		return &openapi.SubmitTxResponse{ReqID: "req-1"}, nil
	}
	return m.SubmitTxFn(ctx, req)
}

func (m *MockBackend) ReportPushedTx(ctx context.Context, report *openapi.PushReport) error {
	m.mu.Lock()
	m.reports = append(m.reports, report)
	m.mu.Unlock()
	if m.ReportPushedTxFn == nil {
		return nil
	}
	return m.ReportPushedTxFn(ctx, report)
}

func (m *MockBackend) GetRecommendNonce(ctx context.Context, address, chainServerID string) (uint64, error) {
	if m.GetRecommendNonceFn == nil {
		return 0, ErrNotImplemented
	}
	return m.GetRecommendNonceFn(ctx, address, chainServerID)
}

func (m *MockBackend) IsOriginScam(ctx context.Context, origin string) (bool, error) {
	if m.IsOriginScamFn == nil {
		return false, nil
	}
	return m.IsOriginScamFn(ctx, origin)
}

func (m *MockBackend) GetDappInfo(ctx context.Context, origin string) (*openapi.DappInfo, error) {
	if m.GetDappInfoFn == nil {
		return nil, ErrNotImplemented
	}
	return m.GetDappInfoFn(ctx, origin)
}

func (m *MockBackend) Explain(ctx context.Context, req *openapi.ExplainRequest) (*openapi.ExplainResult, error) {
	if m.ExplainFn == nil {
		return &openapi.ExplainResult{
			Gas:     openapi.ExplainGas{GasUsed: 21000},
			PreExec: openapi.ExplainPreExec{Success: true},
		}, nil
	}
	return m.ExplainFn(ctx, req)
}

// RPCCalls returns the recorded EthRPC calls
func (m *MockBackend) RPCCalls() []RPCCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RPCCall(nil), m.rpcCalls...)
}

// Submitted returns the recorded relay submissions
func (m *MockBackend) Submitted() []*openapi.SubmitTxRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*openapi.SubmitTxRequest(nil), m.submitted...)
}

// Reports returns the recorded push reports
func (m *MockBackend) Reports() []*openapi.PushReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*openapi.PushReport(nil), m.reports...)
}
