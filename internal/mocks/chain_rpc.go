package mocks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
)

// SentTx is one recorded raw transaction broadcast
type SentTx struct {
	URLs []string
	Raw  []byte
}

// MockChainRPC serves canned JSON-RPC results per method and records
// raw transaction broadcasts. Unset methods return "null".
type MockChainRPC struct {
	mu       sync.Mutex
	results  map[string]json.RawMessage
	errs     map[string]error
	sendErr  map[string]error
	sent     []SentTx
	calls    map[string]int
	lastURLs []string
}

// NewMockChainRPC creates an empty mock
func NewMockChainRPC() *MockChainRPC {
	return &MockChainRPC{
		results: make(map[string]json.RawMessage),
		errs:    make(map[string]error),
		sendErr: make(map[string]error),
		calls:   make(map[string]int),
	}
}

// SetResult sets the raw result returned for method
func (m *MockChainRPC) SetResult(method string, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[method] = json.RawMessage(result)
	delete(m.errs, method)
}

// SetError makes method fail
func (m *MockChainRPC) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[method] = err
}

// FailSendTo makes broadcasts through url fail with err
func (m *MockChainRPC) FailSendTo(url string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr[url] = err
}

func (m *MockChainRPC) Call(_ context.Context, urls []string, method string, _ ...any) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(urls) == 0 {
		return nil, fmt.Errorf("RPC URL is required")
	}
	m.calls[method]++
	m.lastURLs = append([]string(nil), urls...)
	if err, ok := m.errs[method]; ok {
		return nil, err
	}
	if res, ok := m.results[method]; ok {
		return res, nil
	}
	return json.RawMessage("null"), nil
}

// SendRawTransaction tries urls in order and returns the keccak hash of raw
func (m *MockChainRPC) SendRawTransaction(_ context.Context, urls []string, raw []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(urls) == 0 {
		return "", fmt.Errorf("RPC URL is required")
	}
	var errs []error
	for _, u := range urls {
		if err, ok := m.sendErr[u]; ok {
			errs = append(errs, err)
			continue
		}
		m.sent = append(m.sent, SentTx{URLs: []string{u}, Raw: append([]byte(nil), raw...)})
		return crypto.Keccak256Hash(raw).Hex(), nil
	}
	return "", errors.Join(errs...)
}

// Sent returns the recorded broadcasts
func (m *MockChainRPC) Sent() []SentTx {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentTx(nil), m.sent...)
}

// Calls returns how often method was called
func (m *MockChainRPC) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// LastURLs returns the URLs of the most recent Call
func (m *MockChainRPC) LastURLs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lastURLs...)
}
