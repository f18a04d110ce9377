package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rabby-mobile/provider-core/pkg/types"
)

// MemoryStore implements all three stores in process memory.
// Used when no database is configured and in tests.
type MemoryStore struct {
	mu         sync.RWMutex
	dapps      map[string]types.DappSession
	account    *types.Account
	customRPCs map[string]string
	gasCache   map[int64]GasCache
	tokens     map[string]types.TokenRecord
	signing    map[string]SigningTx
	pending    []PendingTx
}

var (
	_ DappStore       = (*MemoryStore)(nil)
	_ PreferenceStore = (*MemoryStore)(nil)
	_ TxHistory       = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		dapps:      make(map[string]types.DappSession),
		customRPCs: make(map[string]string),
		gasCache:   make(map[int64]GasCache),
		tokens:     make(map[string]types.TokenRecord),
		signing:    make(map[string]SigningTx),
	}
}

func copyAccount(a *types.Account) *types.Account {
	if a == nil {
		return nil
	}
	out := *a
	return &out
}

// GetDapp returns the session for origin, or nil if none exists
func (m *MemoryStore) GetDapp(_ context.Context, origin string) (*types.DappSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.dapps[origin]
	if !ok {
		return nil, nil
	}
	d.CurrentAccount = copyAccount(d.CurrentAccount)
	return &d, nil
}

// SaveDapp inserts or replaces the session for dapp.Origin
func (m *MemoryStore) SaveDapp(_ context.Context, dapp *types.DappSession) error {
	if dapp == nil || dapp.Origin == "" {
		return fmt.Errorf("dapp origin is required")
	}
	d := *dapp
	d.CurrentAccount = copyAccount(dapp.CurrentAccount)
	m.mu.Lock()
	m.dapps[d.Origin] = d
	m.mu.Unlock()
	return nil
}

// RemoveDapp deletes the session for origin
func (m *MemoryStore) RemoveDapp(_ context.Context, origin string) error {
	m.mu.Lock()
	delete(m.dapps, origin)
	m.mu.Unlock()
	return nil
}

// ListDapps returns all sessions ordered by origin
func (m *MemoryStore) ListDapps(_ context.Context) ([]types.DappSession, error) {
	m.mu.RLock()
	out := make([]types.DappSession, 0, len(m.dapps))
	for _, d := range m.dapps {
		d.CurrentAccount = copyAccount(d.CurrentAccount)
		out = append(out, d)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Origin < out[j].Origin })
	return out, nil
}

// GetCurrentAccount returns the global fallback account
func (m *MemoryStore) GetCurrentAccount(_ context.Context) (*types.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyAccount(m.account), nil
}

// SetCurrentAccount replaces the global fallback account
func (m *MemoryStore) SetCurrentAccount(_ context.Context, account *types.Account) error {
	m.mu.Lock()
	m.account = copyAccount(account)
	m.mu.Unlock()
	return nil
}

// GetCustomRPC returns the user RPC for a chain, or "" if none
func (m *MemoryStore) GetCustomRPC(_ context.Context, chainEnum string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.customRPCs[strings.ToUpper(chainEnum)], nil
}

// SetCustomRPC sets or clears (empty url) the user RPC for a chain
func (m *MemoryStore) SetCustomRPC(_ context.Context, chainEnum, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if url == "" {
		delete(m.customRPCs, strings.ToUpper(chainEnum))
		return nil
	}
	m.customRPCs[strings.ToUpper(chainEnum)] = url
	return nil
}

func (m *MemoryStore) GetGasCache(_ context.Context, chainID int64) (*GasCache, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.gasCache[chainID]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (m *MemoryStore) SetGasCache(_ context.Context, cache *GasCache) error {
	if cache == nil {
		return nil
	}
	g := *cache
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = time.Now()
	}
	m.mu.Lock()
	m.gasCache[g.ChainID] = g
	m.mu.Unlock()
	return nil
}

func tokenKey(t *types.TokenRecord) string {
	return fmt.Sprintf("%d:%s", t.ChainID, strings.ToLower(t.Address))
}

// AddCustomToken records a watched asset; re-adding the same token is a no-op update
func (m *MemoryStore) AddCustomToken(_ context.Context, token *types.TokenRecord) error {
	if token == nil {
		return fmt.Errorf("token is required")
	}
	m.mu.Lock()
	m.tokens[tokenKey(token)] = *token
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ListCustomTokens(_ context.Context) ([]types.TokenRecord, error) {
	m.mu.RLock()
	out := make([]types.TokenRecord, 0, len(m.tokens))
	for _, t := range m.tokens {
		out = append(out, t)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return tokenKey(&out[i]) < tokenKey(&out[j]) })
	return out, nil
}

// AddSigningTx stores a signing placeholder, assigning an id when empty
func (m *MemoryStore) AddSigningTx(_ context.Context, tx *SigningTx) error {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	if tx.Phase == "" {
		tx.Phase = PhaseUnsigned
	}
	c := *tx
	c.RawTx = tx.RawTx.Clone()
	m.mu.Lock()
	m.signing[c.ID] = c
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetSigningTx(_ context.Context, id string) (*SigningTx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.signing[id]
	if !ok {
		return nil, nil
	}
	tx.RawTx = tx.RawTx.Clone()
	return &tx, nil
}

func (m *MemoryStore) UpdateSigningTx(_ context.Context, tx *SigningTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.signing[tx.ID]; !ok {
		return fmt.Errorf("signing tx %s not found", tx.ID)
	}
	c := *tx
	c.RawTx = tx.RawTx.Clone()
	m.signing[c.ID] = c
	return nil
}

func (m *MemoryStore) RemoveSigningTx(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.signing, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) RemoveAllSigningTxs(_ context.Context) error {
	m.mu.Lock()
	m.signing = make(map[string]SigningTx)
	m.mu.Unlock()
	return nil
}

// AddPendingTx records a broadcast tx. Several txs may share a nonce slot
// (speed-up and cancel replacements).
func (m *MemoryStore) AddPendingTx(_ context.Context, tx *PendingTx) error {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	c := *tx
	c.Address = strings.ToLower(tx.Address)
	c.RawTx = tx.RawTx.Clone()
	m.mu.Lock()
	m.pending = append(m.pending, c)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetPendingTx(_ context.Context, key PendingKey) ([]PendingTx, error) {
	key.Address = strings.ToLower(key.Address)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []PendingTx
	for _, tx := range m.pending {
		if tx.Key() == key {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListPendingTxs(_ context.Context, address string, chainID int64) ([]PendingTx, error) {
	address = strings.ToLower(address)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []PendingTx
	for _, tx := range m.pending {
		if tx.Address == address && (chainID == 0 || tx.ChainID == chainID) {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Nonce < out[j].Nonce })
	return out, nil
}

func (m *MemoryStore) RemovePendingTx(_ context.Context, key PendingKey) error {
	key.Address = strings.ToLower(key.Address)
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.pending[:0]
	for _, tx := range m.pending {
		if tx.Key() != key {
			kept = append(kept, tx)
		}
	}
	m.pending = kept
	return nil
}
