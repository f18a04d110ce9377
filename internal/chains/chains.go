// Package chains holds the table of EVM chains the provider can serve.
package chains

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
)

// Chain describes one EVM network.
type Chain struct {
	Enum              string   `toml:"enum"`
	ID                int64    `toml:"id"`
	ServerID          string   `toml:"server_id"`
	Name              string   `toml:"name"`
	NativeTokenSymbol string   `toml:"native_token_symbol"`
	IsTestnet         bool     `toml:"is_testnet"`
	RPCURLs           []string `toml:"rpc_urls"`
	FrontendPush      bool     `toml:"frontend_push"`
	GasLimitRatio     float64  `toml:"gas_limit_ratio"`
	SafeGasLimitRatio float64  `toml:"safe_gas_limit_ratio"`
	MaxGasLimit       uint64   `toml:"max_gas_limit"`
	Support1559       bool     `toml:"support_1559"`
}

// HexID returns the chain id as a 0x-prefixed hex string
func (c *Chain) HexID() string {
	return "0x" + strconv.FormatInt(c.ID, 16)
}

// ErrChainNotFound is returned by lookups that miss
var ErrChainNotFound = errors.New("chain not found")

// DefaultEnum is the chain assumed for dapps that never selected one
const DefaultEnum = "ETH"

var builtin = []Chain{
	{Enum: "ETH", ID: 1, ServerID: "eth", Name: "Ethereum", NativeTokenSymbol: "ETH", RPCURLs: []string{"https://eth.llamarpc.com", "https://rpc.ankr.com/eth"}, FrontendPush: true, Support1559: true},
	{Enum: "BSC", ID: 56, ServerID: "bsc", Name: "BNB Chain", NativeTokenSymbol: "BNB", RPCURLs: []string{"https://bsc-dataseed.bnbchain.org"}, FrontendPush: true},
	{Enum: "POLYGON", ID: 137, ServerID: "matic", Name: "Polygon", NativeTokenSymbol: "POL", RPCURLs: []string{"https://polygon-rpc.com"}, Support1559: true},
	{Enum: "ARBITRUM", ID: 42161, ServerID: "arb", Name: "Arbitrum", NativeTokenSymbol: "ETH", RPCURLs: []string{"https://arb1.arbitrum.io/rpc"}, Support1559: true, SafeGasLimitRatio: 1.0},
	{Enum: "OP", ID: 10, ServerID: "op", Name: "OP", NativeTokenSymbol: "ETH", RPCURLs: []string{"https://mainnet.optimism.io"}, Support1559: true},
	{Enum: "BASE", ID: 8453, ServerID: "base", Name: "Base", NativeTokenSymbol: "ETH", RPCURLs: []string{"https://mainnet.base.org"}, Support1559: true},
	{Enum: "AVAX", ID: 43114, ServerID: "avax", Name: "Avalanche", NativeTokenSymbol: "AVAX", RPCURLs: []string{"https://api.avax.network/ext/bc/C/rpc"}, Support1559: true, MaxGasLimit: 15_000_000},
	{Enum: "SEPOLIA", ID: 11155111, ServerID: "sepolia", Name: "Sepolia", NativeTokenSymbol: "ETH", IsTestnet: true, RPCURLs: []string{"https://ethereum-sepolia-rpc.publicnode.com"}, Support1559: true},
	{Enum: "HOLESKY", ID: 17000, ServerID: "holesky", Name: "Holesky", NativeTokenSymbol: "ETH", IsTestnet: true, RPCURLs: []string{"https://ethereum-holesky-rpc.publicnode.com"}, Support1559: true},
}

// Registry is a concurrency-safe chain table.
type Registry struct {
	mu     sync.RWMutex
	byEnum map[string]*Chain
}

// NewRegistry returns a registry seeded with the built-in chains
func NewRegistry() *Registry {
	r := &Registry{byEnum: make(map[string]*Chain, len(builtin))}
	for i := range builtin {
		c := builtin[i]
		c.RPCURLs = append([]string(nil), c.RPCURLs...)
		r.byEnum[c.Enum] = &c
	}
	return r
}

type chainFile struct {
	Chains []Chain `toml:"chains"`
}

// LoadFile overlays chains from a TOML file onto the registry.
// Entries with a known enum replace the built-in definition.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read chains file: %w", err)
	}
	return r.LoadTOML(data)
}

// LoadTOML overlays chains decoded from TOML bytes
func (r *Registry) LoadTOML(data []byte) error {
	var file chainFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decode chains file: %w", err)
	}
	for _, c := range file.Chains {
		if err := r.put(c); err != nil {
			return err
		}
	}
	return nil
}

// AddCustom registers a user-added chain (wallet_addEthereumChain).
// Custom chains are always treated as testnets and are never backend-proxied.
func (r *Registry) AddCustom(c Chain) (*Chain, error) {
	if c.Enum == "" {
		c.Enum = fmt.Sprintf("CUSTOM_%d", c.ID)
	}
	if c.ServerID == "" {
		c.ServerID = fmt.Sprintf("custom_%d", c.ID)
	}
	c.IsTestnet = true
	if err := r.put(c); err != nil {
		return nil, err
	}
	return r.ByEnum(c.Enum)
}

func (r *Registry) put(c Chain) error {
	if c.Enum == "" || c.ID <= 0 {
		return fmt.Errorf("chain requires enum and positive id: %q/%d", c.Enum, c.ID)
	}
	c.Enum = strings.ToUpper(c.Enum)
	c.RPCURLs = append([]string(nil), c.RPCURLs...)

	r.mu.Lock()
	defer r.mu.Unlock()
	for enum, existing := range r.byEnum {
		if existing.ID == c.ID && enum != c.Enum {
			return fmt.Errorf("chain id %d already registered as %s", c.ID, enum)
		}
	}
	r.byEnum[c.Enum] = &c
	return nil
}

func (r *Registry) find(match func(*Chain) bool) (*Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.byEnum {
		if match(c) {
			out := *c
			return &out, nil
		}
	}
	return nil, ErrChainNotFound
}

// ByEnum looks a chain up by its enum (ETH, BSC, ...)
func (r *Registry) ByEnum(enum string) (*Chain, error) {
	r.mu.RLock()
	c, ok := r.byEnum[strings.ToUpper(enum)]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrChainNotFound
	}
	out := *c
	return &out, nil
}

// ByID looks a chain up by numeric id
func (r *Registry) ByID(id int64) (*Chain, error) {
	return r.find(func(c *Chain) bool { return c.ID == id })
}

// ByHexID accepts "0x1", "1" or "0X01"
func (r *Registry) ByHexID(hexID string) (*Chain, error) {
	id, err := ParseChainID(hexID)
	if err != nil {
		return nil, err
	}
	return r.ByID(id)
}

// ByServerID looks a chain up by backend server id
func (r *Registry) ByServerID(serverID string) (*Chain, error) {
	return r.find(func(c *Chain) bool { return strings.EqualFold(c.ServerID, serverID) })
}

// List returns all chains ordered by id
func (r *Registry) List() []Chain {
	r.mu.RLock()
	out := make([]Chain, 0, len(r.byEnum))
	for _, c := range r.byEnum {
		out = append(out, *c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ParseChainID parses a decimal or 0x-prefixed hex chain id
func ParseChainID(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty chain id")
	}
	var (
		id  int64
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		id, err = strconv.ParseInt(s[2:], 16, 64)
	} else {
		id, err = strconv.ParseInt(s, 10, 64)
	}
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid chain id %q", s)
	}
	return id, nil
}
