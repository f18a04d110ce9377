package eth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// DialFunc opens a JSON-RPC client for url
type DialFunc func(ctx context.Context, url string) (*rpc.Client, error)

// Pool caches one RPC client per endpoint URL and retries calls across
// a chain's endpoints in order.
type Pool struct {
	mu      sync.Mutex
	clients map[string]*rpc.Client
	dial    DialFunc
}

// NewPool creates a pool dialing real endpoints
func NewPool() *Pool {
	return NewPoolWithDialer(rpc.DialContext)
}

// NewPoolWithDialer creates a pool with a custom dialer
func NewPoolWithDialer(dial DialFunc) *Pool {
	return &Pool{
		clients: make(map[string]*rpc.Client),
		dial:    dial,
	}
}

func (p *Pool) client(ctx context.Context, url string) (*rpc.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[url]; ok {
		return c, nil
	}
	c, err := p.dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC %s: %w", url, err)
	}
	p.clients[url] = c
	return c, nil
}

// each runs fn against every URL until one succeeds
func (p *Pool) each(ctx context.Context, urls []string, fn func(c *rpc.Client) error) error {
	if len(urls) == 0 {
		return fmt.Errorf("RPC URL is required")
	}
	var errs []error
	for _, url := range urls {
		c, err := p.client(ctx, url)
		if err == nil {
			if err = fn(c); err == nil {
				return nil
			}
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return errors.Join(errs...)
}

// Call performs a raw JSON-RPC call
func (p *Pool) Call(ctx context.Context, urls []string, method string, params ...any) (json.RawMessage, error) {
	var result json.RawMessage
	err := p.each(ctx, urls, func(c *rpc.Client) error {
		return c.CallContext(ctx, &result, method, params...)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SendRawTransaction broadcasts a signed, serialized transaction
func (p *Pool) SendRawTransaction(ctx context.Context, urls []string, raw []byte) (string, error) {
	var hash common.Hash
	err := p.each(ctx, urls, func(c *rpc.Client) error {
		return c.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(raw))
	})
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return hash.Hex(), nil
}

// LatestBlockGasLimit returns the gas limit of the latest block
func (p *Pool) LatestBlockGasLimit(ctx context.Context, urls []string) (uint64, error) {
	var head struct {
		GasLimit hexutil.Uint64 `json:"gasLimit"`
	}
	err := p.each(ctx, urls, func(c *rpc.Client) error {
		return c.CallContext(ctx, &head, "eth_getBlockByNumber", "latest", false)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block: %w", err)
	}
	return uint64(head.GasLimit), nil
}

// Balance returns the latest balance of address in wei
func (p *Pool) Balance(ctx context.Context, urls []string, address string) (*big.Int, error) {
	var balance *big.Int
	err := p.each(ctx, urls, func(c *rpc.Client) error {
		b, err := ethclient.NewClient(c).BalanceAt(ctx, common.HexToAddress(address), nil)
		balance = b
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// PendingNonce returns the next nonce for address including pending txs
func (p *Pool) PendingNonce(ctx context.Context, urls []string, address string) (uint64, error) {
	var nonce uint64
	err := p.each(ctx, urls, func(c *rpc.Client) error {
		n, err := ethclient.NewClient(c).PendingNonceAt(ctx, common.HexToAddress(address))
		nonce = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce: %w", err)
	}
	return nonce, nil
}

// SuggestGasPrice returns the node's suggested legacy gas price
func (p *Pool) SuggestGasPrice(ctx context.Context, urls []string) (*big.Int, error) {
	var price *big.Int
	err := p.each(ctx, urls, func(c *rpc.Client) error {
		gp, err := ethclient.NewClient(c).SuggestGasPrice(ctx)
		price = gp
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	return price, nil
}

// Close closes all cached clients
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for url, c := range p.clients {
		c.Close()
		delete(p.clients, url)
	}
}
