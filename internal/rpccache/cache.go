// Package rpccache deduplicates identical read-only RPC calls inside a
// short window. Concurrent callers share one in-flight request.
package rpccache

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/rabby-mobile/provider-core/internal/metrics"
)

// Key identifies one cacheable call
type Key struct {
	Address string
	Method  string
	Params  json.RawMessage
	ChainID string
}

func (k Key) String() string {
	params := k.Params
	var buf bytes.Buffer
	if err := json.Compact(&buf, k.Params); err == nil {
		params = buf.Bytes()
	}
	return strings.ToLower(k.Address) + "|" + k.Method + "|" + k.ChainID + "|" + string(params)
}

// FetchFunc performs the real call on a miss
type FetchFunc func(ctx context.Context) (json.RawMessage, error)

type entry struct {
	done chan struct{}
	val  json.RawMessage
	err  error
}

var uncacheable = map[string]bool{
	"eth_sendRawTransaction":          true,
	"eth_sendTransaction":             true,
	"eth_newFilter":                   true,
	"eth_newBlockFilter":              true,
	"eth_newPendingTransactionFilter": true,
	"eth_getFilterChanges":            true,
	"eth_getFilterLogs":               true,
	"eth_uninstallFilter":             true,
	"eth_subscribe":                   true,
	"eth_unsubscribe":                 true,
}

// Cacheable reports whether results of method may be shared
func Cacheable(method string) bool {
	return !uncacheable[method]
}

// Cache stores results and in-flight calls with a TTL
type Cache struct {
	mu      sync.Mutex
	c       *gocache.Cache
	ttl     time.Duration
	metrics *metrics.Metrics
}

// New creates a cache whose entries live for ttl
func New(ttl time.Duration, m *metrics.Metrics) *Cache {
	return &Cache{
		c:       gocache.New(ttl, 2*ttl),
		ttl:     ttl,
		metrics: m,
	}
}

// FetchTimeout bounds a shared fetch once it is detached from its caller
const FetchTimeout = 30 * time.Second

// Do returns the cached or in-flight result for key, calling fetch on a
// miss. The fetch is shared, so it runs detached from the caller's
// cancellation and each caller only stops waiting on its own ctx. Failed
// fetches are evicted so the next caller retries.
func (c *Cache) Do(ctx context.Context, key Key, fetch FetchFunc) (json.RawMessage, error) {
	if !Cacheable(key.Method) {
		return fetch(ctx)
	}
	k := key.String()

	c.mu.Lock()
	if v, ok := c.c.Get(k); ok {
		c.mu.Unlock()
		c.metrics.CacheLookup(true)
		return wait(ctx, v.(*entry))
	}
	e := &entry{done: make(chan struct{})}
	c.c.Set(k, e, c.ttl)
	c.mu.Unlock()
	c.metrics.CacheLookup(false)

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FetchTimeout)
	go func() {
		defer cancel()
		e.val, e.err = fetch(fctx)
		if e.err != nil {
			c.mu.Lock()
			if cur, ok := c.c.Get(k); ok && cur == e {
				c.c.Delete(k)
			}
			c.mu.Unlock()
		}
		close(e.done)
	}()
	return wait(ctx, e)
}

func wait(ctx context.Context, e *entry) (json.RawMessage, error) {
	select {
	case <-e.done:
		return e.val, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of live entries
func (c *Cache) Len() int {
	return c.c.ItemCount()
}

// Flush drops every entry
func (c *Cache) Flush() {
	c.mu.Lock()
	c.c.Flush()
	c.mu.Unlock()
}
