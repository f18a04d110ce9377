package txflow

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/rabby-mobile/provider-core/internal/chains"
	"github.com/rabby-mobile/provider-core/internal/logger"
	"github.com/rabby-mobile/provider-core/internal/storage"
)

// ChainRPC is the chain access the submission path needs; *eth.Pool implements it.
type ChainRPC interface {
	Call(ctx context.Context, urls []string, method string, params ...any) (json.RawMessage, error)
	SendRawTransaction(ctx context.Context, urls []string, raw []byte) (string, error)
}

// Defaults for the pending tx watcher
const (
	DefaultWatchInterval = 5 * time.Second
	DefaultDropAfter     = 30 * time.Minute
)

// Outcome is delivered once a watched tx reaches a terminal phase
type Outcome struct {
	Key   storage.PendingKey
	State State
}

// Watcher polls receipts for pending txs keyed by (address, nonce, chain).
// A slot is confirmed when its receipt appears, replaced when the account
// nonce moves past it without a receipt for our hash, and dropped after
// DropAfter.
type Watcher struct {
	rpc       ChainRPC
	history   storage.TxHistory
	interval  time.Duration
	dropAfter time.Duration
	onDone    func(Outcome)

	mu       sync.Mutex
	watching map[storage.PendingKey]context.CancelFunc
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// WatcherOption configures a Watcher
type WatcherOption func(*Watcher)

// WithInterval sets the poll interval
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.interval = d }
}

// WithDropAfter sets how long a slot may stay pending
func WithDropAfter(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.dropAfter = d }
}

// WithOutcome registers a callback for terminal outcomes
func WithOutcome(fn func(Outcome)) WatcherOption {
	return func(w *Watcher) { w.onDone = fn }
}

// NewWatcher creates a watcher. Stop must be called to release its goroutines.
func NewWatcher(rpc ChainRPC, history storage.TxHistory, opts ...WatcherOption) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		rpc:       rpc,
		history:   history,
		interval:  DefaultWatchInterval,
		dropAfter: DefaultDropAfter,
		watching:  make(map[storage.PendingKey]context.CancelFunc),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch starts tracking a submitted tx. Watching a slot again (speed-up or
// cancel) replaces the previous watch.
func (w *Watcher) Watch(key storage.PendingKey, chain *chains.Chain, st State) {
	if st.Phase != Submitted || chain == nil {
		return
	}

	w.mu.Lock()
	if prev, ok := w.watching[key]; ok {
		prev()
	}
	ctx, cancel := context.WithCancel(w.ctx)
	w.watching[key] = cancel
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		w.run(ctx, key, chain, st)
	}()
}

// Watching reports whether key has an active watch
func (w *Watcher) Watching(key storage.PendingKey) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.watching[key]
	return ok
}

// Stop cancels every watch and waits for the goroutines to exit
func (w *Watcher) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *Watcher) run(ctx context.Context, key storage.PendingKey, chain *chains.Chain, st State) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	deadline := time.Now().Add(w.dropAfter)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		next, done := w.poll(ctx, key, chain, st)
		if !done && time.Now().After(deadline) {
			next, _ = Drop(st)
			done = true
		}
		if done {
			w.finish(ctx, key, next)
			return
		}
	}
}

func (w *Watcher) poll(ctx context.Context, key storage.PendingKey, chain *chains.Chain, st State) (State, bool) {
	if st.Hash != "" && w.hasReceipt(ctx, chain, st.Hash) {
		next, _ := Confirm(st)
		return next, true
	}

	raw, err := w.rpc.Call(ctx, chain.RPCURLs, "eth_getTransactionCount", key.Address, "latest")
	if err != nil {
		return st, false
	}
	var count hexutil.Uint64
	if err := json.Unmarshal(raw, &count); err != nil {
		return st, false
	}
	if uint64(count) <= key.Nonce {
		return st, false
	}
	// relay submissions without a hash yet: the slot was filled by our request
	if st.Hash == "" {
		next, _ := Confirm(st)
		return next, true
	}
	if w.hasReceipt(ctx, chain, st.Hash) {
		next, _ := Confirm(st)
		return next, true
	}
	next, _ := Replace(st)
	return next, true
}

func (w *Watcher) hasReceipt(ctx context.Context, chain *chains.Chain, hash string) bool {
	raw, err := w.rpc.Call(ctx, chain.RPCURLs, "eth_getTransactionReceipt", hash)
	return err == nil && len(raw) > 0 && string(raw) != "null"
}

func (w *Watcher) finish(ctx context.Context, key storage.PendingKey, st State) {
	w.mu.Lock()
	// a newer watch may own the slot already
	if ctx.Err() != nil {
		w.mu.Unlock()
		return
	}
	delete(w.watching, key)
	w.mu.Unlock()

	if err := w.history.RemovePendingTx(context.WithoutCancel(ctx), key); err != nil {
		logger.Warn(ctx, "failed to remove pending tx", "address", key.Address, "nonce", key.Nonce, "error", err)
	}
	logger.Info(ctx, "pending tx finished",
		"address", key.Address,
		"nonce", key.Nonce,
		"chain_id", key.ChainID,
		"phase", st.Phase.String(),
		"hash", st.Hash,
	)
	if w.onDone != nil {
		w.onDone(Outcome{Key: key, State: st})
	}
}
