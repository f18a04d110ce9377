package rpccache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabby-mobile/provider-core/internal/metrics"
)

func TestCache_CoalescesConcurrentCalls(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	c := New(time.Minute, m)
	key := Key{Address: "0xAAA", Method: "eth_getBalance", Params: json.RawMessage(`["0xaaa","latest"]`), ChainID: "0x1"}

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (json.RawMessage, error) {
		calls.Add(1)
		<-release
		return json.RawMessage(`"0x64"`), nil
	}

	first := make(chan json.RawMessage, 1)
	go func() {
		res, err := c.Do(context.Background(), key, fetch)
		assert.NoError(t, err)
		first <- res
	}()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	var wg sync.WaitGroup
	results := make([]json.RawMessage, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// same call with different whitespace and address case
			res, err := c.Do(context.Background(), Key{Address: "0xaaa", Method: "eth_getBalance", Params: json.RawMessage(`[ "0xaaa", "latest" ]`), ChainID: "0x1"}, fetch)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.RPCCacheLookups.WithLabelValues("hit")) == 3
	}, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.JSONEq(t, `"0x64"`, string(<-first))
	for _, r := range results {
		assert.JSONEq(t, `"0x64"`, string(r))
	}
}

func TestCache_DistinctKeys(t *testing.T) {
	c := New(time.Minute, nil)
	var calls atomic.Int32
	fetch := func(ctx context.Context) (json.RawMessage, error) {
		calls.Add(1)
		return json.RawMessage(`1`), nil
	}

	keys := []Key{
		{Address: "0x1", Method: "eth_call", Params: json.RawMessage(`[]`), ChainID: "0x1"},
		{Address: "0x2", Method: "eth_call", Params: json.RawMessage(`[]`), ChainID: "0x1"},
		{Address: "0x1", Method: "eth_call", Params: json.RawMessage(`[]`), ChainID: "0x38"},
		{Address: "0x1", Method: "eth_blockNumber", Params: json.RawMessage(`[]`), ChainID: "0x1"},
	}
	for _, k := range keys {
		_, err := c.Do(context.Background(), k, fetch)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, 4, c.Len())
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	c := New(time.Minute, nil)
	key := Key{Address: "0x1", Method: "eth_call", ChainID: "0x1"}

	_, err := c.Do(context.Background(), key, func(ctx context.Context) (json.RawMessage, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)

	res, err := c.Do(context.Background(), key, func(ctx context.Context) (json.RawMessage, error) {
		return json.RawMessage(`"ok"`), nil
	})
	require.NoError(t, err)
	assert.JSONEq(t, `"ok"`, string(res))
}

func TestCache_Expiry(t *testing.T) {
	c := New(20*time.Millisecond, nil)
	key := Key{Address: "0x1", Method: "eth_blockNumber", ChainID: "0x1"}
	var calls atomic.Int32
	fetch := func(ctx context.Context) (json.RawMessage, error) {
		calls.Add(1)
		return json.RawMessage(`1`), nil
	}

	_, _ = c.Do(context.Background(), key, fetch)
	_, _ = c.Do(context.Background(), key, fetch)
	assert.Equal(t, int32(1), calls.Load())

	time.Sleep(40 * time.Millisecond)
	_, _ = c.Do(context.Background(), key, fetch)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCache_UncacheableMethods(t *testing.T) {
	c := New(time.Minute, nil)
	var calls atomic.Int32
	fetch := func(ctx context.Context) (json.RawMessage, error) {
		calls.Add(1)
		return json.RawMessage(`"0xhash"`), nil
	}
	key := Key{Address: "0x1", Method: "eth_sendRawTransaction", Params: json.RawMessage(`["0x00"]`), ChainID: "0x1"}

	_, _ = c.Do(context.Background(), key, fetch)
	_, _ = c.Do(context.Background(), key, fetch)
	assert.Equal(t, int32(2), calls.Load())
	assert.False(t, Cacheable("eth_subscribe"))
	assert.True(t, Cacheable("eth_call"))
}

func TestCache_WaiterHonorsContext(t *testing.T) {
	c := New(time.Minute, nil)
	key := Key{Address: "0x1", Method: "eth_call", ChainID: "0x1"}
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_, _ = c.Do(context.Background(), key, func(ctx context.Context) (json.RawMessage, error) {
			close(started)
			<-release
			return json.RawMessage(`1`), nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Do(ctx, key, func(ctx context.Context) (json.RawMessage, error) {
		t.Fatal("waiter must not fetch")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	close(release)
}

func TestCache_FirstCallerCancelDoesNotFailSharers(t *testing.T) {
	c := New(time.Minute, nil)
	key := Key{Address: "0x1", Method: "eth_getBalance", Params: json.RawMessage(`["0x1","latest"]`), ChainID: "0x1"}
	release := make(chan struct{})
	started := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Do(ctx, key, func(fctx context.Context) (json.RawMessage, error) {
			close(started)
			select {
			case <-release:
				return json.RawMessage(`"0x64"`), nil
			case <-fctx.Done():
				return nil, fctx.Err()
			}
		})
		firstErr <- err
	}()
	<-started

	second := make(chan json.RawMessage, 1)
	go func() {
		res, err := c.Do(context.Background(), key, func(context.Context) (json.RawMessage, error) {
			t.Error("sharer must not fetch")
			return nil, nil
		})
		assert.NoError(t, err)
		second <- res
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	assert.JSONEq(t, `"0x64"`, string(<-second))

	// the settled result stays cached for later callers
	res, err := c.Do(context.Background(), key, func(context.Context) (json.RawMessage, error) {
		return json.RawMessage(`"0x0"`), nil
	})
	require.NoError(t, err)
	assert.JSONEq(t, `"0x64"`, string(res))
}
