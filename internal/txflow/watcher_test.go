package txflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabby-mobile/provider-core/internal/chains"
	"github.com/rabby-mobile/provider-core/internal/mocks"
	"github.com/rabby-mobile/provider-core/internal/storage"
)

func TestWatcher_Outcomes(t *testing.T) {
	chain := &chains.Chain{Enum: "ETH", ID: 1, RPCURLs: []string{"https://rpc"}}
	key := storage.PendingKey{Address: "0xaaa", Nonce: 4, ChainID: 1}

	tests := []struct {
		name      string
		setup     func(rpc *mocks.MockChainRPC)
		state     State
		dropAfter time.Duration
		want      Phase
	}{
		{
			name: "receipt confirms",
			setup: func(rpc *mocks.MockChainRPC) {
				rpc.SetResult("eth_getTransactionReceipt", `{"status":"0x1"}`)
			},
			state:     State{Phase: Submitted, Hash: "0xabc"},
			dropAfter: time.Minute,
			want:      Confirmed,
		},
		{
			name: "nonce moved without our receipt is a replacement",
			setup: func(rpc *mocks.MockChainRPC) {
				rpc.SetResult("eth_getTransactionCount", `"0x5"`)
			},
			state:     State{Phase: Submitted, Hash: "0xabc"},
			dropAfter: time.Minute,
			want:      Replaced,
		},
		{
			name: "relay request confirmed once the slot fills",
			setup: func(rpc *mocks.MockChainRPC) {
				rpc.SetResult("eth_getTransactionCount", `"0x5"`)
			},
			state:     State{Phase: Submitted, ReqID: "req-1"},
			dropAfter: time.Minute,
			want:      Confirmed,
		},
		{
			name: "stuck tx is dropped",
			setup: func(rpc *mocks.MockChainRPC) {
				rpc.SetResult("eth_getTransactionCount", `"0x4"`)
			},
			state:     State{Phase: Submitted, Hash: "0xabc"},
			dropAfter: 20 * time.Millisecond,
			want:      Dropped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rpc := mocks.NewMockChainRPC()
			tt.setup(rpc)
			store := storage.NewMemoryStore()
			require.NoError(t, store.AddPendingTx(context.Background(), &storage.PendingTx{Address: "0xAAA", Nonce: 4, ChainID: 1, Hash: "0xabc"}))

			outcomes := make(chan Outcome, 1)
			w := NewWatcher(rpc, store,
				WithInterval(5*time.Millisecond),
				WithDropAfter(tt.dropAfter),
				WithOutcome(func(o Outcome) { outcomes <- o }),
			)
			defer w.Stop()

			w.Watch(key, chain, tt.state)
			assert.True(t, w.Watching(key))

			select {
			case o := <-outcomes:
				assert.Equal(t, tt.want, o.State.Phase)
				assert.Equal(t, key, o.Key)
			case <-time.After(2 * time.Second):
				t.Fatal("no outcome")
			}

			assert.False(t, w.Watching(key))
			left, err := store.GetPendingTx(context.Background(), key)
			require.NoError(t, err)
			assert.Empty(t, left)
		})
	}
}

func TestWatcher_RewatchReplacesPrevious(t *testing.T) {
	rpc := mocks.NewMockChainRPC()
	rpc.SetResult("eth_getTransactionCount", `"0x0"`)
	outcomes := make(chan Outcome, 2)
	w := NewWatcher(rpc, storage.NewMemoryStore(),
		WithInterval(5*time.Millisecond),
		WithOutcome(func(o Outcome) { outcomes <- o }),
	)
	defer w.Stop()

	chain := &chains.Chain{Enum: "ETH", ID: 1, RPCURLs: []string{"https://rpc"}}
	key := storage.PendingKey{Address: "0xaaa", Nonce: 0, ChainID: 1}
	w.Watch(key, chain, State{Phase: Submitted, Hash: "0x1"})
	w.Watch(key, chain, State{Phase: Submitted, Hash: "0x2"})

	rpc.SetResult("eth_getTransactionReceipt", `{"status":"0x1"}`)
	select {
	case o := <-outcomes:
		assert.Equal(t, "0x2", o.State.Hash)
	case <-time.After(2 * time.Second):
		t.Fatal("no outcome")
	}
	select {
	case o := <-outcomes:
		t.Fatalf("unexpected second outcome %+v", o)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestWatcher_IgnoresNonSubmitted(t *testing.T) {
	w := NewWatcher(mocks.NewMockChainRPC(), storage.NewMemoryStore())
	defer w.Stop()
	key := storage.PendingKey{Address: "0xaaa"}
	w.Watch(key, &chains.Chain{}, State{Phase: Signed})
	assert.False(t, w.Watching(key))
}
