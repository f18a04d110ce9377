package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabby-mobile/provider-core/internal/storage"
	"github.com/rabby-mobile/provider-core/pkg/types"
)

func TestResolver_Resolve(t *testing.T) {
	ctx := context.Background()
	fallback := &types.Account{Address: "0xfallback", Type: types.KeyringSimple}
	connected := &types.Account{Address: "0xdapp", Type: types.KeyringSimple}
	explicit := &types.Account{Address: "0xexplicit", Type: types.KeyringHD}

	store := storage.NewMemoryStore()
	require.NoError(t, store.SetCurrentAccount(ctx, fallback))
	require.NoError(t, store.SaveDapp(ctx, &types.DappSession{Origin: "https://a.com", IsConnected: true, CurrentAccount: connected}))
	require.NoError(t, store.SaveDapp(ctx, &types.DappSession{Origin: "https://b.com", IsConnected: false, CurrentAccount: connected}))

	r := NewResolver(store, store)

	tests := []struct {
		name     string
		origin   string
		explicit *types.Account
		want     string
	}{
		{name: "internal with explicit", origin: InternalOrigin, explicit: explicit, want: "0xexplicit"},
		{name: "internal without explicit", origin: InternalOrigin, want: "0xfallback"},
		{name: "connected dapp", origin: "https://a.com", explicit: explicit, want: "0xdapp"},
		{name: "disconnected dapp", origin: "https://b.com", want: "0xfallback"},
		{name: "unknown dapp", origin: "https://c.com", want: "0xfallback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc, err := r.Resolve(ctx, tt.origin, tt.explicit)
			require.NoError(t, err)
			require.NotNil(t, acc)
			assert.Equal(t, tt.want, acc.Address)
		})
	}
}

func TestResolver_NoFallback(t *testing.T) {
	r := NewResolver(storage.NewMemoryStore(), storage.NewMemoryStore())

	acc, err := r.Resolve(context.Background(), "https://a.com", nil)
	require.NoError(t, err)
	assert.Nil(t, acc)
}

func TestResolver_IsConnected(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveDapp(ctx, &types.DappSession{Origin: "https://a.com", IsConnected: true}))
	r := NewResolver(store, store)

	ok, err := r.IsConnected(ctx, "https://a.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.IsConnected(ctx, "https://x.com")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.IsConnected(ctx, InternalOrigin)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvents_BroadcastPerOrigin(t *testing.T) {
	bus := NewEvents()

	aCh, aCancel := bus.Subscribe("https://a.com")
	bCh, bCancel := bus.Subscribe("https://b.com")
	defer bCancel()

	assert.Equal(t, 1, bus.Broadcast("https://a.com", EventChainChanged, "0x1"))

	ev := <-aCh
	assert.Equal(t, EventChainChanged, ev.Name)
	assert.Equal(t, "0x1", ev.Data)
	assert.Len(t, bCh, 0)

	assert.Equal(t, 2, bus.BroadcastAll(EventAccountsChanged, []string{}))

	aCancel()
	aCancel()
	assert.Equal(t, 0, bus.Broadcast("https://a.com", EventChainChanged, "0x2"))
}

func TestEvents_SlowSubscriberDrops(t *testing.T) {
	bus := NewEvents()
	_, cancel := bus.Subscribe("https://a.com")
	defer cancel()

	for i := 0; i < subscriberBuffer; i++ {
		require.Equal(t, 1, bus.Broadcast("https://a.com", EventChainChanged, i))
	}
	assert.Equal(t, 0, bus.Broadcast("https://a.com", EventChainChanged, "overflow"))
}
