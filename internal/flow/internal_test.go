package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabby-mobile/provider-core/internal/openapi"
)

func TestTabCheckin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.pipe.Handle(ctx, request(dappOrigin, "tabCheckin", []any{map[string]string{"name": "Uniswap", "icon": "https://a.com/u.png"}}))
	require.NoError(t, err)
	assert.Equal(t, true, got)

	site := f.pipe.site(dappOrigin)
	assert.Equal(t, "Uniswap", site.Name)
	assert.Equal(t, "https://a.com/u.png", site.Icon)

	// later requests without a session pick up the checked-in site
	req := request(dappOrigin, "eth_chainId", nil)
	req.Session.Origin, req.Session.Name = "", ""
	_, err = f.pipe.Handle(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "Uniswap", req.Session.Name)
}

func TestProviderState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(t, dappOrigin, "BSC")

	got, err := f.pipe.Handle(ctx, request(dappOrigin, "rabby_getProviderState", nil))
	require.NoError(t, err)
	assert.Equal(t, ProviderState{
		ChainID:        "0x38",
		NetworkVersion: "56",
		IsUnlocked:     true,
		Accounts:       []string{strings.ToLower(f.account.Address)},
	}, got)

	f.keyring.Lock()
	got, err = f.pipe.Handle(ctx, request("https://b.com", "rabby_getProviderState", nil))
	require.NoError(t, err)
	state := got.(ProviderState)
	assert.False(t, state.IsUnlocked)
	assert.Empty(t, state.Accounts)
	assert.Equal(t, "0x1", state.ChainID)
}

func TestDappsInfo(t *testing.T) {
	f := newFixture(t)
	f.backend.GetDappInfoFn = func(_ context.Context, origin string) (*openapi.DappInfo, error) {
		if origin == "https://b.com" {
			return nil, errors.New("unavailable")
		}
		return &openapi.DappInfo{ID: origin, Name: "A", IsVerified: true}, nil
	}

	got, err := f.pipe.Handle(context.Background(), request(dappOrigin, "rabby_getDappsInfo", []any{[]string{dappOrigin, "https://b.com", "https://c.com"}}))
	require.NoError(t, err)
	infos := got.(map[string]*openapi.DappInfo)
	assert.Len(t, infos, 2)
	assert.Contains(t, infos, dappOrigin)
	assert.Contains(t, infos, "https://c.com")
	assert.NotContains(t, infos, "https://b.com")
}

func TestOriginIsScam(t *testing.T) {
	f := newFixture(t)
	f.backend.IsOriginScamFn = func(_ context.Context, origin string) (bool, error) {
		if origin == "https://down.com" {
			return false, errors.New("timeout")
		}
		return origin == "https://evil.com", nil
	}

	tests := []struct {
		name   string
		origin string
		params any
		want   bool
	}{
		{name: "caller origin", origin: "https://evil.com", want: true},
		{name: "explicit target", origin: dappOrigin, params: []string{"https://evil.com"}, want: true},
		{name: "clean", origin: dappOrigin, want: false},
		{name: "lookup failure is not scam", origin: "https://down.com", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.pipe.Handle(context.Background(), request(tt.origin, "rabby_getOriginIsScam", tt.params))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsMetamaskMode(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.MetamaskModeOrigins = []string{"https://mm.com"} })

	got, err := f.pipe.Handle(context.Background(), request("https://mm.com", "rabby_getIsMetamaskMode", nil))
	require.NoError(t, err)
	assert.Equal(t, true, got)

	got, err = f.pipe.Handle(context.Background(), request(dappOrigin, "rabby_getIsMetamaskMode", nil))
	require.NoError(t, err)
	assert.Equal(t, false, got)
}
