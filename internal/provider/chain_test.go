package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabby-mobile/provider-core/internal/session"
	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
	"github.com/rabby-mobile/provider-core/pkg/types"
)

func TestValidateAddEthereumChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(t, dappOrigin, "BSC")

	tests := []struct {
		name       string
		params     map[string]any
		wantBypass bool
		wantErr    bool
	}{
		{name: "current chain bypasses", params: map[string]any{"chainId": "0x38"}, wantBypass: true},
		{name: "known chain needs a prompt", params: map[string]any{"chainId": "0x1"}},
		{name: "unknown chain with details", params: map[string]any{"chainId": "0x1e240", "chainName": "Mine", "rpcUrls": []string{"https://rpc.mine"}}},
		{name: "unknown chain without rpc", params: map[string]any{"chainId": "0x1e240", "chainName": "Mine"}, wantErr: true},
		{name: "bad chain id", params: map[string]any{"chainId": "zz"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bypass, err := f.ctrl.ValidateAddEthereumChain(ctx, f.request(dappOrigin, "wallet_addEthereumChain", []any{tt.params}))
			if tt.wantErr {
				assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidParams))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBypass, bypass)
		})
	}
}

func TestWalletAddEthereumChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(t, dappOrigin, "ETH")
	events, cancel := f.events.Subscribe(dappOrigin)
	defer cancel()

	params := map[string]any{
		"chainId":        "0x1e240",
		"chainName":      "Mine",
		"rpcUrls":        []string{"https://rpc.mine"},
		"nativeCurrency": map[string]any{"name": "Mine", "symbol": "MINE", "decimals": 18},
	}
	got, err := f.ctrl.WalletAddEthereumChain(ctx, f.request(dappOrigin, "wallet_addEthereumChain", []any{params}))
	require.NoError(t, err)
	assert.Nil(t, got)

	chain, err := f.chains.ByID(123456)
	require.NoError(t, err)
	assert.True(t, chain.IsTestnet)
	assert.Equal(t, "MINE", chain.NativeTokenSymbol)

	site, err := f.store.GetDapp(ctx, dappOrigin)
	require.NoError(t, err)
	assert.Equal(t, chain.Enum, site.ChainEnum)

	ev := <-events
	assert.Equal(t, session.EventChainChanged, ev.Name)
	assert.Equal(t, map[string]string{"chain": "0x1e240", "networkVersion": "123456"}, ev.Data)
}

func TestSwitchEthereumChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(t, dappOrigin, "ETH")

	t.Run("unknown chain is 4902", func(t *testing.T) {
		_, err := f.ctrl.ValidateSwitchEthereumChain(ctx, f.request(dappOrigin, "wallet_switchEthereumChain", []any{map[string]string{"chainId": "0x999999"}}))
		appErr, ok := apperrors.IsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.RPCChainNotAdded, appErr.RPCCode)
	})

	t.Run("current chain bypasses", func(t *testing.T) {
		bypass, err := f.ctrl.ValidateSwitchEthereumChain(ctx, f.request(dappOrigin, "wallet_switchEthereumChain", []any{map[string]string{"chainId": "0x1"}}))
		require.NoError(t, err)
		assert.True(t, bypass)
	})

	t.Run("switch persists the chain", func(t *testing.T) {
		req := f.request(dappOrigin, "wallet_switchEthereumChain", []any{map[string]string{"chainId": "0xa4b1"}})
		bypass, err := f.ctrl.ValidateSwitchEthereumChain(ctx, req)
		require.NoError(t, err)
		assert.False(t, bypass)

		_, err = f.ctrl.WalletSwitchEthereumChain(ctx, req)
		require.NoError(t, err)
		site, _ := f.store.GetDapp(ctx, dappOrigin)
		assert.Equal(t, "ARBITRUM", site.ChainEnum)
	})

	t.Run("disconnected origin cannot switch", func(t *testing.T) {
		_, err := f.ctrl.WalletSwitchEthereumChain(ctx, f.request("https://b.com", "wallet_switchEthereumChain", []any{map[string]string{"chainId": "0x1"}}))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))
	})
}

func TestWatchAsset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(t, dappOrigin, "POLYGON")

	token := "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	valid := map[string]any{"type": "ERC20", "options": map[string]any{"address": token, "symbol": "WETH", "decimals": 18}}

	tests := []struct {
		name    string
		params  map[string]any
		wantErr bool
	}{
		{name: "valid", params: valid},
		{name: "decimals as string", params: map[string]any{"type": "ERC20", "options": map[string]any{"address": token, "symbol": "WETH", "decimals": "6"}}},
		{name: "erc721", params: map[string]any{"type": "ERC721", "options": map[string]any{"address": token, "symbol": "NFT", "decimals": 0}}, wantErr: true},
		{name: "bad address", params: map[string]any{"type": "ERC20", "options": map[string]any{"address": "0x12", "symbol": "X", "decimals": 18}}, wantErr: true},
		{name: "long symbol", params: map[string]any{"type": "ERC20", "options": map[string]any{"address": token, "symbol": "ABCDEFGHIJKL", "decimals": 18}}, wantErr: true},
		{name: "decimals too high", params: map[string]any{"type": "ERC20", "options": map[string]any{"address": token, "symbol": "X", "decimals": 37}}, wantErr: true},
		{name: "missing decimals", params: map[string]any{"type": "ERC20", "options": map[string]any{"address": token, "symbol": "X"}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// EIP-747 sends a bare object rather than an array
			_, err := f.ctrl.ValidateWatchAsset(ctx, f.request(dappOrigin, "wallet_watchAsset", tt.params))
			if tt.wantErr {
				assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidParams))
				return
			}
			assert.NoError(t, err)
		})
	}

	got, err := f.ctrl.WalletWatchAsset(ctx, f.request(dappOrigin, "wallet_watchAsset", valid))
	require.NoError(t, err)
	assert.Equal(t, true, got)

	tokens, err := f.store.ListCustomTokens(ctx)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, types.TokenRecord{Address: "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", ChainID: 137, Symbol: "WETH", Decimals: 18}, tokens[0])
}

func TestPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accountsCap := []any{map[string]any{"eth_accounts": map[string]any{}}}

	got, err := f.ctrl.WalletGetPermissions(ctx, f.request(dappOrigin, "wallet_getPermissions", nil))
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.ctrl.WalletRequestPermissions(ctx, f.request(dappOrigin, "wallet_requestPermissions", accountsCap))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "eth_accounts", got.([]types.Permission)[0].ParentCapability)

	f.connect(t, dappOrigin, "ETH")
	got, err = f.ctrl.WalletGetPermissions(ctx, f.request(dappOrigin, "wallet_getPermissions", nil))
	require.NoError(t, err)
	perms := got.([]types.Permission)
	require.Len(t, perms, 1)
	assert.Equal(t, dappOrigin, perms[0].Invoker)

	events, cancel := f.events.Subscribe(dappOrigin)
	defer cancel()

	t.Run("revoke without eth_accounts does nothing", func(t *testing.T) {
		_, err := f.ctrl.WalletRevokePermissions(ctx, f.request(dappOrigin, "wallet_revokePermissions", []any{map[string]any{"other": map[string]any{}}}))
		require.NoError(t, err)
		site, _ := f.store.GetDapp(ctx, dappOrigin)
		assert.NotNil(t, site)
	})

	t.Run("revoke disconnects and broadcasts empty accounts", func(t *testing.T) {
		_, err := f.ctrl.WalletRevokePermissions(ctx, f.request(dappOrigin, "wallet_revokePermissions", accountsCap))
		require.NoError(t, err)
		site, _ := f.store.GetDapp(ctx, dappOrigin)
		assert.Nil(t, site)

		ev := <-events
		assert.Equal(t, session.EventAccountsChanged, ev.Name)
		assert.Equal(t, []string{}, ev.Data)
	})
}
