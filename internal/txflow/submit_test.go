package txflow

import (
	"context"
	"errors"
	"math/big"
	"testing"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabby-mobile/provider-core/internal/chains"
	"github.com/rabby-mobile/provider-core/internal/mocks"
	"github.com/rabby-mobile/provider-core/internal/openapi"
	"github.com/rabby-mobile/provider-core/internal/stats"
	"github.com/rabby-mobile/provider-core/internal/storage"
	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
	"github.com/rabby-mobile/provider-core/pkg/types"
)

type submitFixture struct {
	backend   *mocks.MockBackend
	rpc       *mocks.MockChainRPC
	store     *storage.MemoryStore
	submitter *Submitter
	account   *types.Account
	signed    *gethtypes.Transaction
	params    *types.TxParams
}

func newSubmitFixture(t *testing.T, persistFailed bool) *submitFixture {
	t.Helper()
	kr, acc := newKeyring(t)
	params := &types.TxParams{
		From:     acc.Address,
		To:       "0xbbb0000000000000000000000000000000000002",
		Value:    "0x0",
		Gas:      "0x5208",
		GasPrice: "0x3b9aca00",
		Nonce:    "0x4",
		ChainID:  1,
	}
	tx, err := Build(params, 1, BuildOptions{})
	require.NoError(t, err)
	signed, err := kr.SignTransaction(context.Background(), acc, tx, big.NewInt(1))
	require.NoError(t, err)

	f := &submitFixture{
		backend: &mocks.MockBackend{},
		rpc:     mocks.NewMockChainRPC(),
		store:   storage.NewMemoryStore(),
		account: acc,
		signed:  signed,
		params:  params,
	}
	f.submitter = NewSubmitter(f.backend, f.rpc, f.store, f.store, nil, persistFailed)
	return f
}

func (f *submitFixture) request(chain *chains.Chain, signingID string) *SubmitRequest {
	return &SubmitRequest{
		Account:     f.account,
		Chain:       chain,
		Params:      f.params,
		Signed:      f.signed,
		SigningTxID: signingID,
		Site:        &storage.SiteInfo{Origin: "https://a.com"},
		Stats:       stats.NewFlow(nil, stats.Data{Chain: chain.Enum}),
	}
}

func mainnet(push bool) *chains.Chain {
	return &chains.Chain{Enum: "ETH", ID: 1, ServerID: "eth", RPCURLs: []string{"https://rpc-a", "https://rpc-b"}, FrontendPush: push}
}

func TestSubmit_Routes(t *testing.T) {
	ctx := context.Background()

	t.Run("testnet goes straight to the chain", func(t *testing.T) {
		f := newSubmitFixture(t, false)
		chain := &chains.Chain{Enum: "SEPOLIA", ID: 11155111, ServerID: "sepolia", IsTestnet: true, RPCURLs: []string{"https://sepolia"}}

		res, err := f.submitter.Submit(ctx, f.request(chain, ""))
		require.NoError(t, err)
		assert.Equal(t, RouteTestnet, res.Route)
		assert.Equal(t, f.signed.Hash().Hex(), res.State.Hash)
		assert.Len(t, f.rpc.Sent(), 1)
		assert.Empty(t, f.backend.Submitted())
	})

	t.Run("custom rpc wins over relay", func(t *testing.T) {
		f := newSubmitFixture(t, false)
		require.NoError(t, f.store.SetCustomRPC(ctx, "ETH", "https://my-node"))

		res, err := f.submitter.Submit(ctx, f.request(mainnet(true), ""))
		require.NoError(t, err)
		assert.Equal(t, RouteCustomRPC, res.Route)
		require.Len(t, f.rpc.Sent(), 1)
		assert.Equal(t, []string{"https://my-node"}, f.rpc.Sent()[0].URLs)
	})

	t.Run("frontend push falls back across urls and reports", func(t *testing.T) {
		f := newSubmitFixture(t, false)
		f.rpc.FailSendTo("https://rpc-a", errors.New("timeout"))

		res, err := f.submitter.Submit(ctx, f.request(mainnet(true), ""))
		require.NoError(t, err)
		f.submitter.Wait()

		assert.Equal(t, RouteFrontendPush, res.Route)
		assert.Equal(t, []string{"https://rpc-b"}, f.rpc.Sent()[0].URLs)
		require.Len(t, f.backend.Reports(), 1)
		assert.True(t, f.backend.Reports()[0].Success)
		assert.Empty(t, f.backend.Submitted())
	})

	t.Run("frontend push failure falls back to relay", func(t *testing.T) {
		f := newSubmitFixture(t, false)
		f.rpc.FailSendTo("https://rpc-a", errors.New("down"))
		f.rpc.FailSendTo("https://rpc-b", errors.New("down"))
		f.backend.SubmitTxFn = func(ctx context.Context, req *openapi.SubmitTxRequest) (*openapi.SubmitTxResponse, error) {
			return &openapi.SubmitTxResponse{ReqID: "relay-7"}, nil
		}

		res, err := f.submitter.Submit(ctx, f.request(mainnet(true), ""))
		require.NoError(t, err)
		f.submitter.Wait()

		assert.Equal(t, RouteRelay, res.Route)
		assert.Equal(t, "relay-7", res.State.ReqID)
		assert.Empty(t, res.State.Hash)
		require.Len(t, f.backend.Reports(), 1)
		assert.False(t, f.backend.Reports()[0].Success)

		sub := f.backend.Submitted()
		require.Len(t, sub, 1)
		assert.Equal(t, "eth", sub[0].ChainServerID)
		assert.Equal(t, PushTypeDefault, sub[0].PushType)
		assert.Equal(t, "https://a.com", sub[0].Origin)
		assert.NotEmpty(t, sub[0].RawTx)
	})

	t.Run("gasless skips frontend push", func(t *testing.T) {
		f := newSubmitFixture(t, false)
		req := f.request(mainnet(true), "")
		req.IsGasless = true
		req.Sig = "0xsig"

		res, err := f.submitter.Submit(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, RouteRelay, res.Route)
		assert.Empty(t, f.rpc.Sent())
		assert.Equal(t, "0xsig", f.backend.Submitted()[0].Sig)
		assert.True(t, f.backend.Submitted()[0].IsGasless)
	})

	t.Run("gnosis stops after signing", func(t *testing.T) {
		f := newSubmitFixture(t, false)
		f.account = &types.Account{Address: f.account.Address, Type: types.KeyringGnosis}

		res, err := f.submitter.Submit(ctx, f.request(mainnet(true), ""))
		require.NoError(t, err)
		assert.Equal(t, RouteSignOnly, res.Route)
		assert.Equal(t, Signed, res.State.Phase)
		assert.Empty(t, f.rpc.Sent())
		assert.Empty(t, f.backend.Submitted())
	})
}

func TestSubmit_RecordsPendingAndRemovesSigningTx(t *testing.T) {
	ctx := context.Background()
	f := newSubmitFixture(t, false)

	signing := &storage.SigningTx{RawTx: f.params}
	require.NoError(t, f.store.AddSigningTx(ctx, signing))

	req := f.request(mainnet(false), signing.ID)
	res, err := f.submitter.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, Submitted, res.State.Phase)

	pending, err := f.store.GetPendingTx(ctx, storage.PendingKey{Address: f.account.LowerAddress(), Nonce: 4, ChainID: 1})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, f.account.LowerAddress(), pending[0].Address)
	assert.Equal(t, "req-1", pending[0].ReqID)
	assert.Equal(t, "https://a.com", pending[0].Site.Origin)

	got, err := f.store.GetSigningTx(ctx, signing.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	snap := req.Stats.Snapshot()
	assert.True(t, snap.Submit)
	assert.True(t, snap.SubmitSuccess)
}

func TestSubmit_Failure(t *testing.T) {
	ctx := context.Background()
	relayDown := func(ctx context.Context, req *openapi.SubmitTxRequest) (*openapi.SubmitTxResponse, error) {
		return nil, errors.New("replacement transaction underpriced")
	}

	tests := []struct {
		name          string
		persistFailed bool
		speedUp       bool
		wantRecords   int
	}{
		{"failure not persisted by default", false, false, 0},
		{"failure persisted when enabled", true, false, 1},
		{"speed-up failure never persisted", true, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSubmitFixture(t, tt.persistFailed)
			f.backend.SubmitTxFn = relayDown
			req := f.request(mainnet(false), "")
			req.IsSpeedUp = tt.speedUp

			_, err := f.submitter.Submit(ctx, req)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransactionFailed))
			assert.Equal(t, RetryGasPrice, DefaultClassifier.Classify(err))

			records, lerr := f.store.ListPendingTxs(ctx, f.account.Address, 0)
			require.NoError(t, lerr)
			assert.Len(t, records, tt.wantRecords)
			if tt.wantRecords > 0 {
				assert.True(t, records[0].IsSubmitFailed)
			}
			assert.True(t, req.Stats.Snapshot().Submit)
			assert.False(t, req.Stats.Snapshot().SubmitSuccess)
		})
	}
}
