package flow

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabby-mobile/provider-core/internal/notification"
	"github.com/rabby-mobile/provider-core/internal/openapi"
	"github.com/rabby-mobile/provider-core/internal/session"
	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
)

const (
	tokenA  = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	tokenB  = "0xdAC17F958D2ee523a2206206994597C13D831ec7"
	tokenC  = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	spender = "0x1111111254EEB25477B68fb85Ed929f73A960582"
)

func TestRevokeCalldata(t *testing.T) {
	data, err := RevokeCalldata(spender)
	require.NoError(t, err)
	// approve(address,uint256) selector, padded spender, zero amount
	want := "0x095ea7b3" + strings.Repeat("0", 24) + strings.ToLower(spender[2:]) + strings.Repeat("0", 64)
	assert.Equal(t, want, data)

	_, err = RevokeCalldata("0x12")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidParams))
}

func TestRevokeApprovals(t *testing.T) {
	items := []RevokeItem{
		{Token: tokenA, Spender: spender},
		{Token: tokenB, Spender: spender},
		{Token: tokenC, Spender: spender},
	}

	t.Run("all sent through the internal origin", func(t *testing.T) {
		f := newFixture(t)
		var log componentLog
		f.answer(t, func(a *notification.Approval) json.RawMessage {
			log.add(a)
			return json.RawMessage(`{}`)
		})
		var n atomic.Int32
		f.backend.SubmitTxFn = func(context.Context, *openapi.SubmitTxRequest) (*openapi.SubmitTxResponse, error) {
			return &openapi.SubmitTxResponse{TxHash: common.BigToHash(big.NewInt(int64(n.Add(1)))).Hex()}, nil
		}

		hashes, err := f.pipe.RevokeApprovals(context.Background(), f.account, 137, items)
		require.NoError(t, err)
		assert.Len(t, hashes, 3)

		submitted := f.backend.Submitted()
		require.Len(t, submitted, 3)
		calldata, _ := RevokeCalldata(spender)
		for i, req := range submitted {
			assert.Equal(t, items[i].Token, req.Tx.To)
			assert.Equal(t, calldata, req.Tx.Data)
			assert.Equal(t, "matic", req.ChainServerID)
		}
		require.Len(t, log.components(), 3)
		for i := range 3 {
			a := log.get(i)
			assert.Equal(t, notification.ComponentSignTx, a.Data.ApprovalComponent)
			assert.Equal(t, session.InternalOrigin, a.Data.Origin)
		}

		reports := f.reporter.all()
		require.Len(t, reports, 3)
		assert.Equal(t, "internal", reports[0].Source)
	})

	t.Run("first failure drops the rest", func(t *testing.T) {
		f := newFixture(t)
		f.answer(t, func(*notification.Approval) json.RawMessage { return json.RawMessage(`{}`) })
		var n atomic.Int32
		f.backend.SubmitTxFn = func(context.Context, *openapi.SubmitTxRequest) (*openapi.SubmitTxResponse, error) {
			if n.Add(1) == 2 {
				return nil, errors.New("relay down")
			}
			return &openapi.SubmitTxResponse{TxHash: relayHash}, nil
		}

		hashes, err := f.pipe.RevokeApprovals(context.Background(), f.account, 137, items)
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransactionFailed))
		assert.Equal(t, []string{relayHash}, hashes)
		assert.Len(t, f.backend.Submitted(), 2)
	})

	t.Run("rejected prompt stops the queue", func(t *testing.T) {
		f := newFixture(t)
		f.answer(t, func(*notification.Approval) json.RawMessage { return nil })

		hashes, err := f.pipe.RevokeApprovals(context.Background(), f.account, 137, items)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUserRejected))
		assert.Empty(t, hashes)
		assert.Empty(t, f.backend.Submitted())
	})

	t.Run("invalid token", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.pipe.RevokeApprovals(context.Background(), f.account, 137, []RevokeItem{{Token: "nope", Spender: spender}})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidParams))
	})
}
