package txflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabby-mobile/provider-core/pkg/types"
)

func TestAdjustForRetry(t *testing.T) {
	t.Run("P6 nonce retry takes the recommended nonce", func(t *testing.T) {
		p := &types.TxParams{Nonce: "0x3", GasPrice: "0x64", Gas: "0x5208"}
		out, err := AdjustForRetry(p, RetryNonce, 9)
		require.NoError(t, err)
		assert.Equal(t, "0x9", out.Nonce)
		assert.Equal(t, "0x64", out.GasPrice)
		assert.Equal(t, "0x5208", out.Gas)
		assert.Equal(t, "0x3", p.Nonce, "input untouched")
	})

	t.Run("P7 legacy gas price bumped by 1.3", func(t *testing.T) {
		p := &types.TxParams{Nonce: "0x3", GasPrice: "0x64"}
		out, err := AdjustForRetry(p, RetryGasPrice, 9)
		require.NoError(t, err)
		assert.Equal(t, "0x82", out.GasPrice) // 100 * 1.3 = 130
		assert.Equal(t, "0x3", out.Nonce)
	})

	t.Run("P7 1559 fees both bumped", func(t *testing.T) {
		p := &types.TxParams{Nonce: "0x3", MaxFeePerGas: "0x3b9aca00", MaxPriorityFeePerGas: "0xa"}
		out, err := AdjustForRetry(p, RetryGasPrice, 0)
		require.NoError(t, err)
		assert.Equal(t, "0x4d7c6d00", out.MaxFeePerGas) // 1_300_000_000
		assert.Equal(t, "0xd", out.MaxPriorityFeePerGas)
		assert.Empty(t, out.GasPrice)
		assert.Equal(t, "0x3", out.Nonce)
	})

	t.Run("fractional result is floored", func(t *testing.T) {
		out, err := AdjustForRetry(&types.TxParams{GasPrice: "0x7"}, RetryGasPrice, 0)
		require.NoError(t, err)
		assert.Equal(t, "0x9", out.GasPrice) // 9.1
	})

	t.Run("unknown reason", func(t *testing.T) {
		_, err := AdjustForRetry(&types.TxParams{}, RetryNone, 0)
		assert.Error(t, err)
	})
}

func TestDefaultClassifier(t *testing.T) {
	tests := []struct {
		err  error
		want RetryReason
	}{
		{errors.New("nonce too low: next nonce 5, tx nonce 3"), RetryNonce},
		{errors.New("Transaction Underpriced"), RetryGasPrice},
		{errors.New("replacement transaction underpriced"), RetryGasPrice},
		{errors.New("max fee per gas less than block base fee"), RetryGasPrice},
		{errors.New("insufficient funds for gas * price + value"), RetryNone},
		{nil, RetryNone},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultClassifier.Classify(tt.err))
		})
	}

	custom := ClassifierFunc(func(err error) RetryReason { return RetryNonce })
	assert.Equal(t, RetryNonce, custom.Classify(errors.New("anything")))
}
