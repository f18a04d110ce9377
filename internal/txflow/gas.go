package txflow

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/rabby-mobile/provider-core/internal/chains"
)

const (
	// DefaultGasLimitRatio applies when the chain has no ratio of its own
	DefaultGasLimitRatio = 1.5
	// DefaultSafeGasLimitRatio applies when the balance cannot cover the ratio
	DefaultSafeGasLimitRatio = 1.0
	// BlockGasLimitBuffer is the share of the block gas limit a tx may claim
	BlockGasLimitBuffer = 0.95

	minGasLimit = 21000
)

// GasInput carries everything CalcGasLimit needs
type GasInput struct {
	GasUsed       uint64
	BlockGasLimit uint64
	Balance       *big.Int
	GasPrice      *big.Int
	Value         *big.Int
	ProvidedGas   uint64
	Chain         *chains.Chain
}

// GasLimit is the derived limit pair
type GasLimit struct {
	RecommendGasLimit uint64
	GasLimit          uint64
}

func bigDecimal(b *big.Int) decimal.Decimal {
	if b == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(b, 0)
}

func uintDecimal(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

// CalcGasLimit multiplies the simulated gas by the chain ratio, falling
// back to the safe ratio when the balance would not cover the fee plus
// value. The result is clamped to the block limit buffer and the chain
// ceiling and is never below the provided gas.
func CalcGasLimit(in GasInput) GasLimit {
	ratio := decimal.NewFromFloat(DefaultGasLimitRatio)
	safeRatio := decimal.NewFromFloat(DefaultSafeGasLimitRatio)
	if in.Chain != nil {
		if in.Chain.GasLimitRatio > 0 {
			ratio = decimal.NewFromFloat(in.Chain.GasLimitRatio)
		}
		if in.Chain.SafeGasLimitRatio > 0 {
			safeRatio = decimal.NewFromFloat(in.Chain.SafeGasLimitRatio)
		}
	}

	used := uintDecimal(in.GasUsed)
	need := used.Mul(ratio).Mul(bigDecimal(in.GasPrice)).Add(bigDecimal(in.Value))
	if in.Balance != nil && bigDecimal(in.Balance).LessThan(need) {
		ratio = safeRatio
	}

	recommend := used.Mul(ratio).Floor()
	if in.BlockGasLimit > 0 {
		block := uintDecimal(in.BlockGasLimit)
		if recommend.GreaterThan(block) {
			recommend = block.Mul(decimal.NewFromFloat(BlockGasLimitBuffer)).Floor()
		}
	}
	if in.Chain != nil && in.Chain.MaxGasLimit > 0 {
		ceiling := uintDecimal(in.Chain.MaxGasLimit)
		if recommend.GreaterThan(ceiling) {
			recommend = ceiling
		}
	}

	rec := recommend.BigInt().Uint64()
	if rec < minGasLimit {
		rec = minGasLimit
	}
	final := rec
	if in.ProvidedGas > final {
		final = in.ProvidedGas
	}
	return GasLimit{RecommendGasLimit: rec, GasLimit: final}
}
