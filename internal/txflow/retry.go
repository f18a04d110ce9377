package txflow

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/rabby-mobile/provider-core/pkg/types"
)

// RetryReason selects how a failed transaction is adjusted before resubmission
type RetryReason string

const (
	RetryNone     RetryReason = ""
	RetryNonce    RetryReason = "nonce"
	RetryGasPrice RetryReason = "gasPrice"
)

// GasBumpRatio is the multiplier applied on a gasPrice retry
var GasBumpRatio = decimal.NewFromFloat(1.3)

// RetryClassifier maps a submission error to a retry reason.
// RetryNone means the error is not retryable.
type RetryClassifier interface {
	Classify(err error) RetryReason
}

// ClassifierFunc adapts a function to RetryClassifier
type ClassifierFunc func(err error) RetryReason

func (f ClassifierFunc) Classify(err error) RetryReason {
	return f(err)
}

// SubstringClassifier matches lowercase error text against known node messages
type SubstringClassifier struct {
	Nonce    []string
	GasPrice []string
}

// DefaultClassifier recognises the common geth/erigon/relay error strings
var DefaultClassifier = SubstringClassifier{
	Nonce: []string{
		"nonce too low",
		"nonce has already been used",
		"already known",
		"invalid nonce",
	},
	GasPrice: []string{
		"underpriced",
		"fee too low",
		"max fee per gas less than block base fee",
		"gas price too low",
	},
}

func (c SubstringClassifier) Classify(err error) RetryReason {
	if err == nil {
		return RetryNone
	}
	msg := strings.ToLower(err.Error())
	for _, s := range c.Nonce {
		if strings.Contains(msg, s) {
			return RetryNonce
		}
	}
	for _, s := range c.GasPrice {
		if strings.Contains(msg, s) {
			return RetryGasPrice
		}
	}
	return RetryNone
}

func bump(field, v string) (string, error) {
	if v == "" {
		return v, nil
	}
	b, err := decodeBig(field, v)
	if err != nil {
		return "", err
	}
	bumped := decimal.NewFromBigInt(b, 0).Mul(GasBumpRatio).Floor()
	return hexutil.EncodeBig(bumped.BigInt()), nil
}

// AdjustForRetry returns a copy of p prepared for resubmission. A nonce
// retry takes recommendedNonce and leaves fees alone; a gasPrice retry
// multiplies the fee fields by GasBumpRatio and leaves the nonce alone.
func AdjustForRetry(p *types.TxParams, reason RetryReason, recommendedNonce uint64) (*types.TxParams, error) {
	out := p.Clone()
	switch reason {
	case RetryNonce:
		out.Nonce = hexutil.EncodeUint64(recommendedNonce)
	case RetryGasPrice:
		var err error
		if out.Is1559() {
			if out.MaxFeePerGas, err = bump("maxFeePerGas", out.MaxFeePerGas); err != nil {
				return nil, err
			}
			if out.MaxPriorityFeePerGas, err = bump("maxPriorityFeePerGas", out.MaxPriorityFeePerGas); err != nil {
				return nil, err
			}
		} else if out.GasPrice, err = bump("gasPrice", out.GasPrice); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown retry reason %q", reason)
	}
	return out, nil
}
