package txflow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/rabby-mobile/provider-core/internal/keyring"
	"github.com/rabby-mobile/provider-core/pkg/types"
)

// ErrNotSupport7702 is returned for set-code txs outside revoke or speed-up
var ErrNotSupport7702 = errors.New("not support 7702")

// BuildOptions flags the flows allowed to produce 7702 transactions
type BuildOptions struct {
	IsRevoke7702  bool
	IsSpeedUp7702 bool
	// Authorizations are the signed tuples; when empty, params.AuthorizationList is decoded.
	Authorizations []gethtypes.SetCodeAuthorization
}

func (o BuildOptions) allows7702() bool {
	return o.IsRevoke7702 || o.IsSpeedUp7702
}

// NormalizeFees collapses degenerate EIP-1559 params (equal max fee and
// priority fee) into a legacy gasPrice. 7702 txs keep their 1559 fields.
func NormalizeFees(p *types.TxParams, is7702 bool) *types.TxParams {
	out := p.Clone()
	if is7702 || !out.Is1559() {
		return out
	}
	maxFee, err1 := ParseBig(out.MaxFeePerGas)
	tip, err2 := ParseBig(out.MaxPriorityFeePerGas)
	if err1 != nil || err2 != nil || maxFee.Cmp(tip) != 0 {
		return out
	}
	out.GasPrice = out.MaxFeePerGas
	out.MaxFeePerGas = ""
	out.MaxPriorityFeePerGas = ""
	return out
}

// ParseBig parses a 0x quantity, tolerating leading zeros. Plain decimal
// strings are accepted too.
func ParseBig(v string) (*big.Int, error) {
	v = strings.TrimSpace(v)
	base := 10
	if strings.HasPrefix(v, "0x") || strings.HasPrefix(v, "0X") {
		v, base = v[2:], 16
	}
	if v == "" {
		return new(big.Int), nil
	}
	b, ok := new(big.Int).SetString(v, base)
	if !ok || b.Sign() < 0 || b.BitLen() > 256 {
		return nil, fmt.Errorf("invalid quantity")
	}
	return b, nil
}

func decodeBig(field, v string) (*big.Int, error) {
	if v == "" {
		return new(big.Int), nil
	}
	b, err := ParseBig(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", field, v, err)
	}
	return b, nil
}

func decodeUint(field, v string) (uint64, error) {
	b, err := decodeBig(field, v)
	if err != nil {
		return 0, err
	}
	if !b.IsUint64() {
		return 0, fmt.Errorf("invalid %s %q: exceeds 64 bits", field, v)
	}
	return b.Uint64(), nil
}

// Build turns dapp params into an unsigned transaction: legacy, EIP-1559
// or EIP-7702 depending on the fields present and opts.
func Build(p *types.TxParams, chainID int64, opts BuildOptions) (*gethtypes.Transaction, error) {
	is7702 := len(p.AuthorizationList) > 0 || len(opts.Authorizations) > 0
	if is7702 && !opts.allows7702() {
		return nil, ErrNotSupport7702
	}
	p = NormalizeFees(p, is7702 || opts.allows7702())

	nonce, err := decodeUint("nonce", p.Nonce)
	if err != nil {
		return nil, err
	}
	gas, err := decodeUint("gas", p.Gas)
	if err != nil {
		return nil, err
	}
	value, err := decodeBig("value", p.Value)
	if err != nil {
		return nil, err
	}
	var data []byte
	if p.Data != "" && p.Data != "0x" {
		if data, err = hexutil.Decode(p.Data); err != nil {
			return nil, fmt.Errorf("invalid data: %w", err)
		}
	}
	var to *common.Address
	if p.To != "" {
		if !common.IsHexAddress(p.To) {
			return nil, fmt.Errorf("invalid to address %q", p.To)
		}
		addr := common.HexToAddress(p.To)
		to = &addr
	}
	chain := big.NewInt(chainID)

	if is7702 {
		return build7702(p, chain, nonce, gas, value, data, to, opts)
	}

	if p.Is1559() {
		maxFee, err := decodeBig("maxFeePerGas", p.MaxFeePerGas)
		if err != nil {
			return nil, err
		}
		tip, err := decodeBig("maxPriorityFeePerGas", p.MaxPriorityFeePerGas)
		if err != nil {
			return nil, err
		}
		return gethtypes.NewTx(&gethtypes.DynamicFeeTx{
			ChainID:   chain,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: maxFee,
			Gas:       gas,
			To:        to,
			Value:     value,
			Data:      data,
		}), nil
	}

	gasPrice, err := decodeBig("gasPrice", p.GasPrice)
	if err != nil {
		return nil, err
	}
	return gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       to,
		Value:    value,
		Data:     data,
	}), nil
}

func build7702(p *types.TxParams, chain *big.Int, nonce, gas uint64, value *big.Int, data []byte, to *common.Address, opts BuildOptions) (*gethtypes.Transaction, error) {
	if to == nil {
		return nil, fmt.Errorf("7702 transaction requires a to address")
	}

	auths := opts.Authorizations
	if len(auths) == 0 {
		decoded, err := DecodeAuthorizations(p.AuthorizationList)
		if err != nil {
			return nil, err
		}
		auths = decoded
	}

	maxFee, tip := p.MaxFeePerGas, p.MaxPriorityFeePerGas
	if maxFee == "" {
		maxFee, tip = p.GasPrice, p.GasPrice
	}
	feeCap, err := decodeBig("maxFeePerGas", maxFee)
	if err != nil {
		return nil, err
	}
	tipCap, err := decodeBig("maxPriorityFeePerGas", tip)
	if err != nil {
		return nil, err
	}

	return gethtypes.NewTx(&gethtypes.SetCodeTx{
		ChainID:   uint256.MustFromBig(chain),
		Nonce:     nonce,
		GasTipCap: uint256.MustFromBig(tipCap),
		GasFeeCap: uint256.MustFromBig(feeCap),
		Gas:       gas,
		To:        *to,
		Value:     uint256.MustFromBig(value),
		Data:      data,
		AuthList:  auths,
	}), nil
}

// DecodeAuthorizations converts JSON tuples to go-ethereum authorizations.
// Missing signature fields decode as zero.
func DecodeAuthorizations(list []types.AuthorizationTuple) ([]gethtypes.SetCodeAuthorization, error) {
	out := make([]gethtypes.SetCodeAuthorization, 0, len(list))
	for i, a := range list {
		chainID, err := decodeBig("authorization chainId", a.ChainID)
		if err != nil {
			return nil, err
		}
		nonce, err := decodeUint("authorization nonce", a.Nonce)
		if err != nil {
			return nil, err
		}
		if !common.IsHexAddress(a.Address) {
			return nil, fmt.Errorf("invalid authorization address at index %d", i)
		}
		r, err := decodeBig("authorization r", a.R)
		if err != nil {
			return nil, err
		}
		s, err := decodeBig("authorization s", a.S)
		if err != nil {
			return nil, err
		}
		v, err := decodeUint("authorization yParity", a.YParity)
		if err != nil {
			return nil, err
		}
		out = append(out, gethtypes.SetCodeAuthorization{
			ChainID: *uint256.MustFromBig(chainID),
			Address: common.HexToAddress(a.Address),
			Nonce:   nonce,
			V:       uint8(v),
			R:       *uint256.MustFromBig(r),
			S:       *uint256.MustFromBig(s),
		})
	}
	return out, nil
}

// EncodeAuthorization renders a signed authorization with minimal hex
// quantities (leading zero bytes stripped from r, s and yParity).
func EncodeAuthorization(a gethtypes.SetCodeAuthorization) types.AuthorizationTuple {
	return types.AuthorizationTuple{
		ChainID: hexutil.EncodeBig(a.ChainID.ToBig()),
		Address: a.Address.Hex(),
		Nonce:   hexutil.EncodeUint64(a.Nonce),
		R:       hexutil.EncodeBig(a.R.ToBig()),
		S:       hexutil.EncodeBig(a.S.ToBig()),
		YParity: hexutil.EncodeUint64(uint64(a.V)),
	}
}

// SignAuthorizations signs each tuple individually through the keyring and
// returns both the JSON form and the go-ethereum form.
func SignAuthorizations(ctx context.Context, kr keyring.Keyring, account *types.Account, list []types.AuthorizationTuple) ([]types.AuthorizationTuple, []gethtypes.SetCodeAuthorization, error) {
	unsigned, err := DecodeAuthorizations(list)
	if err != nil {
		return nil, nil, err
	}
	tuples := make([]types.AuthorizationTuple, 0, len(unsigned))
	signed := make([]gethtypes.SetCodeAuthorization, 0, len(unsigned))
	for i, auth := range unsigned {
		s, err := kr.SignAuthorization(ctx, account, auth)
		if err != nil {
			return nil, nil, fmt.Errorf("sign authorization %d: %w", i, err)
		}
		signed = append(signed, s)
		tuples = append(tuples, EncodeAuthorization(s))
	}
	return tuples, signed, nil
}
