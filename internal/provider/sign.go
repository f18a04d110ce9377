package provider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/rabby-mobile/provider-core/internal/keyring"
	"github.com/rabby-mobile/provider-core/internal/logger"
	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
	"github.com/rabby-mobile/provider-core/pkg/types"
)

// ErrEthSignDisabled is always returned by eth_sign
var ErrEthSignDisabled = apperrors.UnsupportedMethod("eth_sign is disabled: signing raw hashes can lead to asset loss")

func isAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && len(s) == 42 && common.IsHexAddress(s)
}

func isHexMessage(s string) bool {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return false
	}
	_, err := hexutil.Decode(s)
	return err == nil
}

// NormalizePersonalSign returns personal_sign params as [message, from].
// Dapps that send [from, message] are swapped, and a plain-text message
// is hex-encoded.
func NormalizePersonalSign(params []json.RawMessage) ([]json.RawMessage, error) {
	first, ok1 := stringParam(params, 0)
	second, ok2 := stringParam(params, 1)
	if !ok1 || !ok2 {
		return nil, apperrors.InvalidParams("personal_sign expects [message, address]")
	}
	message, from := first, second
	if isAddress(first) && !isAddress(second) {
		message, from = second, first
	}
	if !isHexMessage(message) {
		message = hexutil.Encode([]byte(message))
	}

	out := make([]json.RawMessage, 0, len(params))
	for _, s := range []string{message, from} {
		b, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return append(out, params[2:]...), nil
}

func signFailed(err error) error {
	if errors.Is(err, keyring.ErrLocked) {
		return apperrors.Unauthorized("")
	}
	return apperrors.HardwareRejected(err)
}

// PersonalSign signs an EIP-191 message with the attributed account
func (c *Controller) PersonalSign(ctx context.Context, req *Request) (any, error) {
	list, err := req.ParamList()
	if err != nil {
		return nil, err
	}
	list, err = NormalizePersonalSign(list)
	if err != nil {
		return nil, err
	}
	message, _ := stringParam(list, 0)
	from, _ := stringParam(list, 1)
	if err := checkAddress(req.Account, from); err != nil {
		return nil, err
	}

	data, err := hexutil.Decode(message)
	if err != nil {
		return nil, apperrors.InvalidParams("message must be hex encoded")
	}
	sig, err := c.keyring.SignPersonalMessage(ctx, req.Account, data)
	if err != nil {
		logger.Warn(ctx, "personal_sign failed", "error", err)
		return nil, signFailed(err)
	}
	return hexutil.Encode(sig), nil
}

// EthSign is disabled and never touches the keyring or the network.
func (c *Controller) EthSign(context.Context, *Request) (any, error) {
	return nil, ErrEthSignDisabled
}

// TypedDataRequest is a decoded eth_signTypedData call
type TypedDataRequest struct {
	From    string
	Data    json.RawMessage
	Version string
}

// ParseTypedData reads [data, from] for v1 and [from, data] for v3/v4,
// accepting either order by address shape. The payload may be a JSON
// string or an inline value.
func ParseTypedData(params []json.RawMessage, version string) (*TypedDataRequest, error) {
	if len(params) < 2 {
		return nil, apperrors.InvalidParams("typed data expects two params")
	}
	fromIdx, dataIdx := 1, 0
	if version != keyring.TypedDataV1 {
		fromIdx, dataIdx = 0, 1
	}
	if s, ok := stringParam(params, dataIdx); ok && isAddress(s) {
		fromIdx, dataIdx = dataIdx, fromIdx
	}

	from, ok := stringParam(params, fromIdx)
	if !ok || !isAddress(from) {
		return nil, apperrors.InvalidParams("typed data requires a from address")
	}

	data := params[dataIdx]
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		data = json.RawMessage(text)
	}
	if !json.Valid(data) {
		return nil, apperrors.InvalidParams("typed data is not valid JSON")
	}
	return &TypedDataRequest{From: from, Data: data, Version: version}, nil
}

type typedDataDomain struct {
	Domain struct {
		ChainID *types.ChainID `json:"chainId"`
	} `json:"domain"`
}

// TypedDataChainID returns the domain chainId of v3/v4 payloads, or 0
func TypedDataChainID(data json.RawMessage) (int64, error) {
	var td typedDataDomain
	if err := json.Unmarshal(data, &td); err != nil {
		return 0, apperrors.InvalidParams("malformed typed data domain")
	}
	if td.Domain.ChainID == nil {
		return 0, nil
	}
	return int64(*td.Domain.ChainID), nil
}

func (c *Controller) signTypedData(ctx context.Context, req *Request, version string) (any, error) {
	list, err := req.ParamList()
	if err != nil {
		return nil, err
	}
	td, err := ParseTypedData(list, version)
	if err != nil {
		return nil, err
	}
	if err := checkAddress(req.Account, td.From); err != nil {
		return nil, err
	}
	sig, err := c.keyring.SignTypedData(ctx, req.Account, td.Data, version)
	if err != nil {
		logger.Warn(ctx, "typed data signing failed", "version", version, "error", err)
		return nil, signFailed(err)
	}
	return hexutil.Encode(sig), nil
}

func (c *Controller) EthSignTypedData(ctx context.Context, req *Request) (any, error) {
	return c.signTypedData(ctx, req, keyring.TypedDataV1)
}

func (c *Controller) EthSignTypedDataV3(ctx context.Context, req *Request) (any, error) {
	return c.signTypedData(ctx, req, keyring.TypedDataV3)
}

func (c *Controller) EthSignTypedDataV4(ctx context.Context, req *Request) (any, error) {
	return c.signTypedData(ctx, req, keyring.TypedDataV4)
}
