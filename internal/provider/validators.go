package provider

import (
	"context"

	"github.com/rabby-mobile/provider-core/internal/keyring"
	"github.com/rabby-mobile/provider-core/internal/session"
	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
	"github.com/rabby-mobile/provider-core/pkg/types"
)

// Validator runs before an approval is queued. It may fail the request,
// return true to skip the prompt, or false to require it.
type Validator func(ctx context.Context, req *Request) (bool, error)

// ValidatePersonalSign checks the params shape and signer
func (c *Controller) ValidatePersonalSign(_ context.Context, req *Request) (bool, error) {
	list, err := req.ParamList()
	if err != nil {
		return false, err
	}
	list, err = NormalizePersonalSign(list)
	if err != nil {
		return false, err
	}
	from, _ := stringParam(list, 1)
	return false, checkAddress(req.Account, from)
}

func (c *Controller) validateTypedData(ctx context.Context, req *Request, version string) (bool, error) {
	list, err := req.ParamList()
	if err != nil {
		return false, err
	}
	td, err := ParseTypedData(list, version)
	if err != nil {
		return false, err
	}
	if err := checkAddress(req.Account, td.From); err != nil {
		return false, err
	}
	if version == keyring.TypedDataV1 || req.CallerOrigin() == session.InternalOrigin {
		return false, nil
	}

	chainID, err := TypedDataChainID(td.Data)
	if err != nil || chainID == 0 {
		return false, err
	}
	chain, err := c.SiteChain(ctx, req.CallerOrigin())
	if err != nil {
		return false, err
	}
	if chain.ID != chainID {
		return false, apperrors.InvalidParams("chainId should be same as current chainId")
	}
	return false, nil
}

func (c *Controller) ValidateSignTypedData(ctx context.Context, req *Request) (bool, error) {
	return c.validateTypedData(ctx, req, keyring.TypedDataV1)
}

func (c *Controller) ValidateSignTypedDataV3(ctx context.Context, req *Request) (bool, error) {
	return c.validateTypedData(ctx, req, keyring.TypedDataV3)
}

func (c *Controller) ValidateSignTypedDataV4(ctx context.Context, req *Request) (bool, error) {
	return c.validateTypedData(ctx, req, keyring.TypedDataV4)
}

// ValidateSendTransaction checks the sender and, for dapps, the chain
func (c *Controller) ValidateSendTransaction(ctx context.Context, req *Request) (bool, error) {
	tx, err := firstTx(req)
	if err != nil {
		return false, err
	}
	if err := checkAddress(req.Account, tx.From); err != nil {
		return false, err
	}
	_, err = c.txChain(ctx, req, tx)
	return false, err
}

func firstTx(req *Request) (*types.TxParams, error) {
	var tx types.TxParams
	if err := decodeFirst(req, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}
