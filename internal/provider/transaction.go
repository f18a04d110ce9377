package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/rabby-mobile/provider-core/internal/chains"
	"github.com/rabby-mobile/provider-core/internal/logger"
	"github.com/rabby-mobile/provider-core/internal/openapi"
	"github.com/rabby-mobile/provider-core/internal/session"
	"github.com/rabby-mobile/provider-core/internal/stats"
	"github.com/rabby-mobile/provider-core/internal/storage"
	"github.com/rabby-mobile/provider-core/internal/txflow"
	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
	"github.com/rabby-mobile/provider-core/pkg/types"
)

// RequestTx decodes the transaction argument of eth_sendTransaction
func RequestTx(req *Request) (*types.TxParams, error) {
	return firstTx(req)
}

// txChain picks the chain a transaction runs on. The wallet's own screens
// name it in the tx; dapps use the site chain and may not disagree.
func (c *Controller) txChain(ctx context.Context, req *Request, tx *types.TxParams) (*chains.Chain, error) {
	if req.CallerOrigin() == session.InternalOrigin {
		if tx.ChainID == 0 {
			return nil, apperrors.InvalidParams("chainId is required")
		}
		chain, err := c.knownChain(int64(tx.ChainID))
		if err != nil {
			return nil, err
		}
		if chain == nil {
			return nil, apperrors.ChainNotAdded(strconv.FormatInt(int64(tx.ChainID), 10))
		}
		return chain, nil
	}

	chain, err := c.SiteChain(ctx, req.CallerOrigin())
	if err != nil {
		return nil, err
	}
	if tx.ChainID != 0 && int64(tx.ChainID) != chain.ID {
		return nil, apperrors.InvalidParams("chainId should be same as current chainId")
	}
	return chain, nil
}

// InjectChainID sets the site chain on a transaction that has none,
// leaving every other field as the dapp sent it.
func (c *Controller) InjectChainID(ctx context.Context, req *Request) error {
	list, err := req.ParamList()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return apperrors.InvalidParams("missing transaction")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(list[0], &fields); err != nil {
		return apperrors.InvalidParams("malformed transaction")
	}
	if v, ok := fields["chainId"]; ok && string(v) != "null" && string(v) != `""` {
		return nil
	}
	chain, err := c.SiteChain(ctx, req.CallerOrigin())
	if err != nil {
		return err
	}
	fields["chainId"] = json.RawMessage(strconv.FormatInt(chain.ID, 10))
	if list[0], err = json.Marshal(fields); err != nil {
		return err
	}
	req.Data.Params, err = EncodeParams(list)
	return err
}

func decodeQuantity(raw json.RawMessage) (*big.Int, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return nil, fmt.Errorf("expected quantity, got %s", string(raw))
	}
	return txflow.ParseBig(s)
}

// recommendNonce asks the chain directly for testnets and custom RPCs, and
// the backend otherwise.
func (c *Controller) recommendNonce(ctx context.Context, chain *chains.Chain, from string) (uint64, error) {
	direct := chain.IsTestnet
	if !direct {
		customURL, err := c.prefs.GetCustomRPC(ctx, chain.Enum)
		if err != nil {
			return 0, fmt.Errorf("load custom rpc: %w", err)
		}
		direct = customURL != ""
	}
	if !direct {
		return c.backend.GetRecommendNonce(ctx, strings.ToLower(from), chain.ServerID)
	}
	raw, err := c.callWith(ctx, chain, "eth_getTransactionCount", from, "pending")
	if err != nil {
		return 0, err
	}
	n, err := decodeQuantity(raw)
	if err != nil {
		return 0, err
	}
	return n.Uint64(), nil
}

// RecommendNonce returns the next nonce for from on the chain with chainID
func (c *Controller) RecommendNonce(ctx context.Context, chainID int64, from string) (uint64, error) {
	chain, err := c.knownChain(chainID)
	if err != nil {
		return 0, err
	}
	if chain == nil {
		return 0, apperrors.ChainNotAdded(strconv.FormatInt(chainID, 10))
	}
	return c.recommendNonce(ctx, chain, from)
}

type explained struct {
	raw     json.RawMessage
	gasUsed uint64
	ok      bool
}

// explain reuses the simulation cached on the signing tx, or runs one
func (c *Controller) explain(ctx context.Context, req *Request, tx *types.TxParams, signing *storage.SigningTx) explained {
	var res openapi.ExplainResult
	if len(signing.Explain) > 0 && json.Unmarshal(signing.Explain, &res) == nil {
		return explained{raw: signing.Explain, gasUsed: res.Gas.GasUsed, ok: res.PreExec.Success}
	}
	out, err := c.backend.Explain(ctx, &openapi.ExplainRequest{Tx: tx, Origin: req.CallerOrigin()})
	if err != nil {
		logger.Warn(ctx, "pre-exec failed", "error", err)
		return explained{}
	}
	raw := out.Raw
	if len(raw) == 0 {
		raw, _ = json.Marshal(out)
	}
	return explained{raw: raw, gasUsed: out.Gas.GasUsed, ok: out.PreExec.Success}
}

type estimateCall struct {
	From  string `json:"from"`
	To    string `json:"to,omitempty"`
	Value string `json:"value,omitempty"`
	Data  string `json:"data,omitempty"`
}

type blockHeader struct {
	GasLimit string `json:"gasLimit"`
}

func feePerGas(tx *types.TxParams) *big.Int {
	v := tx.GasPrice
	if v == "" {
		v = tx.MaxFeePerGas
	}
	b, err := txflow.ParseBig(v)
	if err != nil {
		return nil
	}
	return b
}

// gasLimit derives the limit from the simulated usage, falling back to
// eth_estimateGas. Block and balance lookups are best effort.
func (c *Controller) gasLimit(ctx context.Context, chain *chains.Chain, tx *types.TxParams, gasUsed uint64) (uint64, error) {
	var provided uint64
	if tx.Gas != "" {
		b, err := txflow.ParseBig(tx.Gas)
		if err != nil || !b.IsUint64() {
			return 0, apperrors.InvalidParams("invalid gas")
		}
		provided = b.Uint64()
	}

	if gasUsed == 0 {
		if provided > 0 {
			return provided, nil
		}
		raw, err := c.callWith(ctx, chain, "eth_estimateGas", estimateCall{From: tx.From, To: tx.To, Value: tx.Value, Data: tx.Data})
		if err != nil {
			return 0, fmt.Errorf("estimate gas: %w", err)
		}
		est, err := decodeQuantity(raw)
		if err != nil {
			return 0, fmt.Errorf("estimate gas: %w", err)
		}
		gasUsed = est.Uint64()
	}

	in := txflow.GasInput{
		GasUsed:     gasUsed,
		GasPrice:    feePerGas(tx),
		ProvidedGas: provided,
		Chain:       chain,
	}
	in.Value, _ = txflow.ParseBig(tx.Value)

	if raw, err := c.callWith(ctx, chain, "eth_getBlockByNumber", "latest", false); err == nil {
		var header blockHeader
		if json.Unmarshal(raw, &header) == nil {
			if b, err := txflow.ParseBig(header.GasLimit); err == nil && b.IsUint64() {
				in.BlockGasLimit = b.Uint64()
			}
		}
	} else {
		logger.Debug(ctx, "latest block unavailable", "chain", chain.Enum, "error", err)
	}
	if raw, err := c.callWith(ctx, chain, "eth_getBalance", tx.From, "latest"); err == nil {
		in.Balance, _ = decodeQuantity(raw)
	} else {
		logger.Debug(ctx, "balance unavailable", "chain", chain.Enum, "error", err)
	}

	return txflow.CalcGasLimit(in).GasLimit, nil
}

// EthSendTransaction fills, builds, signs and submits the approved
// transaction. It returns the hash, or the relay request id when the
// relay has not broadcast yet.
func (c *Controller) EthSendTransaction(ctx context.Context, req *Request) (any, error) {
	tx, err := firstTx(req)
	if err != nil {
		return nil, err
	}
	if err := checkAddress(req.Account, tx.From); err != nil {
		return nil, err
	}
	chain, err := c.txChain(ctx, req, tx)
	if err != nil {
		return nil, err
	}
	approval, err := DecodeSignTxApproval(req.ApprovalRes)
	if err != nil {
		return nil, err
	}
	tx = approval.Apply(tx)
	tx.ChainID = types.ChainID(chain.ID)

	signingID := req.SigningTxID
	if signingID == "" {
		signingID = approval.SigningTxID
	}
	var signing *storage.SigningTx
	if signingID != "" {
		if signing, err = c.history.GetSigningTx(ctx, signingID); err != nil {
			return nil, fmt.Errorf("load signing tx: %w", err)
		}
	}
	if signing == nil {
		return nil, apperrors.Internal("approvingTx not found")
	}

	req.Stats.Update(func(d *stats.Data) {
		d.Chain = chain.ServerID
		d.AccountType = req.Account.Type
	})

	if tx.Nonce == "" {
		nonce, err := c.recommendNonce(ctx, chain, tx.From)
		if err != nil {
			return nil, fmt.Errorf("recommend nonce: %w", err)
		}
		tx.Nonce = hexutil.EncodeUint64(nonce)
	}
	if tx.GasPrice == "" && tx.MaxFeePerGas == "" {
		raw, err := c.callWith(ctx, chain, "eth_gasPrice")
		if err != nil {
			return nil, fmt.Errorf("gas price: %w", err)
		}
		price, err := decodeQuantity(raw)
		if err != nil {
			return nil, fmt.Errorf("gas price: %w", err)
		}
		tx.GasPrice = hexutil.EncodeBig(price)
	}

	ex := c.explain(ctx, req, tx, signing)
	req.Stats.Update(func(d *stats.Data) { d.PreExecOK = ex.ok })
	if approval.Gas == "" {
		gas, err := c.gasLimit(ctx, chain, tx, ex.gasUsed)
		if err != nil {
			return nil, err
		}
		tx.Gas = hexutil.EncodeUint64(gas)
	}

	isInternal := req.CallerOrigin() == session.InternalOrigin
	opts := txflow.BuildOptions{IsSpeedUp7702: approval.IsSpeedUp && len(tx.AuthorizationList) > 0}
	if approval.IsRevoke7702 && isInternal {
		tuples, signedAuths, err := txflow.SignAuthorizations(ctx, c.keyring, req.Account, tx.AuthorizationList)
		if err != nil {
			return nil, signFailed(err)
		}
		tx.AuthorizationList = tuples
		opts.IsRevoke7702 = true
		opts.Authorizations = signedAuths
	}
	tx = txflow.NormalizeFees(tx, len(tx.AuthorizationList) > 0)

	unsigned, err := txflow.Build(tx, chain.ID, opts)
	if errors.Is(err, txflow.ErrNotSupport7702) {
		return nil, apperrors.UnsupportedMethod(err.Error())
	}
	if err != nil {
		return nil, apperrors.InvalidParams(err.Error())
	}

	req.Stats.Update(func(d *stats.Data) { d.Signed = true })
	signed, err := c.keyring.SignTransaction(ctx, req.Account, unsigned, big.NewInt(chain.ID))
	if err != nil {
		req.Stats.Update(func(d *stats.Data) { d.SignedSuccess = false })
		logger.Warn(ctx, "transaction signing failed", "chain", chain.Enum, "error", err)
		return nil, signFailed(err)
	}
	req.Stats.Update(func(d *stats.Data) { d.SignedSuccess = true })

	signing.RawTx = tx.Clone()
	signing.Explain = ex.raw
	signing.Phase = storage.PhaseSigned
	signing.Hash = signed.Hash().Hex()
	if err := c.history.UpdateSigningTx(ctx, signing); err != nil {
		logger.Warn(ctx, "failed to update signing tx", "id", signing.ID, "error", err)
	}

	res, err := c.submitter.Submit(ctx, &txflow.SubmitRequest{
		Account:        req.Account,
		Chain:          chain,
		Params:         tx,
		Signed:         signed,
		SigningTxID:    signing.ID,
		Explain:        ex.raw,
		Site:           &storage.SiteInfo{Origin: req.CallerOrigin(), Name: req.Session.Name, Icon: req.Session.Icon},
		Ctx:            req.Data.Ctx,
		PushType:       approval.PushType,
		LowGasDeadline: approval.LowGasDeadline,
		ReqID:          approval.ReqID,
		Sig:            approval.Sig,
		Authorizations: tx.AuthorizationList,
		IsGasless:      approval.IsGasless,
		IsGasAccount:   approval.IsGasAccount,
		IsSpeedUp:      approval.IsSpeedUp,
		IsCancel:       approval.IsCancel,
		Stats:          req.Stats,
	})
	if err != nil {
		return nil, err
	}

	switch {
	case res.State.Hash != "":
		return res.State.Hash, nil
	case res.State.ReqID != "":
		return res.State.ReqID, nil
	}
	return signed.Hash().Hex(), nil
}
