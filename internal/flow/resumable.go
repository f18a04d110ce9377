package flow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabby-mobile/provider-core/internal/logger"
	"github.com/rabby-mobile/provider-core/internal/provider"
	"github.com/rabby-mobile/provider-core/internal/stats"
	"github.com/rabby-mobile/provider-core/internal/txflow"
	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
	"github.com/rabby-mobile/provider-core/pkg/types"
)

// Resumable is a failed eth_sendTransaction kept for a user-triggered
// retry. It carries everything needed to rebuild the request.
type Resumable struct {
	Origin      string
	Session     provider.Session
	Account     *types.Account
	Ctx         json.RawMessage
	Tx          *types.TxParams
	Approval    provider.SignTxApproval
	SigningTxID string
	Err         error
}

// Next builds the retried request. The approval's fee and nonce overrides
// are already folded into Tx, so only its flags carry over.
func (r *Resumable) Next(reason txflow.RetryReason, recommendedNonce uint64) (*ProviderRequest, error) {
	tx, err := txflow.AdjustForRetry(r.Tx, reason, recommendedNonce)
	if err != nil {
		return nil, apperrors.InvalidParams(err.Error())
	}
	params, err := json.Marshal([]*types.TxParams{tx})
	if err != nil {
		return nil, fmt.Errorf("encode retry tx: %w", err)
	}
	approval, err := json.Marshal(r.Approval.WithoutOverrides())
	if err != nil {
		return nil, fmt.Errorf("encode retry approval: %w", err)
	}
	return &ProviderRequest{
		Data:              provider.RequestData{Method: "eth_sendTransaction", Params: params, Ctx: r.Ctx},
		Session:           r.Session,
		Account:           r.Account,
		Origin:            r.Origin,
		RequestedApproval: true,
		ApprovalRes:       approval,
		SigningTxID:       r.SigningTxID,
	}, nil
}

// recordResumable keeps a failed submission for Retry and forgets the
// previous one on success.
func (p *Pipeline) recordResumable(ctx context.Context, req *ProviderRequest, err error) {
	if err == nil {
		p.mu.Lock()
		p.resumable = nil
		p.mu.Unlock()
		return
	}
	if !apperrors.HasCode(err, apperrors.ErrCodeTransactionFailed) {
		return
	}

	approval, derr := provider.DecodeSignTxApproval(req.ApprovalRes)
	if derr != nil {
		return
	}
	var tx *types.TxParams
	if req.SigningTxID != "" && p.history != nil {
		if signing, gerr := p.history.GetSigningTx(ctx, req.SigningTxID); gerr == nil && signing != nil && signing.RawTx != nil {
			tx = signing.RawTx.Clone()
		}
	}
	if tx == nil {
		reqTx, terr := provider.RequestTx(req)
		if terr != nil {
			return
		}
		tx = approval.Apply(reqTx)
	}

	p.mu.Lock()
	p.resumable = &Resumable{
		Origin:      req.CallerOrigin(),
		Session:     req.Session,
		Account:     req.Account,
		Ctx:         req.Data.Ctx,
		Tx:          tx,
		Approval:    approval,
		SigningTxID: req.SigningTxID,
		Err:         err,
	}
	p.mu.Unlock()
	logger.Info(ctx, "failed transaction kept for retry", "signing_tx_id", req.SigningTxID)
}

// Pending returns the request waiting for a retry, if any
func (p *Pipeline) Pending() *Resumable {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resumable
}

func (p *Pipeline) takeResumable() *Resumable {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.resumable
	p.resumable = nil
	return r
}

// Retry resubmits the last failed transaction. With RetryNone the reason
// is taken from the classifier; errors it cannot classify are not retried.
func (p *Pipeline) Retry(ctx context.Context, reason txflow.RetryReason) (any, error) {
	r := p.takeResumable()
	if r == nil {
		return nil, apperrors.InvalidParams("no transaction to retry")
	}
	ctx = logger.WithOrigin(ctx, r.Origin)

	if reason == txflow.RetryNone {
		reason = p.classifier.Classify(r.Err)
	}
	if reason == txflow.RetryNone {
		p.mu.Lock()
		if p.resumable == nil {
			p.resumable = r
		}
		p.mu.Unlock()
		return nil, apperrors.InvalidParams("the last failure is not retryable")
	}

	var nonce uint64
	if reason == txflow.RetryNonce {
		n, err := p.controller.RecommendNonce(ctx, int64(r.Tx.ChainID), r.Tx.From)
		if err != nil {
			return nil, err
		}
		nonce = n
	}

	req, err := r.Next(reason, nonce)
	if err != nil {
		return nil, err
	}
	entry, err := p.registry.Resolve(req.Data.Method)
	if err != nil {
		return nil, err
	}

	req.Stats = stats.NewFlow(p.reporter, stats.Data{Category: "send", Source: "retry"})
	defer req.Stats.Report(ctx)
	logger.Info(ctx, "retrying transaction", "reason", string(reason))

	res, err := p.dispatch(ctx, entry, req)
	p.recordResumable(ctx, req, err)
	return res, err
}
