package txflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/rabby-mobile/provider-core/internal/chains"
	"github.com/rabby-mobile/provider-core/internal/logger"
	"github.com/rabby-mobile/provider-core/internal/openapi"
	"github.com/rabby-mobile/provider-core/internal/stats"
	"github.com/rabby-mobile/provider-core/internal/storage"
	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
	"github.com/rabby-mobile/provider-core/pkg/types"
)

// Push types understood by the relay
const (
	PushTypeDefault = "default"
	PushTypeLowGas  = "low_gas"
)

// Submission routes, reported in SubmitResult.Route
const (
	RouteSignOnly     = "sign_only"
	RouteTestnet      = "testnet"
	RouteCustomRPC    = "custom_rpc"
	RouteFrontendPush = "frontend_push"
	RouteRelay        = "relay"
)

const reportTimeout = 10 * time.Second

// SubmitRequest is a signed transaction ready for broadcast
type SubmitRequest struct {
	Account     *types.Account
	Chain       *chains.Chain
	Params      *types.TxParams
	Signed      *gethtypes.Transaction
	SigningTxID string
	Explain     json.RawMessage
	Site        *storage.SiteInfo
	Ctx         json.RawMessage

	PushType       string
	LowGasDeadline int64
	ReqID          string
	Sig            string
	Authorizations []types.AuthorizationTuple
	IsGasless      bool
	IsGasAccount   bool
	IsSpeedUp      bool
	IsCancel       bool

	Stats *stats.Flow
}

// SubmitResult is the outcome of a successful submission
type SubmitResult struct {
	State State
	Route string
}

// Submitter broadcasts signed transactions and records them as pending.
type Submitter struct {
	backend       openapi.Backend
	rpc           ChainRPC
	prefs         storage.PreferenceStore
	history       storage.TxHistory
	watcher       *Watcher
	persistFailed bool

	reports sync.WaitGroup
}

// NewSubmitter creates a submitter. watcher may be nil.
func NewSubmitter(backend openapi.Backend, rpc ChainRPC, prefs storage.PreferenceStore, history storage.TxHistory, watcher *Watcher, persistFailed bool) *Submitter {
	return &Submitter{
		backend:       backend,
		rpc:           rpc,
		prefs:         prefs,
		history:       history,
		watcher:       watcher,
		persistFailed: persistFailed,
	}
}

// Wait blocks until every async push report has been sent
func (s *Submitter) Wait() {
	s.reports.Wait()
}

// Submit broadcasts req.Signed along the route its account and chain select.
// Gnosis accounts stop after signing.
func (s *Submitter) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	if req.Signed == nil || req.Chain == nil || req.Params == nil {
		return nil, apperrors.Internal("incomplete submit request")
	}
	signed, _ := Sign(State{Phase: Unsigned})

	if req.Account.IsGnosis() {
		req.Stats.Update(func(d *stats.Data) { d.SignedSuccess = true })
		return &SubmitResult{State: signed, Route: RouteSignOnly}, nil
	}

	req.Stats.Update(func(d *stats.Data) { d.Submit = true })

	hash, reqID, route, err := s.broadcast(ctx, req)
	if err != nil {
		s.onFailure(ctx, req, err)
		return nil, apperrors.TransactionFailed(err)
	}

	st, err := Submit(signed, hash, reqID)
	if err != nil {
		s.onFailure(ctx, req, err)
		return nil, apperrors.TransactionFailed(err)
	}
	req.Stats.Update(func(d *stats.Data) { d.SubmitSuccess = true })

	pending := s.pendingRecord(req, st)
	if err := s.history.AddPendingTx(ctx, pending); err != nil {
		logger.Error(ctx, "failed to record pending tx", "hash", hash, "error", err)
	}
	if req.SigningTxID != "" {
		if err := s.history.RemoveSigningTx(ctx, req.SigningTxID); err != nil {
			logger.Warn(ctx, "failed to remove signing tx", "id", req.SigningTxID, "error", err)
		}
	}
	if s.watcher != nil {
		s.watcher.Watch(pending.Key(), req.Chain, st)
	}

	logger.Info(ctx, "transaction submitted",
		"chain", req.Chain.Enum,
		"route", route,
		"hash", hash,
		"req_id", reqID,
		"nonce", req.Signed.Nonce(),
	)
	return &SubmitResult{State: st, Route: route}, nil
}

func (s *Submitter) broadcast(ctx context.Context, req *SubmitRequest) (hash, reqID, route string, err error) {
	raw, err := req.Signed.MarshalBinary()
	if err != nil {
		return "", "", "", fmt.Errorf("encode signed tx: %w", err)
	}

	if req.Chain.IsTestnet {
		hash, err = s.rpc.SendRawTransaction(ctx, req.Chain.RPCURLs, raw)
		return hash, "", RouteTestnet, err
	}

	customURL, err := s.prefs.GetCustomRPC(ctx, req.Chain.Enum)
	if err != nil {
		return "", "", "", fmt.Errorf("load custom rpc: %w", err)
	}
	if customURL != "" {
		hash, err = s.rpc.SendRawTransaction(ctx, []string{customURL}, raw)
		return hash, "", RouteCustomRPC, err
	}

	if req.Chain.FrontendPush && !req.IsGasless && !req.IsGasAccount && len(req.Chain.RPCURLs) > 0 {
		hash, pushErr := s.rpc.SendRawTransaction(ctx, req.Chain.RPCURLs, raw)
		s.reportPush(ctx, req.Chain, hash, pushErr)
		if pushErr == nil {
			return hash, "", RouteFrontendPush, nil
		}
		logger.Warn(ctx, "frontend push failed, falling back to relay", "chain", req.Chain.Enum, "error", pushErr)
	}

	resp, err := s.backend.SubmitTx(ctx, s.relayRequest(req, raw))
	if err != nil {
		return "", "", RouteRelay, err
	}
	return resp.TxHash, resp.ReqID, RouteRelay, nil
}

func (s *Submitter) relayRequest(req *SubmitRequest, raw []byte) *openapi.SubmitTxRequest {
	pushType := req.PushType
	if pushType == "" {
		pushType = PushTypeDefault
	}
	origin := ""
	if req.Site != nil {
		origin = req.Site.Origin
	}
	return &openapi.SubmitTxRequest{
		ChainServerID:     req.Chain.ServerID,
		Tx:                req.Params,
		RawTx:             hexutil.Encode(raw),
		PushType:          pushType,
		LowGasDeadline:    req.LowGasDeadline,
		ReqID:             req.ReqID,
		Origin:            origin,
		Sig:               req.Sig,
		AuthorizationList: req.Authorizations,
		IsGasless:         req.IsGasless,
		IsGasAccount:      req.IsGasAccount,
	}
}

// reportPush sends the frontend push outcome without blocking the caller
func (s *Submitter) reportPush(ctx context.Context, chain *chains.Chain, hash string, pushErr error) {
	report := &openapi.PushReport{
		ChainServerID: chain.ServerID,
		Success:       pushErr == nil,
		TxHash:        hash,
	}
	if pushErr != nil {
		report.Error = pushErr.Error()
	}

	s.reports.Add(1)
	go func() {
		defer s.reports.Done()
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
		defer cancel()
		if err := s.backend.ReportPushedTx(rctx, report); err != nil {
			logger.Warn(rctx, "failed to report pushed tx", "chain", chain.Enum, "error", err)
		}
	}()
}

func (s *Submitter) pendingRecord(req *SubmitRequest, st State) *storage.PendingTx {
	pushType := req.PushType
	if pushType == "" {
		pushType = PushTypeDefault
	}
	return &storage.PendingTx{
		Address:   strings.ToLower(req.Params.From),
		Nonce:     req.Signed.Nonce(),
		ChainID:   req.Chain.ID,
		RawTx:     req.Params.Clone(),
		Hash:      st.Hash,
		ReqID:     st.ReqID,
		Explain:   req.Explain,
		Site:      req.Site,
		Ctx:       req.Ctx,
		PushType:  pushType,
		CreatedAt: time.Now(),
	}
}

func (s *Submitter) onFailure(ctx context.Context, req *SubmitRequest, err error) {
	req.Stats.Update(func(d *stats.Data) { d.SubmitSuccess = false })
	logger.Warn(ctx, "transaction submission failed", "chain", req.Chain.Enum, "error", err)

	if !s.persistFailed || req.IsSpeedUp || req.IsCancel {
		return
	}
	record := s.pendingRecord(req, State{Phase: Failed, Reason: err.Error()})
	record.IsSubmitFailed = true
	if herr := s.history.AddPendingTx(ctx, record); herr != nil {
		logger.Error(ctx, "failed to record failed tx", "error", herr)
	}
}
