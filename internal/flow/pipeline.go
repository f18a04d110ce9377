// Package flow runs inbound provider requests through method resolution,
// the unlock, connect and approval gates, and dispatch.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rabby-mobile/provider-core/internal/chains"
	"github.com/rabby-mobile/provider-core/internal/logger"
	"github.com/rabby-mobile/provider-core/internal/metrics"
	"github.com/rabby-mobile/provider-core/internal/notification"
	"github.com/rabby-mobile/provider-core/internal/openapi"
	"github.com/rabby-mobile/provider-core/internal/provider"
	"github.com/rabby-mobile/provider-core/internal/session"
	"github.com/rabby-mobile/provider-core/internal/stats"
	"github.com/rabby-mobile/provider-core/internal/storage"
	"github.com/rabby-mobile/provider-core/internal/txflow"
	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
	"github.com/rabby-mobile/provider-core/pkg/types"
)

// ProviderRequest is one inbound call
type ProviderRequest = provider.Request

// DefaultMaxApprovalStages bounds the prompts a single request may open
const DefaultMaxApprovalStages = 8

// Deps are the collaborators of a Pipeline
type Deps struct {
	Registry   *Registry
	Controller *provider.Controller
	Approvals  *notification.Service
	Resolver   *session.Resolver
	Dapps      storage.DappStore
	History    storage.TxHistory
	Backend    openapi.Backend
	Metrics    *metrics.Metrics
	Reporter   stats.Reporter
	Classifier txflow.RetryClassifier

	MaxApprovalStages   int
	MetamaskModeOrigins []string
}

// Pipeline is the request middleware chain
type Pipeline struct {
	registry   *Registry
	controller *provider.Controller
	approvals  *notification.Service
	resolver   *session.Resolver
	dapps      storage.DappStore
	history    storage.TxHistory
	backend    openapi.Backend
	metrics    *metrics.Metrics
	reporter   stats.Reporter
	classifier txflow.RetryClassifier
	maxStages  int
	metamask   map[string]bool
	internal   map[string]provider.Handler

	mu         sync.Mutex
	unlocking  map[string]struct{}
	connecting map[string]struct{}
	sites      map[string]provider.Session
	resumable  *Resumable
}

// New creates a pipeline
func New(d Deps) *Pipeline {
	if d.Classifier == nil {
		d.Classifier = txflow.DefaultClassifier
	}
	if d.MaxApprovalStages <= 0 {
		d.MaxApprovalStages = DefaultMaxApprovalStages
	}
	p := &Pipeline{
		registry:   d.Registry,
		controller: d.Controller,
		approvals:  d.Approvals,
		resolver:   d.Resolver,
		dapps:      d.Dapps,
		history:    d.History,
		backend:    d.Backend,
		metrics:    d.Metrics,
		reporter:   d.Reporter,
		classifier: d.Classifier,
		maxStages:  d.MaxApprovalStages,
		metamask:   make(map[string]bool, len(d.MetamaskModeOrigins)),
		unlocking:  make(map[string]struct{}),
		connecting: make(map[string]struct{}),
		sites:      make(map[string]provider.Session),
	}
	for _, origin := range d.MetamaskModeOrigins {
		p.metamask[origin] = true
	}
	p.internal = map[string]provider.Handler{
		"tabCheckin":              p.tabCheckin,
		"rabby_getProviderState":  p.providerState,
		"rabby_getDappsInfo":      p.dappsInfo,
		"rabby_getOriginIsScam":   p.originIsScam,
		"rabby_getIsMetamaskMode": p.isMetamaskMode,
	}
	return p
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if appErr, ok := apperrors.IsAppError(err); ok {
		return appErr.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "error"
}

// Handle runs req through the pipeline and returns the handler result
func (p *Pipeline) Handle(ctx context.Context, req *ProviderRequest) (result any, err error) {
	start := time.Now()
	method := req.Data.Method
	origin := req.CallerOrigin()
	ctx = logger.WithOrigin(ctx, origin)
	defer func() {
		p.metrics.ObserveRequest(method, outcome(err), time.Since(start))
	}()

	account, err := p.resolver.Resolve(ctx, origin, req.Account)
	if err != nil {
		return nil, err
	}
	req.Account = account
	if req.Session.Origin == "" {
		req.Session = p.site(origin)
	}

	if h, ok := p.internal[method]; ok {
		return h(ctx, req)
	}

	entry, err := p.registry.Resolve(method)
	if err != nil {
		logger.Debug(ctx, "method rejected", "method", method)
		return nil, err
	}

	st := &stages{max: p.maxStages}
	if !entry.Safe {
		if err := p.unlockGate(ctx, req, st); err != nil {
			return nil, err
		}
		if err := p.connectGate(ctx, req, st); err != nil {
			return nil, err
		}
	}
	if entry.Approval != nil {
		return p.approvalGate(ctx, entry, req, st)
	}
	return p.dispatch(ctx, entry, req)
}

// acquire marks origin busy in set; a second caller is turned away
func (p *Pipeline) acquire(set map[string]struct{}, origin string) (func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := set[origin]; busy {
		return nil, false
	}
	set[origin] = struct{}{}
	return func() {
		p.mu.Lock()
		delete(set, origin)
		p.mu.Unlock()
	}, true
}

func (p *Pipeline) unlockGate(ctx context.Context, req *ProviderRequest, st *stages) error {
	kr := p.controller.Keyring()
	if kr.IsUnlocked() {
		return nil
	}
	origin := req.CallerOrigin()
	release, ok := p.acquire(p.unlocking, origin)
	if !ok {
		return apperrors.ResourceUnavailable("Already processing unlock. Please wait.")
	}
	defer release()

	if err := st.enter(StageUnlock); err != nil {
		return err
	}
	logger.Debug(ctx, "unlock required")
	req.RequestedApproval = true
	_, err := p.approvals.RequestApproval(ctx, notification.Data{
		Origin:            origin,
		ApprovalComponent: notification.ComponentUnlock,
		IsUnshift:         true,
	}, nil)
	if err != nil {
		return err
	}
	if !kr.IsUnlocked() {
		return apperrors.Unauthorized("")
	}
	return nil
}

// connectResult is the UI's answer to a Connect approval
type connectResult struct {
	DefaultChain   string         `json:"defaultChain"`
	DefaultAccount *types.Account `json:"defaultAccount"`
}

func (p *Pipeline) connectGate(ctx context.Context, req *ProviderRequest, st *stages) error {
	origin := req.CallerOrigin()
	connected, err := p.resolver.IsConnected(ctx, origin)
	if err != nil || connected {
		return err
	}
	release, ok := p.acquire(p.connecting, origin)
	if !ok {
		return apperrors.ResourceUnavailable("Already processing connect. Please wait.")
	}
	defer release()

	if err := st.enter(StageConnect); err != nil {
		return err
	}
	logger.Debug(ctx, "connect required")
	req.RequestedApproval = true
	res, err := p.approvals.RequestApproval(ctx, notification.Data{
		Params:            req.Session,
		Account:           req.Account,
		Origin:            origin,
		ApprovalComponent: notification.ComponentConnect,
	}, &notification.WinProps{Height: 800})
	if err != nil {
		return err
	}

	var cr connectResult
	if len(res) > 0 && string(res) != "null" {
		if err := json.Unmarshal(res, &cr); err != nil {
			return apperrors.InvalidParams("malformed connect result")
		}
	}
	account := cr.DefaultAccount
	if account == nil {
		account = req.Account
	}
	if account == nil {
		return apperrors.Unauthorized("no account selected")
	}
	if !p.controller.Keyring().HasAccount(ctx, account.Address) {
		return apperrors.InvalidParams("account is not in the keyring")
	}
	enum := cr.DefaultChain
	if enum == "" {
		enum = chains.DefaultEnum
	}
	chain, err := p.controller.Chains().ByEnum(enum)
	if err != nil {
		return apperrors.InvalidParams("unknown chain " + enum)
	}

	if err := p.dapps.SaveDapp(ctx, &types.DappSession{
		Origin:         origin,
		Name:           req.Session.Name,
		Icon:           req.Session.Icon,
		ChainEnum:      chain.Enum,
		IsConnected:    true,
		CurrentAccount: account,
		ConnectedAt:    time.Now(),
	}); err != nil {
		return err
	}
	req.Account = account
	logger.Info(ctx, "dapp connected", "chain", chain.Enum, "account", account.LowerAddress())
	return nil
}

func statsSource(origin string) string {
	if origin == session.InternalOrigin {
		return "internal"
	}
	return "dapp"
}

func (p *Pipeline) approvalGate(ctx context.Context, entry Entry, req *ProviderRequest, st *stages) (any, error) {
	spec := entry.Approval
	origin := req.CallerOrigin()
	isSignTx := spec.Kind == notification.ComponentSignTx
	if isSignTx {
		req.Stats = stats.NewFlow(p.reporter, stats.Data{Category: "send", Source: statsSource(origin)})
		defer req.Stats.Report(ctx)
	}

	if req.Data.Method == "personal_sign" {
		if err := normalizePersonalSign(req); err != nil {
			return nil, err
		}
	}
	if spec.Validator != nil {
		bypass, err := spec.Validator(ctx, req)
		if err != nil {
			return nil, err
		}
		if bypass {
			logger.Debug(ctx, "approval bypassed", "method", req.Data.Method)
			return p.dispatch(ctx, entry, req)
		}
	}

	data := notification.Data{
		Account:           req.Account,
		Origin:            origin,
		ApprovalComponent: spec.Kind,
		ApprovalType:      req.Data.Method,
	}
	if isSignTx {
		if err := p.controller.InjectChainID(ctx, req); err != nil {
			return nil, err
		}
		tx, err := provider.RequestTx(req)
		if err != nil {
			return nil, err
		}
		data.Tx = tx
	}
	data.Params = approvalParams(req)

	req.RequestedApproval = true
	decision, err := p.awaitApproval(ctx, data, spec.UI, st)
	if err != nil {
		return nil, err
	}
	req.ApprovalRes = decision.Result
	req.SigningTxID = decision.SigningTxID

	res, err := p.dispatch(ctx, entry, req)
	if isSignTx {
		p.recordResumable(ctx, req, err)
	}
	return res, err
}

func normalizePersonalSign(req *ProviderRequest) error {
	list, err := req.ParamList()
	if err != nil {
		return err
	}
	list, err = provider.NormalizePersonalSign(list)
	if err != nil {
		return err
	}
	req.Data.Params, err = provider.EncodeParams(list)
	return err
}

// approvalParams is what the approval screen renders
func approvalParams(req *ProviderRequest) map[string]any {
	return map[string]any{
		"method":  req.Data.Method,
		"data":    req.Data.Params,
		"session": req.Session,
		"$ctx":    req.Data.Ctx,
	}
}

// splitComponent takes uiRequestComponent out of an approval result
func splitComponent(res json.RawMessage) (string, map[string]json.RawMessage) {
	var fields map[string]json.RawMessage
	if len(res) == 0 || json.Unmarshal(res, &fields) != nil {
		return "", nil
	}
	raw, ok := fields["uiRequestComponent"]
	if !ok {
		return "", nil
	}
	var component string
	if json.Unmarshal(raw, &component) != nil {
		return "", nil
	}
	delete(fields, "uiRequestComponent")
	return component, fields
}

// awaitApproval asks for data and follows any further UI components the
// answer requests until one answer carries none.
func (p *Pipeline) awaitApproval(ctx context.Context, data notification.Data, win *notification.WinProps, st *stages) (*notification.Decision, error) {
	if err := st.enter(StageApproval); err != nil {
		return nil, err
	}
	decision, err := p.approvals.Request(ctx, data, win)
	if err != nil {
		return nil, err
	}
	signingID := decision.SigningTxID

	for {
		component, rest := splitComponent(decision.Result)
		if component == "" {
			break
		}
		if err := st.enter(StageUIComponent); err != nil {
			return nil, err
		}
		logger.Debug(ctx, "approval requested a further stage", "component", component, "stage", len(st.path))
		next, err := p.approvals.Request(ctx, notification.Data{
			Params:            rest,
			Account:           data.Account,
			Origin:            data.Origin,
			ApprovalComponent: component,
			ApprovalType:      data.ApprovalType,
		}, win)
		if err != nil {
			return nil, err
		}
		decision = next
	}
	_ = st.enter(StageDone)
	if decision.SigningTxID == "" {
		decision.SigningTxID = signingID
	}
	return decision, nil
}

func (p *Pipeline) dispatch(ctx context.Context, entry Entry, req *ProviderRequest) (any, error) {
	logger.Debug(ctx, "dispatching", "method", req.Data.Method, "handler", entry.Method)
	res, err := entry.Handler(ctx, req)
	if err != nil {
		logger.FromContext(ctx).Log(ctx, handlerErrorLevel(err), "handler failed", "method", req.Data.Method, "error", err)
		return nil, err
	}
	return res, nil
}

// outcomes a dapp or the user causes; only the rest are wallet failures
var expectedErrCodes = map[string]bool{
	apperrors.ErrCodeUserRejected:        true,
	apperrors.ErrCodeInvalidParams:       true,
	apperrors.ErrCodeUnauthorized:        true,
	apperrors.ErrCodeUnsupportedMethod:   true,
	apperrors.ErrCodeMethodNotFound:      true,
	apperrors.ErrCodeChainNotAdded:       true,
	apperrors.ErrCodeHardwareRejected:    true,
	apperrors.ErrCodeResourceUnavailable: true,
	apperrors.ErrCodeApprovalPending:     true,
	apperrors.ErrCodeRequestBlocked:      true,
}

func handlerErrorLevel(err error) slog.Level {
	if appErr, ok := apperrors.IsAppError(err); ok && expectedErrCodes[appErr.Code] {
		return slog.LevelInfo
	}
	return slog.LevelError
}

func (p *Pipeline) site(origin string) provider.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sites[origin]; ok {
		return s
	}
	return provider.Session{Origin: origin}
}
