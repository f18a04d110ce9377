package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rabby-mobile/provider-core/internal/logger"
	"github.com/rabby-mobile/provider-core/internal/metrics"
	"github.com/rabby-mobile/provider-core/internal/storage"
	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
)

// Defaults for the reject streak and origin blocking
const (
	DefaultRejectWindow  = 60 * time.Second
	DefaultBlockDuration = 60 * time.Second

	blockedHintThreshold = 2
)

type rejectStreak struct {
	origin string
	at     time.Time
	count  int
}

// Config tunes the service
type Config struct {
	RejectWindow  time.Duration
	BlockDuration time.Duration
	// SkipStreakOrigin is never counted towards reject streaks
	SkipStreakOrigin string
}

// Service is the approval queue. approvals[0] is the current approval.
type Service struct {
	history   storage.TxHistory
	presenter Presenter
	metrics   *metrics.Metrics
	cfg       Config
	now       func() time.Time

	mu             sync.Mutex
	approvals      []*Approval
	notifyWindowID string
	isLocked       bool
	lastReject     *rejectStreak
	blocked        map[string]time.Time
}

// NewService creates an approval queue. presenter and m may be nil.
func NewService(history storage.TxHistory, presenter Presenter, m *metrics.Metrics, cfg Config) *Service {
	if cfg.RejectWindow <= 0 {
		cfg.RejectWindow = DefaultRejectWindow
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = DefaultBlockDuration
	}
	return &Service{
		history:   history,
		presenter: presenter,
		metrics:   m,
		cfg:       cfg,
		now:       time.Now,
		blocked:   make(map[string]time.Time),
	}
}

// Decision is the settled result of an approval
type Decision struct {
	Result      json.RawMessage
	ApprovalID  string
	SigningTxID string
}

// RequestApproval queues data and blocks until the user decides or ctx is
// done. A non-stackable approval is refused while anything is queued.
func (s *Service) RequestApproval(ctx context.Context, data Data, win *WinProps) (json.RawMessage, error) {
	d, err := s.Request(ctx, data, win)
	if err != nil {
		return nil, err
	}
	return d.Result, nil
}

// Request is RequestApproval returning the approval ids with the result
func (s *Service) Request(ctx context.Context, data Data, win *WinProps) (*Decision, error) {
	approval, err := s.enqueue(ctx, data, win)
	if err != nil {
		return nil, err
	}

	var out outcome
	select {
	case out = <-approval.done:
	case <-ctx.Done():
		s.cancel(ctx, approval)
		out = <-approval.done
	}
	if out.err != nil {
		return nil, out.err
	}
	return &Decision{Result: out.result, ApprovalID: approval.ID, SigningTxID: approval.SigningTxID}, nil
}

func (s *Service) enqueue(ctx context.Context, data Data, win *WinProps) (*Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data.Origin != "" && s.isBlockedLocked(data.Origin) {
		return nil, apperrors.RequestBlocked(data.Origin)
	}
	if len(s.approvals) > 0 && !IsStackable(data.ApprovalComponent) {
		return nil, apperrors.ProcessCurrentApprovalFirst()
	}

	approval := &Approval{
		ID:        uuid.NewString(),
		TaskID:    logger.GetRequestID(ctx),
		Data:      data,
		WinProps:  win,
		CreatedAt: s.now(),
		done:      make(chan outcome, 1),
	}

	if data.ApprovalComponent == ComponentSignTx && s.history != nil {
		signing := &storage.SigningTx{RawTx: data.Tx}
		if err := s.history.AddSigningTx(ctx, signing); err != nil {
			return nil, fmt.Errorf("create signing tx: %w", err)
		}
		approval.SigningTxID = signing.ID
	}

	if data.IsUnshift {
		s.approvals = append([]*Approval{approval}, s.approvals...)
	} else {
		s.approvals = append(s.approvals, approval)
	}
	s.metrics.SetPendingApprovals(len(s.approvals))
	s.openLocked(approval)

	logger.Info(ctx, "approval created",
		"approval_id", approval.ID,
		"component", data.ApprovalComponent,
		"queued", len(s.approvals),
	)
	return approval, nil
}

// openLocked shows the approval surface unless it is already open
func (s *Service) openLocked(approval *Approval) {
	if s.isLocked || s.presenter == nil {
		return
	}
	id, err := s.presenter.Open(approval.snapshot())
	if err != nil {
		logger.Warn(context.Background(), "failed to open approval window", "error", err)
		return
	}
	s.notifyWindowID = id
	s.isLocked = true
}

func (s *Service) closeLocked() {
	if !s.isLocked {
		return
	}
	if s.presenter != nil {
		s.presenter.Close(s.notifyWindowID)
	}
	s.notifyWindowID = ""
	s.isLocked = false
}

// removeLocked drops approval from the queue, closing the surface when it empties
func (s *Service) removeLocked(approval *Approval, stay bool) bool {
	for i, a := range s.approvals {
		if a == approval {
			s.approvals = append(s.approvals[:i], s.approvals[i+1:]...)
			s.metrics.SetPendingApprovals(len(s.approvals))
			if len(s.approvals) == 0 && !stay {
				s.closeLocked()
			}
			return true
		}
	}
	return false
}

func (s *Service) removeSigningTx(ctx context.Context, approval *Approval) {
	if approval.SigningTxID == "" || s.history == nil {
		return
	}
	if err := s.history.RemoveSigningTx(context.WithoutCancel(ctx), approval.SigningTxID); err != nil {
		logger.Warn(ctx, "failed to remove signing tx", "id", approval.SigningTxID, "error", err)
	}
}

func (s *Service) cancel(ctx context.Context, approval *Approval) {
	s.mu.Lock()
	s.removeLocked(approval, false)
	s.mu.Unlock()

	if approval.settle(nil, fmt.Errorf("approval %s abandoned: %w", approval.ID, ctx.Err())) {
		s.removeSigningTx(ctx, approval)
		s.metrics.ApprovalOutcome(approval.Data.ApprovalComponent, "canceled")
		logger.Info(ctx, "approval canceled", "approval_id", approval.ID)
	}
}

// GetApproval returns the current approval, or nil
func (s *Service) GetApproval() *Approval {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.approvals) == 0 {
		return nil
	}
	return s.approvals[0].snapshot()
}

// Approvals returns the queue in order
func (s *Service) Approvals() []*Approval {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Approval, 0, len(s.approvals))
	for _, a := range s.approvals {
		out = append(out, a.snapshot())
	}
	return out
}

// WindowState returns the open window id and whether a window is open
func (s *Service) WindowState() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifyWindowID, s.isLocked
}

// ResolveApproval settles the current approval with data, or rejects it
// when forceReject is set. A non-empty approvalID that is not the current
// approval makes the call a no-op; the return value reports whether
// anything was settled.
func (s *Service) ResolveApproval(ctx context.Context, data json.RawMessage, forceReject bool, approvalID string) bool {
	s.mu.Lock()
	if len(s.approvals) == 0 {
		s.mu.Unlock()
		return false
	}
	current := s.approvals[0]
	if approvalID != "" && current.ID != approvalID {
		s.mu.Unlock()
		logger.Debug(ctx, "stale approval resolution ignored", "approval_id", approvalID)
		return false
	}
	s.removeLocked(current, false)
	s.lastReject = nil
	s.mu.Unlock()

	if forceReject {
		if !current.settle(nil, apperrors.UserRejected("")) {
			return false
		}
		s.removeSigningTx(ctx, current)
		s.metrics.ApprovalOutcome(current.Data.ApprovalComponent, "rejected")
		logger.Info(ctx, "approval rejected", "approval_id", current.ID)
		return true
	}

	if !current.settle(data, nil) {
		return false
	}
	s.metrics.ApprovalOutcome(current.Data.ApprovalComponent, "resolved")
	logger.Info(ctx, "approval resolved", "approval_id", current.ID, "component", current.Data.ApprovalComponent)
	return true
}

// RejectApproval rejects the current approval and counts it towards the
// origin's reject streak. isInternal reports an internal error rather than
// a user rejection; stay keeps the window open when the queue empties.
// A non-empty approvalID must match the current approval.
func (s *Service) RejectApproval(ctx context.Context, message string, stay, isInternal bool, approvalID string) bool {
	s.mu.Lock()
	if len(s.approvals) == 0 {
		s.mu.Unlock()
		return false
	}
	current := s.approvals[0]
	if approvalID != "" && current.ID != approvalID {
		s.mu.Unlock()
		logger.Debug(ctx, "stale approval rejection ignored", "approval_id", approvalID)
		return false
	}
	s.recordRejectLocked(current.Data.Origin)
	s.removeLocked(current, stay)
	s.mu.Unlock()

	var err error
	if isInternal {
		if message == "" {
			message = "internal error"
		}
		err = apperrors.Internal(message)
	} else {
		err = apperrors.UserRejected(message)
	}
	if !current.settle(nil, err) {
		return false
	}
	s.removeSigningTx(ctx, current)
	s.metrics.ApprovalOutcome(current.Data.ApprovalComponent, "rejected")
	logger.Info(ctx, "approval rejected", "approval_id", current.ID, "origin", current.Data.Origin)
	return true
}

// RejectAllApprovals rejects every queued approval and clears all
// signing-tx records. Used on wallet lock.
func (s *Service) RejectAllApprovals(ctx context.Context) int {
	s.mu.Lock()
	pending := s.approvals
	s.approvals = nil
	s.metrics.SetPendingApprovals(0)
	s.closeLocked()
	s.mu.Unlock()

	n := 0
	for _, a := range pending {
		if a.settle(nil, apperrors.UserRejected("")) {
			s.metrics.ApprovalOutcome(a.Data.ApprovalComponent, "rejected")
			n++
		}
	}
	if s.history != nil {
		if err := s.history.RemoveAllSigningTxs(context.WithoutCancel(ctx)); err != nil {
			logger.Warn(ctx, "failed to clear signing txs", "error", err)
		}
	}
	if n > 0 {
		logger.Info(ctx, "all approvals rejected", "count", n)
	}
	return n
}

func (s *Service) recordRejectLocked(origin string) {
	if origin == "" || origin == s.cfg.SkipStreakOrigin {
		return
	}
	now := s.now()
	if s.lastReject != nil && s.lastReject.origin == origin && now.Sub(s.lastReject.at) < s.cfg.RejectWindow {
		s.lastReject.count++
		s.lastReject.at = now
		return
	}
	s.lastReject = &rejectStreak{origin: origin, at: now, count: 1}
}

// NeedDisplayBlocked reports whether origin was rejected at least twice
// within the reject window.
func (s *Service) NeedDisplayBlocked(origin string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needDisplayBlockedLocked(origin)
}

func (s *Service) needDisplayBlockedLocked(origin string) bool {
	r := s.lastReject
	if origin == "" || r == nil || r.origin != origin {
		return false
	}
	if s.now().Sub(r.at) > s.cfg.RejectWindow {
		return false
	}
	return r.count >= blockedHintThreshold
}

// CheckNeedDisplayBlockedRequestApproval applies NeedDisplayBlocked to the
// origin of the current approval, or of the last rejected one when the
// queue is empty.
func (s *Service) CheckNeedDisplayBlockedRequestApproval() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	origin := ""
	if len(s.approvals) > 0 {
		origin = s.approvals[0].Data.Origin
	} else if s.lastReject != nil {
		origin = s.lastReject.origin
	}
	return s.needDisplayBlockedLocked(origin)
}

// BlockedDapp blocks the current approval's origin (or the last rejected
// origin) for the block duration and returns it.
func (s *Service) BlockedDapp() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	origin := ""
	if len(s.approvals) > 0 {
		origin = s.approvals[0].Data.Origin
	} else if s.lastReject != nil {
		origin = s.lastReject.origin
	}
	if origin == "" {
		return ""
	}
	s.blocked[origin] = s.now().Add(s.cfg.BlockDuration)
	s.lastReject = nil
	s.metrics.OriginBlocked()
	logger.Warn(context.Background(), "origin blocked", "origin", origin, "duration", s.cfg.BlockDuration)
	return origin
}

// IsBlocked reports whether origin is currently blocked
func (s *Service) IsBlocked(origin string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isBlockedLocked(origin)
}

func (s *Service) isBlockedLocked(origin string) bool {
	until, ok := s.blocked[origin]
	if !ok {
		return false
	}
	if s.now().After(until) {
		delete(s.blocked, origin)
		return false
	}
	return true
}
