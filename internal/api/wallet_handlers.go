package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rabby-mobile/provider-core/internal/flow"
	"github.com/rabby-mobile/provider-core/internal/keyring"
	"github.com/rabby-mobile/provider-core/internal/logger"
	"github.com/rabby-mobile/provider-core/internal/notification"
	"github.com/rabby-mobile/provider-core/internal/session"
	"github.com/rabby-mobile/provider-core/internal/txflow"
	"github.com/rabby-mobile/provider-core/internal/validation"
	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
	"github.com/rabby-mobile/provider-core/pkg/types"
)

const maxRevokeItems = 50

// RetryRequest resubmits the last failed transaction
type RetryRequest struct {
	Reason string `json:"reason,omitempty"`
}

// UnlockRequest unlocks the keyring
type UnlockRequest struct {
	Password string `json:"password"`
}

// RevokeRequest zeroes ERC-20 allowances for one account on one chain
type RevokeRequest struct {
	Address string            `json:"address"`
	ChainID int64             `json:"chainId"`
	Items   []flow.RevokeItem `json:"items"`
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	var req RetryRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, err)
		return
	}
	if req.Reason != "" {
		v := validation.New()
		v.OneOf("reason", req.Reason, []string{string(txflow.RetryNonce), string(txflow.RetryGasPrice)})
		if err := v.Err(); err != nil {
			writeError(w, err)
			return
		}
	}

	result, err := s.pipeline.Retry(r.Context(), txflow.RetryReason(req.Reason))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

// handleLock locks the keyring, rejects every queued approval and tells
// connected dapps their accounts are gone
func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.controller.Keyring().Lock()
	n := s.approvals.RejectAllApprovals(ctx)
	s.events.BroadcastAll(session.EventAccountsChanged, []string{})
	logger.Info(ctx, "wallet locked", "rejected_approvals", n)
	writeJSON(w, http.StatusOK, map[string]any{"locked": true, "rejected": n})
}

// handleUnlock unlocks the keyring. A pending Unlock approval is resolved
// so the dapp call that raised it continues.
func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req UnlockRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	v := validation.New()
	v.Required("password", req.Password)
	if err := v.Err(); err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	if err := s.controller.Keyring().Unlock(req.Password); err != nil {
		if errors.Is(err, keyring.ErrWrongPassword) {
			writeError(w, apperrors.Unauthorized(err.Error()))
			return
		}
		writeError(w, err)
		return
	}

	resumed := false
	if current := s.approvals.GetApproval(); current != nil && current.Data.ApprovalComponent == notification.ComponentUnlock {
		resumed = s.approvals.ResolveApproval(ctx, nil, false, current.ID)
	}
	logger.Info(ctx, "wallet unlocked", "resumed_approval", resumed)
	writeJSON(w, http.StatusOK, map[string]bool{"unlocked": true, "resumedApproval": resumed})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req RevokeRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	v := validation.New()
	v.EthereumAddress("address", req.Address)
	v.ChainID("chainId", req.ChainID)
	if len(req.Items) == 0 {
		v.AddError("items", "is required")
	}
	v.MaxItems("items", len(req.Items), maxRevokeItems)
	if err := v.Err(); err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	account, err := s.findAccount(r, req.Address)
	if err != nil {
		writeError(w, err)
		return
	}
	hashes, err := s.pipeline.RevokeApprovals(ctx, account, req.ChainID, req.Items)
	if err != nil {
		logger.Warn(ctx, "revoke stopped", "sent", len(hashes), "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"hashes": hashes})
}

func (s *Server) findAccount(r *http.Request, address string) (*types.Account, error) {
	accounts, err := s.controller.Keyring().Accounts(r.Context())
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if strings.EqualFold(accounts[i].Address, address) {
			return &accounts[i], nil
		}
	}
	return nil, apperrors.NewWithDetail(apperrors.ErrCodeNotFound, "account not found", "address: "+address,
		apperrors.RPCInvalidParams, http.StatusNotFound)
}

func (s *Server) handleListDapps(w http.ResponseWriter, r *http.Request) {
	dapps, err := s.dapps.ListDapps(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if dapps == nil {
		dapps = []types.DappSession{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"dapps": dapps})
}

func (s *Server) handleDisconnectDapp(w http.ResponseWriter, r *http.Request) {
	origin := strings.TrimSuffix(r.URL.Query().Get("origin"), "/")
	v := validation.New()
	v.Origin("origin", origin)
	if err := v.Err(); err != nil {
		writeError(w, err)
		return
	}
	if err := s.controller.Disconnect(r.Context(), origin); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
