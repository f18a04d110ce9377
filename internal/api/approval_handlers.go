package api

import (
	"encoding/json"
	"net/http"

	"github.com/rabby-mobile/provider-core/internal/notification"
	"github.com/rabby-mobile/provider-core/internal/validation"
	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
)

// CurrentApprovalResponse describes the approval the UI should render
type CurrentApprovalResponse struct {
	Approval   *notification.Approval `json:"approval"`
	Queued     int                    `json:"queued"`
	WindowID   string                 `json:"windowId,omitempty"`
	WindowOpen bool                   `json:"windowOpen"`
}

// ResolveApprovalRequest is the UI's answer to the current approval
type ResolveApprovalRequest struct {
	Data        json.RawMessage `json:"data,omitempty"`
	ForceReject bool            `json:"forceReject,omitempty"`
}

// RejectApprovalRequest rejects the current approval
type RejectApprovalRequest struct {
	Message    string `json:"message,omitempty"`
	Stay       bool   `json:"stay,omitempty"`
	IsInternal bool   `json:"isInternal,omitempty"`
}

func (s *Server) handleCurrentApproval(w http.ResponseWriter, _ *http.Request) {
	windowID, open := s.approvals.WindowState()
	writeJSON(w, http.StatusOK, CurrentApprovalResponse{
		Approval:   s.approvals.GetApproval(),
		Queued:     len(s.approvals.Approvals()),
		WindowID:   windowID,
		WindowOpen: open,
	})
}

func approvalID(r *http.Request) (string, error) {
	id := r.PathValue("id")
	v := validation.New()
	if v.Required("id", id) {
		v.UUID("id", id)
	}
	return id, v.Err()
}

func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	id, err := approvalID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req ResolveApprovalRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, err)
		return
	}
	if !s.approvals.ResolveApproval(r.Context(), req.Data, req.ForceReject, id) {
		writeError(w, apperrors.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"settled": true})
}

func (s *Server) handleRejectApproval(w http.ResponseWriter, r *http.Request) {
	id, err := approvalID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req RejectApprovalRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, err)
		return
	}
	if !s.approvals.RejectApproval(r.Context(), req.Message, req.Stay, req.IsInternal, id) {
		writeError(w, apperrors.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"settled": true})
}

func (s *Server) handleRejectAll(w http.ResponseWriter, r *http.Request) {
	n := s.approvals.RejectAllApprovals(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"rejected": n})
}

func (s *Server) handleBlockedHint(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"needDisplayBlocked": s.approvals.CheckNeedDisplayBlockedRequestApproval(),
	})
}

func (s *Server) handleBlockDapp(w http.ResponseWriter, _ *http.Request) {
	origin := s.approvals.BlockedDapp()
	if origin == "" {
		writeError(w, apperrors.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"origin": origin})
}
