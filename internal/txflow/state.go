// Package txflow builds, signs, submits and retries wallet transactions.
package txflow

import (
	"fmt"
)

// Phase is the lifecycle position of a transaction
type Phase int

const (
	Unsigned Phase = iota
	Signed
	Submitted
	Confirmed
	Failed
	Replaced
	Dropped
)

func (p Phase) String() string {
	switch p {
	case Unsigned:
		return "unsigned"
	case Signed:
		return "signed"
	case Submitted:
		return "submitted"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	case Replaced:
		return "replaced"
	case Dropped:
		return "dropped"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// State is a transaction phase plus the data that phase carries.
// Hash or ReqID is set from Submitted on; Reason only for Failed.
type State struct {
	Phase  Phase
	Hash   string
	ReqID  string
	Reason string
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	switch s.Phase {
	case Confirmed, Failed, Replaced, Dropped:
		return true
	}
	return false
}

func invalid(s State, to Phase) error {
	return fmt.Errorf("invalid tx transition %s -> %s", s.Phase, to)
}

// Sign moves an unsigned tx to signed
func Sign(s State) (State, error) {
	if s.Phase != Unsigned {
		return s, invalid(s, Signed)
	}
	return State{Phase: Signed}, nil
}

// Submit moves a signed tx to submitted. Either a hash or a relay request id is required.
func Submit(s State, hash, reqID string) (State, error) {
	if s.Phase != Signed {
		return s, invalid(s, Submitted)
	}
	if hash == "" && reqID == "" {
		return s, fmt.Errorf("submitted tx needs a hash or request id")
	}
	return State{Phase: Submitted, Hash: hash, ReqID: reqID}, nil
}

// AttachHash records the hash a relay assigned after submission
func AttachHash(s State, hash string) (State, error) {
	if s.Phase != Submitted {
		return s, fmt.Errorf("cannot attach hash in phase %s", s.Phase)
	}
	s.Hash = hash
	return s, nil
}

// Confirm marks a submitted tx as mined
func Confirm(s State) (State, error) {
	if s.Phase != Submitted {
		return s, invalid(s, Confirmed)
	}
	return State{Phase: Confirmed, Hash: s.Hash, ReqID: s.ReqID}, nil
}

// Replace marks a submitted tx as superseded by another tx at the same nonce
func Replace(s State) (State, error) {
	if s.Phase != Submitted {
		return s, invalid(s, Replaced)
	}
	return State{Phase: Replaced, Hash: s.Hash, ReqID: s.ReqID}, nil
}

// Drop marks a submitted tx as evicted without being mined
func Drop(s State) (State, error) {
	if s.Phase != Submitted {
		return s, invalid(s, Dropped)
	}
	return State{Phase: Dropped, Hash: s.Hash, ReqID: s.ReqID}, nil
}

// Fail ends a non-terminal tx with reason
func Fail(s State, reason string) (State, error) {
	if s.Terminal() {
		return s, invalid(s, Failed)
	}
	return State{Phase: Failed, Hash: s.Hash, ReqID: s.ReqID, Reason: reason}, nil
}
