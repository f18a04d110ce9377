package flow

import (
	"fmt"

	apperrors "github.com/rabby-mobile/provider-core/pkg/errors"
)

// Stage is one step of a request's approval path
type Stage string

const (
	StageUnlock      Stage = "unlock"
	StageConnect     Stage = "connect"
	StageApproval    Stage = "approval"
	StageUIComponent Stage = "ui_component"
	StageDone        Stage = "done"
)

// stages records the path of one request and refuses to grow past max
type stages struct {
	max  int
	path []Stage
}

func (s *stages) enter(st Stage) error {
	if st != StageDone && len(s.path) >= s.max {
		return apperrors.Internal(fmt.Sprintf("approval stage limit %d exceeded at %s", s.max, st))
	}
	s.path = append(s.path, st)
	return nil
}
