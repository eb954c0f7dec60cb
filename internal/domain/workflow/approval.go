package workflow

import (
	"context"
	"errors"
	"fmt"
)

var (
	errNotFinalStep = errors.New("pending step is not the last step")
	errFinalStep    = errors.New("pending step is the last step")
)

// StepPosition locates the pending step inside an instance's step list.
type StepPosition struct {
	Pending int
	Last    int
}

// Valid reports whether Pending points at an existing step.
func (p StepPosition) Valid() bool {
	return p.Last >= 1 && p.Pending >= 1 && p.Pending <= p.Last
}

// NewApprovalMachine builds the approval lifecycle positioned at the given state.
//
//	IN_PROGRESS --APPROVE [last step]--> APPROVED
//	IN_PROGRESS --APPROVE [more steps]--> IN_PROGRESS
//	IN_PROGRESS --REJECT--> REJECTED
//
// APPROVED and REJECTED accept no triggers.
func NewApprovalMachine(current State, pos StepPosition) StateMachine {
	isLast := func(ctx context.Context) error {
		if !pos.Valid() {
			return fmt.Errorf("pending step %d outside 1..%d", pos.Pending, pos.Last)
		}
		if pos.Pending != pos.Last {
			return errNotFinalStep
		}
		return nil
	}
	hasNext := func(ctx context.Context) error {
		if !pos.Valid() {
			return fmt.Errorf("pending step %d outside 1..%d", pos.Pending, pos.Last)
		}
		if pos.Pending == pos.Last {
			return errFinalStep
		}
		return nil
	}

	b := NewBuilder()
	b.Configure(StateInProgress).
		PermitIf(TriggerApprove, StateApproved, isLast).
		PermitIf(TriggerApprove, StateInProgress, hasNext).
		Permit(TriggerReject, StateRejected)
	b.Configure(StateApproved)
	b.Configure(StateRejected)

	return b.Build(current)
}
