package workflow

import "errors"

var (
	ErrInvalidStep       = errors.New("step not in workflow")
	ErrIllegalTransition = errors.New("illegal step transition")
	ErrStepIncomplete    = errors.New("current step data incomplete")
	ErrLineItemLimit     = errors.New("line item limit reached")
	ErrNoPendingItem     = errors.New("no pending line item")
	ErrPendingItem       = errors.New("pending line item must be resolved first")
	ErrNotLoopStep       = errors.New("workflow has no repeatable step")
	ErrNotVoiceStep      = errors.New("step does not accept voice input")
	ErrUnknownField      = errors.New("unknown draft field")
	ErrInvalidFieldValue = errors.New("invalid field value")
	ErrKindMismatch      = errors.New("snapshot kind does not match catalog")
)
