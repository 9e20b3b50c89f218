package workflow

import (
	"errors"
	"fmt"
)

// Error kinds returned by the workflow. Match them with errors.Is.
var (
	ErrWrongState             = errors.New("request is no longer pending this action")
	ErrWrongRole              = errors.New("actor lacks the role required for this stage")
	ErrMissingRemark          = errors.New("a remark is required")
	ErrConcurrentModification = errors.New("request was modified concurrently")
	ErrNotFound               = errors.New("request not found")
	ErrInvalidRequest         = errors.New("invalid request")
)

// TransitionError describes a refused or conflicting transition.
type TransitionError struct {
	Kind      error
	RequestID string
	Action    Action
	State     State
	Detail    string
}

func (e *TransitionError) Error() string {
	msg := e.Kind.Error()
	if e.Action != "" {
		msg = fmt.Sprintf("%s: %s", e.Action, msg)
	}
	if e.State != "" {
		msg = fmt.Sprintf("%s (state %s)", msg, e.State)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	return msg
}

func (e *TransitionError) Unwrap() error {
	return e.Kind
}

func wrongState(req *Request, action Action, detail string) error {
	return &TransitionError{Kind: ErrWrongState, RequestID: req.ID, Action: action, State: req.State, Detail: detail}
}

func wrongRole(req *Request, action Action, detail string) error {
	return &TransitionError{Kind: ErrWrongRole, RequestID: req.ID, Action: action, State: req.State, Detail: detail}
}

// MissingRemark reports a rejection without a remark.
func MissingRemark(requestID string) error {
	return &TransitionError{Kind: ErrMissingRemark, RequestID: requestID, Action: ActionReject}
}

// ConcurrentModification reports a lost compare-and-swap. observed is the
// state the store holds now, which may be empty when unknown.
func ConcurrentModification(requestID string, observed State) error {
	return &TransitionError{Kind: ErrConcurrentModification, RequestID: requestID, State: observed}
}

// NotFound reports an unknown request id.
func NotFound(requestID string) error {
	return &TransitionError{Kind: ErrNotFound, RequestID: requestID, Detail: requestID}
}

// InvalidRequest reports a malformed submission.
func InvalidRequest(detail string) error {
	return &TransitionError{Kind: ErrInvalidRequest, Detail: detail}
}

// Reason returns a short metric label for err's kind.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrWrongState):
		return "wrong_state"
	case errors.Is(err, ErrWrongRole):
		return "wrong_role"
	case errors.Is(err, ErrMissingRemark):
		return "missing_remark"
	case errors.Is(err, ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return "internal"
	}
}
