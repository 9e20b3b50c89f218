package handler

import (
	stderrors "errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/pesio-ai/be-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-approvals/internal/workflow"
)

// errorClass is the transport-neutral classification of an error.
type errorClass struct {
	status    int
	code      codes.Code
	name      string
	retryable bool
}

func classify(err error) errorClass {
	switch {
	case stderrors.Is(err, workflow.ErrWrongState):
		return errorClass{http.StatusConflict, codes.FailedPrecondition, "WRONG_STATE", false}
	case stderrors.Is(err, workflow.ErrWrongRole):
		return errorClass{http.StatusForbidden, codes.PermissionDenied, "WRONG_ROLE", false}
	case stderrors.Is(err, workflow.ErrMissingRemark):
		return errorClass{http.StatusBadRequest, codes.InvalidArgument, "MISSING_REMARK", false}
	case stderrors.Is(err, workflow.ErrInvalidRequest):
		return errorClass{http.StatusBadRequest, codes.InvalidArgument, "INVALID_REQUEST", false}
	case stderrors.Is(err, workflow.ErrConcurrentModification):
		return errorClass{http.StatusConflict, codes.Aborted, "CONCURRENT_MODIFICATION", true}
	case stderrors.Is(err, workflow.ErrNotFound):
		return errorClass{http.StatusNotFound, codes.NotFound, "NOT_FOUND", false}
	}

	code := errors.CodeOf(err)
	class := errorClass{status: errors.HTTPStatus(code), name: string(code)}
	switch code {
	case errors.ErrCodeNotFound:
		class.code = codes.NotFound
	case errors.ErrCodeInvalidInput:
		class.code = codes.InvalidArgument
	case errors.ErrCodeConflict:
		class.code = codes.Aborted
	case errors.ErrCodeUnauthorized:
		class.code = codes.Unauthenticated
	case errors.ErrCodeForbidden:
		class.code = codes.PermissionDenied
	case errors.ErrCodeUnavailable:
		class.code = codes.Unavailable
		class.retryable = true
	default:
		class.code = codes.Internal
	}
	return class
}
