package models

import "fmt"

const (
	BadRequestErrorCode       = 400
	UnauthorizedErrorCode     = 401
	NotFoundErrorCode         = 404
	ConflictErrorCode         = 409
	WalletRequiredErrorCode   = 428
	InternalServerErrorCode   = 500
	UpstreamFailureErrorCode  = 502
)

// AppError is a user-visible failure with an HTTP-aligned code.
// Codes above 500 are masked at the HTTP boundary.
type AppError struct {
	Code    int
	Message string
}

func (e *AppError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("error %d", e.Code)
	}
	return e.Message
}

func NewAppError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// NewValidationError marks a local, synchronous input failure. It is never
// retried and renders inline next to the offending control.
func NewValidationError(message string) *AppError {
	return NewAppError(BadRequestErrorCode, message)
}

// NewPreconditionError marks an orthogonal blocking requirement, e.g. no
// wallet connected. Rendered as a modal, not a field error.
func NewPreconditionError(message string) *AppError {
	return NewAppError(WalletRequiredErrorCode, message)
}

// NewBusyError rejects a second invocation of an action class while one is
// still in flight.
func NewBusyError(action string) *AppError {
	return NewAppError(ConflictErrorCode, action+" already in progress")
}

// NewNetworkError surfaces an RPC or gateway failure with the underlying
// message appended for diagnosability.
func NewNetworkError(context string, err error) *AppError {
	return NewAppError(UpstreamFailureErrorCode, fmt.Sprintf("%s: %s", context, err.Error()))
}
