package spreadsheet

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppErrorCode represents gRPC-style error codes for application-level errors.
// note that we only use the codes that make sense for a calculation kernel,
// there is no unauthenticated or permission denied here.
type AppErrorCode = codes.Code

const (
	// OK indicates the operation completed successfully.
	OK AppErrorCode = codes.OK

	// Unknown error. Errors raised by collaborators that do not return enough
	// error information may be converted to this error.
	Unknown AppErrorCode = codes.Unknown

	// InvalidArgument indicates client specified an invalid argument, like a
	// malformed address or a style value of the wrong type.
	InvalidArgument AppErrorCode = codes.InvalidArgument

	// NotFound means some requested entity was not found.
	NotFound AppErrorCode = codes.NotFound

	// FailedPrecondition indicates operation was rejected because the
	// system is not in a state required for the operation's execution.
	FailedPrecondition AppErrorCode = codes.FailedPrecondition

	// OutOfRange means operation was attempted past the valid grid.
	OutOfRange AppErrorCode = codes.OutOfRange

	// Internal errors. Means some invariants expected by underlying
	// system has been broken, or a store failed to persist a write.
	Internal AppErrorCode = codes.Internal
)

// AppError represents errors at the application level (not
// spreadsheet formula errors)
type AppError struct {
	Code    AppErrorCode
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

// GRPCStatus lets service layers hand an AppError straight back to a gRPC
// caller.
func (e *AppError) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Message)
}

// NewApplicationError creates a new application error
func NewApplicationError(code AppErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// ErrInvalidReference is matched by every *ReferenceError.
var ErrInvalidReference = errors.New("invalid reference")

// ErrCircularReference is returned by the dependency graph when a write
// would close a cycle.
var ErrCircularReference = errors.New("circular reference")

// ReferenceError reports a malformed cell or range address.
type ReferenceError struct {
	Input  string
	Reason string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("invalid reference %q: %s", e.Input, e.Reason)
}

func (e *ReferenceError) Is(target error) bool {
	return target == ErrInvalidReference
}

// SyntaxError reports a formula that could not be parsed. Start and Stop are
// byte offsets of the offending token, Stop is exclusive.
type SyntaxError struct {
	Start   int
	Stop    int
	Token   string
	Message string
}

func (e *SyntaxError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("syntax error at %d: %s", e.Start, e.Message)
	}
	return fmt.Sprintf("syntax error at %d-%d near %q: %s", e.Start, e.Stop, e.Token, e.Message)
}

// invalidArgument wraps a codec error into the application error the facade
// returns for bad addresses.
func invalidArgument(err error) *AppError {
	return NewApplicationError(InvalidArgument, err.Error())
}
