package common

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")

	// ErrInvalidRegion means a normalized rectangle resolved to an empty or
	// out-of-bounds pixel rectangle.
	ErrInvalidRegion = errors.New("invalid region")
	// ErrLocalizationUnavailable means the AI localization service was
	// unreachable or returned unparsable content. Always recovered via the
	// fallback coordinate table, never surfaced as a pipeline failure.
	ErrLocalizationUnavailable = errors.New("localization service unavailable")
	// ErrQuotaExceeded means batch admission was rejected; no job was created.
	ErrQuotaExceeded = errors.New("tenant quota exceeded")
	// ErrRetriesExhausted is the terminal per-item failure; the job continues
	// for its other items.
	ErrRetriesExhausted = errors.New("item retries exhausted")
	// ErrJobCancelled means the job stopped admitting pending items.
	ErrJobCancelled = errors.New("job cancelled")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// gRPC error helpers
func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}

func NotFoundError(message string) error {
	return status.Error(codes.NotFound, message)
}

func InternalError(message string) error {
	return status.Error(codes.Internal, message)
}

func ResourceExhaustedError(message string) error {
	return status.Error(codes.ResourceExhausted, message)
}

func FailedPreconditionError(message string) error {
	return status.Error(codes.FailedPrecondition, message)
}

func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}

func InternalErrorf(format string, args ...interface{}) error {
	return InternalError(fmt.Sprintf(format, args...))
}
