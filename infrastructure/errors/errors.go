// Package errors provides the unified error taxonomy used across the
// interceptor runtime and entity store: a structured ServiceError carrying
// one of a small set of error kinds, plus constructors and inspection
// helpers in the same calling convention the rest of the codebase uses.
package errors

import (
	"errors"
	"fmt"
)

// Kind is a coarse error classification, not a type name. Interceptors and
// the entity store branch on Kind rather than on concrete error types.
type Kind string

const (
	KindInvalidArgument           Kind = "InvalidArgument"
	KindValidationFailure         Kind = "ValidationFailure"
	KindTimeout                   Kind = "Timeout"
	KindCircuitOpen               Kind = "CircuitOpen"
	KindRateLimitExceeded         Kind = "RateLimitExceeded"
	KindRetryExhausted            Kind = "RetryExhausted"
	KindTransactionRollback       Kind = "TransactionRollback"
	KindTransactionParticipantAbort Kind = "TransactionParticipantAbort"
	KindCacheMiss                 Kind = "CacheMiss"
	KindSerialization             Kind = "Serialization"
	KindConcurrencyConflict       Kind = "ConcurrencyConflict"
	KindUnavailable               Kind = "Unavailable"
	KindWrappedApplicationError   Kind = "WrappedApplicationError"
	KindInternal                  Kind = "Internal"
)

// ServiceError is a structured error carrying a Kind, a human message, and
// an optional wrapped cause.
type ServiceError struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a key/value pair of diagnostic context to the error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a ServiceError with no wrapped cause.
func New(kind Kind, message string) *ServiceError {
	return &ServiceError{Kind: kind, Message: message}
}

// Wrap creates a ServiceError around an existing error.
func Wrap(kind Kind, message string, err error) *ServiceError {
	return &ServiceError{Kind: kind, Message: message, Err: err}
}

// InvalidArgument reports a precondition failure on a call argument.
func InvalidArgument(field, reason string) *ServiceError {
	return New(KindInvalidArgument, "invalid argument").
		WithDetails("field", field).
		WithDetails("reason", reason)
}

// ValidationFailure reports a @ValidInput failure.
func ValidationFailure(field, message string) *ServiceError {
	return New(KindValidationFailure, message).WithDetails("field", field)
}

// Timeout reports an operation that exceeded its deadline.
func Timeout(operation string) *ServiceError {
	return New(KindTimeout, "operation timed out").WithDetails("operation", operation)
}

// CircuitOpen reports a rejected call because the named breaker is open.
func CircuitOpen(breaker string) *ServiceError {
	return New(KindCircuitOpen, "circuit breaker is open").WithDetails("breaker", breaker)
}

// RateLimitExceeded reports a rejected call over its configured limit.
func RateLimitExceeded(limit int, period string) *ServiceError {
	return New(KindRateLimitExceeded, "rate limit exceeded").
		WithDetails("limit", limit).
		WithDetails("period", period)
}

// RetryExhausted reports that all retry attempts failed.
func RetryExhausted(attempts int, cause error) *ServiceError {
	return Wrap(KindRetryExhausted, "retry attempts exhausted", cause).
		WithDetails("attempts", attempts)
}

// TransactionRollback reports a coordinator-driven rollback.
func TransactionRollback(txID string, cause error) *ServiceError {
	return Wrap(KindTransactionRollback, "transaction rolled back", cause).
		WithDetails("txId", txID)
}

// TransactionParticipantAbort reports a participant vote of Abort.
func TransactionParticipantAbort(txID, participant string) *ServiceError {
	return New(KindTransactionParticipantAbort, "participant voted abort").
		WithDetails("txId", txID).
		WithDetails("participant", participant)
}

// CacheMiss is informational: the requested key was not present.
func CacheMiss(key string) *ServiceError {
	return New(KindCacheMiss, "cache miss").WithDetails("key", key)
}

// Serialization reports a marshal/unmarshal failure.
func Serialization(operation string, err error) *ServiceError {
	return Wrap(KindSerialization, "serialization failed", err).WithDetails("operation", operation)
}

// ConcurrencyConflict reports a version/CAS mismatch.
func ConcurrencyConflict(resource string) *ServiceError {
	return New(KindConcurrencyConflict, "concurrent modification detected").WithDetails("resource", resource)
}

// Unavailable reports a downstream dependency that cannot currently serve requests.
func Unavailable(dependency string, err error) *ServiceError {
	return Wrap(KindUnavailable, "dependency unavailable", err).WithDetails("dependency", dependency)
}

// WrapApplicationError implements the exception-wrapper interceptor's
// substitution contract ({method}, {args}, {original}).
func WrapApplicationError(message string, original error) *ServiceError {
	return Wrap(KindWrappedApplicationError, message, original)
}

// Internal reports an unexpected internal failure.
func Internal(message string, err error) *ServiceError {
	return Wrap(KindInternal, message, err)
}

// IsServiceError reports whether err is (or wraps) a *ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// As extracts a *ServiceError from an error chain, if present.
func As(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// KindOf returns the Kind of err if it is a *ServiceError, else KindInternal.
func KindOf(err error) Kind {
	if serviceErr := As(err); serviceErr != nil {
		return serviceErr.Kind
	}
	return KindInternal
}

// Is reports whether err is a *ServiceError of the given kind.
func Is(err error, kind Kind) bool {
	serviceErr := As(err)
	return serviceErr != nil && serviceErr.Kind == kind
}

// HTTPStatus maps a Kind to the HTTP status code an API boundary should
// respond with when a handler surfaces this error directly.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidArgument, KindValidationFailure:
		return 400
	case KindTimeout:
		return 504
	case KindCircuitOpen, KindRateLimitExceeded, KindUnavailable:
		return 503
	case KindConcurrencyConflict:
		return 409
	case KindCacheMiss:
		return 404
	default:
		return 500
	}
}
