// Package errors provides unified error handling for the fightcore
// pipeline, following the error-kind policy laid out for each component.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code.
type ErrorCode string

const (
	// Ingress errors (1xxx) — rejected before entering the pipeline.
	ErrCodeMalformedInput ErrorCode = "INGRESS_1001"
	ErrCodeUnknownKind    ErrorCode = "INGRESS_1002"

	// Pipeline errors (2xxx) — non-fatal admission outcomes.
	ErrCodeDuplicateEvent   ErrorCode = "PIPE_2001"
	ErrCodeConfidenceReject ErrorCode = "PIPE_2002"

	// Routing errors (3xxx)
	ErrCodeNoWorkerAvailable ErrorCode = "ROUTE_3001"
	ErrCodeWorkerTimeout     ErrorCode = "ROUTE_3002"
	ErrCodeWorkerRPC         ErrorCode = "ROUTE_3003"

	// Scoring errors (4xxx) — fatal, the round verdict is withheld.
	ErrCodeScoringInvariant ErrorCode = "SCORE_4001"

	// Audit errors (5xxx)
	ErrCodeAuditChainBroken ErrorCode = "AUDIT_5001"
	ErrCodeAuditAppend      ErrorCode = "AUDIT_5002"

	// Infrastructure errors (6xxx)
	ErrCodeCacheUnavailable ErrorCode = "INFRA_6001"
	ErrCodeCircuitOpen      ErrorCode = "INFRA_6002"
	ErrCodeTransportFailure ErrorCode = "INFRA_6003"
	ErrCodeConfigInvalid    ErrorCode = "INFRA_6004"

	// Storage errors (7xxx)
	ErrCodeNotFound      ErrorCode = "STORE_7001"
	ErrCodeAlreadyExists ErrorCode = "STORE_7002"
)

// ServiceError is a structured error carrying a stable code, a
// human-readable message, optional details, and an optional wrapped cause.
type ServiceError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Fatal   bool                   `json:"fatal"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error and returns it for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new non-fatal ServiceError.
func New(code ErrorCode, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message}
}

// Wrap wraps an existing error with a ServiceError.
func Wrap(code ErrorCode, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, Err: err}
}

// AsFatal marks the error as fatal to its operation (e.g. a withheld verdict).
func (e *ServiceError) AsFatal() *ServiceError {
	e.Fatal = true
	return e
}

// MalformedInput rejects ingress input missing a required field or with an
// out-of-range value. The event never enters the pipeline and is never audited.
func MalformedInput(field, reason string) *ServiceError {
	return New(ErrCodeMalformedInput, "malformed input").
		WithDetails("field", field).
		WithDetails("reason", reason)
}

// UnknownKind reports a combat-event kind the classifier does not recognise.
// The caller maps it to a best-effort slug and scores it at base value 0;
// this is not a rejection.
func UnknownKind(raw string) *ServiceError {
	return New(ErrCodeUnknownKind, "unknown event kind").WithDetails("raw_kind", raw)
}

// NoWorkerAvailable reports that the worker manager had no healthy or
// degraded worker to route a frame to. The frame is dropped, never raised to callers as a
// hard failure.
func NoWorkerAvailable(feedID string) *ServiceError {
	return New(ErrCodeNoWorkerAvailable, "no worker available").WithDetails("feed_id", feedID)
}

// WorkerTimeout reports an RPC that did not complete before the worker's
// deadline.
func WorkerTimeout(workerID string, err error) *ServiceError {
	return Wrap(ErrCodeWorkerTimeout, "worker timeout", err).WithDetails("worker_id", workerID)
}

// WorkerRPC reports a transport-level failure talking to a worker.
func WorkerRPC(workerID string, err error) *ServiceError {
	return Wrap(ErrCodeWorkerRPC, "worker rpc failed", err).WithDetails("worker_id", workerID)
}

// ScoringInvariant reports a broken scoring invariant (e.g. final points not
// equal to base times the product of multipliers). It is always fatal: the
// round verdict is withheld and the bout is marked degraded.
func ScoringInvariant(reason string) *ServiceError {
	return New(ErrCodeScoringInvariant, "scoring invariant violated").
		WithDetails("reason", reason).
		AsFatal()
}

// AuditChainBroken reports the first bad sequence number found while
// verifying a hash chain. Fatal for the verify operation, not the live pipeline.
func AuditChainBroken(sequence uint64, expectedHash, actualHash string) *ServiceError {
	return New(ErrCodeAuditChainBroken, "audit chain verification failed").
		WithDetails("sequence", sequence).
		WithDetails("expected_hash", expectedHash).
		WithDetails("actual_hash", actualHash).
		AsFatal()
}

// AuditAppend reports a failure writing an audit record to its sink.
func AuditAppend(err error) *ServiceError {
	return Wrap(ErrCodeAuditAppend, "audit append failed", err)
}

// CacheUnavailable reports a cache backend that could not be reached.
func CacheUnavailable(backend string, err error) *ServiceError {
	return Wrap(ErrCodeCacheUnavailable, "cache unavailable", err).WithDetails("backend", backend)
}

// CircuitOpen reports that a downstream dependency's circuit breaker is open.
func CircuitOpen(dependency string) *ServiceError {
	return New(ErrCodeCircuitOpen, "circuit open").WithDetails("dependency", dependency)
}

// TransportFailure reports a failure in an external transport (websocket, etc).
func TransportFailure(transport string, err error) *ServiceError {
	return Wrap(ErrCodeTransportFailure, "transport failure", err).WithDetails("transport", transport)
}

// ConfigInvalid reports a configuration value that failed validation at load time.
func ConfigInvalid(key, reason string) *ServiceError {
	return New(ErrCodeConfigInvalid, "invalid configuration").
		WithDetails("key", key).
		WithDetails("reason", reason)
}

// NotFound reports that a lookup by id found nothing in the given store.
func NotFound(store, id string) *ServiceError {
	return New(ErrCodeNotFound, "not found").
		WithDetails("store", store).
		WithDetails("id", id)
}

// AlreadyExists reports an attempt to create a record whose id collides
// with one already held by the given store.
func AlreadyExists(store, id string) *ServiceError {
	return New(ErrCodeAlreadyExists, "already exists").
		WithDetails("store", store).
		WithDetails("id", id)
}

// IsServiceError reports whether err is, or wraps, a ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// As extracts a ServiceError from an error chain, if present.
func As(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// IsFatal reports whether err is a ServiceError marked fatal.
func IsFatal(err error) bool {
	if se := As(err); se != nil {
		return se.Fatal
	}
	return false
}
