// Package domain defines the core domain types for colo.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a replication error with a structured error code.
//
// Codes have the form CO-<AREA>-<NNNN>. Two DomainErrors compare equal under
// errors.Is when their codes match, so sentinels below can be matched after
// WithDetails/WithCause.
type DomainError struct {
	Code    string // Error code (e.g., "CO-CHAN-5031")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps an error with this domain error as the cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return e.WithCause(cause)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Protocol Errors (PROT, CHAN, BUFF)
// ============================================================================

var (
	// ErrProtocolViolation indicates a sync opcode other than the single
	// legal one was read. Ordering guarantees no longer hold.
	ErrProtocolViolation = NewDomainError("CO-PROT-5001", "protocol violation")

	// ErrChannel indicates an I/O failure on the control channel.
	ErrChannel = NewDomainError("CO-CHAN-5031", "control channel failure")

	// ErrBufferOverrun indicates the received payload size differs from the
	// declared length.
	ErrBufferOverrun = NewDomainError("CO-BUFF-4131", "checkpoint payload size mismatch")
)

// ============================================================================
// Collaborator Errors (SNAP, ORCL, STOR)
// ============================================================================

var (
	// ErrSnapshotApply indicates the snapshot could not be applied to the
	// secondary workload.
	ErrSnapshotApply = NewDomainError("CO-SNAP-5002", "snapshot apply failed")

	// ErrSnapshotCapture indicates the primary workload state could not be
	// captured.
	ErrSnapshotCapture = NewDomainError("CO-SNAP-5003", "snapshot capture failed")

	// ErrOracle indicates the packet consistency oracle failed.
	ErrOracle = NewDomainError("CO-ORCL-5032", "consistency oracle failure")

	// ErrStorageReplication indicates a storage replication step failed.
	ErrStorageReplication = NewDomainError("CO-STOR-5033", "storage replication failure")

	// ErrExecutionControl indicates the workload could not be stopped or started.
	ErrExecutionControl = NewDomainError("CO-EXEC-5004", "execution control failure")
)

// ============================================================================
// Session Errors (SESS, FAIL)
// ============================================================================

var (
	// ErrFailoverRequested indicates a transaction was aborted at a poll
	// point because failover has been requested.
	ErrFailoverRequested = NewDomainError("CO-FAIL-4090", "failover requested")

	// ErrSessionClosed indicates the control channel was closed locally.
	ErrSessionClosed = NewDomainError("CO-SESS-4100", "session closed")

	// ErrReplicaInactive indicates a write reached a secondary whose workload
	// is a replica and not the active instance.
	ErrReplicaInactive = NewDomainError("CO-SESS-4091", "replica is not active")

	// ErrTerminated indicates the terminal action was invoked.
	ErrTerminated = NewDomainError("CO-SESS-5000", "session terminated")

	// ErrInvalidRole indicates a role outside {primary, secondary}.
	ErrInvalidRole = NewDomainError("CO-ARG-1001", "invalid role")

	// ErrInvalidConfig indicates configuration that cannot run a session.
	ErrInvalidConfig = NewDomainError("CO-ARG-1002", "invalid configuration")
)
