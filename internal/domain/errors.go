package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
// Implementing this interface enables extensible error handling (OCP compliance).
type HTTPError interface {
	error
	StatusCode() int
}

// Domain error types implementing HTTPError interface
type (
	// NotFoundError indicates a resource was not found
	NotFoundError struct {
		Message string
	}

	// ValidationError indicates invalid input
	ValidationError struct {
		Message string
	}
)

// Error implementations
func (e *NotFoundError) Error() string   { return e.Message }
func (e *ValidationError) Error() string { return e.Message }

// StatusCode implementations (HTTPError interface)
func (e *NotFoundError) StatusCode() int   { return http.StatusNotFound }
func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("already exists")
	ErrValidation = errors.New("validation failed")

	// ErrTurnBusy matches any BusyError: the campaign/actor slot is held
	// by a live lease (or the campaign does not exist at claim time).
	ErrTurnBusy = errors.New("turn busy")

	// ErrStaleClaim matches any StaleClaimError: the claim token or the
	// observed row version is no longer current.
	ErrStaleClaim = errors.New("stale claim")
)

// ConflictError represents a resource conflict with details about the existing resource
// Implements HTTPError interface for extensible error handling
type ConflictError struct {
	Message      string // Human-readable error message
	ResourceType string // Type of resource (campaign, session, timer)
	ResourceID   string // ID of the existing/conflicting resource
}

// Error implements the error interface
func (e *ConflictError) Error() string {
	return e.Message
}

// StatusCode implements the HTTPError interface
func (e *ConflictError) StatusCode() int {
	return http.StatusConflict
}

// Is allows errors.Is() to match against ErrConflict
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// BusyError aborts a resolve attempt before any work is done. Reasons:
// "campaign_not_found", "turn_inflight". Never retried by the engine.
type BusyError struct {
	Reason string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("turn busy: %s", e.Reason)
}

// Is allows errors.Is() to match against ErrTurnBusy
func (e *BusyError) Is(target error) bool {
	return target == ErrTurnBusy
}

// StaleClaimError aborts Phase C when the world moved under the claim.
// Reasons: "claim_invalid", "missing_campaign_or_player",
// "row_version_changed", "cas_failed". Retried with a fresh token up to
// the engine's retry budget.
type StaleClaimError struct {
	Reason string
}

func (e *StaleClaimError) Error() string {
	return fmt.Sprintf("stale claim: %s", e.Reason)
}

// Is allows errors.Is() to match against ErrStaleClaim
func (e *StaleClaimError) Is(target error) bool {
	return target == ErrStaleClaim
}
