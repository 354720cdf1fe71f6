// services/errors.go
package services

import (
	"errors"
	"fmt"

	"light-mint-service/models"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotFound        = errors.New("not found")
	ErrNoWallet        = errors.New("no wallet bound to account")
	ErrDailyCapReached = errors.New("daily mint cap reached")

	ErrAccountFrozen     = errors.New("account frozen")
	ErrAccountBanned     = errors.New("account banned")
	ErrWalletBlacklisted = errors.New("wallet blacklisted")
)

// ValidationError is a malformed or empty input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// CapacityError means the global epoch cap or the user's tier limit is used up.
type CapacityError struct {
	Scope     string // "global" or "user"
	Remaining int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s (%s remaining %d)", ErrDailyCapReached, e.Scope, e.Remaining)
}

func (e *CapacityError) Unwrap() error { return ErrDailyCapReached }

// StateConflictError is an operation that is not allowed from the current state.
type StateConflictError struct {
	ID      string
	Status  models.MintRequestStatus
	Message string
}

func (e *StateConflictError) Error() string {
	if e.Status == "" {
		return "conflict: " + e.Message
	}
	return fmt.Sprintf("conflict: request %s is %s: %s", e.ID, e.Status, e.Message)
}

func conflict(req *models.MintRequest, msg string) error {
	if req == nil {
		return &StateConflictError{Message: msg}
	}
	return &StateConflictError{ID: req.ID, Status: req.Status, Message: msg}
}

// ExternalDependencyError wraps a failed call to the relay, RPC node or scoring service.
type ExternalDependencyError struct {
	Service string
	Timeout bool
	Err     error
}

func (e *ExternalDependencyError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s timed out: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *ExternalDependencyError) Unwrap() error { return e.Err }

// FraudGateError is a gate denial. Reason is one of ErrAccountFrozen,
// ErrAccountBanned or ErrWalletBlacklisted.
type FraudGateError struct {
	UserID string
	Wallet string
	Reason error
}

func (e *FraudGateError) Error() string {
	return fmt.Sprintf("gate denied for %s: %v", e.UserID, e.Reason)
}

func (e *FraudGateError) Unwrap() error { return e.Reason }
