package domain

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrAssetNotFound = errors.New("asset not found")
	ErrContextDone   = errors.New("context cancelled")

	// ErrReentrantSettlement is returned when buy or accept-bid is entered
	// again for a token whose settlement is still in flight, for example
	// from a transfer hook fired by an external registry mid-settlement.
	ErrReentrantSettlement = errors.New("re-entrant settlement call")

	// ErrSettlementIncomplete is returned when the ownership transfer fails
	// after the payment legs have already cleared. Against live registries
	// the payments cannot be unwound, so the trade is left partially
	// settled: funds moved, asset did not. Callers must surface this state
	// distinctly instead of retrying.
	ErrSettlementIncomplete = errors.New("settlement incomplete: payment cleared, ownership transfer failed")
)

// PolicyError reports a request blocked by marketplace policy: trading
// disabled, expiry window out of bounds, or a fee setting over its cap.
// Policy failures are final; resubmitting the same request will not help.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string {
	return "policy violation: " + e.Reason
}

// ErrPolicy builds a PolicyError with a formatted reason.
func ErrPolicy(format string, args ...any) error {
	return &PolicyError{Reason: fmt.Sprintf(format, args...)}
}

// ValidationError reports a listing or bid that is not currently
// exercisable against live external state: wrong owner, missing approval,
// insufficient allowance or balance, zero price, or lapsed expiry. The
// request is aborted with no side effects.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// ErrValidation builds a ValidationError with a formatted reason.
func ErrValidation(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// PriceMismatchError is returned by accept-bid when the stored bid price no
// longer matches the price the caller observed. It is distinct from
// ValidationError because it signals a race, not a stale record.
type PriceMismatchError struct {
	Expected *big.Int
	Actual   *big.Int
}

func (e *PriceMismatchError) Error() string {
	return fmt.Sprintf("bid price mismatch: expected %s, stored %s", e.Expected, e.Actual)
}
