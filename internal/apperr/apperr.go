// Package apperr defines the error kinds surfaced by the reward services.
// Each kind maps to one caller-facing outcome (reject, retry later, alert an operator).
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation          Kind = "validation"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindProfileIncomplete   Kind = "profile_incomplete"
	KindConcurrentClaim     Kind = "concurrent_claim"
	KindState               Kind = "state"
	KindDailyCapExceeded    Kind = "daily_cap_exceeded"
	KindChain               Kind = "chain"
	KindLedgerInconsistency Kind = "ledger_inconsistency"
	KindNotFound            Kind = "not_found"
)

// Error carries a Kind, a message safe to show to the caller, and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels below, so errors.Is(err, apperr.ErrChain) works
// for any *Error of that kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrProfileIncomplete   = &Error{Kind: KindProfileIncomplete}
	ErrConcurrentClaim     = &Error{Kind: KindConcurrentClaim}
	ErrState               = &Error{Kind: KindState}
	ErrDailyCapExceeded    = &Error{Kind: KindDailyCapExceeded}
	ErrChain               = &Error{Kind: KindChain}
	ErrLedgerInconsistency = &Error{Kind: KindLedgerInconsistency}
	ErrNotFound            = &Error{Kind: KindNotFound}
)

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// MessageOf returns the caller-facing message of err, falling back to err.Error().
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
