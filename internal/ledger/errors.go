package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind groups errors by how a caller should react to them.
type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindConflict
	KindInsufficientFunds
	KindInsufficientCredit
	KindInsufficientCollateral
	KindLimitExceeded
	KindState
	KindProvisioning
)

var kindNames = [...]string{
	KindInternal:               "internal",
	KindValidation:             "validation",
	KindNotFound:               "not_found",
	KindForbidden:              "forbidden",
	KindConflict:               "conflict",
	KindInsufficientFunds:      "insufficient_funds",
	KindInsufficientCredit:     "insufficient_credit",
	KindInsufficientCollateral: "insufficient_collateral",
	KindLimitExceeded:          "limit_exceeded",
	KindState:                  "state",
	KindProvisioning:           "provisioning",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Error is a classified business error. Two errors are the same (errors.Is)
// when their codes match, so sentinels can be refined with a message or a
// shortfall without breaking comparisons.
type Error struct {
	Kind    Kind
	Code    string
	Message string

	// Shortfall details, set on insufficient funds/credit/collateral.
	Required  decimal.Decimal
	Available decimal.Decimal
	Shortfall bool
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Withf returns a copy of e with a formatted message.
func (e *Error) Withf(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Short returns a copy of e carrying the amount that was required and the
// amount that was available.
func (e *Error) Short(required, available decimal.Decimal) *Error {
	cp := *e
	cp.Required = required
	cp.Available = available
	cp.Shortfall = true
	cp.Message = fmt.Sprintf("%s: required %s, available %s", e.Message, required.StringFixed(2), available.StringFixed(2))
	return &cp
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrInvalidAmount      = newError(KindValidation, "invalid_amount", "amount must be greater than zero")
	ErrBelowMinimum       = newError(KindValidation, "below_minimum", "amount is below the minimum")
	ErrInvalidRange       = newError(KindValidation, "invalid_range", "value out of range")
	ErrInvalidFormat      = newError(KindValidation, "invalid_format", "invalid format")
	ErrInvalidMotive      = newError(KindValidation, "invalid_motive", "invalid transfer motive")
	ErrMissingDestination = newError(KindValidation, "missing_destination", "destination cvu or alias is required")
	ErrSelfTransfer       = newError(KindValidation, "self_transfer", "cannot transfer to your own account")
	ErrInvalidCVU         = newError(KindValidation, "invalid_cvu", "cvu must have 22 digits")

	ErrNotFound  = newError(KindNotFound, "not_found", "not found")
	ErrForbidden = newError(KindForbidden, "forbidden", "resource belongs to another user")
	ErrConflict  = newError(KindConflict, "conflict", "already exists")

	ErrInsufficientFunds      = newError(KindInsufficientFunds, "insufficient_funds", "insufficient funds")
	ErrInsufficientCredit     = newError(KindInsufficientCredit, "insufficient_credit", "insufficient credit")
	ErrInsufficientCollateral = newError(KindInsufficientCollateral, "insufficient_collateral", "insufficient collateral")

	ErrDailyLimitExceeded   = newError(KindLimitExceeded, "daily_limit_exceeded", "daily transfer limit exceeded")
	ErrMonthlyLimitExceeded = newError(KindLimitExceeded, "monthly_limit_exceeded", "monthly transfer limit exceeded")
	ErrAliasChangeLimit     = newError(KindLimitExceeded, "alias_change_limit", "alias can be changed at most 3 times per year")

	ErrHasActiveFinancing = newError(KindState, "has_active_financing", "investment backs an active financing")
	ErrAlreadyPaid        = newError(KindState, "already_paid", "installment already paid")
	ErrInactiveAccount    = newError(KindState, "inactive_account", "account is not active")
	ErrInvalidState       = newError(KindState, "invalid_state", "operation not allowed in the current state")

	ErrProvisioning = newError(KindProvisioning, "provisioning_failed", "could not provision account")
)

// KindOf classifies err. Errors that are not *Error are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// AsError extracts the classified error from a chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
