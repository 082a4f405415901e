package subscription

import (
	"errors"
	"fmt"
)

// Validation errors are returned before any mutation.
var (
	ErrNotFound          = errors.New("subscription: record not found")
	ErrAlreadyExists     = errors.New("subscription: record already exists")
	ErrTermsInactive     = errors.New("subscription: terms inactive")
	ErrAlreadyActive     = errors.New("subscription: agreement already active")
	ErrAgreementInactive = errors.New("subscription: agreement inactive")
	ErrTooEarly          = errors.New("subscription: payment not due")
	ErrStillActive       = errors.New("subscription: agreement still active")
	ErrInvalidParameter  = errors.New("subscription: invalid parameter")
	ErrUnauthorized      = errors.New("subscription: unauthorized signer")
	ErrProgramPaused     = errors.New("subscription: program paused")
	ErrNotInitialized    = errors.New("subscription: config not initialized")
)

// ErrIncompatibleRecord marks a stored record this build cannot decode. The
// record needs a migration, so it is a validation failure.
var ErrIncompatibleRecord = errors.New("subscription: incompatible record")

// Authorization errors are paired with a warning event.
var (
	ErrAllowanceExceeded = errors.New("subscription: allowance exceeded")
	ErrAuthorityMismatch = errors.New("subscription: authority mismatch")
	ErrInsufficientFunds = errors.New("subscription: insufficient funds")
)

// ErrArithmeticFault aborts the operation on overflow or underflow.
var ErrArithmeticFault = errors.New("subscription: arithmetic fault")

// InvalidParameter names the offending field. It matches ErrInvalidParameter
// under errors.Is.
type InvalidParameter struct {
	Field  string
	Reason string
}

func (e *InvalidParameter) Error() string {
	return fmt.Sprintf("subscription: invalid %s: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrInvalidParameter.
func (e *InvalidParameter) Is(target error) bool { return target == ErrInvalidParameter }

func invalidParam(field, reason string) error {
	return &InvalidParameter{Field: field, Reason: reason}
}

// Category groups errors for callers that branch on recoverability.
type Category string

const (
	CategoryNone           Category = ""
	CategoryValidation     Category = "validation"
	CategoryAuthorization  Category = "authorization"
	CategoryArithmetic     Category = "arithmetic"
	CategoryInfrastructure Category = "infrastructure"
)

// Classify returns the category of err. Anything the program does not own
// is infrastructure.
func Classify(err error) Category {
	switch {
	case err == nil:
		return CategoryNone
	case errors.Is(err, ErrAllowanceExceeded), errors.Is(err, ErrAuthorityMismatch),
		errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrUnauthorized):
		return CategoryAuthorization
	case errors.Is(err, ErrArithmeticFault):
		return CategoryArithmetic
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrTermsInactive),
		errors.Is(err, ErrAlreadyActive), errors.Is(err, ErrAgreementInactive), errors.Is(err, ErrTooEarly),
		errors.Is(err, ErrStillActive), errors.Is(err, ErrInvalidParameter), errors.Is(err, ErrProgramPaused),
		errors.Is(err, ErrNotInitialized), errors.Is(err, ErrIncompatibleRecord):
		return CategoryValidation
	default:
		return CategoryInfrastructure
	}
}

// Retryable reports whether the whole operation may be retried as-is.
func Retryable(err error) bool { return Classify(err) == CategoryInfrastructure }
