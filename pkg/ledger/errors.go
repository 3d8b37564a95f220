package ledger

import (
	"errors"
	"fmt"
)

// Error classes returned by the ledger. Callers match them with errors.Is.
var (
	ErrValidation             = errors.New("validation error")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("concurrent modification")
	ErrConstraintViolation    = errors.New("constraint violation")
	ErrPartnerUnavailable     = errors.New("issuing partner unavailable")
	ErrPartnerRejected        = errors.New("issuing partner rejected request")
	ErrTemporarilyUnavailable = errors.New("temporarily unavailable")
	ErrInvalidServiceConfig   = errors.New("invalid service config")
)

// Validation failures. Each wraps ErrValidation.
var (
	ErrInvalidCardID           = fmt.Errorf("%w: invalid card id", ErrValidation)
	ErrInvalidUserID           = fmt.Errorf("%w: invalid user id", ErrValidation)
	ErrInvalidOperatorID       = fmt.Errorf("%w: invalid operator id", ErrValidation)
	ErrInvalidIdempotencyKey   = fmt.Errorf("%w: invalid idempotency key", ErrValidation)
	ErrInvalidAmount           = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrInvalidCardType         = fmt.Errorf("%w: invalid card type", ErrValidation)
	ErrInvalidCardStatus       = fmt.Errorf("%w: invalid card status", ErrValidation)
	ErrInvalidLimit            = fmt.Errorf("%w: invalid limit", ErrValidation)
	ErrMissingMonthlyLimit     = fmt.Errorf("%w: monthly limit is required", ErrValidation)
	ErrInvalidCategory         = fmt.Errorf("%w: invalid merchant category", ErrValidation)
	ErrInvalidTier             = fmt.Errorf("%w: invalid tier", ErrValidation)
	ErrInvalidPaymentType      = fmt.Errorf("%w: invalid payment type", ErrValidation)
	ErrInvalidVerification     = fmt.Errorf("%w: invalid verification status", ErrValidation)
	ErrInvalidAction           = fmt.Errorf("%w: invalid card action", ErrValidation)
	ErrInvalidTransition       = fmt.Errorf("%w: invalid status transition", ErrValidation)
	ErrRewardsNotSupported     = fmt.Errorf("%w: rewards require a loyalty card", ErrValidation)
	ErrIdempotencyKeyReuse     = fmt.Errorf("%w: idempotency key reused with a different request", ErrValidation)
	ErrDuplicateIdempotencyKey = fmt.Errorf("%w: duplicate idempotency key", ErrConflict)
)

// Decline sentinels mirror DeclineReason values for callers that prefer errors.Is.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrLimitExceeded     = errors.New("limit exceeded")
	ErrCategoryBlocked   = errors.New("blocked category")
	ErrCardNotActive     = errors.New("card not active")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// IsRetryable reports whether the operation may succeed when repeated unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) && !errors.Is(err, ErrDuplicateIdempotencyKey)
}
