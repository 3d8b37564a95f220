package ledger

import (
	"errors"
	"fmt"
	"testing"
)

const (
	operationName    = "store"
	subjectName      = "card"
	codeName         = "update_status"
	baseErrorMessage = "base error"
)

func TestOperationErrorFormatting(test *testing.T) {
	test.Parallel()
	baseError := errors.New(baseErrorMessage)
	wrappedError := WrapError(operationName, subjectName, codeName, baseError)
	if wrappedError == nil {
		test.Fatalf("expected wrapped error")
	}
	expected := operationName + "." + subjectName + "." + codeName + ": " + baseErrorMessage
	if wrappedError.Error() != expected {
		test.Fatalf("expected %q, got %q", expected, wrappedError.Error())
	}
	var operationError OperationError
	if !errors.As(wrappedError, &operationError) || operationError.Code() != codeName {
		test.Fatalf("expected OperationError with code %q, got %v", codeName, wrappedError)
	}
}

func TestWrapErrorNil(test *testing.T) {
	test.Parallel()
	if WrapError(operationName, subjectName, codeName, nil) != nil {
		test.Fatalf("expected nil wrapped error")
	}
}

func TestValidationErrorsShareClass(test *testing.T) {
	test.Parallel()
	for _, err := range []error{ErrInvalidCardID, ErrInvalidAmount, ErrInvalidAction, ErrInvalidTransition, ErrIdempotencyKeyReuse} {
		if !errors.Is(err, ErrValidation) {
			test.Fatalf("expected %v to be a validation error", err)
		}
	}
}

func TestIsRetryable(test *testing.T) {
	test.Parallel()
	cases := []struct {
		err       error
		retryable bool
	}{
		{err: WrapError(operationName, subjectName, codeName, ErrConflict), retryable: true},
		{err: fmt.Errorf("wrapped: %w", ErrConflict), retryable: true},
		{err: ErrDuplicateIdempotencyKey, retryable: false},
		{err: ErrConstraintViolation, retryable: false},
		{err: ErrNotFound, retryable: false},
		{err: nil, retryable: false},
	}
	for _, testCase := range cases {
		if IsRetryable(testCase.err) != testCase.retryable {
			test.Fatalf("IsRetryable(%v) expected %v", testCase.err, testCase.retryable)
		}
	}
}
