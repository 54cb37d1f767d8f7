package rewards

import (
	"errors"
	"testing"
)

func TestWrapErrorPreservesSentinel(test *testing.T) {
	test.Parallel()
	wrapped := WrapError(operationRedeem, "reward", "out_of_stock", ErrOutOfStock)
	if !errors.Is(wrapped, ErrOutOfStock) {
		test.Fatalf("expected ErrOutOfStock, got %v", wrapped)
	}
	var operationError OperationError
	if !errors.As(wrapped, &operationError) {
		test.Fatalf("expected OperationError, got %T", wrapped)
	}
	if operationError.Operation() != operationRedeem {
		test.Fatalf("unexpected operation %q", operationError.Operation())
	}
	if operationError.Subject() != "reward" {
		test.Fatalf("unexpected subject %q", operationError.Subject())
	}
	if operationError.Code() != "out_of_stock" {
		test.Fatalf("unexpected code %q", operationError.Code())
	}
}

func TestWrapErrorNilPassthrough(test *testing.T) {
	test.Parallel()
	if err := WrapError(operationRedeem, "reward", "out_of_stock", nil); err != nil {
		test.Fatalf("expected nil, got %v", err)
	}
}

func TestOperationErrorMessage(test *testing.T) {
	test.Parallel()
	wrapped := WrapError(operationTransition, "redemption", "invalid_transition", ErrInvalidTransition)
	want := "transition_status.redemption.invalid_transition: invalid status transition"
	if wrapped.Error() != want {
		test.Fatalf("expected %q, got %q", want, wrapped.Error())
	}
}

func TestIsBusinessRuleError(test *testing.T) {
	test.Parallel()
	for _, err := range []error{
		ErrUserNotFound,
		ErrRewardNotFound,
		ErrRedemptionNotFound,
		ErrInsufficientBalance,
		ErrOutOfStock,
		ErrInvalidTransition,
	} {
		if !IsBusinessRuleError(WrapError(operationRedeem, "subject", "code", err)) {
			test.Fatalf("expected %v classified as business rule error", err)
		}
	}
	for _, err := range []error{ErrStorageUnavailable, ErrDuplicateVoucherCode, errors.New("driver timeout")} {
		if IsBusinessRuleError(err) {
			test.Fatalf("expected %v not classified as business rule error", err)
		}
	}
}
