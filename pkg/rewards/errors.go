package rewards

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the rewards service.
var (
	ErrUserNotFound            = errors.New("user not found")
	ErrRewardNotFound          = errors.New("reward not found")
	ErrRedemptionNotFound      = errors.New("redemption not found")
	ErrInsufficientBalance     = errors.New("insufficient point balance")
	ErrOutOfStock              = errors.New("reward out of stock")
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrDuplicateVoucherCode    = errors.New("duplicate voucher code")
	ErrRewardExists            = errors.New("reward already exists")
	ErrUserExists              = errors.New("user already exists")
	ErrStorageUnavailable      = errors.New("storage unavailable")
	ErrInvalidUserID           = errors.New("invalid user id")
	ErrInvalidRewardID         = errors.New("invalid reward id")
	ErrInvalidRedemptionID     = errors.New("invalid redemption id")
	ErrInvalidActorID          = errors.New("invalid actor id")
	ErrInvalidVoucherCode      = errors.New("invalid voucher code")
	ErrInvalidPoints           = errors.New("invalid point amount")
	ErrInvalidRole             = errors.New("invalid role")
	ErrInvalidReward           = errors.New("invalid reward")
	ErrInvalidRedemptionStatus = errors.New("invalid redemption status")
	ErrInvalidMetadataJSON     = errors.New("invalid metadata json")
	ErrInvalidServiceConfig    = errors.New("invalid service config")
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

// IsBusinessRuleError reports whether the failure is terminal for the caller:
// a different user action is required and retrying cannot succeed.
func IsBusinessRuleError(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrRewardNotFound) ||
		errors.Is(err, ErrRedemptionNotFound) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrOutOfStock) ||
		errors.Is(err, ErrInvalidTransition)
}
