package rewards

import (
	"context"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing rewards operation.
type OperationLog struct {
	Operation    string
	UserID       UserID
	RewardID     RewardID
	RedemptionID RedemptionID
	Amount       Points
	Transition   RedemptionStatus
	Reason       string
	Status       string
	Error        error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithExpiryOffset overrides how long issued vouchers stay redeemable.
func WithExpiryOffset(offset time.Duration) ServiceOption {
	return func(service *Service) {
		if offset > 0 {
			service.expiryOffset = offset
		}
	}
}
