package rewards

import (
	"context"

	"go.uber.org/zap"
)

// ZapOperationLogger emits one structured log line per service operation.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wraps a zap logger as an OperationLogger.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	return &ZapOperationLogger{logger: logger}
}

// LogOperation implements OperationLogger.
func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry OperationLog) {
	if operationLogger.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.UserID.String() != "" {
		fields = append(fields, zap.String("user_id", entry.UserID.String()))
	}
	if entry.RewardID.String() != "" {
		fields = append(fields, zap.String("reward_id", entry.RewardID.String()))
	}
	if entry.RedemptionID.String() != "" {
		fields = append(fields, zap.String("redemption_id", entry.RedemptionID.String()))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("points", entry.Amount.Int64()))
	}
	if entry.Transition != "" {
		fields = append(fields, zap.String("transition", entry.Transition.String()))
	}
	if entry.Reason != "" {
		fields = append(fields, zap.String("reason", entry.Reason))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("rewards operation failed", fields...)
		return
	}
	operationLogger.logger.Info("rewards operation", fields...)
}
