package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service contains the redemption domain logic over a Store.
type Service struct {
	store        Store
	nowFn        func() int64
	expiryOffset time.Duration
	logger       OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, expiryOffset: defaultExpiryOffset}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Redeem exchanges the user's points for one instance of the reward. All
// checks and mutations run against one transactional snapshot: the reward and
// user rows are read under lock, stock and balance are decremented with
// conditional updates, and the redemption row is inserted before commit. On
// any failure the transaction rolls back with no partial mutation.
func (service *Service) Redeem(ctx context.Context, userID UserID, rewardID RewardID) (Redemption, error) {
	var created Redemption
	var operationError error
	for attempt := 0; attempt < voucherMintAttempts; attempt++ {
		created, operationError = service.redeemOnce(ctx, userID, rewardID)
		if !errors.Is(operationError, ErrDuplicateVoucherCode) {
			break
		}
	}
	service.logOperation(ctx, OperationLog{
		Operation:    operationRedeem,
		UserID:       userID,
		RewardID:     rewardID,
		RedemptionID: created.ID,
		Amount:       created.PointsSpent.ToPoints(),
		Error:        operationError,
	})
	if operationError != nil {
		return Redemption{}, operationError
	}
	return created, nil
}

func (service *Service) redeemOnce(ctx context.Context, userID UserID, rewardID RewardID) (Redemption, error) {
	var created Redemption
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		reward, err := transactionStore.GetReward(ctx, rewardID)
		if err != nil {
			return err
		}
		if !reward.Active {
			return fmt.Errorf("%w: reward inactive", ErrRewardNotFound)
		}
		user, err := transactionStore.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if user.Points < reward.PointsCost.ToPoints() {
			return ErrInsufficientBalance
		}
		if reward.Stock != nil {
			if *reward.Stock <= 0 {
				return ErrOutOfStock
			}
			if err := transactionStore.DecrementStock(ctx, rewardID); err != nil {
				return err
			}
		}
		if err := transactionStore.DeductPoints(ctx, userID, reward.PointsCost); err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		voucherCode, err := MintVoucherCode(nowUnixUTC)
		if err != nil {
			return err
		}
		redemptionID, err := NewRedemptionID(uuid.NewString())
		if err != nil {
			return err
		}
		redemption := Redemption{
			ID:               redemptionID,
			UserID:           userID,
			RewardID:         rewardID,
			PointsSpent:      reward.PointsCost,
			VoucherCode:      voucherCode,
			Status:           StatusPending,
			CreatedUnixUTC:   nowUnixUTC,
			ExpiresAtUnixUTC: nowUnixUTC + int64(service.expiryOffset/time.Second),
		}
		if err := transactionStore.InsertRedemption(ctx, redemption); err != nil {
			return err
		}
		created = redemption
		return nil
	})
	if operationError != nil {
		return Redemption{}, operationError
	}
	return created, nil
}

// TransitionStatus moves a redemption along the lifecycle table. A redemption
// past its expiry is treated as already expired, whatever its stored status.
// Transitions carry no point or stock side effects.
func (service *Service) TransitionStatus(ctx context.Context, redemptionID RedemptionID, newStatus RedemptionStatus, actorID ActorID) (Redemption, error) {
	var updated Redemption
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		redemption, err := transactionStore.GetRedemption(ctx, redemptionID)
		if err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		current := EffectiveStatus(redemption, nowUnixUTC)
		if !current.CanTransitionTo(newStatus) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, newStatus)
		}
		var claim *ClaimRecord
		if newStatus == StatusClaimed {
			claim = &ClaimRecord{ClaimedBy: actorID, ClaimedAtUnixUTC: nowUnixUTC}
		}
		if err := transactionStore.UpdateRedemptionStatus(ctx, redemptionID, redemption.Status, newStatus, claim); err != nil {
			return err
		}
		redemption.Status = newStatus
		if claim != nil {
			redemption.Claim = claim
		}
		updated = redemption
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:    operationTransition,
		UserID:       updated.UserID,
		RewardID:     updated.RewardID,
		RedemptionID: redemptionID,
		Transition:   newStatus,
		Error:        operationError,
	})
	if operationError != nil {
		return Redemption{}, operationError
	}
	return updated, nil
}

// IsEffectivelyExpired reports whether the redemption is past its expiry,
// regardless of the stored status field.
func IsEffectivelyExpired(redemption Redemption, nowUnixUTC int64) bool {
	return nowUnixUTC > redemption.ExpiresAtUnixUTC
}

// EffectiveStatus is the status read paths must present: time-derived expiry
// overrides a stale non-terminal stored status.
func EffectiveStatus(redemption Redemption, nowUnixUTC int64) RedemptionStatus {
	if !redemption.Status.IsTerminal() && IsEffectivelyExpired(redemption, nowUnixUTC) {
		return StatusExpired
	}
	return redemption.Status
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
