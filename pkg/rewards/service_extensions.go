package rewards

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// AwardPoints credits a user's balance. This is the increment path used when
// a ranger or admin verifies an eco-action or event attendance; reason is a
// free-form label carried into the operation log.
func (service *Service) AwardPoints(ctx context.Context, userID UserID, amount PositivePoints, reason string) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if _, err := transactionStore.GetUser(ctx, userID); err != nil {
			return err
		}
		return transactionStore.AddPoints(ctx, userID, amount)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationAward,
		UserID:    userID,
		Amount:    amount.ToPoints(),
		Reason:    strings.TrimSpace(reason),
		Error:     operationError,
	})
	return operationError
}

// Balance returns the user's current point balance.
func (service *Service) Balance(ctx context.Context, userID UserID) (Points, error) {
	user, err := service.store.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.Points, nil
}

// ListRedemptions returns the user's newest redemptions with time-derived
// expiry applied to the presented status.
func (service *Service) ListRedemptions(ctx context.Context, userID UserID, limit int) ([]Redemption, error) {
	redemptions, err := service.store.ListRedemptionsByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	nowUnixUTC := service.nowFn()
	for index := range redemptions {
		redemptions[index].Status = EffectiveStatus(redemptions[index], nowUnixUTC)
	}
	return redemptions, nil
}

// GetRedemption returns one redemption with its effective status.
func (service *Service) GetRedemption(ctx context.Context, redemptionID RedemptionID) (Redemption, error) {
	redemption, err := service.store.GetRedemption(ctx, redemptionID)
	if err != nil {
		return Redemption{}, err
	}
	redemption.Status = EffectiveStatus(redemption, service.nowFn())
	return redemption, nil
}

// CreateReward adds a catalog item. Admin surface.
func (service *Service) CreateReward(ctx context.Context, name string, description string, pointsCost PositivePoints, stock *int64) (Reward, error) {
	rewardID, err := NewRewardID(uuid.NewString())
	if err != nil {
		return Reward{}, err
	}
	reward, err := NewReward(rewardID, name, description, pointsCost, stock, true, service.nowFn())
	if err != nil {
		return Reward{}, err
	}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		return transactionStore.CreateReward(ctx, reward)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCreateReward,
		RewardID:  reward.ID,
		Amount:    pointsCost.ToPoints(),
		Error:     operationError,
	})
	if operationError != nil {
		return Reward{}, operationError
	}
	return reward, nil
}

// SetRewardActive toggles whether a reward appears in the catalog and can be
// redeemed. Issued vouchers are unaffected.
func (service *Service) SetRewardActive(ctx context.Context, rewardID RewardID, active bool) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		return transactionStore.SetRewardActive(ctx, rewardID, active)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationSetActive,
		RewardID:  rewardID,
		Error:     operationError,
	})
	return operationError
}

// ListRewards returns catalog items, optionally only active ones.
func (service *Service) ListRewards(ctx context.Context, activeOnly bool) ([]Reward, error) {
	return service.store.ListRewards(ctx, activeOnly)
}

// RegisterUser creates a participant record with a zero balance. Called when
// the delegated session issuer reports a user this store has not seen.
func (service *Service) RegisterUser(ctx context.Context, userID UserID, role Role) (User, error) {
	if strings.TrimSpace(role.String()) == "" {
		role = RoleTourist
	}
	user := User{ID: userID, Points: 0, Role: role}
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		return transactionStore.CreateUser(ctx, user)
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}
