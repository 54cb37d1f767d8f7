package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/raviejay/PanaragaPulse/pkg/rewards"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintVoucherCode = "uniq_redemptions_voucher_code"
	defaultClaimNoteJSON  = "{}"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectUser      = "user"
	errorSubjectReward    = "reward"
	errorSubjectVoucher   = "redemption"
	errorCodeCreate       = "create"
	errorCodeDuplicate    = "duplicate"
	errorCodeGet          = "get"
	errorCodeInsert       = "insert"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeDecrement    = "decrement_stock"
	errorCodeDeduct       = "deduct_points"
	errorCodeAdd          = "add_points"
	errorCodeSetActive    = "set_active"
	errorCodeUpdateStatus = "update_status"
)

// Store implements rewards.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the backing tables. Used for sqlite deployments and tests;
// postgres schemas are managed externally.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&User{}, &Reward{}, &Redemption{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore rewards.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetUser(ctx context.Context, userID rewards.UserID) (rewards.User, error) {
	var model User
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return rewards.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, rewards.ErrUserNotFound)
		}
		return rewards.User{}, storeFailure(errorSubjectUser, errorCodeGet, err)
	}
	return mapUser(model)
}

func (store *Store) GetReward(ctx context.Context, rewardID rewards.RewardID) (rewards.Reward, error) {
	var model Reward
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("reward_id = ?", rewardID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return rewards.Reward{}, wrapStoreError(errorSubjectReward, errorCodeGet, rewards.ErrRewardNotFound)
		}
		return rewards.Reward{}, storeFailure(errorSubjectReward, errorCodeGet, err)
	}
	return mapReward(model)
}

func (store *Store) CreateUser(ctx context.Context, user rewards.User) error {
	model := User{
		UserID:    user.ID.String(),
		Points:    user.Points.Int64(),
		Role:      user.Role.String(),
		CreatedAt: time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, "") {
		return wrapStoreError(errorSubjectUser, errorCodeDuplicate, rewards.ErrUserExists)
	}
	if err != nil {
		return storeFailure(errorSubjectUser, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) CreateReward(ctx context.Context, reward rewards.Reward) error {
	model := Reward{
		RewardID:    reward.ID.String(),
		Name:        reward.Name,
		Description: reward.Description,
		PointsCost:  reward.PointsCost.Int64(),
		Stock:       copyStock(reward.Stock),
		Active:      reward.Active,
		CreatedAt:   time.Unix(reward.CreatedUnixUTC, 0).UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, "") {
		return wrapStoreError(errorSubjectReward, errorCodeDuplicate, rewards.ErrRewardExists)
	}
	if err != nil {
		return storeFailure(errorSubjectReward, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) SetRewardActive(ctx context.Context, rewardID rewards.RewardID, active bool) error {
	result := store.db.WithContext(ctx).
		Model(&Reward{}).
		Where("reward_id = ?", rewardID.String()).
		Update("active", active)
	if result.Error != nil {
		return storeFailure(errorSubjectReward, errorCodeSetActive, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectReward, errorCodeSetActive, rewards.ErrRewardNotFound)
	}
	return nil
}

func (store *Store) ListRewards(ctx context.Context, activeOnly bool) ([]rewards.Reward, error) {
	query := store.db.WithContext(ctx).Order("created_at DESC")
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var models []Reward
	if err := query.Find(&models).Error; err != nil {
		return nil, storeFailure(errorSubjectReward, errorCodeList, err)
	}
	catalog := make([]rewards.Reward, 0, len(models))
	for _, model := range models {
		reward, err := mapReward(model)
		if err != nil {
			return nil, err
		}
		catalog = append(catalog, reward)
	}
	return catalog, nil
}

// DecrementStock is a conditional update: it only succeeds while tracked
// stock is positive, so concurrent redemptions can never drive it negative.
func (store *Store) DecrementStock(ctx context.Context, rewardID rewards.RewardID) error {
	result := store.db.WithContext(ctx).
		Model(&Reward{}).
		Where("reward_id = ? AND stock IS NOT NULL AND stock > 0", rewardID.String()).
		UpdateColumn("stock", gorm.Expr("stock - 1"))
	if result.Error != nil {
		return storeFailure(errorSubjectReward, errorCodeDecrement, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectReward, errorCodeDecrement, rewards.ErrOutOfStock)
	}
	return nil
}

// DeductPoints re-verifies the balance in the same statement that mutates it.
func (store *Store) DeductPoints(ctx context.Context, userID rewards.UserID, amount rewards.PositivePoints) error {
	result := store.db.WithContext(ctx).
		Model(&User{}).
		Where("user_id = ? AND points >= ?", userID.String(), amount.Int64()).
		UpdateColumn("points", gorm.Expr("points - ?", amount.Int64()))
	if result.Error != nil {
		return storeFailure(errorSubjectUser, errorCodeDeduct, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectUser, errorCodeDeduct, rewards.ErrInsufficientBalance)
	}
	return nil
}

func (store *Store) AddPoints(ctx context.Context, userID rewards.UserID, amount rewards.PositivePoints) error {
	result := store.db.WithContext(ctx).
		Model(&User{}).
		Where("user_id = ?", userID.String()).
		UpdateColumn("points", gorm.Expr("points + ?", amount.Int64()))
	if result.Error != nil {
		return storeFailure(errorSubjectUser, errorCodeAdd, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectUser, errorCodeAdd, rewards.ErrUserNotFound)
	}
	return nil
}

func (store *Store) InsertRedemption(ctx context.Context, redemption rewards.Redemption) error {
	model := Redemption{
		RedemptionID: redemption.ID.String(),
		UserID:       redemption.UserID.String(),
		RewardID:     redemption.RewardID.String(),
		PointsSpent:  redemption.PointsSpent.Int64(),
		VoucherCode:  redemption.VoucherCode.String(),
		Status:       redemption.Status.String(),
		ClaimNote:    datatypes.JSON([]byte(defaultClaimNoteJSON)),
		ExpiresAt:    time.Unix(redemption.ExpiresAtUnixUTC, 0).UTC(),
		CreatedAt:    time.Unix(redemption.CreatedUnixUTC, 0).UTC(),
	}
	if redemption.Claim != nil {
		claimedBy := redemption.Claim.ClaimedBy.String()
		claimedAt := time.Unix(redemption.Claim.ClaimedAtUnixUTC, 0).UTC()
		model.ClaimedBy = &claimedBy
		model.ClaimedAt = &claimedAt
		model.ClaimNote = claimNoteJSON(redemption.Claim.Note.String())
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintVoucherCode) {
		return wrapStoreError(errorSubjectVoucher, errorCodeDuplicate, rewards.ErrDuplicateVoucherCode)
	}
	if err != nil {
		return storeFailure(errorSubjectVoucher, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetRedemption(ctx context.Context, redemptionID rewards.RedemptionID) (rewards.Redemption, error) {
	var model Redemption
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("redemption_id = ?", redemptionID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return rewards.Redemption{}, wrapStoreError(errorSubjectVoucher, errorCodeGet, rewards.ErrRedemptionNotFound)
		}
		return rewards.Redemption{}, storeFailure(errorSubjectVoucher, errorCodeGet, err)
	}
	return mapRedemption(model)
}

// UpdateRedemptionStatus is a compare-and-swap on the prior status.
func (store *Store) UpdateRedemptionStatus(ctx context.Context, redemptionID rewards.RedemptionID, from, to rewards.RedemptionStatus, claim *rewards.ClaimRecord) error {
	updates := map[string]interface{}{"status": to.String()}
	if claim != nil {
		claimedAt := time.Unix(claim.ClaimedAtUnixUTC, 0).UTC()
		updates["claimed_by"] = claim.ClaimedBy.String()
		updates["claimed_at"] = claimedAt
		updates["claim_note"] = claimNoteJSON(claim.Note.String())
	}
	result := store.db.WithContext(ctx).
		Model(&Redemption{}).
		Where("redemption_id = ? AND status = ?", redemptionID.String(), from.String()).
		Updates(updates)
	if result.Error != nil {
		return storeFailure(errorSubjectVoucher, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectVoucher, errorCodeUpdateStatus, rewards.ErrInvalidTransition)
	}
	return nil
}

func (store *Store) ListRedemptionsByUser(ctx context.Context, userID rewards.UserID, limit int) ([]rewards.Redemption, error) {
	var models []Redemption
	query := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, storeFailure(errorSubjectVoucher, errorCodeList, err)
	}
	redemptions := make([]rewards.Redemption, 0, len(models))
	for _, model := range models {
		redemption, err := mapRedemption(model)
		if err != nil {
			return nil, err
		}
		redemptions = append(redemptions, redemption)
	}
	return redemptions, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return rewards.WrapError(errorOperationStore, subject, code, err)
}

// storeFailure marks unexpected driver errors as transient so the interface
// boundary can distinguish them from business-rule failures.
func storeFailure(subject string, code string, err error) error {
	return rewards.WrapError(errorOperationStore, subject, code, fmt.Errorf("%w: %v", rewards.ErrStorageUnavailable, err))
}

func mapUser(model User) (rewards.User, error) {
	userID, err := rewards.NewUserID(model.UserID)
	if err != nil {
		return rewards.User{}, wrapStoreError(errorSubjectUser, errorCodeInvalid, err)
	}
	points, err := rewards.NewPoints(model.Points)
	if err != nil {
		return rewards.User{}, wrapStoreError(errorSubjectUser, errorCodeInvalid, err)
	}
	role, err := rewards.ParseRole(model.Role)
	if err != nil {
		return rewards.User{}, wrapStoreError(errorSubjectUser, errorCodeInvalid, err)
	}
	return rewards.User{ID: userID, Points: points, Role: role}, nil
}

func mapReward(model Reward) (rewards.Reward, error) {
	rewardID, err := rewards.NewRewardID(model.RewardID)
	if err != nil {
		return rewards.Reward{}, wrapStoreError(errorSubjectReward, errorCodeInvalid, err)
	}
	pointsCost, err := rewards.NewPositivePoints(model.PointsCost)
	if err != nil {
		return rewards.Reward{}, wrapStoreError(errorSubjectReward, errorCodeInvalid, err)
	}
	reward, err := rewards.NewReward(rewardID, model.Name, model.Description, pointsCost, copyStock(model.Stock), model.Active, model.CreatedAt.Unix())
	if err != nil {
		return rewards.Reward{}, wrapStoreError(errorSubjectReward, errorCodeInvalid, err)
	}
	return reward, nil
}

func mapRedemption(model Redemption) (rewards.Redemption, error) {
	redemptionID, err := rewards.NewRedemptionID(model.RedemptionID)
	if err != nil {
		return rewards.Redemption{}, wrapStoreError(errorSubjectVoucher, errorCodeInvalid, err)
	}
	userID, err := rewards.NewUserID(model.UserID)
	if err != nil {
		return rewards.Redemption{}, wrapStoreError(errorSubjectVoucher, errorCodeInvalid, err)
	}
	rewardID, err := rewards.NewRewardID(model.RewardID)
	if err != nil {
		return rewards.Redemption{}, wrapStoreError(errorSubjectVoucher, errorCodeInvalid, err)
	}
	pointsSpent, err := rewards.NewPositivePoints(model.PointsSpent)
	if err != nil {
		return rewards.Redemption{}, wrapStoreError(errorSubjectVoucher, errorCodeInvalid, err)
	}
	voucherCode, err := rewards.NewVoucherCode(model.VoucherCode)
	if err != nil {
		return rewards.Redemption{}, wrapStoreError(errorSubjectVoucher, errorCodeInvalid, err)
	}
	status, err := rewards.ParseRedemptionStatus(model.Status)
	if err != nil {
		return rewards.Redemption{}, wrapStoreError(errorSubjectVoucher, errorCodeInvalid, err)
	}
	redemption := rewards.Redemption{
		ID:               redemptionID,
		UserID:           userID,
		RewardID:         rewardID,
		PointsSpent:      pointsSpent,
		VoucherCode:      voucherCode,
		Status:           status,
		CreatedUnixUTC:   model.CreatedAt.Unix(),
		ExpiresAtUnixUTC: model.ExpiresAt.Unix(),
	}
	if model.ClaimedBy != nil && model.ClaimedAt != nil {
		claimedBy, err := rewards.NewActorID(*model.ClaimedBy)
		if err != nil {
			return rewards.Redemption{}, wrapStoreError(errorSubjectVoucher, errorCodeInvalid, err)
		}
		note, err := rewards.NewMetadataJSON(string(model.ClaimNote))
		if err != nil {
			return rewards.Redemption{}, wrapStoreError(errorSubjectVoucher, errorCodeInvalid, err)
		}
		redemption.Claim = &rewards.ClaimRecord{
			ClaimedBy:        claimedBy,
			ClaimedAtUnixUTC: model.ClaimedAt.Unix(),
			Note:             note,
		}
	}
	return redemption, nil
}

func copyStock(stock *int64) *int64 {
	if stock == nil {
		return nil
	}
	value := *stock
	return &value
}

func claimNoteJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultClaimNoteJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolationCode {
			return false
		}
		return constraint == "" || pgErr.ConstraintName == constraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
