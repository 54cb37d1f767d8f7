package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/raviejay/PanaragaPulse/pkg/rewards"
)

const (
	constraintVoucherCode = "uniq_redemptions_voucher_code"
	pgUniqueViolationCode = "23505"
	errorOperationStore   = "store"
	errorSubjectUser      = "user"
	errorSubjectReward    = "reward"
	errorSubjectVoucher   = "redemption"
	errorSubjectTx        = "transaction"
	errorCodeBegin        = "begin"
	errorCodeCommit       = "commit"
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

	sqlSelectUser = `
		select user_id, points, role from users
		where user_id = $1
		for update
	`

	sqlSelectReward = `
		select reward_id::text, name, coalesce(description,''), points_cost, stock, active, extract(epoch from created_at)::bigint
		from rewards
		where reward_id = $1
		for update
	`

	sqlInsertUser = `
		insert into users(user_id, points, role, created_at)
		values($1, $2, $3, now())
	`

	sqlInsertReward = `
		insert into rewards(reward_id, name, description, points_cost, stock, active, created_at)
		values($1, $2, $3, $4, $5, $6, to_timestamp($7))
	`

	sqlSetRewardActive = `
		update rewards set active = $2 where reward_id = $1
	`

	sqlListRewards = `
		select reward_id::text, name, coalesce(description,''), points_cost, stock, active, extract(epoch from created_at)::bigint
		from rewards
		where ($1 = false or active)
		order by created_at desc
	`

	sqlDecrementStock = `
		update rewards set stock = stock - 1
		where reward_id = $1 and stock is not null and stock > 0
	`

	sqlDeductPoints = `
		update users set points = points - $2
		where user_id = $1 and points >= $2
	`

	sqlAddPoints = `
		update users set points = points + $2
		where user_id = $1
	`

	sqlInsertRedemption = `
		insert into redemptions(
			redemption_id, user_id, reward_id, points_spent, voucher_code, status, claim_note, expires_at, created_at
		)
		values(
			$1, $2, $3, $4, $5, $6, '{}'::jsonb, to_timestamp($7), to_timestamp($8)
		)
	`

	sqlSelectRedemption = `
		select redemption_id::text, user_id, reward_id::text, points_spent, voucher_code, status,
			claimed_by, coalesce(extract(epoch from claimed_at)::bigint,0), coalesce(claim_note::text,'{}'),
			extract(epoch from expires_at)::bigint, extract(epoch from created_at)::bigint
		from redemptions
		where redemption_id = $1
		for update
	`

	sqlUpdateRedemptionStatus = `
		update redemptions
		set status = $3,
			claimed_by = coalesce($4, claimed_by),
			claimed_at = coalesce(to_timestamp(nullif($5,0)), claimed_at),
			claim_note = coalesce(nullif($6,'')::jsonb, claim_note)
		where redemption_id = $1 and status = $2
	`

	sqlListRedemptions = `
		select redemption_id::text, user_id, reward_id::text, points_spent, voucher_code, status,
			claimed_by, coalesce(extract(epoch from claimed_at)::bigint,0), coalesce(claim_note::text,'{}'),
			extract(epoch from expires_at)::bigint, extract(epoch from created_at)::bigint
		from redemptions
		where user_id = $1
		order by created_at desc
		limit $2
	`
)

// querier is satisfied by both pgxpool.Pool (autocommit) and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements rewards.Store using a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	conn querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, conn: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore rewards.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storeFailure(errorSubjectTx, errorCodeBegin, err)
	}
	transactionStore := &Store{pool: store.pool, conn: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storeFailure(errorSubjectTx, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) GetUser(ctx context.Context, userID rewards.UserID) (rewards.User, error) {
	var (
		idValue     string
		pointsValue int64
		roleValue   string
	)
	err := store.conn.QueryRow(ctx, sqlSelectUser, userID.String()).Scan(&idValue, &pointsValue, &roleValue)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rewards.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, rewards.ErrUserNotFound)
		}
		return rewards.User{}, storeFailure(errorSubjectUser, errorCodeGet, err)
	}
	parsedUserID, err := rewards.NewUserID(idValue)
	if err != nil {
		return rewards.User{}, wrapStoreError(errorSubjectUser, errorCodeInvalid, err)
	}
	points, err := rewards.NewPoints(pointsValue)
	if err != nil {
		return rewards.User{}, wrapStoreError(errorSubjectUser, errorCodeInvalid, err)
	}
	role, err := rewards.ParseRole(roleValue)
	if err != nil {
		return rewards.User{}, wrapStoreError(errorSubjectUser, errorCodeInvalid, err)
	}
	return rewards.User{ID: parsedUserID, Points: points, Role: role}, nil
}

func (store *Store) GetReward(ctx context.Context, rewardID rewards.RewardID) (rewards.Reward, error) {
	row := store.conn.QueryRow(ctx, sqlSelectReward, rewardID.String())
	reward, err := scanReward(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rewards.Reward{}, wrapStoreError(errorSubjectReward, errorCodeGet, rewards.ErrRewardNotFound)
		}
		return rewards.Reward{}, err
	}
	return reward, nil
}

func (store *Store) CreateUser(ctx context.Context, user rewards.User) error {
	_, err := store.conn.Exec(ctx, sqlInsertUser, user.ID.String(), user.Points.Int64(), user.Role.String())
	if isUniqueViolation(err, "") {
		return wrapStoreError(errorSubjectUser, errorCodeDuplicate, rewards.ErrUserExists)
	}
	if err != nil {
		return storeFailure(errorSubjectUser, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) CreateReward(ctx context.Context, reward rewards.Reward) error {
	_, err := store.conn.Exec(ctx, sqlInsertReward,
		reward.ID.String(),
		reward.Name,
		reward.Description,
		reward.PointsCost.Int64(),
		reward.Stock,
		reward.Active,
		reward.CreatedUnixUTC,
	)
	if isUniqueViolation(err, "") {
		return wrapStoreError(errorSubjectReward, errorCodeDuplicate, rewards.ErrRewardExists)
	}
	if err != nil {
		return storeFailure(errorSubjectReward, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) SetRewardActive(ctx context.Context, rewardID rewards.RewardID, active bool) error {
	tag, err := store.conn.Exec(ctx, sqlSetRewardActive, rewardID.String(), active)
	if err != nil {
		return storeFailure(errorSubjectReward, errorCodeSetActive, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectReward, errorCodeSetActive, rewards.ErrRewardNotFound)
	}
	return nil
}

func (store *Store) ListRewards(ctx context.Context, activeOnly bool) ([]rewards.Reward, error) {
	rows, err := store.conn.Query(ctx, sqlListRewards, activeOnly)
	if err != nil {
		return nil, storeFailure(errorSubjectReward, errorCodeList, err)
	}
	defer rows.Close()
	var catalog []rewards.Reward
	for rows.Next() {
		reward, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		catalog = append(catalog, reward)
	}
	if err := rows.Err(); err != nil {
		return nil, storeFailure(errorSubjectReward, errorCodeList, err)
	}
	return catalog, nil
}

func (store *Store) DecrementStock(ctx context.Context, rewardID rewards.RewardID) error {
	tag, err := store.conn.Exec(ctx, sqlDecrementStock, rewardID.String())
	if err != nil {
		return storeFailure(errorSubjectReward, errorCodeDecrement, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectReward, errorCodeDecrement, rewards.ErrOutOfStock)
	}
	return nil
}

func (store *Store) DeductPoints(ctx context.Context, userID rewards.UserID, amount rewards.PositivePoints) error {
	tag, err := store.conn.Exec(ctx, sqlDeductPoints, userID.String(), amount.Int64())
	if err != nil {
		return storeFailure(errorSubjectUser, errorCodeDeduct, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectUser, errorCodeDeduct, rewards.ErrInsufficientBalance)
	}
	return nil
}

func (store *Store) AddPoints(ctx context.Context, userID rewards.UserID, amount rewards.PositivePoints) error {
	tag, err := store.conn.Exec(ctx, sqlAddPoints, userID.String(), amount.Int64())
	if err != nil {
		return storeFailure(errorSubjectUser, errorCodeAdd, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectUser, errorCodeAdd, rewards.ErrUserNotFound)
	}
	return nil
}

func (store *Store) InsertRedemption(ctx context.Context, redemption rewards.Redemption) error {
	_, err := store.conn.Exec(ctx, sqlInsertRedemption,
		redemption.ID.String(),
		redemption.UserID.String(),
		redemption.RewardID.String(),
		redemption.PointsSpent.Int64(),
		redemption.VoucherCode.String(),
		redemption.Status.String(),
		redemption.ExpiresAtUnixUTC,
		redemption.CreatedUnixUTC,
	)
	if isUniqueViolation(err, constraintVoucherCode) {
		return wrapStoreError(errorSubjectVoucher, errorCodeDuplicate, rewards.ErrDuplicateVoucherCode)
	}
	if err != nil {
		return storeFailure(errorSubjectVoucher, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetRedemption(ctx context.Context, redemptionID rewards.RedemptionID) (rewards.Redemption, error) {
	row := store.conn.QueryRow(ctx, sqlSelectRedemption, redemptionID.String())
	redemption, err := scanRedemption(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rewards.Redemption{}, wrapStoreError(errorSubjectVoucher, errorCodeGet, rewards.ErrRedemptionNotFound)
		}
		return rewards.Redemption{}, err
	}
	return redemption, nil
}

func (store *Store) UpdateRedemptionStatus(ctx context.Context, redemptionID rewards.RedemptionID, from, to rewards.RedemptionStatus, claim *rewards.ClaimRecord) error {
	var (
		claimedBy *string
		claimedAt int64
		claimNote string
	)
	if claim != nil {
		value := claim.ClaimedBy.String()
		claimedBy = &value
		claimedAt = claim.ClaimedAtUnixUTC
		claimNote = claim.Note.String()
	}
	tag, err := store.conn.Exec(ctx, sqlUpdateRedemptionStatus,
		redemptionID.String(),
		from.String(),
		to.String(),
		claimedBy,
		claimedAt,
		claimNote,
	)
	if err != nil {
		return storeFailure(errorSubjectVoucher, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectVoucher, errorCodeUpdateStatus, rewards.ErrInvalidTransition)
	}
	return nil
}

func (store *Store) ListRedemptionsByUser(ctx context.Context, userID rewards.UserID, limit int) ([]rewards.Redemption, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := store.conn.Query(ctx, sqlListRedemptions, userID.String(), limit)
	if err != nil {
		return nil, storeFailure(errorSubjectVoucher, errorCodeList, err)
	}
	defer rows.Close()
	var redemptions []rewards.Redemption
	for rows.Next() {
		redemption, err := scanRedemption(rows)
		if err != nil {
			return nil, err
		}
		redemptions = append(redemptions, redemption)
	}
	if err := rows.Err(); err != nil {
		return nil, storeFailure(errorSubjectVoucher, errorCodeList, err)
	}
	return redemptions, nil
}

func scanReward(row pgx.Row) (rewards.Reward, error) {
	var (
		idValue          string
		nameValue        string
		descriptionValue string
		costValue        int64
		stockValue       *int64
		activeValue      bool
		createdValue     int64
	)
	if err := row.Scan(&idValue, &nameValue, &descriptionValue, &costValue, &stockValue, &activeValue, &createdValue); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rewards.Reward{}, err
		}
		return rewards.Reward{}, storeFailure(errorSubjectReward, errorCodeGet, err)
	}
	rewardID, err := rewards.NewRewardID(idValue)
	if err != nil {
		return rewards.Reward{}, wrapStoreError(errorSubjectReward, errorCodeInvalid, err)
	}
	pointsCost, err := rewards.NewPositivePoints(costValue)
	if err != nil {
		return rewards.Reward{}, wrapStoreError(errorSubjectReward, errorCodeInvalid, err)
	}
	reward, err := rewards.NewReward(rewardID, nameValue, descriptionValue, pointsCost, stockValue, activeValue, createdValue)
	if err != nil {
		return rewards.Reward{}, wrapStoreError(errorSubjectReward, errorCodeInvalid, err)
	}
	return reward, nil
}

func scanRedemption(row pgx.Row) (rewards.Redemption, error) {
	var (
		idValue        string
		userValue      string
		rewardValue    string
		pointsValue    int64
		voucherValue   string
		statusValue    string
		claimedByValue *string
		claimedAtValue int64
		claimNoteValue string
		expiresValue   int64
		createdValue   int64
	)
	err := row.Scan(
		&idValue,
		&userValue,
		&rewardValue,
		&pointsValue,
		&voucherValue,
		&statusValue,
		&claimedByValue,
		&claimedAtValue,
		&claimNoteValue,
		&expiresValue,
		&createdValue,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rewards.Redemption{}, err
		}
		return rewards.Redemption{}, storeFailure(errorSubjectVoucher, errorCodeGet, err)
	}
	redemptionID, err := rewards.NewRedemptionID(idValue)
	if err != nil {
		return rewards.Redemption{}, wrapStoreError(errorSubjectVoucher, errorCodeInvalid, err)
	}
	userID, err := rewards.NewUserID(userValue)
	if err != nil {
		return rewards.Redemption{}, wrapStoreError(errorSubjectVoucher, errorCodeInvalid, err)
	}
	rewardID, err := rewards.NewRewardID(rewardValue)
	if err != nil {
		return rewards.Redemption{}, wrapStoreError(errorSubjectVoucher, errorCodeInvalid, err)
	}
	pointsSpent, err := rewards.NewPositivePoints(pointsValue)
	if err != nil {
		return rewards.Redemption{}, wrapStoreError(errorSubjectVoucher, errorCodeInvalid, err)
	}
	voucherCode, err := rewards.NewVoucherCode(voucherValue)
	if err != nil {
		return rewards.Redemption{}, wrapStoreError(errorSubjectVoucher, errorCodeInvalid, err)
	}
	status, err := rewards.ParseRedemptionStatus(statusValue)
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
		CreatedUnixUTC:   createdValue,
		ExpiresAtUnixUTC: expiresValue,
	}
	if claimedByValue != nil {
		claimedBy, err := rewards.NewActorID(*claimedByValue)
		if err != nil {
			return rewards.Redemption{}, wrapStoreError(errorSubjectVoucher, errorCodeInvalid, err)
		}
		note, err := rewards.NewMetadataJSON(claimNoteValue)
		if err != nil {
			return rewards.Redemption{}, wrapStoreError(errorSubjectVoucher, errorCodeInvalid, err)
		}
		redemption.Claim = &rewards.ClaimRecord{
			ClaimedBy:        claimedBy,
			ClaimedAtUnixUTC: claimedAtValue,
			Note:             note,
		}
	}
	return redemption, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return rewards.WrapError(errorOperationStore, subject, code, err)
}

func storeFailure(subject string, code string, err error) error {
	return rewards.WrapError(errorOperationStore, subject, code, fmt.Errorf("%w: %v", rewards.ErrStorageUnavailable, err))
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolationCode {
			return false
		}
		return constraint == "" || pgErr.ConstraintName == constraint
	}
	return false
}
