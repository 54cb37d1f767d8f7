package rewards

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Points is a non-negative integer point balance.
type Points int64

// PositivePoints is a strictly positive point amount (reward cost, award size).
type PositivePoints int64

// UserID identifies a program participant.
type UserID struct {
	value string
}

// RewardID identifies a catalog reward.
type RewardID struct {
	value string
}

// RedemptionID identifies an issued redemption.
type RedemptionID struct {
	value string
}

// ActorID identifies who performed a claim or cancellation.
type ActorID struct {
	value string
}

// VoucherCode is the unique code presented to claim a reward.
type VoucherCode struct {
	value string
}

// MetadataJSON stores optional claim metadata.
type MetadataJSON struct {
	value string
}

// Role defines the participant's program role.
type Role string

const (
	RoleTourist Role = "tourist"
	RoleRanger  Role = "ranger"
	RoleAdmin   Role = "admin"
)

// RedemptionStatus defines the voucher lifecycle.
type RedemptionStatus string

const (
	StatusPending   RedemptionStatus = "pending"
	StatusClaimed   RedemptionStatus = "claimed"
	StatusUsed      RedemptionStatus = "used"
	StatusExpired   RedemptionStatus = "expired"
	StatusCancelled RedemptionStatus = "cancelled"
)

// allowedTransitions is the closed transition table. Terminal statuses have
// no outgoing edges.
var allowedTransitions = map[RedemptionStatus][]RedemptionStatus{
	StatusPending: {StatusClaimed, StatusExpired, StatusCancelled},
	StatusClaimed: {StatusUsed, StatusExpired, StatusCancelled},
}

// CanTransitionTo reports whether the table permits moving to next.
func (status RedemptionStatus) CanTransitionTo(next RedemptionStatus) bool {
	for _, candidate := range allowedTransitions[status] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status has no outgoing transitions.
func (status RedemptionStatus) IsTerminal() bool {
	return len(allowedTransitions[status]) == 0
}

// String returns the stored representation.
func (status RedemptionStatus) String() string {
	return string(status)
}

// ParseRedemptionStatus validates a stored status value.
func ParseRedemptionStatus(raw string) (RedemptionStatus, error) {
	switch RedemptionStatus(raw) {
	case StatusPending, StatusClaimed, StatusUsed, StatusExpired, StatusCancelled:
		return RedemptionStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRedemptionStatus, raw)
}

// String returns the stored representation.
func (role Role) String() string {
	return string(role)
}

// ParseRole validates a stored role value.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleTourist, RoleRanger, RoleAdmin:
		return Role(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, raw)
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewRewardID validates and normalizes a reward id.
func NewRewardID(raw string) (RewardID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return RewardID{}, fmt.Errorf("%w: empty value", ErrInvalidRewardID)
	}
	return RewardID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id RewardID) String() string {
	return id.value
}

// NewRedemptionID validates and normalizes a redemption id.
func NewRedemptionID(raw string) (RedemptionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return RedemptionID{}, fmt.Errorf("%w: empty value", ErrInvalidRedemptionID)
	}
	return RedemptionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id RedemptionID) String() string {
	return id.value
}

// NewActorID validates and normalizes an actor id.
func NewActorID(raw string) (ActorID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ActorID{}, fmt.Errorf("%w: empty value", ErrInvalidActorID)
	}
	return ActorID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ActorID) String() string {
	return id.value
}

// NewVoucherCode validates a voucher code value.
func NewVoucherCode(raw string) (VoucherCode, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return VoucherCode{}, fmt.Errorf("%w: empty value", ErrInvalidVoucherCode)
	}
	for _, char := range trimmed {
		if char >= 'A' && char <= 'Z' || char >= '0' && char <= '9' || char == '-' {
			continue
		}
		return VoucherCode{}, fmt.Errorf("%w: %q", ErrInvalidVoucherCode, raw)
	}
	return VoucherCode{value: trimmed}, nil
}

// String returns the normalized code.
func (code VoucherCode) String() string {
	return code.value
}

// NewMetadataJSON validates metadata (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// NewPoints validates a non-negative balance value.
func NewPoints(raw int64) (Points, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidPoints)
	}
	return Points(raw), nil
}

// Int64 returns the raw value.
func (points Points) Int64() int64 {
	return int64(points)
}

// NewPositivePoints validates a strictly positive point amount.
func NewPositivePoints(raw int64) (PositivePoints, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPoints)
	}
	return PositivePoints(raw), nil
}

// ToPoints widens the amount to a balance value.
func (amount PositivePoints) ToPoints() Points {
	return Points(amount)
}

// Int64 returns the raw value.
func (amount PositivePoints) Int64() int64 {
	return int64(amount)
}

// User is a program participant with a point balance.
type User struct {
	ID     UserID
	Points Points
	Role   Role
}

// Reward is a redeemable catalog item. A nil Stock means unlimited.
type Reward struct {
	ID             RewardID
	Name           string
	Description    string
	PointsCost     PositivePoints
	Stock          *int64
	Active         bool
	CreatedUnixUTC int64
}

// NewReward validates a catalog item.
func NewReward(id RewardID, name string, description string, pointsCost PositivePoints, stock *int64, active bool, createdUnixUTC int64) (Reward, error) {
	if strings.TrimSpace(name) == "" {
		return Reward{}, fmt.Errorf("%w: empty name", ErrInvalidReward)
	}
	if stock != nil && *stock < 0 {
		return Reward{}, fmt.Errorf("%w: negative stock", ErrInvalidReward)
	}
	return Reward{
		ID:             id,
		Name:           strings.TrimSpace(name),
		Description:    strings.TrimSpace(description),
		PointsCost:     pointsCost,
		Stock:          stock,
		Active:         active,
		CreatedUnixUTC: createdUnixUTC,
	}, nil
}

// ClaimRecord captures who claimed a voucher and when.
type ClaimRecord struct {
	ClaimedBy        ActorID
	ClaimedAtUnixUTC int64
	Note             MetadataJSON
}

// Redemption records one user exchanging points for one reward instance.
type Redemption struct {
	ID               RedemptionID
	UserID           UserID
	RewardID         RewardID
	PointsSpent      PositivePoints
	VoucherCode      VoucherCode
	Status           RedemptionStatus
	CreatedUnixUTC   int64
	ExpiresAtUnixUTC int64
	Claim            *ClaimRecord
}

// Store is the persistence contract used by Service. Reads issued inside
// WithTx lock the selected rows for the duration of the transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetUser(ctx context.Context, userID UserID) (User, error)
	GetReward(ctx context.Context, rewardID RewardID) (Reward, error)
	CreateUser(ctx context.Context, user User) error
	CreateReward(ctx context.Context, reward Reward) error
	SetRewardActive(ctx context.Context, rewardID RewardID, active bool) error
	ListRewards(ctx context.Context, activeOnly bool) ([]Reward, error)
	DecrementStock(ctx context.Context, rewardID RewardID) error
	DeductPoints(ctx context.Context, userID UserID, amount PositivePoints) error
	AddPoints(ctx context.Context, userID UserID, amount PositivePoints) error
	InsertRedemption(ctx context.Context, redemption Redemption) error
	GetRedemption(ctx context.Context, redemptionID RedemptionID) (Redemption, error)
	UpdateRedemptionStatus(ctx context.Context, redemptionID RedemptionID, from, to RedemptionStatus, claim *ClaimRecord) error
	ListRedemptionsByUser(ctx context.Context, userID UserID, limit int) ([]Redemption, error)
}
