package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User represents the users table.
type User struct {
	UserID    string    `gorm:"primaryKey"`
	Points    int64     `gorm:"not null"`
	Role      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (User) TableName() string { return "users" }

// Reward mirrors the rewards table. A null stock means unlimited.
type Reward struct {
	RewardID    string    `gorm:"type:uuid;primaryKey"`
	Name        string    `gorm:"not null"`
	Description string    `gorm:""`
	PointsCost  int64     `gorm:"not null"`
	Stock       *int64    `gorm:""`
	Active      bool      `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (Reward) TableName() string { return "rewards" }

func (reward *Reward) BeforeCreate(tx *gorm.DB) error {
	if reward.RewardID == "" {
		reward.RewardID = uuid.NewString()
	}
	return nil
}

// Redemption mirrors the redemptions table.
type Redemption struct {
	RedemptionID string         `gorm:"type:uuid;primaryKey"`
	UserID       string         `gorm:"not null;index:idx_redemptions_user_created,priority:1"`
	RewardID     string         `gorm:"type:uuid;not null;index:idx_redemptions_reward"`
	PointsSpent  int64          `gorm:"not null"`
	VoucherCode  string         `gorm:"not null;index:uniq_redemptions_voucher_code,unique"`
	Status       string         `gorm:"not null"`
	ClaimedBy    *string        `gorm:""`
	ClaimedAt    *time.Time     `gorm:""`
	ClaimNote    datatypes.JSON `gorm:"not null"`
	ExpiresAt    time.Time      `gorm:"not null"`
	CreatedAt    time.Time      `gorm:"not null;index:idx_redemptions_user_created,priority:2"`
}

func (Redemption) TableName() string { return "redemptions" }

func (redemption *Redemption) BeforeCreate(tx *gorm.DB) error {
	if redemption.RedemptionID == "" {
		redemption.RedemptionID = uuid.NewString()
	}
	return nil
}
