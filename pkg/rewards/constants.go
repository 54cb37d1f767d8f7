package rewards

import "time"

const (
	operationRedeem       = "redeem"
	operationTransition   = "transition_status"
	operationAward        = "award_points"
	operationCreateReward = "create_reward"
	operationSetActive    = "set_reward_active"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	voucherPrefix       = "REEF"
	voucherRandomLength = 12
	voucherAlphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	voucherMintAttempts = 3

	defaultExpiryOffset = 30 * 24 * time.Hour
)
