package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/raviejay/PanaragaPulse/pkg/rewards"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

type httpHandler struct {
	logger  *zap.Logger
	service *rewards.Service
}

type redeemRequest struct {
	RewardID string `json:"reward_id"`
}

type createRewardRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	PointsCost  int64  `json:"points_cost"`
	Stock       *int64 `json:"stock"`
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

type awardPointsRequest struct {
	UserID string `json:"user_id"`
	Points int64  `json:"points"`
	Reason string `json:"reason"`
}

type rewardPayload struct {
	RewardID    string `json:"reward_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	PointsCost  int64  `json:"points_cost"`
	Stock       *int64 `json:"stock"`
	Active      bool   `json:"active"`
}

type redemptionPayload struct {
	RedemptionID     string `json:"redemption_id"`
	RewardID         string `json:"reward_id"`
	PointsSpent      int64  `json:"points_spent"`
	VoucherCode      string `json:"voucher_code"`
	Status           string `json:"status"`
	CreatedUnixUTC   int64  `json:"created_unix_utc"`
	ExpiresAtUnixUTC int64  `json:"expires_at_unix_utc"`
	ClaimedBy        string `json:"claimed_by,omitempty"`
	ClaimedAtUnixUTC int64  `json:"claimed_at_unix_utc,omitempty"`
}

type walletPayload struct {
	Points      int64               `json:"points"`
	Redemptions []redemptionPayload `json:"redemptions"`
}

func (handler *httpHandler) handleSession(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user_id":    claims.GetUserID(),
		"email":      claims.GetUserEmail(),
		"display":    claims.GetUserDisplayName(),
		"avatar_url": claims.GetUserAvatarURL(),
		"roles":      claims.GetUserRoles(),
		"expires":    claims.GetExpiresAt().Unix(),
	})
}

// handleBootstrap registers a participant record for a freshly authenticated
// session. Re-registration is a no-op.
func (handler *httpHandler) handleBootstrap(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	userID, err := rewards.NewUserID(claims.GetUserID())
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	if _, err := handler.service.RegisterUser(ctx.Request.Context(), userID, sessionRole(claims)); err != nil && !errors.Is(err, rewards.ErrUserExists) {
		handler.respondDomainError(ctx, err)
		return
	}
	handler.respondWithWallet(ctx, userID)
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	userID, err := rewards.NewUserID(claims.GetUserID())
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	handler.respondWithWallet(ctx, userID)
}

func (handler *httpHandler) handleCatalog(ctx *gin.Context) {
	catalog, err := handler.service.ListRewards(ctx.Request.Context(), true)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	payload := make([]rewardPayload, 0, len(catalog))
	for _, reward := range catalog {
		payload = append(payload, toRewardPayload(reward))
	}
	ctx.JSON(http.StatusOK, gin.H{"rewards": payload})
}

func (handler *httpHandler) handleRedeem(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request redeemRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	userID, err := rewards.NewUserID(claims.GetUserID())
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	rewardID, err := rewards.NewRewardID(request.RewardID)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	var redemption rewards.Redemption
	operationError := handler.withStorageRetry(ctx.Request.Context(), func() error {
		var err error
		redemption, err = handler.service.Redeem(ctx.Request.Context(), userID, rewardID)
		return err
	})
	if operationError != nil {
		handler.respondDomainError(ctx, operationError)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"redemption": toRedemptionPayload(redemption)})
}

func (handler *httpHandler) handleClaim(ctx *gin.Context) {
	handler.handleTransition(ctx, rewards.StatusClaimed, true)
}

func (handler *httpHandler) handleUse(ctx *gin.Context) {
	handler.handleTransition(ctx, rewards.StatusUsed, true)
}

func (handler *httpHandler) handleCancel(ctx *gin.Context) {
	handler.handleTransition(ctx, rewards.StatusCancelled, false)
}

func (handler *httpHandler) handleTransition(ctx *gin.Context, target rewards.RedemptionStatus, staffOnly bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	if staffOnly && !hasAnyRole(claims, rewards.RoleRanger, rewards.RoleAdmin) {
		ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "ranger or admin role required"))
		return
	}
	redemptionID, err := rewards.NewRedemptionID(ctx.Param("id"))
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	actorID, err := rewards.NewActorID(claims.GetUserID())
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	if !staffOnly && !hasAnyRole(claims, rewards.RoleRanger, rewards.RoleAdmin) {
		// Owners may cancel their own pending vouchers; nobody else's.
		redemption, err := handler.service.GetRedemption(ctx.Request.Context(), redemptionID)
		if err != nil {
			handler.respondDomainError(ctx, err)
			return
		}
		if redemption.UserID.String() != claims.GetUserID() {
			ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "not your redemption"))
			return
		}
	}
	updated, err := handler.service.TransitionStatus(ctx.Request.Context(), redemptionID, target, actorID)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"redemption": toRedemptionPayload(updated)})
}

func (handler *httpHandler) handleCreateReward(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	if !hasAnyRole(claims, rewards.RoleAdmin) {
		ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "admin role required"))
		return
	}
	var request createRewardRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	pointsCost, err := rewards.NewPositivePoints(request.PointsCost)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	reward, err := handler.service.CreateReward(ctx.Request.Context(), request.Name, request.Description, pointsCost, request.Stock)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"reward": toRewardPayload(reward)})
}

func (handler *httpHandler) handleSetRewardActive(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	if !hasAnyRole(claims, rewards.RoleAdmin) {
		ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "admin role required"))
		return
	}
	var request setActiveRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	rewardID, err := rewards.NewRewardID(ctx.Param("id"))
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	if err := handler.service.SetRewardActive(ctx.Request.Context(), rewardID, request.Active); err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (handler *httpHandler) handleAwardPoints(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	if !hasAnyRole(claims, rewards.RoleRanger, rewards.RoleAdmin) {
		ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "ranger or admin role required"))
		return
	}
	var request awardPointsRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	userID, err := rewards.NewUserID(request.UserID)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	amount, err := rewards.NewPositivePoints(request.Points)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	if err := handler.service.AwardPoints(ctx.Request.Context(), userID, amount, request.Reason); err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	handler.respondWithWallet(ctx, userID)
}

func (handler *httpHandler) respondWithWallet(ctx *gin.Context, userID rewards.UserID) {
	balance, err := handler.service.Balance(ctx.Request.Context(), userID)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	redemptions, err := handler.service.ListRedemptions(ctx.Request.Context(), userID, walletHistoryLimit)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	payload := make([]redemptionPayload, 0, len(redemptions))
	for _, redemption := range redemptions {
		payload = append(payload, toRedemptionPayload(redemption))
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": walletPayload{
		Points:      balance.Int64(),
		Redemptions: payload,
	}})
}

// withStorageRetry retries transient storage failures a bounded number of
// times. Business-rule failures pass through untouched.
func (handler *httpHandler) withStorageRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < storageRetryAttempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, rewards.ErrStorageUnavailable) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(storageRetryDelay):
		}
	}
	return err
}

// respondDomainError maps each domain sentinel to a distinct status and
// stable code so the client can tell the user what to do next.
func (handler *httpHandler) respondDomainError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, rewards.ErrInsufficientBalance):
		ctx.JSON(http.StatusConflict, errorResponse("insufficient_balance", "not enough points for this reward"))
	case errors.Is(err, rewards.ErrOutOfStock):
		ctx.JSON(http.StatusConflict, errorResponse("out_of_stock", "this reward is out of stock"))
	case errors.Is(err, rewards.ErrInvalidTransition):
		ctx.JSON(http.StatusConflict, errorResponse("invalid_transition", "the voucher cannot move to that status"))
	case errors.Is(err, rewards.ErrRewardNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse("reward_not_found", "reward does not exist or is inactive"))
	case errors.Is(err, rewards.ErrUserNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse("user_not_found", "no participant record; bootstrap first"))
	case errors.Is(err, rewards.ErrRedemptionNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse("redemption_not_found", "unknown redemption"))
	case errors.Is(err, rewards.ErrUserExists), errors.Is(err, rewards.ErrRewardExists):
		ctx.JSON(http.StatusConflict, errorResponse("already_exists", "record already exists"))
	case errors.Is(err, rewards.ErrStorageUnavailable):
		handler.logger.Error("storage unavailable", zap.Error(err))
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("storage_unavailable", "try again shortly"))
	case errors.Is(err, rewards.ErrInvalidUserID),
		errors.Is(err, rewards.ErrInvalidRewardID),
		errors.Is(err, rewards.ErrInvalidRedemptionID),
		errors.Is(err, rewards.ErrInvalidActorID),
		errors.Is(err, rewards.ErrInvalidPoints),
		errors.Is(err, rewards.ErrInvalidReward),
		errors.Is(err, rewards.ErrInvalidRedemptionStatus),
		errors.Is(err, rewards.ErrInvalidVoucherCode),
		errors.Is(err, rewards.ErrInvalidMetadataJSON):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
	default:
		handler.logger.Error("unexpected failure", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "unexpected failure"))
	}
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func hasAnyRole(claims *sessionvalidator.Claims, roles ...rewards.Role) bool {
	for _, have := range claims.GetUserRoles() {
		for _, want := range roles {
			if have == want.String() {
				return true
			}
		}
	}
	return false
}

func sessionRole(claims *sessionvalidator.Claims) rewards.Role {
	switch {
	case hasAnyRole(claims, rewards.RoleAdmin):
		return rewards.RoleAdmin
	case hasAnyRole(claims, rewards.RoleRanger):
		return rewards.RoleRanger
	default:
		return rewards.RoleTourist
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

func toRewardPayload(reward rewards.Reward) rewardPayload {
	return rewardPayload{
		RewardID:    reward.ID.String(),
		Name:        reward.Name,
		Description: reward.Description,
		PointsCost:  reward.PointsCost.Int64(),
		Stock:       reward.Stock,
		Active:      reward.Active,
	}
}

func toRedemptionPayload(redemption rewards.Redemption) redemptionPayload {
	payload := redemptionPayload{
		RedemptionID:     redemption.ID.String(),
		RewardID:         redemption.RewardID.String(),
		PointsSpent:      redemption.PointsSpent.Int64(),
		VoucherCode:      redemption.VoucherCode.String(),
		Status:           redemption.Status.String(),
		CreatedUnixUTC:   redemption.CreatedUnixUTC,
		ExpiresAtUnixUTC: redemption.ExpiresAtUnixUTC,
	}
	if redemption.Claim != nil {
		payload.ClaimedBy = redemption.Claim.ClaimedBy.String()
		payload.ClaimedAtUnixUTC = redemption.Claim.ClaimedAtUnixUTC
	}
	return payload
}
