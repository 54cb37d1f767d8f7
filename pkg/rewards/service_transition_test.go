package rewards

import (
	"context"
	"errors"
	"testing"
)

func redeemFixture(test *testing.T, store *stubStore) Redemption {
	test.Helper()
	userID := store.seedUser(test, "u1", 200, RoleTourist)
	rewardID := store.seedReward(test, "r1", 100, int64Ptr(5), true)
	service := mustNewService(test, store)
	redemption, err := service.Redeem(context.Background(), userID, rewardID)
	if err != nil {
		test.Fatalf("redeem: %v", err)
	}
	return redemption
}

func TestTransitionClaimRecordsActorAndTimestamp(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	redemption := redeemFixture(test, store)
	service := mustNewService(test, store)
	actorID := mustActorID(test, "ranger-7")

	claimed, err := service.TransitionStatus(context.Background(), redemption.ID, StatusClaimed, actorID)
	if err != nil {
		test.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusClaimed {
		test.Fatalf("expected claimed, got %s", claimed.Status)
	}
	if claimed.Claim == nil {
		test.Fatal("expected claim record")
	}
	if claimed.Claim.ClaimedBy != actorID {
		test.Fatalf("expected actor ranger-7, got %s", claimed.Claim.ClaimedBy.String())
	}
	if claimed.Claim.ClaimedAtUnixUTC != fixedNowUnixUTC {
		test.Fatalf("expected claimed_at %d, got %d", fixedNowUnixUTC, claimed.Claim.ClaimedAtUnixUTC)
	}
}

func TestTransitionLifecycleToUsed(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	redemption := redeemFixture(test, store)
	service := mustNewService(test, store)
	actorID := mustActorID(test, "ranger-7")

	if _, err := service.TransitionStatus(context.Background(), redemption.ID, StatusClaimed, actorID); err != nil {
		test.Fatalf("claim: %v", err)
	}
	used, err := service.TransitionStatus(context.Background(), redemption.ID, StatusUsed, actorID)
	if err != nil {
		test.Fatalf("use: %v", err)
	}
	if used.Status != StatusUsed {
		test.Fatalf("expected used, got %s", used.Status)
	}
}

func TestTransitionRejectsReversals(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		via  []RedemptionStatus
		to   RedemptionStatus
	}{
		{name: "used to claimed", via: []RedemptionStatus{StatusClaimed, StatusUsed}, to: StatusClaimed},
		{name: "used to pending", via: []RedemptionStatus{StatusClaimed, StatusUsed}, to: StatusPending},
		{name: "pending straight to used", via: nil, to: StatusUsed},
		{name: "cancelled to claimed", via: []RedemptionStatus{StatusCancelled}, to: StatusClaimed},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore()
			redemption := redeemFixture(test, store)
			service := mustNewService(test, store)
			actorID := mustActorID(test, "ranger-7")

			for _, step := range testCase.via {
				if _, err := service.TransitionStatus(context.Background(), redemption.ID, step, actorID); err != nil {
					test.Fatalf("step %s: %v", step, err)
				}
			}
			before := store.redemptions[redemption.ID.String()].Status
			_, err := service.TransitionStatus(context.Background(), redemption.ID, testCase.to, actorID)
			if !errors.Is(err, ErrInvalidTransition) {
				test.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
			if after := store.redemptions[redemption.ID.String()].Status; after != before {
				test.Fatalf("status changed from %s to %s on rejected transition", before, after)
			}
		})
	}
}

func TestTransitionRejectsClaimOfExpiredVoucher(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	redemption := redeemFixture(test, store)
	// Push the stored record past its expiry while leaving status pending.
	stored := store.redemptions[redemption.ID.String()]
	stored.ExpiresAtUnixUTC = fixedNowUnixUTC - 1
	store.redemptions[redemption.ID.String()] = stored
	service := mustNewService(test, store)

	_, err := service.TransitionStatus(context.Background(), redemption.ID, StatusClaimed, mustActorID(test, "ranger-7"))
	if !errors.Is(err, ErrInvalidTransition) {
		test.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransitionUnknownRedemption(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store)
	redemptionID, err := NewRedemptionID("missing")
	if err != nil {
		test.Fatalf("redemption id: %v", err)
	}
	_, transitionErr := service.TransitionStatus(context.Background(), redemptionID, StatusClaimed, mustActorID(test, "ranger-7"))
	if !errors.Is(transitionErr, ErrRedemptionNotFound) {
		test.Fatalf("expected ErrRedemptionNotFound, got %v", transitionErr)
	}
}

func TestIsEffectivelyExpiredIgnoresStoredStatus(test *testing.T) {
	test.Parallel()
	redemption := Redemption{Status: StatusClaimed, ExpiresAtUnixUTC: fixedNowUnixUTC - 10}
	if !IsEffectivelyExpired(redemption, fixedNowUnixUTC) {
		test.Fatal("expected effectively expired")
	}
	redemption.ExpiresAtUnixUTC = fixedNowUnixUTC + 10
	if IsEffectivelyExpired(redemption, fixedNowUnixUTC) {
		test.Fatal("expected not expired")
	}
}

func TestEffectiveStatusPrefersTimeDerivedExpiry(test *testing.T) {
	test.Parallel()
	pastExpiry := fixedNowUnixUTC - 1
	futureExpiry := fixedNowUnixUTC + 1
	testCases := []struct {
		name      string
		stored    RedemptionStatus
		expiresAt int64
		want      RedemptionStatus
	}{
		{name: "pending past expiry", stored: StatusPending, expiresAt: pastExpiry, want: StatusExpired},
		{name: "claimed past expiry", stored: StatusClaimed, expiresAt: pastExpiry, want: StatusExpired},
		{name: "pending before expiry", stored: StatusPending, expiresAt: futureExpiry, want: StatusPending},
		{name: "used stays used", stored: StatusUsed, expiresAt: pastExpiry, want: StatusUsed},
		{name: "cancelled stays cancelled", stored: StatusCancelled, expiresAt: pastExpiry, want: StatusCancelled},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			redemption := Redemption{Status: testCase.stored, ExpiresAtUnixUTC: testCase.expiresAt}
			if got := EffectiveStatus(redemption, fixedNowUnixUTC); got != testCase.want {
				test.Fatalf("expected %s, got %s", testCase.want, got)
			}
		})
	}
}
