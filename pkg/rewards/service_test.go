package rewards

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"sync"
	"testing"
)

const fixedNowUnixUTC int64 = 1_700_000_000

// stubStore is an in-memory Store. WithTx serializes callers and restores a
// snapshot when fn fails, mirroring the rollback the real stores get from
// their transactions.
type stubStore struct {
	mu          sync.Mutex
	users       map[string]User
	rewards     map[string]Reward
	redemptions map[string]Redemption
	order       []string

	getUserError         error
	getRewardError       error
	insertError          error
	duplicateVoucherOnce bool
}

func newStubStore() *stubStore {
	return &stubStore{
		users:       map[string]User{},
		rewards:     map[string]Reward{},
		redemptions: map[string]Redemption{},
	}
}

func (store *stubStore) seedUser(test *testing.T, id string, points int64, role Role) UserID {
	test.Helper()
	userID := mustUserID(test, id)
	balance, err := NewPoints(points)
	if err != nil {
		test.Fatalf("points: %v", err)
	}
	store.users[id] = User{ID: userID, Points: balance, Role: role}
	return userID
}

func (store *stubStore) seedReward(test *testing.T, id string, cost int64, stock *int64, active bool) RewardID {
	test.Helper()
	rewardID := mustRewardID(test, id)
	pointsCost, err := NewPositivePoints(cost)
	if err != nil {
		test.Fatalf("points cost: %v", err)
	}
	reward, err := NewReward(rewardID, "reward "+id, "", pointsCost, stock, active, fixedNowUnixUTC)
	if err != nil {
		test.Fatalf("reward: %v", err)
	}
	store.rewards[id] = reward
	return rewardID
}

func (store *stubStore) snapshot() (map[string]User, map[string]Reward, map[string]Redemption, []string) {
	users := make(map[string]User, len(store.users))
	for key, value := range store.users {
		users[key] = value
	}
	catalog := make(map[string]Reward, len(store.rewards))
	for key, value := range store.rewards {
		if value.Stock != nil {
			stock := *value.Stock
			value.Stock = &stock
		}
		catalog[key] = value
	}
	redemptions := make(map[string]Redemption, len(store.redemptions))
	for key, value := range store.redemptions {
		redemptions[key] = value
	}
	order := append([]string(nil), store.order...)
	return users, catalog, redemptions, order
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	users, catalog, redemptions, order := store.snapshot()
	if err := fn(ctx, store); err != nil {
		store.users = users
		store.rewards = catalog
		store.redemptions = redemptions
		store.order = order
		return err
	}
	return nil
}

func (store *stubStore) GetUser(_ context.Context, userID UserID) (User, error) {
	if store.getUserError != nil {
		return User{}, store.getUserError
	}
	user, ok := store.users[userID.String()]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (store *stubStore) GetReward(_ context.Context, rewardID RewardID) (Reward, error) {
	if store.getRewardError != nil {
		return Reward{}, store.getRewardError
	}
	reward, ok := store.rewards[rewardID.String()]
	if !ok {
		return Reward{}, ErrRewardNotFound
	}
	return reward, nil
}

func (store *stubStore) CreateUser(_ context.Context, user User) error {
	if _, ok := store.users[user.ID.String()]; ok {
		return ErrUserExists
	}
	store.users[user.ID.String()] = user
	return nil
}

func (store *stubStore) CreateReward(_ context.Context, reward Reward) error {
	if _, ok := store.rewards[reward.ID.String()]; ok {
		return ErrRewardExists
	}
	store.rewards[reward.ID.String()] = reward
	return nil
}

func (store *stubStore) SetRewardActive(_ context.Context, rewardID RewardID, active bool) error {
	reward, ok := store.rewards[rewardID.String()]
	if !ok {
		return ErrRewardNotFound
	}
	reward.Active = active
	store.rewards[rewardID.String()] = reward
	return nil
}

func (store *stubStore) ListRewards(_ context.Context, activeOnly bool) ([]Reward, error) {
	var catalog []Reward
	for _, reward := range store.rewards {
		if activeOnly && !reward.Active {
			continue
		}
		catalog = append(catalog, reward)
	}
	sort.Slice(catalog, func(i, j int) bool { return catalog[i].ID.String() < catalog[j].ID.String() })
	return catalog, nil
}

func (store *stubStore) DecrementStock(_ context.Context, rewardID RewardID) error {
	reward, ok := store.rewards[rewardID.String()]
	if !ok || reward.Stock == nil || *reward.Stock <= 0 {
		return ErrOutOfStock
	}
	next := *reward.Stock - 1
	reward.Stock = &next
	store.rewards[rewardID.String()] = reward
	return nil
}

func (store *stubStore) DeductPoints(_ context.Context, userID UserID, amount PositivePoints) error {
	user, ok := store.users[userID.String()]
	if !ok || user.Points < amount.ToPoints() {
		return ErrInsufficientBalance
	}
	user.Points -= amount.ToPoints()
	store.users[userID.String()] = user
	return nil
}

func (store *stubStore) AddPoints(_ context.Context, userID UserID, amount PositivePoints) error {
	user, ok := store.users[userID.String()]
	if !ok {
		return ErrUserNotFound
	}
	user.Points += amount.ToPoints()
	store.users[userID.String()] = user
	return nil
}

func (store *stubStore) InsertRedemption(_ context.Context, redemption Redemption) error {
	if store.insertError != nil {
		return store.insertError
	}
	if store.duplicateVoucherOnce {
		store.duplicateVoucherOnce = false
		return ErrDuplicateVoucherCode
	}
	for _, existing := range store.redemptions {
		if existing.VoucherCode == redemption.VoucherCode {
			return ErrDuplicateVoucherCode
		}
	}
	store.redemptions[redemption.ID.String()] = redemption
	store.order = append(store.order, redemption.ID.String())
	return nil
}

func (store *stubStore) GetRedemption(_ context.Context, redemptionID RedemptionID) (Redemption, error) {
	redemption, ok := store.redemptions[redemptionID.String()]
	if !ok {
		return Redemption{}, ErrRedemptionNotFound
	}
	return redemption, nil
}

func (store *stubStore) UpdateRedemptionStatus(_ context.Context, redemptionID RedemptionID, from, to RedemptionStatus, claim *ClaimRecord) error {
	redemption, ok := store.redemptions[redemptionID.String()]
	if !ok || redemption.Status != from {
		return ErrInvalidTransition
	}
	redemption.Status = to
	if claim != nil {
		record := *claim
		redemption.Claim = &record
	}
	store.redemptions[redemptionID.String()] = redemption
	return nil
}

func (store *stubStore) ListRedemptionsByUser(_ context.Context, userID UserID, limit int) ([]Redemption, error) {
	var redemptions []Redemption
	for index := len(store.order) - 1; index >= 0; index-- {
		redemption := store.redemptions[store.order[index]]
		if redemption.UserID != userID {
			continue
		}
		redemptions = append(redemptions, redemption)
		if limit > 0 && len(redemptions) == limit {
			break
		}
	}
	return redemptions, nil
}

func (store *stubStore) stockOf(test *testing.T, id string) int64 {
	test.Helper()
	reward, ok := store.rewards[id]
	if !ok {
		test.Fatalf("reward %q missing", id)
	}
	if reward.Stock == nil {
		test.Fatalf("reward %q has unlimited stock", id)
	}
	return *reward.Stock
}

func (store *stubStore) pointsOf(test *testing.T, id string) int64 {
	test.Helper()
	user, ok := store.users[id]
	if !ok {
		test.Fatalf("user %q missing", id)
	}
	return user.Points.Int64()
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustRewardID(test *testing.T, raw string) RewardID {
	test.Helper()
	rewardID, err := NewRewardID(raw)
	if err != nil {
		test.Fatalf("reward id: %v", err)
	}
	return rewardID
}

func mustActorID(test *testing.T, raw string) ActorID {
	test.Helper()
	actorID, err := NewActorID(raw)
	if err != nil {
		test.Fatalf("actor id: %v", err)
	}
	return actorID
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return fixedNowUnixUTC }, options...)
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	return service
}

func int64Ptr(value int64) *int64 {
	return &value
}

func TestRedeemCreatesPendingRedemption(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	userID := store.seedUser(test, "u1", 150, RoleTourist)
	rewardID := store.seedReward(test, "r1", 100, int64Ptr(1), true)
	service := mustNewService(test, store)

	redemption, err := service.Redeem(context.Background(), userID, rewardID)
	if err != nil {
		test.Fatalf("redeem: %v", err)
	}
	if redemption.Status != StatusPending {
		test.Fatalf("expected pending, got %s", redemption.Status)
	}
	if redemption.PointsSpent.Int64() != 100 {
		test.Fatalf("expected points_spent 100, got %d", redemption.PointsSpent.Int64())
	}
	if matched := regexp.MustCompile(`^[A-Z0-9-]+$`).MatchString(redemption.VoucherCode.String()); !matched {
		test.Fatalf("unexpected voucher format: %s", redemption.VoucherCode.String())
	}
	wantExpiry := fixedNowUnixUTC + 30*24*3600
	if redemption.ExpiresAtUnixUTC != wantExpiry {
		test.Fatalf("expected expiry %d, got %d", wantExpiry, redemption.ExpiresAtUnixUTC)
	}
	if got := store.pointsOf(test, "u1"); got != 50 {
		test.Fatalf("expected balance 50, got %d", got)
	}
	if got := store.stockOf(test, "r1"); got != 0 {
		test.Fatalf("expected stock 0, got %d", got)
	}
}

func TestRedeemSecondAttemptOutOfStock(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	userID := store.seedUser(test, "u1", 250, RoleTourist)
	rewardID := store.seedReward(test, "r1", 100, int64Ptr(1), true)
	service := mustNewService(test, store)

	if _, err := service.Redeem(context.Background(), userID, rewardID); err != nil {
		test.Fatalf("first redeem: %v", err)
	}
	_, err := service.Redeem(context.Background(), userID, rewardID)
	if !errors.Is(err, ErrOutOfStock) {
		test.Fatalf("expected ErrOutOfStock, got %v", err)
	}
	if got := store.pointsOf(test, "u1"); got != 150 {
		test.Fatalf("expected balance unchanged at 150, got %d", got)
	}
}

func TestRedeemInsufficientBalanceLeavesStateUntouched(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	userID := store.seedUser(test, "u1", 40, RoleTourist)
	rewardID := store.seedReward(test, "r1", 100, int64Ptr(5), true)
	service := mustNewService(test, store)

	_, err := service.Redeem(context.Background(), userID, rewardID)
	if !errors.Is(err, ErrInsufficientBalance) {
		test.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := store.pointsOf(test, "u1"); got != 40 {
		test.Fatalf("expected balance 40, got %d", got)
	}
	if got := store.stockOf(test, "r1"); got != 5 {
		test.Fatalf("expected stock 5, got %d", got)
	}
	if len(store.redemptions) != 0 {
		test.Fatalf("expected no redemption, got %d", len(store.redemptions))
	}
}

func TestRedeemInactiveRewardNotFound(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	userID := store.seedUser(test, "u1", 500, RoleTourist)
	rewardID := store.seedReward(test, "r1", 100, nil, false)
	service := mustNewService(test, store)

	_, err := service.Redeem(context.Background(), userID, rewardID)
	if !errors.Is(err, ErrRewardNotFound) {
		test.Fatalf("expected ErrRewardNotFound, got %v", err)
	}
}

func TestRedeemUnknownUser(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	rewardID := store.seedReward(test, "r1", 100, nil, true)
	service := mustNewService(test, store)

	_, err := service.Redeem(context.Background(), mustUserID(test, "ghost"), rewardID)
	if !errors.Is(err, ErrUserNotFound) {
		test.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestRedeemUnlimitedStockSkipsDecrement(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	userID := store.seedUser(test, "u1", 300, RoleTourist)
	rewardID := store.seedReward(test, "r1", 100, nil, true)
	service := mustNewService(test, store)

	for attempt := 0; attempt < 3; attempt++ {
		if _, err := service.Redeem(context.Background(), userID, rewardID); err != nil {
			test.Fatalf("redeem %d: %v", attempt, err)
		}
	}
	if got := store.pointsOf(test, "u1"); got != 0 {
		test.Fatalf("expected balance 0, got %d", got)
	}
}

func TestRedeemRetriesOnDuplicateVoucherWithoutDoubleCharge(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	userID := store.seedUser(test, "u1", 100, RoleTourist)
	rewardID := store.seedReward(test, "r1", 100, int64Ptr(1), true)
	store.duplicateVoucherOnce = true
	service := mustNewService(test, store)

	redemption, err := service.Redeem(context.Background(), userID, rewardID)
	if err != nil {
		test.Fatalf("redeem: %v", err)
	}
	if redemption.VoucherCode.String() == "" {
		test.Fatal("expected voucher code")
	}
	if got := store.pointsOf(test, "u1"); got != 0 {
		test.Fatalf("expected single deduction to 0, got %d", got)
	}
	if got := store.stockOf(test, "r1"); got != 0 {
		test.Fatalf("expected single decrement to 0, got %d", got)
	}
}

func TestConcurrentRedemptionsNeverOversell(test *testing.T) {
	test.Parallel()
	const stock = 3
	const contenders = 5
	store := newStubStore()
	rewardID := store.seedReward(test, "r1", 10, int64Ptr(stock), true)
	userIDs := make([]UserID, contenders)
	for index := 0; index < contenders; index++ {
		userIDs[index] = store.seedUser(test, string(rune('a'+index)), 100, RoleTourist)
	}
	service := mustNewService(test, store)

	results := make(chan error, contenders)
	var wg sync.WaitGroup
	for index := 0; index < contenders; index++ {
		wg.Add(1)
		go func(userID UserID) {
			defer wg.Done()
			_, err := service.Redeem(context.Background(), userID, rewardID)
			results <- err
		}(userIDs[index])
	}
	wg.Wait()
	close(results)

	var successes, outOfStock int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrOutOfStock):
			outOfStock++
		default:
			test.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != stock {
		test.Fatalf("expected %d successes, got %d", stock, successes)
	}
	if outOfStock != contenders-stock {
		test.Fatalf("expected %d out-of-stock failures, got %d", contenders-stock, outOfStock)
	}
	if got := store.stockOf(test, "r1"); got != 0 {
		test.Fatalf("expected stock 0, got %d", got)
	}
}

func TestRedeemVoucherCodesAreUnique(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	userID := store.seedUser(test, "u1", 1000, RoleTourist)
	firstReward := store.seedReward(test, "r1", 10, nil, true)
	secondReward := store.seedReward(test, "r2", 10, nil, true)
	service := mustNewService(test, store)

	seen := map[string]bool{}
	for attempt := 0; attempt < 10; attempt++ {
		rewardID := firstReward
		if attempt%2 == 1 {
			rewardID = secondReward
		}
		redemption, err := service.Redeem(context.Background(), userID, rewardID)
		if err != nil {
			test.Fatalf("redeem %d: %v", attempt, err)
		}
		code := redemption.VoucherCode.String()
		if seen[code] {
			test.Fatalf("duplicate voucher code %s", code)
		}
		seen[code] = true
	}
}

func TestNewServiceRejectsNilDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewService(nil, func() int64 { return 0 }); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig, got %v", err)
	}
	if _, err := NewService(newStubStore(), nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig, got %v", err)
	}
}
