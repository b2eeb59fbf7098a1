// Integration tests for the epoch lifecycle, settlement, streak, and
// mining services against a real PostgreSQL container.
package service

import (
	"context"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"wavemine-server/internal/event"
	"wavemine-server/internal/ledger"
	"wavemine-server/internal/model"
	"wavemine-server/internal/pkg/lock"
	"wavemine-server/internal/repository"
)

func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

// testEnv bundles a database-backed service stack for integration tests.
type testEnv struct {
	pool        *pgxpool.Pool
	profileRepo *repository.ProfileRepository
	epochRepo   *repository.EpochRepository
	sessionRepo *repository.SessionRepository
	balanceRepo *repository.BalanceRepository
	rewardRepo  *repository.RewardRepository
	nftRepo     *repository.NFTRepository
	txRepo      *repository.TransactionRepository
	rules       []MultiplierRule
	settler     *SettlementEngine
	epochs      *EpochService
	bus         *event.Bus
}

func setupTestEnv(t *testing.T, epochDuration time.Duration) (*testEnv, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	require.NoError(t, repository.Migrate(ctx, pool))

	env := &testEnv{
		pool:        pool,
		profileRepo: repository.NewProfileRepository(pool),
		epochRepo:   repository.NewEpochRepository(pool),
		sessionRepo: repository.NewSessionRepository(pool),
		balanceRepo: repository.NewBalanceRepository(pool),
		rewardRepo:  repository.NewRewardRepository(pool),
		nftRepo:     repository.NewNFTRepository(pool),
		txRepo:      repository.NewTransactionRepository(pool),
		rules:       DefaultRules(1.5, 1.10, 7),
		bus:         event.NewBus(),
	}
	env.settler = NewSettlementEngine(pool, env.sessionRepo, env.balanceRepo, env.rewardRepo, env.profileRepo, env.nftRepo, env.txRepo, env.rules)
	env.epochs = NewEpochService(pool, env.epochRepo, env.settler, env.bus, epochDuration)

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return env, cleanup
}

func (e *testEnv) createProfile(t *testing.T, userID string) {
	t.Helper()
	_, _, err := e.profileRepo.GetOrCreate(context.Background(), userID, userID)
	require.NoError(t, err)
}

// minedSession creates a finished session for the user carrying the given
// accrual within the epoch.
func (e *testEnv) minedSession(t *testing.T, id, userID string, epochID int64, waves float64) {
	t.Helper()
	ctx := context.Background()
	start := time.Now().Add(-time.Hour)
	s, err := e.sessionRepo.Create(ctx, id, userID, epochID, start)
	require.NoError(t, err)
	_, err = e.sessionRepo.ApplyTick(ctx, s.ID, waves, start.Add(30*time.Minute))
	require.NoError(t, err)
}

// ============================================================================
// Epoch lifecycle
// ============================================================================

func TestEpochService_EnsureCreatesFirstEpoch(t *testing.T) {
	env, cleanup := setupTestEnv(t, time.Hour)
	defer cleanup()

	ctx := context.Background()

	epoch, err := env.epochs.EnsureCurrentEpoch(ctx)
	require.NoError(t, err)
	assert.True(t, epoch.IsActive)
	assert.InDelta(t, time.Hour.Seconds(), epoch.EndTime.Sub(epoch.StartTime).Seconds(), 1)

	// Re-ensuring while unexpired returns the same epoch.
	again, err := env.epochs.EnsureCurrentEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, epoch.ID, again.ID)
}

func TestEpochService_TransitionSettlesAndReplaces(t *testing.T) {
	env, cleanup := setupTestEnv(t, time.Hour)
	defer cleanup()

	ctx := context.Background()

	// Expired active epoch with mining activity.
	expired, err := env.epochRepo.Create(ctx, time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour))
	require.NoError(t, err)

	env.createProfile(t, "alice")
	env.minedSession(t, "c7b6a1de-3f20-4b57-9f0a-aaaaaaaaaaa1", "alice", expired.ID, 100)

	next, err := env.epochs.EnsureCurrentEpoch(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, expired.ID, next.ID)
	assert.True(t, next.IsActive)

	// Old epoch is closed, its sessions finalized, rewards recorded, and the
	// boosted amount credited.
	old, err := env.epochRepo.GetByID(ctx, expired.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)

	session, err := env.sessionRepo.GetByID(ctx, "c7b6a1de-3f20-4b57-9f0a-aaaaaaaaaaa1")
	require.NoError(t, err)
	assert.False(t, session.Active)
	require.NotNil(t, session.EndTime)

	reward, err := env.rewardRepo.GetByEpoch(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reward.ParticipantCount)
	assert.InDelta(t, 100.0, reward.TotalDistributed, 1e-9)

	balance, err := env.balanceRepo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, balance.Waves, 1e-9)
}

func TestEpochService_ConcurrentTransitionsCollapseToOne(t *testing.T) {
	env, cleanup := setupTestEnv(t, time.Hour)
	defer cleanup()

	ctx := context.Background()

	expired, err := env.epochRepo.Create(ctx, time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour))
	require.NoError(t, err)

	env.createProfile(t, "alice")
	env.minedSession(t, "c7b6a1de-3f20-4b57-9f0a-bbbbbbbbbbb1", "alice", expired.ID, 50)

	const workers = 8
	results := make([]*model.Epoch, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.epochs.EnsureCurrentEpoch(ctx)
		}(i)
	}
	wg.Wait()

	// Every caller succeeds and lands on the same successor epoch.
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		assert.Equal(t, results[0].ID, results[i].ID)
		assert.NotEqual(t, expired.ID, results[i].ID)
	}

	count, err := env.epochRepo.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Settlement happened exactly once: the balance reflects a single credit.
	balance, err := env.balanceRepo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, balance.Waves, 1e-9)
}

// ============================================================================
// Settlement
// ============================================================================

func TestSettlementEngine_AppliesMultipliers(t *testing.T) {
	env, cleanup := setupTestEnv(t, time.Hour)
	defer cleanup()

	ctx := context.Background()

	epoch, err := env.epochRepo.Create(ctx, time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour))
	require.NoError(t, err)

	// alice: NFT owner with an 8-day streak. bob: no modifiers.
	env.createProfile(t, "alice")
	env.createProfile(t, "bob")
	require.NoError(t, env.profileRepo.UpdateStreak(ctx, "alice", 8, time.Now()))

	_, err = env.pool.Exec(ctx, `INSERT INTO nfts (name, price, boost_percent) VALUES ('Drill', 100, 25)`)
	require.NoError(t, err)
	nfts, err := env.nftRepo.List(ctx)
	require.NoError(t, err)
	require.NoError(t, env.nftRepo.Grant(ctx, "alice", nfts[0].ID))

	env.minedSession(t, "c7b6a1de-3f20-4b57-9f0a-ccccccccccc1", "alice", epoch.ID, 100)
	env.minedSession(t, "c7b6a1de-3f20-4b57-9f0a-ccccccccccc2", "bob", epoch.ID, 100)

	reward, err := env.settler.Settle(ctx, epoch.ID)
	require.NoError(t, err)

	// 100 x 1.5 (NFT) x 1.10 (streak >= 7) for alice, flat 100 for bob.
	assert.Equal(t, 2, reward.ParticipantCount)
	assert.InDelta(t, 165.0, reward.Distribution["alice"], 1e-9)
	assert.InDelta(t, 100.0, reward.Distribution["bob"], 1e-9)
	assert.InDelta(t, 265.0, reward.TotalDistributed, 1e-9)

	balance, err := env.balanceRepo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 165.0, balance.Waves, 1e-9)
}

func TestSettlementEngine_Idempotent(t *testing.T) {
	env, cleanup := setupTestEnv(t, time.Hour)
	defer cleanup()

	ctx := context.Background()

	epoch, err := env.epochRepo.Create(ctx, time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour))
	require.NoError(t, err)

	env.createProfile(t, "alice")
	env.minedSession(t, "c7b6a1de-3f20-4b57-9f0a-ddddddddddd1", "alice", epoch.ID, 40)

	first, err := env.settler.Settle(ctx, epoch.ID)
	require.NoError(t, err)

	second, err := env.settler.Settle(ctx, epoch.ID)
	require.NoError(t, err)

	assert.Equal(t, first.EpochID, second.EpochID)
	assert.Equal(t, first.TotalDistributed, second.TotalDistributed)
	assert.Equal(t, first.Distribution, second.Distribution)

	// No double credit.
	balance, err := env.balanceRepo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 40.0, balance.Waves, 1e-9)
}

func TestSettlementEngine_EmptyEpoch(t *testing.T) {
	env, cleanup := setupTestEnv(t, time.Hour)
	defer cleanup()

	ctx := context.Background()

	epoch, err := env.epochRepo.Create(ctx, time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour))
	require.NoError(t, err)

	reward, err := env.settler.Settle(ctx, epoch.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reward.ParticipantCount)
	assert.Equal(t, 0.0, reward.TotalDistributed)
	assert.Empty(t, reward.Distribution)
}

// ============================================================================
// Streak claims
// ============================================================================

func TestStreakService_ClaimLifecycle(t *testing.T) {
	env, cleanup := setupTestEnv(t, time.Hour)
	defer cleanup()

	ctx := context.Background()
	streaks := NewStreakService(env.pool, env.profileRepo, env.balanceRepo, env.txRepo, env.bus, 10.0)

	day1 := time.Date(2024, 3, 10, 9, 0, 0, 0, claimZone)

	claim, err := streaks.Claim(ctx, "alice", day1)
	require.NoError(t, err)
	assert.Equal(t, 1, claim.StreakDays)
	assert.InDelta(t, 10.0, claim.WavesAwarded, 1e-9)

	// Second claim on the same calendar day is rejected.
	_, err = streaks.Claim(ctx, "alice", day1.Add(6*time.Hour))
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	// Next day extends the streak.
	claim, err = streaks.Claim(ctx, "alice", day1.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, claim.StreakDays)

	// A missed day resets it.
	claim, err = streaks.Claim(ctx, "alice", day1.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Equal(t, 1, claim.StreakDays)

	// Three successful claims, one reward each.
	balance, err := env.balanceRepo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 30.0, balance.Waves, 1e-9)

	history, err := streaks.History(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestStreakService_ConcurrentClaimsAwardOnce(t *testing.T) {
	env, cleanup := setupTestEnv(t, time.Hour)
	defer cleanup()

	ctx := context.Background()
	streaks := NewStreakService(env.pool, env.profileRepo, env.balanceRepo, env.txRepo, env.bus, 10.0)
	env.createProfile(t, "alice")

	now := time.Date(2024, 3, 10, 9, 0, 0, 0, claimZone)

	const workers = 6
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = streaks.Claim(ctx, "alice", now)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyClaimed)
		}
	}
	assert.Equal(t, 1, succeeded)

	balance, err := env.balanceRepo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, balance.Waves, 1e-9)
}

// ============================================================================
// Mining accumulator
// ============================================================================

func TestMiningService_StartTickStop(t *testing.T) {
	env, cleanup := setupTestEnv(t, time.Hour)
	defer cleanup()

	ctx := context.Background()
	offline, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer offline.Close()

	mining := NewMiningService(env.pool, env.sessionRepo, env.balanceRepo, env.txRepo,
		env.profileRepo, env.nftRepo, env.epochs, offline, env.bus, lock.NewUserLock(), 1.0)

	session, err := mining.Start(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, session.Active)
	assert.Equal(t, 0.0, session.WavesMined)

	// A second start while the session is live is rejected.
	_, err = mining.Start(ctx, "alice")
	assert.ErrorIs(t, err, ErrAlreadyMining)

	// One minute at base rate 1.0 accrues one wave.
	ticked, err := mining.Tick(ctx, session.ID, session.LastUpdate.Add(time.Minute))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, ticked.WavesMined, 1e-6)

	balance, err := env.balanceRepo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, balance.Waves, 1e-6)

	// Repeating the same tick accrues nothing further.
	ticked, err = mining.Tick(ctx, session.ID, ticked.LastUpdate)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, ticked.WavesMined, 1e-6)

	// Stop flushes the remaining minute and closes the session.
	final, err := mining.Stop(ctx, "alice", ticked.LastUpdate.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.False(t, final.Active)
	assert.InDelta(t, 2.0, final.WavesMined, 1e-6)

	active, err := mining.ActiveSession(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, active)

	// Stopping again is a no-op.
	final, err = mining.Stop(ctx, "alice", time.Now())
	require.NoError(t, err)
	assert.Nil(t, final)

	// Both minutes were credited exactly once.
	balance, err = env.balanceRepo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, balance.Waves, 1e-6)
}

func TestMiningService_OverlappingTicksAccrueOnce(t *testing.T) {
	env, cleanup := setupTestEnv(t, time.Hour)
	defer cleanup()

	ctx := context.Background()
	offline, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer offline.Close()

	mining := NewMiningService(env.pool, env.sessionRepo, env.balanceRepo, env.txRepo,
		env.profileRepo, env.nftRepo, env.epochs, offline, env.bus, lock.NewUserLock(), 1.0)

	session, err := mining.Start(ctx, "alice")
	require.NoError(t, err)

	// Two ticks for the same instant race: whichever runs second must see
	// the advanced last_update and accrue nothing on top.
	at := session.LastUpdate.Add(time.Minute)

	const workers = 2
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = mining.Tick(ctx, session.ID, at)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	stored, err := env.sessionRepo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, stored.WavesMined, 1e-6)

	balance, err := env.balanceRepo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, balance.Waves, 1e-6)
}

func TestMiningService_StopAfterBufferedClosedSnapshot(t *testing.T) {
	env, cleanup := setupTestEnv(t, time.Hour)
	defer cleanup()

	ctx := context.Background()
	offline, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer offline.Close()

	mining := NewMiningService(env.pool, env.sessionRepo, env.balanceRepo, env.txRepo,
		env.profileRepo, env.nftRepo, env.epochs, offline, env.bus, lock.NewUserLock(), 1.0)

	session, err := mining.Start(ctx, "alice")
	require.NoError(t, err)

	// A prior stop that could only buffer its result leaves a closed
	// snapshot newer than the stored row.
	ended := session.LastUpdate.Add(time.Minute)
	snapshot := *session
	snapshot.Active = false
	snapshot.EndTime = &ended
	snapshot.WavesMined = 1.0
	snapshot.LastUpdate = ended
	require.NoError(t, offline.Store(&snapshot))

	// Stopping again must settle cleanly on the closed state.
	final, err := mining.Stop(ctx, "alice", ended.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.False(t, final.Active)

	stored, err := env.sessionRepo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)

	// The buffered accrual still reaches the balance through replay.
	syncer := ledger.NewSyncer(offline, env.pool, env.sessionRepo, env.balanceRepo, env.txRepo)
	require.NoError(t, syncer.SyncOnce(ctx))

	balance, err := env.balanceRepo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, balance.Waves, 1e-6)
}

func TestMiningService_RateReflectsBoosts(t *testing.T) {
	env, cleanup := setupTestEnv(t, time.Hour)
	defer cleanup()

	ctx := context.Background()
	offline, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer offline.Close()

	mining := NewMiningService(env.pool, env.sessionRepo, env.balanceRepo, env.txRepo,
		env.profileRepo, env.nftRepo, env.epochs, offline, env.bus, lock.NewUserLock(), 1.0)

	env.createProfile(t, "alice")
	require.NoError(t, env.profileRepo.UpdateStreak(ctx, "alice", 10, time.Now()))

	_, err = env.pool.Exec(ctx, `INSERT INTO nfts (name, price, boost_percent) VALUES ('Drill', 100, 50)`)
	require.NoError(t, err)
	nfts, err := env.nftRepo.List(ctx)
	require.NoError(t, err)
	require.NoError(t, env.nftRepo.Grant(ctx, "alice", nfts[0].ID))

	rate, err := mining.Rate(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, rate.BoostPercent, 1e-9)
	assert.Equal(t, 10, rate.StreakDays)
	assert.InDelta(t, 0.10, rate.StreakBonus, 1e-9)
	assert.InDelta(t, 1.60, rate.EffectiveRate, 1e-9)
	assert.InDelta(t, 1.60*60*24, rate.DailyProjection, 1e-6)
}

func TestMiningService_FinalizeReportedAmount(t *testing.T) {
	env, cleanup := setupTestEnv(t, time.Hour)
	defer cleanup()

	ctx := context.Background()
	offline, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer offline.Close()

	mining := NewMiningService(env.pool, env.sessionRepo, env.balanceRepo, env.txRepo,
		env.profileRepo, env.nftRepo, env.epochs, offline, env.bus, lock.NewUserLock(), 1.0)

	session, err := mining.Start(ctx, "alice")
	require.NoError(t, err)

	final, err := mining.Finalize(ctx, session.ID, 12.5, time.Now())
	require.NoError(t, err)
	assert.False(t, final.Active)
	assert.InDelta(t, 12.5, final.WavesMined, 1e-9)

	// The newly recorded accrual is credited along with the close.
	balance, err := env.balanceRepo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 12.5, balance.Waves, 1e-9)

	// A stale lower report cannot regress the recorded amount, and it
	// credits nothing further.
	again, err := mining.Finalize(ctx, session.ID, 3.0, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 12.5, again.WavesMined, 1e-9)

	balance, err = env.balanceRepo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 12.5, balance.Waves, 1e-9)

	_, err = mining.Finalize(ctx, "c7b6a1de-3f20-4b57-9f0a-eeeeeeeeeee1", 1.0, time.Now())
	assert.ErrorIs(t, err, ErrSessionUnknown)
}

// ============================================================================
// NFT shop
// ============================================================================

func TestNFTShopService_Purchase(t *testing.T) {
	env, cleanup := setupTestEnv(t, time.Hour)
	defer cleanup()

	ctx := context.Background()
	shop := NewNFTShopService(env.pool, env.nftRepo, env.balanceRepo, env.txRepo, lock.NewUserLock())

	env.createProfile(t, "alice")
	_, err := env.pool.Exec(ctx, `INSERT INTO nfts (name, price, boost_percent) VALUES ('Drill', 100, 25)`)
	require.NoError(t, err)
	nfts, err := shop.Catalog(ctx)
	require.NoError(t, err)
	require.Len(t, nfts, 1)

	// Not enough waves: nothing is debited or granted.
	_, err = env.balanceRepo.Credit(ctx, "alice", 60)
	require.NoError(t, err)
	_, err = shop.Purchase(ctx, "alice", nfts[0].ID)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	owned, err := env.nftRepo.CountOwned(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, owned)

	// Funded purchase debits the price and grants ownership.
	_, err = env.balanceRepo.Credit(ctx, "alice", 60)
	require.NoError(t, err)
	bought, err := shop.Purchase(ctx, "alice", nfts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Drill", bought.Name)

	balance, err := env.balanceRepo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 20.0, balance.Waves, 1e-9)

	// Buying the same NFT again must not charge a second time.
	_, err = shop.Purchase(ctx, "alice", nfts[0].ID)
	assert.ErrorIs(t, err, ErrAlreadyOwned)

	balance, err = env.balanceRepo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 20.0, balance.Waves, 1e-9)

	_, err = shop.Purchase(ctx, "alice", 9999)
	assert.ErrorIs(t, err, ErrNFTNotFound)
}

// ============================================================================
// Consistency validator
// ============================================================================

func TestConsistencyValidator(t *testing.T) {
	env, cleanup := setupTestEnv(t, time.Hour)
	defer cleanup()

	ctx := context.Background()
	validator := NewConsistencyValidator(env.epochRepo, env.sessionRepo, env.rewardRepo,
		env.profileRepo, env.nftRepo, env.rules)

	// No epochs at all is consistent.
	require.NoError(t, validator.Validate(ctx))

	epoch, err := env.epochRepo.Create(ctx, time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	// A healthy active epoch without a settlement record passes.
	require.NoError(t, validator.Validate(ctx))

	env.createProfile(t, "alice")
	env.minedSession(t, "c7b6a1de-3f20-4b57-9f0a-fffffffffff1", "alice", epoch.ID, 100)

	// A premature settlement record whose total diverges from the mining
	// activity is flagged.
	_, err = env.rewardRepo.Create(ctx, &model.EpochReward{
		EpochID:          epoch.ID,
		TotalDistributed: 999,
		ParticipantCount: 1,
		Distribution:     map[string]float64{"alice": 999},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, validator.Validate(ctx), ErrRewardMismatch)
}

func TestConsistencyValidator_MatchingRecordPasses(t *testing.T) {
	env, cleanup := setupTestEnv(t, time.Hour)
	defer cleanup()

	ctx := context.Background()
	validator := NewConsistencyValidator(env.epochRepo, env.sessionRepo, env.rewardRepo,
		env.profileRepo, env.nftRepo, env.rules)

	epoch, err := env.epochRepo.Create(ctx, time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	env.createProfile(t, "alice")
	env.minedSession(t, "c7b6a1de-3f20-4b57-9f0a-fffffffffff2", "alice", epoch.ID, 100)

	// No modifiers: the recomputation matches a flat 100 payout.
	_, err = env.rewardRepo.Create(ctx, &model.EpochReward{
		EpochID:          epoch.ID,
		TotalDistributed: 100,
		ParticipantCount: 1,
		Distribution:     map[string]float64{"alice": 100},
	})
	require.NoError(t, err)

	require.NoError(t, validator.Validate(ctx))
}
