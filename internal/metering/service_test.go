package metering

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/swiftwatch/swiftwatch-backend/pkg/db/models"
	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
	pkgerrors "github.com/swiftwatch/swiftwatch-backend/pkg/errors"
)

func setupMeteringTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	usageLimits := `
CREATE TABLE IF NOT EXISTS usage_limits (
  id TEXT PRIMARY KEY,
  subscription_id TEXT NOT NULL,
  metric TEXT NOT NULL,
  period_start DATETIME NOT NULL,
  ceiling INTEGER NOT NULL,
  current INTEGER NOT NULL DEFAULT 0 CHECK (ceiling < 0 OR current <= ceiling),
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (subscription_id, metric, period_start)
);`
	usageRecords := `
CREATE TABLE IF NOT EXISTS usage_records (
  id TEXT PRIMARY KEY,
  subscription_id TEXT NOT NULL,
  metric TEXT NOT NULL,
  period_start DATETIME NOT NULL,
  quantity INTEGER NOT NULL,
  recorded_at DATETIME
);`
	require.NoError(t, conn.Exec(usageLimits).Error)
	require.NoError(t, conn.Exec(usageRecords).Error)
	return conn
}

type testTxRunner struct {
	db *gorm.DB
}

func (r testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func newTestService(t *testing.T, conn *gorm.DB, now time.Time) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:              NewRepository(conn),
		TransactionRunner: testTxRunner{db: conn},
		Now:               func() time.Time { return now },
	})
	require.NoError(t, err)
	return svc
}

func proSubscription() *models.Subscription {
	return &models.Subscription{
		ID:   uuid.New(),
		Plan: enums.PlanPro,
	}
}

func TestCheckAndIncrementSeedsAndGrants(t *testing.T) {
	conn := setupMeteringTestDB(t)
	now := time.Date(2026, time.May, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, conn, now)
	sub := proSubscription()

	limit, err := svc.CheckAndIncrement(context.Background(), sub, enums.UsageMetricWarnings, 3)
	require.NoError(t, err)
	require.NotNil(t, limit)
	assert.Equal(t, int64(3), limit.Current)
	assert.Equal(t, int64(25_000), limit.Ceiling)
	assert.True(t, limit.PeriodStart.Equal(time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)))
}

func TestCheckAndIncrementDeniesAtCeiling(t *testing.T) {
	conn := setupMeteringTestDB(t)
	now := time.Date(2026, time.May, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, conn, now)
	sub := &models.Subscription{ID: uuid.New(), Plan: enums.PlanFree}

	// Free plan allows 500 warnings per period.
	_, err := svc.CheckAndIncrement(context.Background(), sub, enums.UsageMetricWarnings, 499)
	require.NoError(t, err)

	_, err = svc.CheckAndIncrement(context.Background(), sub, enums.UsageMetricWarnings, 2)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeLimitExceeded))

	// The exact remaining unit is still grantable.
	limit, err := svc.CheckAndIncrement(context.Background(), sub, enums.UsageMetricWarnings, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(500), limit.Current)

	_, err = svc.CheckAndIncrement(context.Background(), sub, enums.UsageMetricWarnings, 1)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeLimitExceeded))
}

func TestCheckAndIncrementNeverOvershootsUnderContention(t *testing.T) {
	conn := setupMeteringTestDB(t)
	now := time.Date(2026, time.May, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, conn, now)
	sub := &models.Subscription{ID: uuid.New(), Plan: enums.PlanFree}

	granted := 0
	denied := 0
	for i := 0; i < 600; i++ {
		_, err := svc.CheckAndIncrement(context.Background(), sub, enums.UsageMetricWarnings, 1)
		switch {
		case err == nil:
			granted++
		case pkgerrors.HasCode(err, pkgerrors.CodeLimitExceeded):
			denied++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 500, granted)
	assert.Equal(t, 100, denied)

	repo := NewRepository(conn)
	limit, err := repo.FindLimit(context.Background(), sub.ID, enums.UsageMetricWarnings, PeriodStart(now))
	require.NoError(t, err)
	assert.Equal(t, int64(500), limit.Current)
}

func TestCheckAndIncrementRacingWorkers(t *testing.T) {
	conn := setupMeteringTestDB(t)
	// A second pool connection would see its own empty in-memory database, so
	// racing goroutines must funnel through one connection. Their transactions
	// still interleave at the service layer, which is where the guarantee lives.
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	now := time.Date(2026, time.May, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, conn, now)
	sub := &models.Subscription{ID: uuid.New(), Plan: enums.PlanFree}

	const workers = 8
	const attempts = 100

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < attempts; j++ {
				_, err := svc.CheckAndIncrement(context.Background(), sub, enums.UsageMetricWarnings, 1)
				if err == nil {
					granted.Add(1)
				}
				// Denials and lock contention both count as not granted; the
				// only thing that matters is that no grant exceeds the ceiling.
			}
		}()
	}
	wg.Wait()

	// Free plan allows 500 warnings; 800 racing attempts must never push the
	// counter past it, and every grant must be backed by a ledger row.
	assert.LessOrEqual(t, granted.Load(), int64(500))

	repo := NewRepository(conn)
	limit, err := repo.FindLimit(context.Background(), sub.ID, enums.UsageMetricWarnings, PeriodStart(now))
	require.NoError(t, err)
	assert.Equal(t, granted.Load(), limit.Current)
	assert.LessOrEqual(t, limit.Current, limit.Ceiling)

	total, err := repo.SumRecords(context.Background(), sub.ID, enums.UsageMetricWarnings, PeriodStart(now))
	require.NoError(t, err)
	assert.Equal(t, limit.Current, total)
}

func TestDenialWritesNoLedgerRow(t *testing.T) {
	conn := setupMeteringTestDB(t)
	now := time.Date(2026, time.May, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, conn, now)
	sub := &models.Subscription{ID: uuid.New(), Plan: enums.PlanFree}

	_, err := svc.CheckAndIncrement(context.Background(), sub, enums.UsageMetricWarnings, 500)
	require.NoError(t, err)
	_, err = svc.CheckAndIncrement(context.Background(), sub, enums.UsageMetricWarnings, 1)
	require.Error(t, err)

	repo := NewRepository(conn)
	total, err := repo.SumRecords(context.Background(), sub.ID, enums.UsageMetricWarnings, PeriodStart(now))
	require.NoError(t, err)
	assert.Equal(t, int64(500), total)
}

func TestLedgerMatchesCounter(t *testing.T) {
	conn := setupMeteringTestDB(t)
	now := time.Date(2026, time.May, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, conn, now)
	sub := proSubscription()

	quantities := []int64{5, 1, 12, 3, 7}
	var want int64
	for _, q := range quantities {
		_, err := svc.CheckAndIncrement(context.Background(), sub, enums.UsageMetricAPICalls, q)
		require.NoError(t, err)
		want += q
	}

	repo := NewRepository(conn)
	total, err := repo.SumRecords(context.Background(), sub.ID, enums.UsageMetricAPICalls, PeriodStart(now))
	require.NoError(t, err)
	assert.Equal(t, want, total)

	limit, err := repo.FindLimit(context.Background(), sub.ID, enums.UsageMetricAPICalls, PeriodStart(now))
	require.NoError(t, err)
	assert.Equal(t, want, limit.Current)
}

func TestUnlimitedPlanNeverDenies(t *testing.T) {
	conn := setupMeteringTestDB(t)
	now := time.Date(2026, time.May, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, conn, now)
	sub := &models.Subscription{ID: uuid.New(), Plan: enums.PlanEnterprise}

	limit, err := svc.CheckAndIncrement(context.Background(), sub, enums.UsageMetricWarnings, 10_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), limit.Current)
}

func TestUsageReportsZeroForUntouchedMetrics(t *testing.T) {
	conn := setupMeteringTestDB(t)
	now := time.Date(2026, time.May, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, conn, now)
	sub := proSubscription()

	_, err := svc.CheckAndIncrement(context.Background(), sub, enums.UsageMetricWarnings, 10)
	require.NoError(t, err)

	usage, err := svc.Usage(context.Background(), sub)
	require.NoError(t, err)
	require.Len(t, usage, len(enums.AllUsageMetrics()))

	byMetric := map[enums.UsageMetric]models.UsageLimit{}
	for _, limit := range usage {
		byMetric[limit.Metric] = limit
	}
	assert.Equal(t, int64(10), byMetric[enums.UsageMetricWarnings].Current)
	assert.Equal(t, int64(0), byMetric[enums.UsageMetricAPICalls].Current)
	assert.Equal(t, int64(100_000), byMetric[enums.UsageMetricAPICalls].Ceiling)
}

func TestSeedPeriodIsIdempotent(t *testing.T) {
	conn := setupMeteringTestDB(t)
	now := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	svc := newTestService(t, conn, now)
	sub := proSubscription()

	require.NoError(t, svc.SeedPeriod(context.Background(), sub, now))

	// Consume some units, then replay the seed.
	_, err := svc.CheckAndIncrement(context.Background(), sub, enums.UsageMetricWarnings, 42)
	require.NoError(t, err)
	require.NoError(t, svc.SeedPeriod(context.Background(), sub, now))

	repo := NewRepository(conn)
	limit, err := repo.FindLimit(context.Background(), sub.ID, enums.UsageMetricWarnings, PeriodStart(now))
	require.NoError(t, err)
	assert.Equal(t, int64(42), limit.Current, "seed replay must not reset consumed units")
}

func TestPeriodsAreIsolated(t *testing.T) {
	conn := setupMeteringTestDB(t)
	may := time.Date(2026, time.May, 20, 0, 0, 0, 0, time.UTC)
	june := time.Date(2026, time.June, 2, 0, 0, 0, 0, time.UTC)
	sub := &models.Subscription{ID: uuid.New(), Plan: enums.PlanFree}

	svcMay := newTestService(t, conn, may)
	_, err := svcMay.CheckAndIncrement(context.Background(), sub, enums.UsageMetricWarnings, 500)
	require.NoError(t, err)
	_, err = svcMay.CheckAndIncrement(context.Background(), sub, enums.UsageMetricWarnings, 1)
	require.Error(t, err)

	// A new month starts a fresh counter.
	svcJune := newTestService(t, conn, june)
	limit, err := svcJune.CheckAndIncrement(context.Background(), sub, enums.UsageMetricWarnings, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), limit.Current)
}

func TestApplyPlanCeilingsClampsToConsumed(t *testing.T) {
	conn := setupMeteringTestDB(t)
	now := time.Date(2026, time.May, 10, 0, 0, 0, 0, time.UTC)
	svc := newTestService(t, conn, now)
	sub := proSubscription()

	_, err := svc.CheckAndIncrement(context.Background(), sub, enums.UsageMetricWarnings, 2_000)
	require.NoError(t, err)

	// Downgrade to free: the ceiling clamps to what is already consumed
	// instead of violating the counter invariant.
	require.NoError(t, svc.ApplyPlanCeilings(context.Background(), conn, sub.ID, enums.PlanFree, now))

	repo := NewRepository(conn)
	limit, err := repo.FindLimit(context.Background(), sub.ID, enums.UsageMetricWarnings, PeriodStart(now))
	require.NoError(t, err)
	assert.Equal(t, int64(2_000), limit.Ceiling)

	downgraded := &models.Subscription{ID: sub.ID, Plan: enums.PlanFree}
	_, err = svc.CheckAndIncrement(context.Background(), downgraded, enums.UsageMetricWarnings, 1)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeLimitExceeded))
}

func TestCheckAndIncrementValidation(t *testing.T) {
	conn := setupMeteringTestDB(t)
	svc := newTestService(t, conn, time.Now().UTC())

	_, err := svc.CheckAndIncrement(context.Background(), nil, enums.UsageMetricWarnings, 1)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = svc.CheckAndIncrement(context.Background(), proSubscription(), enums.UsageMetricWarnings, 0)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = svc.CheckAndIncrement(context.Background(), proSubscription(), enums.UsageMetric("bogus"), 1)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}
