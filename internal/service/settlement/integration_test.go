//go:build integration

package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dumeirei/loyalty-settlement/internal/common/cache"
	"github.com/dumeirei/loyalty-settlement/internal/common/database"
	"github.com/dumeirei/loyalty-settlement/internal/common/errors"
	"github.com/dumeirei/loyalty-settlement/internal/models"
	"github.com/dumeirei/loyalty-settlement/internal/repository"
)

// startPostgres 启动 Postgres 容器并完成迁移
func startPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcPostgres.Run(ctx, "postgres:15-alpine",
		tcPostgres.WithDatabase("test_loyalty"),
		tcPostgres.WithUsername("test_user"),
		tcPostgres.WithPassword("test_password"),
		tcPostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

// startRedis 启动 Redis 容器
func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcRedis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestIntegration_RunBatchOnPostgres(t *testing.T) {
	db := startPostgres(t)
	locker := cache.NewRedisLocker(startRedis(t))
	ctx := context.Background()

	ledger := repository.NewLedgerRepository(db)
	businesses := repository.NewBusinessRepository(db)
	settlements := repository.NewSettlementRepository(db)
	batchLogs := repository.NewBatchLogRepository(db)

	cfg := testSettlementConfig()
	svc := NewService(
		NewCalculator(ledger, cfg.PlatformFeeRate, cfg.VATRate),
		settlements,
		batchLogs,
		businesses,
		cfg,
		time.UTC,
		WithLocker(locker),
		WithClock(func() time.Time { return testNow }),
		WithLogger(zap.NewNop()),
	)

	for _, id := range []int64{1, 2} {
		require.NoError(t, businesses.Create(ctx, &models.Business{
			ID:     id,
			Name:   "商户",
			Status: models.BusinessStatusActive,
		}))
	}
	require.NoError(t, ledger.CreateMileage(ctx, &models.MileageTransaction{
		UserID: 1, BusinessID: 1, Type: models.MileageTypeUse, Amount: -150000, CreatedAt: testStart.Add(time.Hour),
	}))
	require.NoError(t, ledger.CreateMileage(ctx, &models.MileageTransaction{
		UserID: 1, BusinessID: 2, Type: models.MileageTypeUse, Amount: -40000, CreatedAt: testStart.Add(2 * time.Hour),
	}))

	outcome, err := svc.RunBatch(ctx, models.SettlementTypeDaily, testStart, testEnd)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusSuccess, outcome.Status)
	assert.Equal(t, int64(145050+38680), outcome.TotalAmount)
	require.Len(t, outcome.SettlementIDs, 2)

	first, err := settlements.GetByID(ctx, outcome.SettlementIDs[0])
	require.NoError(t, err)
	assert.True(t, first.PeriodStart.Equal(testStart))

	// 同一窗口重跑只计入跳过
	again, err := svc.RunBatch(ctx, models.SettlementTypeDaily, testStart, testEnd)
	require.NoError(t, err)
	assert.Equal(t, 2, again.SkippedCount)
	assert.Empty(t, again.SettlementIDs)

	// 唯一索引兜底
	dup := *first
	dup.ID = 0
	dup.SettlementNo = "ST-DUP"
	assert.Error(t, settlements.Create(ctx, &dup))

	// 其他实例持有批次锁
	release, ok, err := locker.Lock(ctx, svc.batchLockKey(models.SettlementTypeDaily, testStart, testEnd), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = svc.RunBatch(ctx, models.SettlementTypeDaily, testStart, testEnd)
	assert.ErrorIs(t, err, errors.ErrBatchInProgress)
	release()

	deleted, err := batchLogs.DeleteBefore(ctx, testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}
