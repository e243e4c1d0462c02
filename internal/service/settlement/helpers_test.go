package settlement

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dumeirei/loyalty-settlement/internal/common/config"
	"github.com/dumeirei/loyalty-settlement/internal/models"
	"github.com/dumeirei/loyalty-settlement/internal/repository"
)

// 测试时钟：2026-10-16 02:00 UTC，日结窗口为 10-15 整天
var (
	testNow   = time.Date(2026, 10, 16, 2, 0, 0, 0, time.UTC)
	testStart = time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	testEnd   = time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
)

func testSettlementConfig() config.SettlementConfig {
	return config.SettlementConfig{
		AutoApprovalThreshold:    100000,
		RealtimeTriggerThreshold: 50000,
		PlatformFeeRate:          0.03,
		VATRate:                  0.10,
		BatchLockTTL:             60,
	}
}

func setupSettlementTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	return db
}

type testFixture struct {
	db          *gorm.DB
	ledger      *repository.LedgerRepository
	businesses  *repository.BusinessRepository
	settlements *repository.SettlementRepository
	batchLogs   *repository.BatchLogRepository
	svc         *Service
}

// newTestFixture 使用 sqlite 仓储构造结算服务
func newTestFixture(t *testing.T, opts ...Option) *testFixture {
	return newTestFixtureWith(t, nil, nil, opts...)
}

// newTestFixtureWith 可替换交易流水与商户目录
func newTestFixtureWith(t *testing.T, ledger Ledger, directory BusinessDirectory, opts ...Option) *testFixture {
	t.Helper()

	db := setupSettlementTestDB(t)
	f := &testFixture{
		db:          db,
		ledger:      repository.NewLedgerRepository(db),
		businesses:  repository.NewBusinessRepository(db),
		settlements: repository.NewSettlementRepository(db),
		batchLogs:   repository.NewBatchLogRepository(db),
	}
	if ledger == nil {
		ledger = f.ledger
	}
	if directory == nil {
		directory = f.businesses
	}

	cfg := testSettlementConfig()
	base := []Option{
		WithClock(func() time.Time { return testNow }),
		WithLogger(zap.NewNop()),
	}
	f.svc = NewService(
		NewCalculator(ledger, cfg.PlatformFeeRate, cfg.VATRate),
		f.settlements,
		f.batchLogs,
		directory,
		cfg,
		time.UTC,
		append(base, opts...)...,
	)
	return f
}

func (f *testFixture) addBusiness(t *testing.T, id int64) {
	t.Helper()
	require.NoError(t, f.businesses.Create(context.Background(), &models.Business{
		ID:           id,
		Name:         fmt.Sprintf("商户%d", id),
		ContactPhone: "13800000000",
		Status:       models.BusinessStatusActive,
	}))
}

// addMileageUse 写入一笔积分消费，金额为正数表示消费额
func (f *testFixture) addMileageUse(t *testing.T, businessID, amount int64, at time.Time) {
	t.Helper()
	require.NoError(t, f.ledger.CreateMileage(context.Background(), &models.MileageTransaction{
		UserID:     1,
		BusinessID: businessID,
		Type:       models.MileageTypeUse,
		Amount:     -amount,
		CreatedAt:  at,
	}))
}

func (f *testFixture) addCouponUse(t *testing.T, businessID, discount int64, at time.Time) {
	t.Helper()
	usedAt := at
	require.NoError(t, f.ledger.CreateCoupon(context.Background(), &models.UserCoupon{
		UserID:         1,
		CouponID:       1,
		BusinessID:     businessID,
		DiscountAmount: discount,
		Status:         models.UserCouponStatusUsed,
		UsedAt:         &usedAt,
		ExpiredAt:      at.AddDate(0, 1, 0),
	}))
}

func (f *testFixture) listSettlements(t *testing.T) []*models.Settlement {
	t.Helper()
	list, _, err := f.settlements.List(context.Background(), nil, 0, 100)
	require.NoError(t, err)
	return list
}

// flakyLedger 对指定商户返回错误，其余委托真实仓储
type flakyLedger struct {
	Ledger
	failFor int64
}

func (l *flakyLedger) MileageDebits(ctx context.Context, businessID int64, start, end time.Time) ([]*models.MileageTransaction, error) {
	if businessID == l.failFor {
		return nil, fmt.Errorf("ledger unavailable")
	}
	return l.Ledger.MileageDebits(ctx, businessID, start, end)
}

// cancelingLedger 首次读取流水后取消调用方上下文
type cancelingLedger struct {
	Ledger
	cancel context.CancelFunc
}

func (l *cancelingLedger) MileageDebits(ctx context.Context, businessID int64, start, end time.Time) ([]*models.MileageTransaction, error) {
	l.cancel()
	return l.Ledger.MileageDebits(ctx, businessID, start, end)
}

// MockDirectory 商户目录 mock
type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) ListActiveIDs(ctx context.Context) ([]int64, error) {
	args := m.Called(ctx)
	ids, _ := args.Get(0).([]int64)
	return ids, args.Error(1)
}

// MockNotifier 结算通知 mock
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifySettlementCompleted(ctx context.Context, settlement *models.Settlement) error {
	args := m.Called(ctx, settlement)
	return args.Error(0)
}
