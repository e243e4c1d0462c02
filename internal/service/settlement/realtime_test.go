package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dumeirei/loyalty-settlement/internal/common/metrics"
	"github.com/dumeirei/loyalty-settlement/internal/models"
)

// realtimeOutcomes 汇总实时结算触发计数
func realtimeOutcomes(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	out := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "test_realtime_triggers_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			out[outcomeLabel(m)] = m.GetCounter().GetValue()
		}
	}
	return out
}

func outcomeLabel(m *dto.Metric) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == "outcome" {
			return lp.GetValue()
		}
	}
	return ""
}

// 测试时钟为 02:00，今日窗口为 [10-16 00:00, 10-16 02:00)
var todayStart = testEnd

func TestMaybeSettleNow_BelowTriggerThreshold(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newTestFixture(t, WithMetrics(metrics.New("test", reg, reg)))
	f.addMileageUse(t, 1, 200000, todayStart.Add(time.Hour))

	assert.Nil(t, f.svc.MaybeSettleNow(context.Background(), 1, 49999))
	assert.Empty(t, f.listSettlements(t))
	assert.Equal(t, float64(1), realtimeOutcomes(t, reg)[RealtimeBelowThreshold])
}

func TestMaybeSettleNow_Settles(t *testing.T) {
	reg := prometheus.NewRegistry()
	notifier := new(MockNotifier)
	notifier.On("NotifySettlementCompleted", mock.Anything, mock.Anything).Return(nil)

	f := newTestFixture(t, WithMetrics(metrics.New("test", reg, reg)), WithNotifier(notifier))
	f.addMileageUse(t, 1, 60000, todayStart.Add(time.Hour))
	// 昨日交易不计入
	f.addMileageUse(t, 1, 90000, testStart.Add(time.Hour))

	settlement := f.svc.MaybeSettleNow(context.Background(), 1, 60000)
	require.NotNil(t, settlement)

	assert.Equal(t, models.SettlementTypeRealtime, settlement.SettlementType)
	assert.True(t, settlement.IsAutomatic)
	assert.Equal(t, int64(60000), settlement.Amount)
	assert.Equal(t, int64(60000-1800-180), settlement.NetAmount)
	assert.Equal(t, models.SettlementStatusApproved, settlement.Status)
	assert.True(t, settlement.PeriodStart.Equal(todayStart))
	assert.True(t, settlement.PeriodEnd.Equal(testNow))

	assert.Len(t, f.listSettlements(t), 1)
	assert.Equal(t, float64(1), realtimeOutcomes(t, reg)[RealtimeSettled])
	notifier.AssertExpectations(t)
}

func TestMaybeSettleNow_NetBelowThreshold(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newTestFixture(t, WithMetrics(metrics.New("test", reg, reg)))
	// 净额 50000*0.967 < 50000
	f.addMileageUse(t, 1, 50000, todayStart.Add(time.Hour))

	assert.Nil(t, f.svc.MaybeSettleNow(context.Background(), 1, 50000))
	assert.Empty(t, f.listSettlements(t))
	assert.Equal(t, float64(1), realtimeOutcomes(t, reg)[RealtimeNetBelowThreshold])
}

func TestMaybeSettleNow_ErrorsSwallowed(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newTestFixture(t, WithMetrics(metrics.New("test", reg, reg)))
	f.svc.calculator = NewCalculator(&flakyLedger{Ledger: f.ledger, failFor: 1}, 0.03, 0.10)

	assert.NotPanics(t, func() {
		assert.Nil(t, f.svc.MaybeSettleNow(context.Background(), 1, 80000))
	})
	assert.Equal(t, float64(1), realtimeOutcomes(t, reg)[RealtimeError])
}

func TestMaybeSettleNow_PanicSwallowed(t *testing.T) {
	f := newTestFixture(t)
	f.svc.calculator = NewCalculator(panicLedger{}, 0.03, 0.10)

	assert.NotPanics(t, func() {
		assert.Nil(t, f.svc.MaybeSettleNow(context.Background(), 1, 80000))
	})
}

func TestMaybeSettleNow_CoexistsWithDaily(t *testing.T) {
	f := newTestFixture(t)
	f.addBusiness(t, 1)
	f.addMileageUse(t, 1, 80000, testStart.Add(time.Hour))

	// 10-15 当天的实时结算
	f.svc.now = func() time.Time { return testStart.Add(12 * time.Hour) }
	realtime := f.svc.MaybeSettleNow(context.Background(), 1, 80000)
	require.NotNil(t, realtime)

	// 次日日结仍然覆盖同一笔交易，两条记录并存
	f.svc.now = func() time.Time { return testNow }
	outcome, err := f.svc.RunBatch(context.Background(), models.SettlementTypeDaily, testStart, testEnd)
	require.NoError(t, err)
	assert.Len(t, outcome.SettlementIDs, 1)

	list := f.listSettlements(t)
	require.Len(t, list, 2)
	types := []string{list[0].SettlementType, list[1].SettlementType}
	assert.ElementsMatch(t, []string{models.SettlementTypeRealtime, models.SettlementTypeDaily}, types)
}

type panicLedger struct{}

func (panicLedger) MileageDebits(context.Context, int64, time.Time, time.Time) ([]*models.MileageTransaction, error) {
	panic("ledger exploded")
}

func (panicLedger) CouponRedemptions(context.Context, int64, time.Time, time.Time) ([]*models.UserCoupon, error) {
	return nil, nil
}
