package settlement

import (
	"time"

	"github.com/dumeirei/loyalty-settlement/internal/common/errors"
	"github.com/dumeirei/loyalty-settlement/internal/models"
)

// 结算窗口均为左闭右开 [start, end)，在调度时区内按自然日/周/月切分

// startOfDay 返回 t 所在时区当天零点
func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// DailyWindow 昨日窗口
func DailyWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	end := startOfDay(now, loc)
	return end.AddDate(0, 0, -1), end
}

// WeeklyWindow 截止今日零点的前 7 天
func WeeklyWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	end := startOfDay(now, loc)
	return end.AddDate(0, 0, -7), end
}

// MonthlyWindow 上一个自然月
func MonthlyWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	t := now.In(loc)
	end := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	return end.AddDate(0, -1, 0), end
}

// TodayWindow 今日零点到 now，用于实时结算
func TodayWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	return startOfDay(now, loc), now.In(loc)
}

// WindowFor 根据批次类型返回默认结算窗口
func WindowFor(kind string, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	var start, end time.Time
	switch kind {
	case models.SettlementTypeDaily:
		start, end = DailyWindow(now, loc)
	case models.SettlementTypeWeekly:
		start, end = WeeklyWindow(now, loc)
	case models.SettlementTypeMonthly:
		start, end = MonthlyWindow(now, loc)
	default:
		return time.Time{}, time.Time{}, errors.ErrInvalidBatchType
	}
	return start, end, nil
}

// validatePeriod 校验窗口 start < end
func validatePeriod(start, end time.Time) error {
	if !end.After(start) {
		return errors.ErrInvalidPeriod
	}
	return nil
}
