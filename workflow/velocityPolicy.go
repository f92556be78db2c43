package workflow

import (
	"time"

	"github.com/mmdatafocus/load_validator/config"
	"github.com/shopspring/decimal"
)

// VelocityAggregates are the customer's already-accepted totals, excluding the load being decided.
type VelocityAggregates struct {
	DailyAmount  decimal.Decimal
	WeeklyAmount decimal.Decimal
	DailyCount   int64
}

// VelocityVerdicts are the three independent outcomes recorded for every load.
type VelocityVerdicts struct {
	DailyAmountOk  bool
	WeeklyAmountOk bool
	DailyCountOk   bool
}

func (v VelocityVerdicts) Accepted() bool {
	return v.DailyAmountOk && v.WeeklyAmountOk && v.DailyCountOk
}

// EvaluateVelocity applies the limits. Amount ceilings are inclusive; the count
// ceiling is strict so at most DailyCount loads are accepted per day.
// All three verdicts are always computed.
func EvaluateVelocity(amount decimal.Decimal, agg VelocityAggregates, limits config.VelocityLimits) VelocityVerdicts {
	return VelocityVerdicts{
		DailyAmountOk:  amount.Add(agg.DailyAmount).LessThanOrEqual(limits.DailyAmount),
		WeeklyAmountOk: amount.Add(agg.WeeklyAmount).LessThanOrEqual(limits.WeeklyAmount),
		DailyCountOk:   agg.DailyCount < limits.DailyCount,
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DayWindow is [midnight of t's date, t].
func DayWindow(t time.Time) (from, to time.Time) {
	return startOfDay(t), t
}

// WeekWindow is [midnight of the Monday on or before t's date, t].
func WeekWindow(t time.Time) (from, to time.Time) {
	day := startOfDay(t)
	sinceMonday := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -sinceMonday), t
}
