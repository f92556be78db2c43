package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/shopspring/decimal"
)

var (
	DefaultDailyAmountLimit  = decimal.RequireFromString("5000.00")
	DefaultWeeklyAmountLimit = decimal.RequireFromString("20000.00")
)

const DefaultDailyCountLimit int64 = 3

// VelocityLimits is an immutable snapshot of the three load ceilings.
type VelocityLimits struct {
	DailyAmount  decimal.Decimal `json:"daily_amount"`
	WeeklyAmount decimal.Decimal `json:"weekly_amount"`
	DailyCount   int64           `json:"daily_count"`
}

// LimitsSource hands out the limits for one evaluation.
// Callers read it once per decision and use that value throughout.
type LimitsSource interface {
	Limits() VelocityLimits
}

// Limits lets a plain VelocityLimits value serve as its own fixed source.
func (l VelocityLimits) Limits() VelocityLimits { return l }

func (l VelocityLimits) Validate() error {
	if l.DailyAmount.IsNegative() {
		return errors.New("daily amount limit must not be negative")
	}
	if l.WeeklyAmount.IsNegative() {
		return errors.New("weekly amount limit must not be negative")
	}
	if l.DailyCount < 0 {
		return errors.New("daily count limit must not be negative")
	}
	return nil
}

// LimitsStore holds limits that may be replaced at runtime.
// Replacement swaps the whole snapshot, so a reader never sees a mix of old and new values.
type LimitsStore struct {
	current atomic.Pointer[VelocityLimits]
}

func NewLimitsStore(initial VelocityLimits) *LimitsStore {
	s := &LimitsStore{}
	s.current.Store(&initial)
	return s
}

func (s *LimitsStore) Limits() VelocityLimits {
	return *s.current.Load()
}

// Swap installs next and returns the snapshot it replaced.
func (s *LimitsStore) Swap(next VelocityLimits) (VelocityLimits, error) {
	if err := next.Validate(); err != nil {
		return VelocityLimits{}, err
	}
	prev := s.current.Swap(&next)
	return *prev, nil
}

// LoadVelocityLimitsFromEnv reads
// - LOAD_DAILY_AMOUNT_LIMIT (default 5000.00)
// - LOAD_WEEKLY_AMOUNT_LIMIT (default 20000.00)
// - LOAD_DAILY_COUNT_LIMIT (default 3)
func LoadVelocityLimitsFromEnv() (VelocityLimits, error) {
	daily, err := decimalFromEnv("LOAD_DAILY_AMOUNT_LIMIT", DefaultDailyAmountLimit)
	if err != nil {
		return VelocityLimits{}, err
	}
	weekly, err := decimalFromEnv("LOAD_WEEKLY_AMOUNT_LIMIT", DefaultWeeklyAmountLimit)
	if err != nil {
		return VelocityLimits{}, err
	}
	count := DefaultDailyCountLimit
	if v := strings.TrimSpace(os.Getenv("LOAD_DAILY_COUNT_LIMIT")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return VelocityLimits{}, fmt.Errorf("LOAD_DAILY_COUNT_LIMIT: %w", err)
		}
		count = n
	}

	limits := VelocityLimits{DailyAmount: daily, WeeklyAmount: weekly, DailyCount: count}
	if err := limits.Validate(); err != nil {
		return VelocityLimits{}, err
	}
	return limits, nil
}

func decimalFromEnv(key string, def decimal.Decimal) (decimal.Decimal, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := decimal.NewFromString(strings.TrimPrefix(v, "$"))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
