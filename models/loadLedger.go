package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/load_validator/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrDuplicateLoad means a record for the same (customer_id, load_id) already exists.
var ErrDuplicateLoad = errors.New("duplicate load")

// LoadLedger is the persisted history of evaluated loads.
// Range bounds are inclusive at both ends, and aggregates only count fully accepted loads.
type LoadLedger interface {
	// FindLoad returns utils.ErrorRecordNotFound when no record exists.
	FindLoad(ctx context.Context, customerId, loadId string) (*LoadRecord, error)
	SumAcceptedAmount(ctx context.Context, customerId string, from, to time.Time) (decimal.Decimal, error)
	CountAccepted(ctx context.Context, customerId string, from, to time.Time) (int64, error)
	// InsertLoad returns ErrDuplicateLoad when the key is taken.
	InsertLoad(ctx context.Context, record *LoadRecord) error
	// ListLoads returns up to limit records, newest load time first.
	ListLoads(ctx context.Context, customerId string, limit int) ([]*LoadRecord, error)
}

func isDuplicateKeyErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// GormLoadLedger keeps load records in MySQL.
type GormLoadLedger struct {
	db *gorm.DB
}

func NewGormLoadLedger(db *gorm.DB) *GormLoadLedger {
	return &GormLoadLedger{db: db}
}

func (l *GormLoadLedger) FindLoad(ctx context.Context, customerId, loadId string) (*LoadRecord, error) {
	var record LoadRecord
	err := l.db.WithContext(ctx).
		Where("customer_id = ? AND load_id = ?", customerId, loadId).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (l *GormLoadLedger) acceptedBetween(ctx context.Context, customerId string, from, to time.Time) *gorm.DB {
	return l.db.WithContext(ctx).Model(&LoadRecord{}).
		Where("customer_id = ?", customerId).
		Where("daily_limit_accepted = ? AND weekly_limit_accepted = ? AND daily_count_accepted = ?", true, true, true).
		Where("load_time >= ? AND load_time <= ?", from.UTC(), to.UTC())
}

func (l *GormLoadLedger) SumAcceptedAmount(ctx context.Context, customerId string, from, to time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	row := l.acceptedBetween(ctx, customerId, from, to).
		Select("COALESCE(SUM(load_amount), 0)").
		Row()
	if err := row.Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("sum accepted loads: %w", err)
	}
	return sum, nil
}

func (l *GormLoadLedger) CountAccepted(ctx context.Context, customerId string, from, to time.Time) (int64, error) {
	var count int64
	if err := l.acceptedBetween(ctx, customerId, from, to).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count accepted loads: %w", err)
	}
	return count, nil
}

func (l *GormLoadLedger) InsertLoad(ctx context.Context, record *LoadRecord) error {
	record.LoadTime = utils.NormalizeLoadTime(record.LoadTime)
	err := l.db.WithContext(ctx).Create(record).Error
	if isDuplicateKeyErr(err) {
		return ErrDuplicateLoad
	}
	return err
}

func (l *GormLoadLedger) ListLoads(ctx context.Context, customerId string, limit int) ([]*LoadRecord, error) {
	var records []*LoadRecord
	err := l.db.WithContext(ctx).
		Where("customer_id = ?", customerId).
		Order("load_time DESC, id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
