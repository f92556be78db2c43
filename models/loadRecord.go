package models

import (
	"time"

	"github.com/mmdatafocus/load_validator/config"
	"github.com/shopspring/decimal"
)

// LoadRecord is the persisted decision for one load attempt.
// Unique constraint: (customer_id, load_id). Rows are never updated or deleted.
type LoadRecord struct {
	ID                  int             `gorm:"primary_key" json:"id"`
	CustomerId          string          `gorm:"size:64;not null;index:uniq_customer_load,unique,priority:1;index:idx_customer_time,priority:1" json:"customer_id"`
	LoadId              string          `gorm:"size:255;not null;index:uniq_customer_load,unique,priority:2" json:"load_id"`
	LoadAmount          decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"load_amount"`
	LoadTime            time.Time       `gorm:"type:datetime(3);not null;index:idx_customer_time,priority:2" json:"time"`
	DailyLimitAccepted  bool            `gorm:"not null" json:"daily_limit_accepted"`
	WeeklyLimitAccepted bool            `gorm:"not null" json:"weekly_limit_accepted"`
	DailyCountAccepted  bool            `gorm:"not null" json:"daily_count_accepted"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (LoadRecord) TableName() string {
	return config.LoadRecordsTable
}

// Accepted is derived: a load goes through only when every limit accepted it.
func (r *LoadRecord) Accepted() bool {
	return r.DailyLimitAccepted && r.WeeklyLimitAccepted && r.DailyCountAccepted
}
