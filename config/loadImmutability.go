package config

import (
	"context"
	"errors"

	"github.com/mmdatafocus/load_validator/appctx"
	"gorm.io/gorm"
)

// LoadRecordsTable is the table holding evaluated loads.
const LoadRecordsTable = "load_records"

var ErrLoadRecordImmutable = errors.New("load records are immutable")

// LoadImmutabilityPlugin rejects UPDATE and DELETE statements against load_records.
// A decision, once written, is final; aggregates depend on it never changing.
//
// NOTE:
// - This does NOT apply to Raw/Exec SQL.
// - Maintenance bypass is explicit via appctx.ContextKeyAllowLoadMaintenance.
type LoadImmutabilityPlugin struct{}

func NewLoadImmutabilityPlugin() *LoadImmutabilityPlugin { return &LoadImmutabilityPlugin{} }

func (p *LoadImmutabilityPlugin) Name() string { return "load_immutability" }

func (p *LoadImmutabilityPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Update().Before("gorm:update").Register("load_immutability:update", loadImmutabilityCallback); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("load_immutability:delete", loadImmutabilityCallback); err != nil {
		return err
	}
	return nil
}

func loadImmutabilityCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	if !targetsLoadRecords(db.Statement) {
		return
	}
	if allowLoadMaintenance(db.Statement.Context) {
		return
	}
	_ = db.AddError(ErrLoadRecordImmutable)
}

func targetsLoadRecords(stmt *gorm.Statement) bool {
	if stmt.Table == LoadRecordsTable {
		return true
	}
	return stmt.Schema != nil && stmt.Schema.Table == LoadRecordsTable
}

func allowLoadMaintenance(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, ok := appctx.GetBool(ctx, appctx.ContextKeyAllowLoadMaintenance)
	return ok && v
}
