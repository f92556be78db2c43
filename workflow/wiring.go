package workflow

import (
	"fmt"

	"github.com/mmdatafocus/load_validator/config"
	"github.com/mmdatafocus/load_validator/models"
	"github.com/sirupsen/logrus"
)

// Backends are the ledger and lock coordinator picked by LEDGER_BACKEND and LOCK_BACKEND.
type Backends struct {
	Ledger models.LoadLedger
	Locker CustomerLocker

	closers []func() error
}

// OpenBackends connects whatever the env selects. MySQL and Redis connections retry
// until they succeed, so call it after the HTTP server is listening.
func OpenBackends() (*Backends, error) {
	b := &Backends{}

	switch config.LedgerBackend() {
	case config.LedgerBackendBolt:
		ledger, err := models.OpenBoltLoadLedger(config.LedgerBoltPath())
		if err != nil {
			return nil, fmt.Errorf("open bolt ledger %s: %w", config.LedgerBoltPath(), err)
		}
		b.Ledger = ledger
		b.closers = append(b.closers, ledger.Close)
	default:
		connectDatabase()
		if !config.SkipMigrations() {
			models.MigrateTable()
		}
		b.Ledger = models.NewGormLoadLedger(config.GetDB())
	}

	if config.LoadCacheEnabled() {
		connectRedis()
		b.Ledger = models.NewCachedLoadLedger(b.Ledger, models.RedisRecordCache(), config.CacheLifespan())
	}

	switch config.LockBackend() {
	case config.LockBackendLocal:
		b.Locker = NewLocalCustomerLocker()
	case config.LockBackendMySQL:
		lockDB, err := config.OpenLockDB()
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("mysql lock: %w", err)
		}
		b.closers = append(b.closers, lockDB.Close)
		locker, err := NewMySQLCustomerLocker(lockDB)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("mysql lock: %w", err)
		}
		b.Locker = locker
	default:
		connectRedis()
		b.Locker = NewRedisCustomerLocker(config.GetRedisLock(), config.LockTTL())
	}

	if db := config.GetDB(); db != nil {
		if sqlDB, err := db.DB(); err == nil {
			b.closers = append(b.closers, sqlDB.Close)
		}
	}
	if config.GetRedisDB() != nil {
		b.closers = append(b.closers, func() error { return config.GetRedisDB().Close() })
	}
	return b, nil
}

func connectRedis() {
	if config.GetRedisLock() == nil {
		config.ConnectRedisWithRetry()
	}
}

func connectDatabase() {
	if config.GetDB() == nil {
		config.ConnectDatabaseWithRetry()
	}
}

func (b *Backends) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	b.closers = nil
	return first
}

// NewLoadDecisionEngineFromEnv builds an engine over b with publishing enabled
// when LOAD_DECISION_TOPIC is set.
func NewLoadDecisionEngineFromEnv(b *Backends, limits config.LimitsSource, logger *logrus.Logger) *LoadDecisionEngine {
	engine := NewLoadDecisionEngine(b.Ledger, b.Locker, limits, logger)
	if topic := config.LoadDecisionTopic(); topic != "" {
		engine.Publisher = PubSubDecisionPublisher{Topic: topic}
	}
	return engine
}
