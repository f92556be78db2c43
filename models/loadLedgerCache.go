package models

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/load_validator/config"
	"github.com/sirupsen/logrus"
)

// RecordCache is a JSON object cache keyed by string.
type RecordCache interface {
	GetObject(ctx context.Context, key string, dest any) (bool, error)
	SetObject(ctx context.Context, key string, obj any, exp time.Duration) error
}

type redisRecordCache struct{}

func (redisRecordCache) GetObject(ctx context.Context, key string, dest any) (bool, error) {
	return config.GetRedisObject(ctx, key, dest)
}

func (redisRecordCache) SetObject(ctx context.Context, key string, obj any, exp time.Duration) error {
	return config.SetRedisObject(ctx, key, obj, exp)
}

// RedisRecordCache uses the shared client from config.ConnectRedisWithRetry.
func RedisRecordCache() RecordCache { return redisRecordCache{} }

// CachedLoadLedger caches found records in front of another ledger.
// Records never change once written, so a cached entry cannot go stale; misses are not cached.
// Cache errors are logged and fall through to the wrapped ledger.
type CachedLoadLedger struct {
	LoadLedger
	cache RecordCache
	ttl   time.Duration
}

func NewCachedLoadLedger(inner LoadLedger, cache RecordCache, ttl time.Duration) *CachedLoadLedger {
	return &CachedLoadLedger{LoadLedger: inner, cache: cache, ttl: ttl}
}

// loadCacheKey length-prefixes the customer id so no two (customer, load) pairs share a key.
func loadCacheKey(customerId, loadId string) string {
	return fmt.Sprintf("LoadRecord:%d:%s:%s", len(customerId), customerId, loadId)
}

func (l *CachedLoadLedger) FindLoad(ctx context.Context, customerId, loadId string) (*LoadRecord, error) {
	key := loadCacheKey(customerId, loadId)
	var cached LoadRecord
	found, err := l.cache.GetObject(ctx, key, &cached)
	if err != nil {
		l.warn(key, "load cache read failed", err)
	} else if found {
		return &cached, nil
	}

	record, err := l.LoadLedger.FindLoad(ctx, customerId, loadId)
	if err != nil {
		return nil, err
	}
	l.store(ctx, key, record)
	return record, nil
}

func (l *CachedLoadLedger) InsertLoad(ctx context.Context, record *LoadRecord) error {
	if err := l.LoadLedger.InsertLoad(ctx, record); err != nil {
		return err
	}
	l.store(ctx, loadCacheKey(record.CustomerId, record.LoadId), record)
	return nil
}

func (l *CachedLoadLedger) store(ctx context.Context, key string, record *LoadRecord) {
	if err := l.cache.SetObject(ctx, key, record, l.ttl); err != nil {
		l.warn(key, "load cache write failed", err)
	}
}

func (l *CachedLoadLedger) warn(key, msg string, err error) {
	config.GetLogger().WithFields(logrus.Fields{
		"field": "CachedLoadLedger",
		"key":   key,
	}).Warn(msg + ": " + err.Error())
}
