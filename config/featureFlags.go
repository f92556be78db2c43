package config

import (
	"os"
	"strings"
	"time"
)

const (
	LockBackendRedis = "redis"
	LockBackendMySQL = "mysql"
	LockBackendLocal = "local"

	LedgerBackendMySQL = "mysql"
	LedgerBackendBolt  = "bolt"
)

// LockBackend selects the per-customer lock coordinator.
//
// Set via env:
// - LOCK_BACKEND=redis (default) | mysql | local
//
// "local" only serializes inside one process; never run it behind a load balancer.
func LockBackend() string {
	switch v := strings.ToLower(strings.TrimSpace(os.Getenv("LOCK_BACKEND"))); v {
	case LockBackendMySQL, LockBackendLocal:
		return v
	default:
		return LockBackendRedis
	}
}

// LedgerBackend selects where load records live.
//
// Set via env:
// - LEDGER_BACKEND=mysql (default) | bolt
// - LEDGER_BOLT_PATH=loads.db (bolt only)
func LedgerBackend() string {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("LEDGER_BACKEND")), LedgerBackendBolt) {
		return LedgerBackendBolt
	}
	return LedgerBackendMySQL
}

func LedgerBoltPath() string {
	if v := strings.TrimSpace(os.Getenv("LEDGER_BOLT_PATH")); v != "" {
		return v
	}
	return "loads.db"
}

// LockWait bounds how long a decision waits for its customer's lock (LOAD_LOCK_WAIT_SECONDS, default 10).
func LockWait() time.Duration {
	return time.Duration(intFromEnv("LOAD_LOCK_WAIT_SECONDS", 10)) * time.Second
}

// LockTTL is how long a held redis lock survives a crashed holder (LOAD_LOCK_TTL_SECONDS, default 30).
func LockTTL() time.Duration {
	return time.Duration(intFromEnv("LOAD_LOCK_TTL_SECONDS", 30)) * time.Second
}

func SkipMigrations() bool {
	return envTrue("SKIP_MIGRATIONS")
}

// LoadDecisionTopic is the Pub/Sub topic for decision events; empty disables publishing.
func LoadDecisionTopic() string {
	return strings.TrimSpace(os.Getenv("LOAD_DECISION_TOPIC"))
}

// LoadPubSubPushEnabled exposes POST /pubsub/loads for push subscriptions (LOAD_PUBSUB_PUSH_ENABLED).
func LoadPubSubPushEnabled() bool {
	return envTrue("LOAD_PUBSUB_PUSH_ENABLED")
}

// LoadCacheEnabled puts a Redis read-through cache in front of FindLoad (LOAD_CACHE_ENABLED).
func LoadCacheEnabled() bool {
	return envTrue("LOAD_CACHE_ENABLED")
}

// CacheLifespan is how long cached load records live (CACHE_LIFESPAN hours, default 1).
func CacheLifespan() time.Duration {
	return time.Duration(intFromEnv("CACHE_LIFESPAN", 1)) * time.Hour
}

func envTrue(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
