package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"
)

// MySQLCustomerLocker serializes customers across instances with MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so each handle pins a connection until release.
// db must be a pool of its own (config.OpenLockDB): holders also query the ledger, and
// sharing one pool lets a full set of holders starve each other.
type MySQLCustomerLocker struct {
	db *sql.DB
}

func NewMySQLCustomerLocker(db *sql.DB) (*MySQLCustomerLocker, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	return &MySQLCustomerLocker{db: db}, nil
}

func (l *MySQLCustomerLocker) Acquire(ctx context.Context, customerId string, wait time.Duration) (*LockHandle, error) {
	lockName := CustomerLockKey(customerId)

	// Waiting for a free pool connection counts against wait too.
	connCtx, cancel := context.WithTimeout(ctx, wait)
	conn, err := l.db.Conn(connCtx)
	cancel()
	if err != nil {
		if connCtx.Err() != nil {
			return NotAcquired, nil
		}
		return nil, fmt.Errorf("lock connection: %w", err)
	}

	// GET_LOCK: 1 = obtained, 0 = timed out, NULL = error.
	seconds := int(math.Ceil(wait.Seconds()))
	var ok sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", lockName, seconds).Scan(&ok); err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return NotAcquired, nil
		}
		return nil, fmt.Errorf("get_lock %s: %w", lockName, err)
	}
	if !ok.Valid {
		_ = conn.Close()
		return nil, fmt.Errorf("get_lock %s returned NULL", lockName)
	}
	if ok.Int64 != 1 {
		_ = conn.Close()
		return NotAcquired, nil
	}

	return acquiredHandle(func(ctx context.Context) error {
		defer conn.Close()
		var released sql.NullInt64
		if err := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", lockName).Scan(&released); err != nil {
			return fmt.Errorf("release_lock %s: %w", lockName, err)
		}
		if !released.Valid || released.Int64 != 1 {
			return fmt.Errorf("release_lock %s: lock was not held", lockName)
		}
		return nil
	}), nil
}
