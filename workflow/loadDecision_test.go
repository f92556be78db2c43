package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmdatafocus/load_validator/config"
	"github.com/mmdatafocus/load_validator/models"
	"github.com/mmdatafocus/load_validator/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestLedger(t *testing.T) *models.BoltLoadLedger {
	t.Helper()
	ledger, err := models.OpenBoltLoadLedger(filepath.Join(t.TempDir(), "loads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })
	return ledger
}

func newTestEngine(t *testing.T, limits config.LimitsSource) (*LoadDecisionEngine, *models.BoltLoadLedger) {
	t.Helper()
	ledger := newTestLedger(t)
	engine := NewLoadDecisionEngine(ledger, NewLocalCustomerLocker(), limits, quietLogger())
	engine.LockWait = 5 * time.Second
	return engine, ledger
}

func load(id, customerId, amount string, at time.Time) models.LoadRequest {
	return models.LoadRequest{Id: id, CustomerId: customerId, Amount: d(amount), Time: at}
}

var monday = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func evaluate(t *testing.T, e LoadEvaluator, req models.LoadRequest) bool {
	t.Helper()
	resp, err := e.Evaluate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req.Id, resp.Id)
	assert.Equal(t, req.CustomerId, resp.CustomerId)
	return resp.Accepted
}

func TestEngineFourTenDollarLoadsSameDay(t *testing.T) {
	engine, ledger := newTestEngine(t, testLimits)

	for i := 1; i <= 3; i++ {
		assert.True(t, evaluate(t, engine, load(fmt.Sprint(i), "1", "10.00", monday.Add(time.Duration(i)*time.Minute))), "load %d", i)
	}
	assert.False(t, evaluate(t, engine, load("4", "1", "10.00", monday.Add(4*time.Minute))))

	fourth, err := ledger.FindLoad(context.Background(), "1", "4")
	require.NoError(t, err)
	assert.True(t, fourth.DailyLimitAccepted)
	assert.True(t, fourth.WeeklyLimitAccepted)
	assert.False(t, fourth.DailyCountAccepted)
}

func TestEngineIdempotentReplay(t *testing.T) {
	engine, ledger := newTestEngine(t, testLimits)
	ctx := context.Background()

	req := load("1", "1", "10.00", monday)
	assert.True(t, evaluate(t, engine, req))

	// Same id with a different amount returns the stored decision.
	replay := req
	replay.Amount = d("5000.00")
	assert.True(t, evaluate(t, engine, replay))

	records, err := ledger.ListLoads(ctx, "1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].LoadAmount.Equal(d("10.00")))

	count, err := ledger.CountAccepted(ctx, "1", monday.Add(-time.Hour), monday.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// A rejected decision is replayed as rejected too.
	assert.False(t, evaluate(t, engine, load("big", "1", "500.00", monday.Add(time.Minute))))
	assert.False(t, evaluate(t, engine, load("big", "1", "1.00", monday.Add(time.Minute))))
}

func TestEngineSameIdOtherCustomerIsSeparate(t *testing.T) {
	engine, _ := newTestEngine(t, testLimits)
	assert.True(t, evaluate(t, engine, load("1", "1", "100.00", monday)))
	assert.True(t, evaluate(t, engine, load("1", "2", "100.00", monday)))
}

func TestEngineConcurrentLoadsNeverExceedDailyLimit(t *testing.T) {
	limits := config.VelocityLimits{DailyAmount: d("100"), WeeklyAmount: d("1000"), DailyCount: 1000}
	engine, ledger := newTestEngine(t, limits)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// One shared timestamp so every load falls inside every other load's window.
			resp, err := engine.Evaluate(ctx, load(fmt.Sprint(i), "1", "10.00", monday))
			if err != nil {
				t.Errorf("Evaluate %d: %v", i, err)
				return
			}
			if resp.Accepted {
				accepted.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(10), accepted.Load())
	sum, err := ledger.SumAcceptedAmount(ctx, "1", monday.Add(-time.Hour), monday.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, sum.Equal(d("100")), "accepted sum %s", sum)
}

func TestEngineConcurrentDuplicatesStoreOneRecord(t *testing.T) {
	engine, ledger := newTestEngine(t, testLimits)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]bool, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := engine.Evaluate(ctx, load("same", "1", "10.00", monday))
			if err != nil {
				t.Errorf("Evaluate: %v", err)
				return
			}
			results[i] = resp.Accepted
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		assert.True(t, r, "call %d", i)
	}
	records, err := ledger.ListLoads(ctx, "1", 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestEngineDailyAmountBoundary(t *testing.T) {
	engine, _ := newTestEngine(t, testLimits)

	assert.True(t, evaluate(t, engine, load("1", "exact", "60.00", monday)))
	assert.True(t, evaluate(t, engine, load("2", "exact", "40.00", monday.Add(time.Minute))))

	assert.True(t, evaluate(t, engine, load("1", "over", "60.00", monday)))
	assert.False(t, evaluate(t, engine, load("2", "over", "40.01", monday.Add(time.Minute))))
}

func TestEngineRejectedLoadsDoNotCount(t *testing.T) {
	engine, _ := newTestEngine(t, testLimits)

	assert.True(t, evaluate(t, engine, load("1", "1", "80.00", monday)))
	assert.False(t, evaluate(t, engine, load("2", "1", "30.00", monday.Add(time.Minute))))
	// Only the $80 counts, so $20 still fits; the rejected load also does not use up a count slot.
	assert.True(t, evaluate(t, engine, load("3", "1", "20.00", monday.Add(2*time.Minute))))
}

func TestEngineNextDayResetsDailyLimits(t *testing.T) {
	engine, _ := newTestEngine(t, testLimits)

	for i := 1; i <= 3; i++ {
		assert.True(t, evaluate(t, engine, load(fmt.Sprint(i), "1", "10.00", monday.Add(time.Duration(i)*time.Hour))))
	}
	assert.False(t, evaluate(t, engine, load("4", "1", "10.00", monday.Add(5*time.Hour))))

	tuesday := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	assert.True(t, evaluate(t, engine, load("5", "1", "100.00", tuesday)))
}

func TestEngineWeeklyWindowAlignment(t *testing.T) {
	limits := config.VelocityLimits{DailyAmount: d("1000"), WeeklyAmount: d("1000"), DailyCount: 10}
	engine, _ := newTestEngine(t, limits)

	sunday := time.Date(2024, 1, 7, 20, 0, 0, 0, time.UTC)
	nextMonday := time.Date(2024, 1, 8, 8, 0, 0, 0, time.UTC)
	assert.True(t, evaluate(t, engine, load("1", "a", "600.00", sunday)))
	assert.True(t, evaluate(t, engine, load("2", "a", "600.00", nextMonday)), "monday starts a new week")

	followingSunday := time.Date(2024, 1, 14, 20, 0, 0, 0, time.UTC)
	assert.True(t, evaluate(t, engine, load("1", "b", "600.00", nextMonday)))
	assert.False(t, evaluate(t, engine, load("2", "b", "600.00", followingSunday)), "same week as monday")
}

func TestEngineLimitsSwapAppliesToLaterDecisions(t *testing.T) {
	store := config.NewLimitsStore(testLimits)
	engine, _ := newTestEngine(t, store)

	assert.True(t, evaluate(t, engine, load("1", "1", "50.00", monday)))

	_, err := store.Swap(config.VelocityLimits{DailyAmount: d("60"), WeeklyAmount: d("1000"), DailyCount: 3})
	require.NoError(t, err)
	assert.False(t, evaluate(t, engine, load("2", "1", "20.00", monday.Add(time.Minute))))
	assert.True(t, evaluate(t, engine, load("3", "1", "10.00", monday.Add(2*time.Minute))))
}

type stubLocker struct {
	handle   func() *LockHandle
	err      error
	released atomic.Int32
}

func (l *stubLocker) Acquire(context.Context, string, time.Duration) (*LockHandle, error) {
	if l.err != nil {
		return nil, l.err
	}
	if l.handle != nil {
		return l.handle(), nil
	}
	return acquiredHandle(func(context.Context) error {
		l.released.Add(1)
		return nil
	}), nil
}

func TestEngineLockNotAcquiredIsRejectedWithoutRecord(t *testing.T) {
	ledger := newTestLedger(t)
	locker := &stubLocker{handle: func() *LockHandle { return NotAcquired }}
	engine := NewLoadDecisionEngine(ledger, locker, testLimits, quietLogger())

	assert.False(t, evaluate(t, engine, load("1", "1", "10.00", monday)))
	_, err := ledger.FindLoad(context.Background(), "1", "1")
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)

	// Nothing was stored, so a retry with a working lock is decided normally.
	engine.Locker = NewLocalCustomerLocker()
	assert.True(t, evaluate(t, engine, load("1", "1", "10.00", monday)))
}

func TestEngineLockWaitRunsOut(t *testing.T) {
	engine, _ := newTestEngine(t, testLimits)
	engine.LockWait = 20 * time.Millisecond

	held, err := engine.Locker.Acquire(context.Background(), "1", time.Second)
	require.NoError(t, err)
	defer held.Release(context.Background())

	assert.False(t, evaluate(t, engine, load("1", "1", "10.00", monday)))
}

func TestEngineLockErrorPropagates(t *testing.T) {
	ledger := newTestLedger(t)
	engine := NewLoadDecisionEngine(ledger, &stubLocker{err: errors.New("redis down")}, testLimits, quietLogger())

	_, err := engine.Evaluate(context.Background(), load("1", "1", "10.00", monday))
	assert.ErrorContains(t, err, "redis down")
}

type failingSumLedger struct {
	models.LoadLedger
}

func (failingSumLedger) SumAcceptedAmount(context.Context, string, time.Time, time.Time) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("db unavailable")
}

func TestEngineLedgerErrorLeavesNoRecordAndReleasesLock(t *testing.T) {
	inner := newTestLedger(t)
	locker := &stubLocker{}
	engine := NewLoadDecisionEngine(failingSumLedger{inner}, locker, testLimits, quietLogger())

	_, err := engine.Evaluate(context.Background(), load("1", "1", "10.00", monday))
	require.ErrorContains(t, err, "db unavailable")
	assert.Equal(t, int32(1), locker.released.Load())

	_, err = inner.FindLoad(context.Background(), "1", "1")
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)
}

// racingLedger lets another writer store the same load just before our insert.
type racingLedger struct {
	models.LoadLedger
	competitor *models.LoadRecord
}

func (l *racingLedger) InsertLoad(ctx context.Context, record *models.LoadRecord) error {
	if l.competitor != nil {
		if err := l.LoadLedger.InsertLoad(ctx, l.competitor); err != nil {
			return err
		}
		l.competitor = nil
	}
	return l.LoadLedger.InsertLoad(ctx, record)
}

func TestEngineDuplicateInsertReturnsStoredDecision(t *testing.T) {
	inner := newTestLedger(t)
	ledger := &racingLedger{
		LoadLedger: inner,
		competitor: &models.LoadRecord{
			CustomerId:          "1",
			LoadId:              "1",
			LoadAmount:          d("10.00"),
			LoadTime:            monday,
			DailyLimitAccepted:  true,
			WeeklyLimitAccepted: true,
			DailyCountAccepted:  false,
		},
	}
	publisher := &recordingPublisher{}
	engine := NewLoadDecisionEngine(ledger, NewLocalCustomerLocker(), testLimits, quietLogger())
	engine.Publisher = publisher

	// Our own evaluation would accept, but the competitor's stored rejection wins.
	assert.False(t, evaluate(t, engine, load("1", "1", "10.00", monday)))
	assert.Empty(t, publisher.events())
}

type recordingPublisher struct {
	mu   sync.Mutex
	got  []LoadDecisionEvent
	fail error
}

func (p *recordingPublisher) PublishDecision(_ context.Context, e LoadDecisionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, e)
	return p.fail
}

func (p *recordingPublisher) events() []LoadDecisionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]LoadDecisionEvent(nil), p.got...)
}

func TestEnginePublishesFreshDecisionsOnly(t *testing.T) {
	engine, _ := newTestEngine(t, testLimits)
	publisher := &recordingPublisher{}
	engine.Publisher = publisher

	ctx := utils.SetCorrelationIdInContext(context.Background(), "cid-1")
	resp, err := engine.Evaluate(ctx, load("1", "1", "10.00", monday))
	require.NoError(t, err)
	require.True(t, resp.Accepted)
	_, err = engine.Evaluate(ctx, load("1", "1", "10.00", monday))
	require.NoError(t, err)

	events := publisher.events()
	require.Len(t, events, 1)
	assert.Equal(t, "1", events[0].LoadId)
	assert.Equal(t, "$10.00", events[0].LoadAmount)
	assert.True(t, events[0].Accepted)
	assert.Equal(t, "cid-1", events[0].CorrelationId)
}

func TestEnginePublishFailureDoesNotChangeDecision(t *testing.T) {
	engine, _ := newTestEngine(t, testLimits)
	engine.Publisher = &recordingPublisher{fail: errors.New("pubsub down")}

	assert.True(t, evaluate(t, engine, load("1", "1", "10.00", monday)))
}
