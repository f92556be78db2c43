package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/load_validator/config"
	"github.com/mmdatafocus/load_validator/models"
	"github.com/mmdatafocus/load_validator/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("load-validator/workflow")

// LoadEvaluator decides a single load. Handlers and the batch processor depend on this.
type LoadEvaluator interface {
	Evaluate(ctx context.Context, req models.LoadRequest) (models.LoadResponse, error)
}

// LoadDecisionEngine decides loads against the velocity limits.
//
// Each (customer, load id) is decided once; repeats return the stored outcome.
// Decisions for one customer are serialized through Locker, and a load whose lock
// could not be taken within LockWait is answered as not accepted without being stored.
type LoadDecisionEngine struct {
	Ledger    models.LoadLedger
	Locker    CustomerLocker
	Limits    config.LimitsSource
	LockWait  time.Duration
	Publisher DecisionPublisher
	Logger    *logrus.Logger
}

func NewLoadDecisionEngine(ledger models.LoadLedger, locker CustomerLocker, limits config.LimitsSource, logger *logrus.Logger) *LoadDecisionEngine {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &LoadDecisionEngine{
		Ledger:    ledger,
		Locker:    locker,
		Limits:    limits,
		LockWait:  config.LockWait(),
		Publisher: NoopDecisionPublisher{},
		Logger:    logger,
	}
}

// Evaluate returns accepted=false without error for load-level rejections and for
// lock contention. A non-nil error means the ledger or lock backend failed.
func (e *LoadDecisionEngine) Evaluate(ctx context.Context, req models.LoadRequest) (models.LoadResponse, error) {
	ctx, span := tracer.Start(ctx, "LoadDecisionEngine.Evaluate", trace.WithAttributes(
		attribute.String("load.customer_id", req.CustomerId),
		attribute.String("load.id", req.Id),
	))
	defer span.End()

	ctx = utils.SetCustomerIdInContext(ctx, req.CustomerId)
	ctx = utils.SetLoadIdInContext(ctx, req.Id)

	record, fresh, err := e.decide(ctx, req)
	if err != nil {
		span.RecordError(err)
		return models.LoadResponse{}, err
	}
	if record == nil {
		span.SetAttributes(attribute.Bool("load.lock_acquired", false))
		return req.Respond(false), nil
	}

	span.SetAttributes(attribute.Bool("load.accepted", record.Accepted()), attribute.Bool("load.replayed", !fresh))
	if fresh {
		e.publish(ctx, record)
	}
	return req.Respond(record.Accepted()), nil
}

// decide returns the stored record, whether this call created it, and nil record
// when the customer lock was not obtained. The lock is released before it returns.
func (e *LoadDecisionEngine) decide(ctx context.Context, req models.LoadRequest) (*models.LoadRecord, bool, error) {
	existing, err := e.findExisting(ctx, req)
	if err != nil || existing != nil {
		return existing, false, err
	}

	handle, err := e.Locker.Acquire(ctx, req.CustomerId, e.LockWait)
	if err != nil {
		return nil, false, fmt.Errorf("acquire customer lock: %w", err)
	}
	if !handle.Acquired() {
		e.entry(ctx).WithField("lock_wait", e.LockWait.String()).Warn("customer lock not acquired; load not accepted")
		return nil, false, nil
	}
	defer func() {
		if err := handle.Release(context.WithoutCancel(ctx)); err != nil {
			config.LogError(e.Logger, "LoadDecisionEngine", "decide", "release customer lock", req.CustomerId, err)
		}
	}()

	// A concurrent call may have stored this load while we waited for the lock.
	existing, err = e.findExisting(ctx, req)
	if err != nil || existing != nil {
		return existing, false, err
	}

	limits := e.Limits.Limits()

	agg, err := e.aggregates(ctx, req)
	if err != nil {
		return nil, false, err
	}
	verdicts := EvaluateVelocity(req.Amount, agg, limits)
	e.logVerdicts(ctx, req, agg, limits, verdicts)

	record := &models.LoadRecord{
		CustomerId:          req.CustomerId,
		LoadId:              req.Id,
		LoadAmount:          req.Amount,
		LoadTime:            req.Time,
		DailyLimitAccepted:  verdicts.DailyAmountOk,
		WeeklyLimitAccepted: verdicts.WeeklyAmountOk,
		DailyCountAccepted:  verdicts.DailyCountOk,
	}
	if err := e.Ledger.InsertLoad(ctx, record); err != nil {
		if errors.Is(err, models.ErrDuplicateLoad) {
			// Lost a race with a writer outside this lock; the stored decision wins.
			existing, findErr := e.Ledger.FindLoad(ctx, req.CustomerId, req.Id)
			if findErr != nil {
				return nil, false, fmt.Errorf("read load after duplicate insert: %w", findErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("insert load: %w", err)
	}
	return record, true, nil
}

func (e *LoadDecisionEngine) findExisting(ctx context.Context, req models.LoadRequest) (*models.LoadRecord, error) {
	record, err := e.Ledger.FindLoad(ctx, req.CustomerId, req.Id)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find load: %w", err)
	}
	e.entry(ctx).WithField("accepted", record.Accepted()).Info("load already decided")
	return record, nil
}

func (e *LoadDecisionEngine) aggregates(ctx context.Context, req models.LoadRequest) (VelocityAggregates, error) {
	dayFrom, dayTo := DayWindow(req.Time)
	weekFrom, weekTo := WeekWindow(req.Time)

	daily, err := e.Ledger.SumAcceptedAmount(ctx, req.CustomerId, dayFrom, dayTo)
	if err != nil {
		return VelocityAggregates{}, err
	}
	weekly, err := e.Ledger.SumAcceptedAmount(ctx, req.CustomerId, weekFrom, weekTo)
	if err != nil {
		return VelocityAggregates{}, err
	}
	count, err := e.Ledger.CountAccepted(ctx, req.CustomerId, dayFrom, dayTo)
	if err != nil {
		return VelocityAggregates{}, err
	}
	return VelocityAggregates{DailyAmount: daily, WeeklyAmount: weekly, DailyCount: count}, nil
}

func (e *LoadDecisionEngine) logVerdicts(ctx context.Context, req models.LoadRequest, agg VelocityAggregates, limits config.VelocityLimits, v VelocityVerdicts) {
	entry := e.entry(ctx).WithField("load_amount", utils.FormatLoadAmount(req.Amount))
	if v.Accepted() {
		entry.Info("load accepted")
		return
	}
	if !v.DailyAmountOk {
		entry.WithField("remaining", utils.FormatLoadAmount(limits.DailyAmount.Sub(agg.DailyAmount))).
			Warn("daily amount limit exceeded")
	}
	if !v.WeeklyAmountOk {
		entry.WithField("remaining", utils.FormatLoadAmount(limits.WeeklyAmount.Sub(agg.WeeklyAmount))).
			Warn("weekly amount limit exceeded")
	}
	if !v.DailyCountOk {
		entry.WithField("accepted_today", agg.DailyCount).
			Warn("daily load count limit reached")
	}
}

func (e *LoadDecisionEngine) publish(ctx context.Context, record *models.LoadRecord) {
	if e.Publisher == nil {
		return
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	event := NewLoadDecisionEvent(record, correlationId)
	if err := e.Publisher.PublishDecision(context.WithoutCancel(ctx), event); err != nil {
		config.LogError(e.Logger, "LoadDecisionEngine", "publish", "publish load decision", event, err)
	}
}

func (e *LoadDecisionEngine) entry(ctx context.Context) *logrus.Entry {
	fields := logrus.Fields{}
	if v, ok := utils.GetCustomerIdFromContext(ctx); ok {
		fields["customer_id"] = v
	}
	if v, ok := utils.GetLoadIdFromContext(ctx); ok {
		fields["load_id"] = v
	}
	if v, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		fields["correlation_id"] = v
	}
	return e.Logger.WithContext(ctx).WithFields(fields)
}
