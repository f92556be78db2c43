package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/load_validator/config"
	"github.com/mmdatafocus/load_validator/models"
	"github.com/mmdatafocus/load_validator/utils"
)

const decisionPublishTimeout = 5 * time.Second

// LoadDecisionEvent is emitted once per newly stored load decision.
type LoadDecisionEvent struct {
	CustomerId          string    `json:"customer_id"`
	LoadId              string    `json:"load_id"`
	LoadAmount          string    `json:"load_amount"`
	Time                time.Time `json:"time"`
	Accepted            bool      `json:"accepted"`
	DailyLimitAccepted  bool      `json:"daily_limit_accepted"`
	WeeklyLimitAccepted bool      `json:"weekly_limit_accepted"`
	DailyCountAccepted  bool      `json:"daily_count_accepted"`
	CorrelationId       string    `json:"correlation_id,omitempty"`
}

func NewLoadDecisionEvent(record *models.LoadRecord, correlationId string) LoadDecisionEvent {
	return LoadDecisionEvent{
		CustomerId:          record.CustomerId,
		LoadId:              record.LoadId,
		LoadAmount:          utils.FormatLoadAmount(record.LoadAmount),
		Time:                record.LoadTime.UTC(),
		Accepted:            record.Accepted(),
		DailyLimitAccepted:  record.DailyLimitAccepted,
		WeeklyLimitAccepted: record.WeeklyLimitAccepted,
		DailyCountAccepted:  record.DailyCountAccepted,
		CorrelationId:       correlationId,
	}
}

// DecisionPublisher forwards decisions to downstream consumers.
// Delivery is best effort; a failure never changes the decision.
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, event LoadDecisionEvent) error
}

type NoopDecisionPublisher struct{}

func (NoopDecisionPublisher) PublishDecision(context.Context, LoadDecisionEvent) error { return nil }

// PubSubDecisionPublisher publishes JSON events to a Pub/Sub topic.
// Messages carry customer_id as an attribute so subscribers can filter.
type PubSubDecisionPublisher struct {
	Topic string
}

func (p PubSubDecisionPublisher) PublishDecision(ctx context.Context, event LoadDecisionEvent) error {
	ctx, cancel := context.WithTimeout(ctx, decisionPublishTimeout)
	defer cancel()

	_, err := config.PublishJSON(ctx, p.Topic, event, map[string]string{
		"customer_id": event.CustomerId,
		"event_type":  "load.decided",
	})
	return err
}
