// Package eventpublisher sends durable work events to a RabbitMQ topic
// exchange for downstream consumers such as the KPI aggregation job.
package eventpublisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/pscheid92/realtydesk/internal/adapter/metrics"
	"github.com/pscheid92/realtydesk/internal/domain"
	"github.com/pscheid92/realtydesk/internal/platform/correlation"
	amqp "github.com/rabbitmq/amqp091-go"
)

const appID = "realtydesk"

var errNacked = errors.New("broker did not acknowledge message")

// sendFunc delivers one message and returns once the broker confirmed it.
type sendFunc func(ctx context.Context, routingKey string, msg amqp.Publishing) error

// Publisher implements domain.WorkEventPublisher. The routing key is the
// event type, e.g. "work.assigned".
type Publisher struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	send    sendFunc
	cb      circuitbreaker.CircuitBreaker[any]
	metrics *metrics.PublisherMetrics
}

var _ domain.WorkEventPublisher = (*Publisher)(nil)

// Dial connects, declares the durable topic exchange and enables publisher confirms.
func Dial(url, exchange string, m *metrics.PublisherMetrics) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %q: %w", exchange, err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable confirms: %w", err)
	}

	p := newPublisher(confirmedSender(ch, exchange), m)
	p.conn, p.ch = conn, ch
	slog.Info("Event publisher connected", "exchange", exchange)
	return p, nil
}

func confirmedSender(ch *amqp.Channel, exchange string) sendFunc {
	return func(ctx context.Context, routingKey string, msg amqp.Publishing) error {
		dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, msg)
		if err != nil {
			return err
		}
		ok, err := dc.WaitContext(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errNacked
		}
		return nil
	}
}

// newPublisher opens the breaker after 60% failures over at least 5 publishes
// in 10s and probes again after 30s.
func newPublisher(send sendFunc, m *metrics.PublisherMetrics) *Publisher {
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, 10*time.Second).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "amqp",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			m.BreakerState.Set(stateToFloat(e.NewState))
		}).
		Build()

	return &Publisher{send: send, cb: cb, metrics: m}
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

func (p *Publisher) PublishWorkEvent(ctx context.Context, event domain.WorkEvent) error {
	if !p.cb.TryAcquirePermit() {
		p.metrics.Published.WithLabelValues(event.Type, "rejected").Inc()
		return fmt.Errorf("event broker circuit breaker open: %w", circuitbreaker.ErrOpen)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID.String(),
		Type:         event.Type,
		Timestamp:    event.OccurredAt,
		AppId:        appID,
		Body:         body,
	}
	if id, ok := correlation.ID(ctx); ok {
		msg.CorrelationId = id
	}

	if err := p.send(ctx, event.Type, msg); err != nil {
		p.cb.RecordError(err)
		p.metrics.Published.WithLabelValues(event.Type, "error").Inc()
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}

	p.cb.RecordSuccess()
	p.metrics.Published.WithLabelValues(event.Type, "ok").Inc()
	return nil
}

func (p *Publisher) State() circuitbreaker.State {
	return p.cb.State()
}

// HealthCheck reports whether the broker connection is still open.
func (p *Publisher) HealthCheck(context.Context) error {
	if p.conn == nil || p.conn.IsClosed() {
		return errors.New("broker connection closed")
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return fmt.Errorf("failed to close broker connection: %w", err)
		}
	}
	return nil
}
