// Package events consumes farm lifecycle events and triggers an immediate
// ingestion for the affected farm, independent of the periodic schedule.
//
// Acknowledgement rules:
//   - the handler returns normally: ack (including events that lack a
//     user_id or farm, and runs whose forecasts failed; those are logged).
//   - the body is not JSON, the farm has an unexpected shape, or the handler
//     panics: nack without requeue. Poison messages are dropped, not retried.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"weatheringest/internal/breaker"
	"weatheringest/internal/ingest"
	"weatheringest/internal/messaging"
	"weatheringest/internal/types"
)

// Routing keys on the farm events exchange.
const (
	RoutingFarmCreated = "farm.created"
	RoutingFarmUpdated = "farm.updated"
)

// routes maps each routing key to the cadences it triggers, in order.
var routes = map[string][]types.Cadence{
	RoutingFarmCreated: {types.CadenceCurrent},
	RoutingFarmUpdated: {types.CadenceCurrent, types.CadenceHourly, types.CadenceDaily},
}

// Processor ingests one farm for one cadence.
type Processor interface {
	Process(ctx context.Context, owner types.Owner, farm types.Farm, cadence types.Cadence) error
}

// Guard wraps a unit of work; normally the process-wide *breaker.Breaker.
type Guard interface {
	Execute(fn func() error) error
}

// Config configures a Listener.
type Config struct {
	Open             func() (messaging.Channel, error)
	Exchange         string
	CreatedQueue     string
	UpdatedQueue     string
	Prefetch         int
	ReconnectBackoff time.Duration
	ConsumerTag      string

	Processor Processor
	Breaker   Guard
	Logger    *slog.Logger
}

// Listener consumes the created and updated queues over one channel, one
// message in flight at a time.
type Listener struct {
	cfg       Config
	processor Processor
	breaker   Guard
	logger    *slog.Logger
}

// farmEvent is the envelope of a farm lifecycle event.
type farmEvent struct {
	UserID string          `json:"user_id"`
	Email  string          `json:"email"`
	Farm   json.RawMessage `json:"farm"`
}

// New creates a Listener.
func New(cfg Config) *Listener {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 5 * time.Second
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = "weather-ingestion"
	}
	guard := cfg.Breaker
	if guard == nil {
		guard = passthrough{}
	}
	return &Listener{
		cfg:       cfg,
		processor: cfg.Processor,
		breaker:   guard,
		logger:    logger,
	}
}

// passthrough runs work unguarded.
type passthrough struct{}

func (passthrough) Execute(fn func() error) error { return fn() }

// Run consumes until ctx is cancelled. A lost channel or connection is
// logged and a new session is opened after the reconnect backoff.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info("farm event listener started",
		"exchange", l.cfg.Exchange,
		"queues", []string{l.cfg.CreatedQueue, l.cfg.UpdatedQueue},
	)
	for {
		err := l.runSession(ctx)
		if ctx.Err() != nil {
			l.logger.Info("farm event listener stopped")
			return nil
		}
		l.logger.Error("farm event session ended; reconnecting",
			"error", err,
			"backoff", l.cfg.ReconnectBackoff.String(),
		)
		select {
		case <-ctx.Done():
			l.logger.Info("farm event listener stopped")
			return nil
		case <-time.After(l.cfg.ReconnectBackoff):
		}
	}
}

// runSession runs one consume session until cancel or channel failure.
func (l *Listener) runSession(ctx context.Context) error {
	if l.cfg.Open == nil {
		return errors.New("listener has no broker connection")
	}
	ch, err := l.cfg.Open()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := l.declare(ch); err != nil {
		return err
	}
	if err := ch.Qos(l.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("rabbitmq qos failed: %w", err)
	}

	createdTag := l.cfg.ConsumerTag + "-created"
	updatedTag := l.cfg.ConsumerTag + "-updated"
	created, err := ch.Consume(l.cfg.CreatedQueue, createdTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq consume setup failed for %s: %w", l.cfg.CreatedQueue, err)
	}
	updated, err := ch.Consume(l.cfg.UpdatedQueue, updatedTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq consume setup failed for %s: %w", l.cfg.UpdatedQueue, err)
	}
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	for {
		select {
		case <-ctx.Done():
			for _, tag := range []string{createdTag, updatedTag} {
				if err := ch.Cancel(tag, false); err != nil {
					l.logger.Warn("consumer cancel failed", "consumer", tag, "error", err)
				}
			}
			return nil
		case amqpErr, ok := <-closed:
			if !ok || amqpErr == nil {
				return errors.New("rabbitmq channel closed")
			}
			return fmt.Errorf("rabbitmq channel closed: %w", amqpErr)
		case d, ok := <-created:
			if !ok {
				return errors.New("rabbitmq deliveries channel closed unexpectedly")
			}
			l.dispatch(ctx, d)
		case d, ok := <-updated:
			if !ok {
				return errors.New("rabbitmq deliveries channel closed unexpectedly")
			}
			l.dispatch(ctx, d)
		}
	}
}

// declare creates the durable topology the listener consumes from.
func (l *Listener) declare(ch messaging.Channel) error {
	if err := messaging.DeclareTopicExchange(ch, l.cfg.Exchange); err != nil {
		return err
	}
	bindings := []struct{ queue, key string }{
		{l.cfg.CreatedQueue, RoutingFarmCreated},
		{l.cfg.UpdatedQueue, RoutingFarmUpdated},
	}
	for _, b := range bindings {
		if _, err := ch.QueueDeclare(b.queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", b.queue, err)
		}
		if err := ch.QueueBind(b.queue, b.key, l.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.key, err)
		}
	}
	return nil
}

// dispatch handles one delivery and settles it.
func (l *Listener) dispatch(ctx context.Context, d amqp.Delivery) {
	log := l.logger.With("routing_key", d.RoutingKey, "delivery_tag", d.DeliveryTag)

	if err := l.safeHandle(ctx, d.RoutingKey, d.Body); err != nil {
		log.Error("dropping farm event", "error", err)
		if nerr := d.Nack(false, false); nerr != nil {
			log.Error("farm event nack failed", "error", nerr)
		}
		return
	}
	if err := d.Ack(false); err != nil {
		log.Error("farm event ack failed", "error", err)
	}
}

// safeHandle converts a handler panic into an error.
func (l *Listener) safeHandle(ctx context.Context, routingKey string, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("farm event handler panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return l.Handle(ctx, routingKey, body)
}

// Handle processes one event body. A non-nil error means the message is
// poison and must be dropped.
func (l *Listener) Handle(ctx context.Context, routingKey string, body []byte) error {
	cadences, ok := routes[routingKey]
	if !ok {
		l.logger.Warn("ignoring farm event with unknown routing key", "routing_key", routingKey)
		return nil
	}

	var ev farmEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidEvent, "farm event is not valid JSON", err)
	}
	if ev.UserID == "" || len(ev.Farm) == 0 || string(ev.Farm) == "null" {
		l.logger.Warn("farm event without user_id or farm; nothing to do", "routing_key", routingKey)
		return nil
	}

	farm, err := ingest.FarmFromEvent(ev.Farm)
	if err != nil {
		return err
	}

	ctx = types.WithRunID(ctx, uuid.NewString())
	log := l.logger.With(
		"routing_key", routingKey,
		"user_id", ev.UserID,
		"farm_id", farm.ID,
		"run_id", types.GetRunID(ctx),
	)
	log.Info("processing farm event", "cadences", cadences)

	owner := types.Owner{UserID: ev.UserID, Email: ev.Email}
	err = l.breaker.Execute(func() error {
		return l.ingest(ctx, owner, farm, cadences)
	})
	switch {
	case err == nil:
		log.Info("farm event processed")
	case breaker.IsOpen(err):
		log.Warn("forecast provider circuit open; farm left to the periodic schedule", "error", err)
	default:
		log.Error("farm event ingestion failed", "error", err)
	}
	return nil
}

// ingest runs each cadence in order. It fails only when every cadence failed
// at the forecast provider, which is what the breaker counts.
func (l *Listener) ingest(ctx context.Context, owner types.Owner, farm types.Farm, cadences []types.Cadence) error {
	var upstreamFailures int
	var last error
	for _, c := range cadences {
		if err := l.processor.Process(ctx, owner, farm, c); err != nil && types.IsUpstream(err) {
			upstreamFailures++
			last = err
		}
	}
	if upstreamFailures == len(cadences) {
		return types.NewAppError(types.ErrCodeUpstreamForecast, "every cadence failed at the forecast provider", last)
	}
	return nil
}
