package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"weatheringest/internal/types"
)

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	Exchange string
	AppID    string
	Logger   *slog.Logger

	// Open returns a fresh channel; normally Connector.Channel.
	Open func() (Channel, error)
}

// Publisher emits forecast payloads on the weather exchange. The routing key
// always comes from the payload's cadence. Publishes are serialized over one
// channel; a failed publish discards the channel and the next call opens a
// new one. The failed message itself is not retried.
type Publisher struct {
	exchange string
	appID    string
	open     func() (Channel, error)
	logger   *slog.Logger
	now      func() time.Time

	mu sync.Mutex
	ch Channel
}

// NewPublisher creates a Publisher. No channel is opened until the first publish.
func NewPublisher(cfg PublisherConfig) *Publisher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		exchange: cfg.Exchange,
		appID:    cfg.AppID,
		open:     cfg.Open,
		logger:   logger,
		now:      time.Now,
	}
}

// Publish serializes payload and publishes it as a persistent JSON message.
// A failure is logged and returned as an internal_publish_failed AppError;
// it never panics.
func (p *Publisher) Publish(ctx context.Context, payload types.ForecastPayload) error {
	if !payload.Type.Valid() {
		return types.NewAppError(types.ErrCodeValidationInvalidCadence, "payload has no routing key for cadence "+string(payload.Type), nil)
	}

	key := payload.Type.RoutingKey()

	body, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalPublish, "failed to encode forecast payload", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    p.now().UTC(),
		AppId:        p.appID,
		Type:         string(payload.Type),
		Body:         body,
	}
	if runID := types.GetRunID(ctx); runID != "" {
		msg.CorrelationId = runID
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err == nil {
		err = ch.PublishWithContext(ctx, p.exchange, key, false, false, msg)
		if err != nil {
			p.discard()
		}
	}
	if err != nil {
		p.logger.Error("failed to publish forecast",
			"routing_key", key,
			"user_id", payload.UserID,
			"farm_id", payload.FarmID,
			"error", err,
		)
		return types.NewAppError(types.ErrCodeInternalPublish, "failed to publish forecast to "+key, err)
	}

	p.logger.Info("forecast published",
		"routing_key", key,
		"user_id", payload.UserID,
		"farm_id", payload.FarmID,
		"records", len(payload.Forecast),
		"message_id", msg.MessageId,
	)
	return nil
}

// channel returns the open channel, opening and declaring the exchange on
// first use. Caller holds p.mu.
func (p *Publisher) channel() (Channel, error) {
	if p.ch != nil {
		return p.ch, nil
	}
	if p.open == nil {
		return nil, types.NewAppError(types.ErrCodeInternalPublish, "publisher has no broker connection", nil)
	}
	ch, err := p.open()
	if err != nil {
		return nil, err
	}
	if err := DeclareTopicExchange(ch, p.exchange); err != nil {
		_ = ch.Close()
		return nil, err
	}
	p.ch = ch
	return ch, nil
}

// discard closes and forgets the current channel. Caller holds p.mu.
func (p *Publisher) discard() {
	if p.ch == nil {
		return
	}
	if err := p.ch.Close(); err != nil {
		p.logger.Debug("publisher channel close failed", "error", err)
	}
	p.ch = nil
}

// Close releases the publisher's channel.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discard()
}
