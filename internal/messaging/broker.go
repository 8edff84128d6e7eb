// Package messaging owns the RabbitMQ side of the pipeline: connection
// management, topology declaration and the forecast Publisher.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeKindTopic is the exchange type used for both the weather and the
// farm event exchanges.
const ExchangeKindTopic = "topic"

// Channel is the subset of *amqp.Channel the publisher and listener use.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Cancel(consumer string, noWait bool) error
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Connector dials lazily and redials when the connection has been closed.
// Each consumer of the broker (publisher, listener) owns its own Connector.
type Connector struct {
	url    string
	name   string
	logger *slog.Logger
	dial   func(url string, cfg amqp.Config) (*amqp.Connection, error)

	mu   sync.Mutex
	conn *amqp.Connection
}

// NewConnector creates a Connector for url. name is reported to the broker as
// the connection name.
func NewConnector(url, name string, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		url:    url,
		name:   name,
		logger: logger,
		dial:   amqp.DialConfig,
	}
}

func (c *Connector) connection() (*amqp.Connection, error) {
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn, nil
	}
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(c.name)
	conn, err := c.dial(c.url, amqp.Config{Properties: props})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial failed: %w", err)
	}
	c.logger.Info("connected to broker", "connection", c.name)
	c.conn = conn
	return conn, nil
}

// Channel opens a new channel, dialing first if needed.
func (c *Connector) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel open failed: %w", err)
	}
	return ch, nil
}

// Ping reports whether the broker is reachable, dialing if needed.
func (c *Connector) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.connection()
	return err
}

// Close closes the current connection, if any.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

// DeclareTopicExchange declares a durable topic exchange.
func DeclareTopicExchange(ch Channel, name string) error {
	if err := ch.ExchangeDeclare(name, ExchangeKindTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	return nil
}
