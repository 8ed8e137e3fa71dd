/*
Package notify publishes confirmed façade outcomes to RabbitMQ.

PURPOSE:
  Implements facade.Notifier. Each confirmed mutation becomes one
  persistent JSON message on a topic exchange, routed by method:

    claims.purchasePolicy
    claims.processClaim
    ...

  Consumers (mail, dashboards, accounting) bind their own queues.
  Publishing is best effort: the façade logs a failure and keeps the
  ledger outcome it already has.
*/
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/warp/claims-engine/facade"
)

// DefaultExchange is used when Config.Exchange is empty.
const DefaultExchange = "claims.events"

// RoutingKeyPrefix prefixes every routing key.
const RoutingKeyPrefix = "claims."

// Config configures the publisher.
type Config struct {
	URL      string
	Exchange string
}

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher implements facade.Notifier.
type Publisher struct {
	conn     *amqp.Connection
	exchange string
	logger   *slog.Logger

	mu sync.Mutex // amqp channels are not safe for concurrent publishing
	ch channel

	published atomic.Int64
	failed    atomic.Int64
}

var _ facade.Notifier = (*Publisher)(nil)

// Dial connects to RabbitMQ and declares the exchange.
func Dial(cfg Config, logger *slog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p, err := newPublisher(ch, cfg.Exchange, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	p.logger.Info("connected to RabbitMQ", "exchange", p.exchange)
	return p, nil
}

func newPublisher(ch channel, exchange string, logger *slog.Logger) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = slog.Default()
	}

	err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &Publisher{ch: ch, exchange: exchange, logger: logger}, nil
}

// RoutingKey returns the routing key for a notice.
func RoutingKey(n facade.Notice) string {
	return RoutingKeyPrefix + string(n.Method)
}

// Publish sends n as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, n facade.Notice) error {
	body, err := json.Marshal(n)
	if err != nil {
		p.failed.Add(1)
		return fmt.Errorf("failed to marshal notice: %w", err)
	}

	key := RoutingKey(n)
	p.mu.Lock()
	err = p.ch.PublishWithContext(
		ctx,
		p.exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    n.IntentID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	p.mu.Unlock()
	if err != nil {
		p.failed.Add(1)
		return fmt.Errorf("failed to publish notice: %w", err)
	}

	p.published.Add(1)
	p.logger.Info("notice published", "routing_key", key, "tx", n.TxHash)
	return nil
}

// Stats returns the published and failed message counts.
func (p *Publisher) Stats() (published, failed int64) {
	return p.published.Load(), p.failed.Load()
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			p.logger.Error("failed to close RabbitMQ channel", "error", err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			p.logger.Error("failed to close RabbitMQ connection", "error", err)
			return err
		}
	}
	p.logger.Info("RabbitMQ connection closed")
	return nil
}
