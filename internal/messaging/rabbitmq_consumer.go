package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/config"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/domain"
)

// TransactionSink receives transactions projected from events.
type TransactionSink interface {
	InsertTransaction(ctx context.Context, tx *domain.Transaction) error
}

// RabbitMQConsumer consumes transaction events from RabbitMQ
type RabbitMQConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  config.RabbitMQConfig
	sink    TransactionSink
	logger  logrus.FieldLogger
}

// NewRabbitMQConsumer creates a new RabbitMQ consumer and binds its queue.
func NewRabbitMQConsumer(cfg config.RabbitMQConfig, sink TransactionSink, logger logrus.FieldLogger) (*RabbitMQConsumer, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareExchange(channel, cfg.Exchange); err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}

	queue, err := channel.QueueDeclare(
		cfg.Queue, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	err = channel.QueueBind(
		queue.Name,     // queue name
		cfg.RoutingKey, // routing key
		cfg.Exchange,   // exchange
		false,
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"exchange":    cfg.Exchange,
		"queue":       cfg.Queue,
		"routing_key": cfg.RoutingKey,
	}).Info("RabbitMQ consumer initialized")

	return newConsumer(cfg, sink, logger, conn, channel), nil
}

func newConsumer(cfg config.RabbitMQConfig, sink TransactionSink, logger logrus.FieldLogger, conn *amqp.Connection, channel *amqp.Channel) *RabbitMQConsumer {
	return &RabbitMQConsumer{
		conn:    conn,
		channel: channel,
		config:  cfg,
		sink:    sink,
		logger:  logger,
	}
}

// Start consumes messages until ctx is cancelled. Messages that can never be
// processed are dropped; sink failures are requeued.
func (c *RabbitMQConsumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.config.Queue, // queue
		"",             // consumer tag (auto-generated)
		false,          // auto-ack (we'll ack manually)
		false,          // exclusive
		false,          // no-local
		false,          // no-wait
		nil,            // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.WithField("queue", c.config.Queue).Info("RabbitMQ consumer started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context cancelled, stopping RabbitMQ consumer")
			return nil

		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.settle(msg, c.handleMessage(ctx, msg.Body))
		}
	}
}

// acknowledger is the part of amqp.Delivery used to settle a message.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *RabbitMQConsumer) settle(msg acknowledger, err error) {
	var ackErr error
	switch {
	case err == nil:
		ackErr = msg.Ack(false)
	case errors.Is(err, errInvalidEvent):
		c.logger.WithError(err).Error("dropping unprocessable message")
		ackErr = msg.Nack(false, false)
	default:
		c.logger.WithError(err).Warn("error handling message, requeueing")
		ackErr = msg.Nack(false, true)
	}
	if ackErr != nil {
		c.logger.WithError(ackErr).Error("failed to settle message")
	}
}

// handleMessage projects a single transaction event into the sink.
func (c *RabbitMQConsumer) handleMessage(ctx context.Context, body []byte) error {
	var event TransactionCreatedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: failed to unmarshal event: %v", errInvalidEvent, err)
	}

	tx, err := event.Transaction()
	if err != nil {
		return err
	}

	if err := c.sink.InsertTransaction(ctx, tx); err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"event_id":       event.EventID,
		"transaction_id": tx.ID,
		"store_id":       tx.StoreID,
	}).Debug("transaction event processed")

	return nil
}

// Close closes the RabbitMQ connection and channel
func (c *RabbitMQConsumer) Close() error {
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.WithError(err).Warn("error closing channel")
		}
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
