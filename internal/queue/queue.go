package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/antiprophet/studio/internal/config"
	"github.com/antiprophet/studio/internal/logging"
	"github.com/antiprophet/studio/pkg/models"
)

const (
	// ExchangeName is the topic exchange job events are published to
	ExchangeName = "studio.jobs"
	// EventsQueueName collects every job event for downstream consumers
	EventsQueueName = "studio.job_events"
	// BindingKey matches all job event routing keys
	BindingKey = "job.#"
)

// channel is the part of *amqp.Channel the publisher uses
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends job events to RabbitMQ. The routing key is the event
// type, e.g. "job.completed".
type Publisher struct {
	conn    *amqp.Connection
	mu      sync.Mutex // amqp channels are not safe for concurrent publishing
	channel channel
	log     *logging.Logger
}

// New connects and declares the exchange and the events queue
func New(cfg config.QueueConfig, logger *logging.Logger) (*Publisher, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// Declare exchange
	err = ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Declare queue
	_, err = ch.QueueDeclare(
		EventsQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	// Bind queue to exchange
	if err := ch.QueueBind(EventsQueueName, BindingKey, ExchangeName, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	p := newPublisher(ch, logger)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, logger *logging.Logger) *Publisher {
	return &Publisher{channel: ch, log: logger.WithComponent("queue")}
}

// Close closes the channel and the connection
func (p *Publisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Notify publishes one job event
func (p *Publisher) Notify(ctx context.Context, event models.JobEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	p.mu.Lock()
	err = p.channel.PublishWithContext(ctx,
		ExchangeName,
		string(event.Type),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Type:         string(event.Type),
			Body:         body,
			Timestamp:    ts,
			Headers:      amqp.Table{"user_id": event.UserID, "job_id": event.JobID},
		},
	)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to publish job event: %w", err)
	}

	p.log.Debugf("Published %s for job %s", event.Type, event.JobID)
	return nil
}
