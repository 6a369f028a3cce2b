package mq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitConfig defines configuration for the RabbitMQ producer.
// Topics are used as routing keys on Exchange.
type RabbitConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// RabbitQueue implements MessageQueue on a topic exchange.
type RabbitQueue struct {
	config RabbitConfig
	conn   *amqp.Connection

	mu sync.Mutex
	ch *amqp.Channel
}

// NewRabbitQueue dials the broker and declares the exchange.
func NewRabbitQueue(cfg RabbitConfig) (*RabbitQueue, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "judgebox.events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange failed: %w", err)
	}
	return &RabbitQueue{config: cfg, conn: conn, ch: ch}, nil
}

// Publish publishes a message with topic as routing key.
func (r *RabbitQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ch.PublishWithContext(ctx, r.config.Exchange, topic, false, false, toPublishing(message))
}

// PublishBatch publishes messages one by one on the shared channel.
func (r *RabbitQueue) PublishBatch(ctx context.Context, topic string, messages []*Message) error {
	if len(messages) == 0 {
		return errors.New("messages are required")
	}
	for _, msg := range messages {
		if err := r.Publish(ctx, topic, msg); err != nil {
			return err
		}
	}
	return nil
}

// Ping reports whether the connection is still open.
func (r *RabbitQueue) Ping(ctx context.Context) error {
	if r.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

// Close closes the channel and connection.
func (r *RabbitQueue) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.ch.Close()
	return r.conn.Close()
}

func toPublishing(message *Message) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range message.Headers {
		headers[k] = v
	}
	pub := amqp.Publishing{
		MessageId:    message.ID,
		Timestamp:    message.Timestamp,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         message.Body,
	}
	if message.Expiration > 0 {
		pub.Expiration = strconv.FormatInt(message.Expiration.Milliseconds(), 10)
	}
	return pub
}
