package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const DefaultExchange = "rehab.events"

// publishChannel is the part of *amqp.Channel the sink uses.
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes events as persistent JSON messages on a topic exchange,
// routed by event type.
type AMQPSink struct {
	conn     *amqp.Connection
	channel  publishChannel
	exchange string
}

// DialAMQP connects to the broker, retrying with exponential backoff, and
// declares the topic exchange.
func DialAMQP(ctx context.Context, url, exchange string, logger zerolog.Logger) (*AMQPSink, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	var conn *amqp.Connection
	dial := func() error {
		c, err := amqp.Dial(url)
		if err != nil {
			logger.Warn().Err(err).Msg("broker not reachable, retrying")
			return err
		}
		conn = c
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.Retry(dial, policy); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPSink{conn: conn, channel: ch, exchange: exchange}, nil
}

func newAMQPSink(ch publishChannel, exchange string) *AMQPSink {
	return &AMQPSink{channel: ch, exchange: exchange}
}

func (s *AMQPSink) Name() string { return "amqp" }

// Deliver implements Sink.
func (s *AMQPSink) Deliver(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.channel.PublishWithContext(ctx, s.exchange, string(event.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Ping reports whether the broker connection is still open.
func (s *AMQPSink) Ping(context.Context) error {
	if s.conn != nil && s.conn.IsClosed() {
		return fmt.Errorf("broker connection closed")
	}
	return nil
}

// Close releases the channel and the connection.
func (s *AMQPSink) Close() {
	if s.channel != nil {
		_ = s.channel.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
