// Package notify broadcasts pipeline completion events over RabbitMQ so
// downstream consumers (dashboards, chat relays) learn about new reports.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/qaops/reportpipe/pkg/models"
)

// Notifier publishes completion events to a fanout exchange.
type Notifier struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *slog.Logger
}

// NewNotifier connects to RabbitMQ and declares the completion exchange.
func NewNotifier(amqpURL, exchange string, logger *slog.Logger) (*Notifier, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"fanout", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange '%s': %w", exchange, err)
	}

	logger.Info("RabbitMQ notifier ready", slog.String("exchange", exchange))
	return &Notifier{conn: conn, channel: channel, exchange: exchange, logger: logger}, nil
}

// PublishCompletion sends the event as a persistent JSON message.
func (n *Notifier) PublishCompletion(ctx context.Context, event models.CompletionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal completion event: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = n.channel.PublishWithContext(publishCtx,
		n.exchange, // exchange
		"",         // routing key (fanout ignores it)
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish completion event: %w", err)
	}

	n.logger.Info("Published completion event",
		slog.String("run_id", event.RunID),
		slog.Int("version", event.Version),
		slog.String("status", event.Status))
	return nil
}

// Close releases the channel and connection.
func (n *Notifier) Close() {
	if n.channel != nil {
		n.channel.Close()
	}
	if n.conn != nil {
		if err := n.conn.Close(); err != nil {
			n.logger.Error("Failed to close RabbitMQ connection", slog.Any("error", err))
		}
	}
	n.logger.Info("RabbitMQ notifier closed")
}
