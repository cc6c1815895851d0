/**
 * @description
 * This package provides a producer for publishing payment events to RabbitMQ.
 * It encapsulates the logic for connecting to RabbitMQ and publishing a message
 * to a topic exchange, plus a no-op fallback used when the broker is not
 * configured so payment verification never depends on broker availability.
 *
 * @dependencies
 * - context, encoding/json, time: Standard Go libraries.
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// PaymentAcceptedRoutingKey is the routing key for accepted payment events.
const PaymentAcceptedRoutingKey = "payment.accepted"

// PaymentAcceptedEvent is the payload published when the verifier accepts an
// on-chain payment and records it.
type PaymentAcceptedEvent struct {
	EventID          uuid.UUID `json:"event_id"`
	Signature        string    `json:"signature"`
	Payer            string    `json:"payer"`
	Plan             string    `json:"plan"`
	PaidLamports     uint64    `json:"paid_lamports"`
	RequiredLamports uint64    `json:"required_lamports"`
	Timestamp        time.Time `json:"timestamp"`
}

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	PublishPaymentAccepted(ctx context.Context, exchange string, event PaymentAcceptedEvent) error
	Close()
}

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	logger  *zap.Logger
}

// FallbackPublisher is a minimal no-op publisher used when RabbitMQ is
// unavailable or unconfigured at startup.
type FallbackPublisher struct {
	logger *zap.Logger
}

func NewFallbackPublisher(logger *zap.Logger) *FallbackPublisher {
	return &FallbackPublisher{logger: logger}
}

func (p *FallbackPublisher) PublishPaymentAccepted(ctx context.Context, exchange string, event PaymentAcceptedEvent) error {
	p.logger.Warn("payment event publish skipped; broker not configured",
		zap.String("exchange", exchange),
		zap.String("signature", event.Signature),
	)
	return nil
}

func (p *FallbackPublisher) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// If any stray characters precede the scheme, slice from first occurrence of amqp
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer creates and returns a new EventProducer.
func NewEventProducer(amqpURL string, logger *zap.Logger) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Use a bounded dial timeout so startup does not hang indefinitely
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch, logger: logger}, nil
}

// PublishPaymentAccepted sends an accepted-payment event to the topic exchange.
func (p *EventProducer) PublishPaymentAccepted(ctx context.Context, exchange string, event PaymentAcceptedEvent) error {
	// Ensure the exchange exists (durable topic)
	if err := p.channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		p.logger.Warn("exchange declare failed; reopening channel",
			zap.String("exchange", exchange), zap.Error(err))
		// Attempt simple channel reopen once
		ch, chErr := p.conn.Channel()
		if chErr != nil {
			return err
		}
		p.channel = ch
		if err2 := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err2 != nil {
			return err2
		}
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.channel.PublishWithContext(pubCtx,
		exchange,
		PaymentAcceptedRoutingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    event.EventID.String(),
			Timestamp:    event.Timestamp,
			Body:         body,
		},
	)
}

// Close shuts down the channel and connection.
func (p *EventProducer) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
