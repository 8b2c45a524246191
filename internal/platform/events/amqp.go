package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
	"zhicuoti/internal/domain/model"
	"zhicuoti/internal/platform/config"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Publisher emits domain events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data map[string]any) error
	Close() error
}

// New dials the broker and declares the topic exchange. An empty URL yields a Nop publisher.
func New(cfg config.AMQPConfig, log zerolog.Logger) (Publisher, error) {
	if cfg.URL == "" {
		log.Info().Msg("amqp url not set, events are not published")
		return Nop{}, nil
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}

	log.Info().Str("exchange", cfg.Exchange).Msg("connected to RabbitMQ")
	return &amqpPublisher{conn: conn, channel: ch, exchange: cfg.Exchange, log: log}, nil
}

type amqpPublisher struct {
	mu       sync.Mutex // amqp channels are not safe for concurrent publishing
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	log      zerolog.Logger
}

func (p *amqpPublisher) Publish(ctx context.Context, eventType string, data map[string]any) error {
	event := model.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", eventType, err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(
		publishCtx,
		p.exchange, // exchange
		eventType,  // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    event.ID,
			Type:         eventType,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.OccurredAt,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", eventType, err)
	}
	p.log.Debug().Str("event", eventType).Str("event_id", event.ID).Msg("event published")
	return nil
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, map[string]any) error { return nil }

func (Nop) Close() error { return nil }
