package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/zhejian/pastebin/internal/infra"
)

// bindingKey matches every paste lifecycle routing key
const bindingKey = "paste.#"

var ErrConsumerClosed = errors.New("event delivery channel closed")

// Publisher tuning
const (
	defaultPublishBuffer = 1024
	publishTimeout       = 5 * time.Second
)

var (
	ErrPublishBufferFull = errors.New("event publish buffer full")
	ErrPublisherClosed   = errors.New("event publisher closed")
)

// AMQPPublisher publishes events to a durable topic exchange. The routing
// key is the event type. Publish only enqueues; a single goroutine owns the
// connection and channel and reopens them after the broker drops them.
type AMQPPublisher struct {
	url      string
	exchange string
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}

	// owned by run
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher dials the broker, declares the exchange and starts the
// delivery goroutine
func NewAMQPPublisher(url, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	p := &AMQPPublisher{
		url:      url,
		exchange: exchange,
		logger:   logger,
		queue:    make(chan Event, defaultPublishBuffer),
		done:     make(chan struct{}),
	}
	if _, err := p.channel(); err != nil {
		p.release()
		return nil, err
	}
	go p.run()
	return p, nil
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	return nil
}

// Publish queues the event without waiting on the broker. A full buffer
// drops the event and reports ErrPublishBufferFull.
func (p *AMQPPublisher) Publish(_ context.Context, event Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.queue <- event:
		return nil
	default:
		return ErrPublishBufferFull
	}
}

// Close stops accepting events, flushes the buffer and releases the
// connection
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return nil
}

func (p *AMQPPublisher) run() {
	defer close(p.done)
	defer p.release()

	for event := range p.queue {
		if err := p.send(event); err != nil {
			p.logger.Warn("dropping paste event",
				slog.String("event_id", event.ID.String()),
				slog.String("type", event.Type),
				slog.String("error", err.Error()))
		}
	}
}

// send publishes one event, reopening the channel once if the broker
// closed it since the last delivery
func (p *AMQPPublisher) send(event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID.String(),
		Timestamp:    time.UnixMilli(event.OccurredAt),
		Type:         event.Type,
		Body:         body,
	}

	for attempt := 0; ; attempt++ {
		ch, err := p.channel()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err = ch.PublishWithContext(ctx, p.exchange, event.Type, false, false, msg)
		cancel()

		if errors.Is(err, amqp.ErrClosed) && attempt == 0 {
			p.ch = nil
			continue
		}
		return err
	}
}

// channel returns an open channel, redialing the connection if needed
func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := infra.NewAMQPConnection(p.url)
		if err != nil {
			return nil, fmt.Errorf("dial rabbitmq: %w", err)
		}
		p.conn = conn
		p.logger.Info("event publisher connected", slog.String("exchange", p.exchange))
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareExchange(ch, p.exchange); err != nil {
		_ = ch.Close()
		return nil, err
	}
	p.ch = ch
	return ch, nil
}

func (p *AMQPPublisher) release() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Handler processes a single decoded event
type Handler func(ctx context.Context, event Event) error

// Consumer reads paste events from a durable queue bound to the exchange
type Consumer struct {
	conn     *amqp.Connection
	exchange string
	queue    string
	prefetch int
	logger   *slog.Logger
}

// NewConsumer creates a consumer; nothing is declared until Run
func NewConsumer(conn *amqp.Connection, exchange, queue string, logger *slog.Logger) *Consumer {
	return &Consumer{
		conn:     conn,
		exchange: exchange,
		queue:    queue,
		prefetch: 16,
		logger:   logger,
	}
}

// Run consumes until ctx is cancelled or the broker closes the channel.
// Successfully handled deliveries are acked. Undecodable messages and
// handler failures are rejected without requeue so a poison message
// cannot loop forever.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := declareExchange(ch, c.exchange); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %q: %w", c.queue, err)
	}
	if err := ch.QueueBind(c.queue, bindingKey, c.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %q: %w", c.queue, err)
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return err
	}

	deliveries, err := ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %q: %w", c.queue, err)
	}

	c.logger.Info("consuming paste events",
		slog.String("exchange", c.exchange),
		slog.String("queue", c.queue))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				return ErrConsumerClosed
			}
			c.process(ctx, d, handle)
		}
	}
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery, handle Handler) {
	var event Event
	if err := json.Unmarshal(d.Body, &event); err != nil {
		c.logger.Warn("discarding undecodable event",
			slog.String("message_id", d.MessageId),
			slog.String("error", err.Error()))
		_ = d.Nack(false, false)
		return
	}

	if err := handle(ctx, event); err != nil {
		c.logger.Error("event handler failed",
			slog.String("event_id", event.ID.String()),
			slog.String("type", event.Type),
			slog.String("error", err.Error()))
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

var _ Publisher = (*AMQPPublisher)(nil)
