// Package events publishes registration events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/duynhne/registration-service/config"
	"github.com/duynhne/registration-service/internal/core/domain"
)

// ErrPublisherUnavailable is returned while the broker connection is down.
var ErrPublisherUnavailable = errors.New("rabbitmq publisher unavailable")

const dialTimeout = 10 * time.Second

// amqpChannel is the subset of *amqp.Channel the publisher uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// amqpConnection is the subset of *amqp.Connection the publisher uses.
type amqpConnection interface {
	Channel() (amqpChannel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

type dialer func(url string) (amqpConnection, error)

type brokerConnection struct {
	*amqp.Connection
}

func (c brokerConnection) Channel() (amqpChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func dialBroker(url string) (amqpConnection, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, err
	}
	return brokerConnection{conn}, nil
}

// closeSignals fire when the broker closes the connection or the channel.
type closeSignals struct {
	conn    <-chan *amqp.Error
	channel <-chan *amqp.Error
}

// Publisher sends customer.registered events to a topic exchange.
//
// A background watcher listens for connection and channel closes and
// reconnects with exponential backoff. Publishing while disconnected fails
// fast with ErrPublisherUnavailable; Ready reports the current state.
type Publisher struct {
	url        string
	exchange   string
	routingKey string
	logger     *zap.Logger
	dial       dialer
	newBackOff func() backoff.BackOff

	// amqp channels are not safe for concurrent publishing.
	mu      sync.Mutex
	conn    amqpConnection
	channel amqpChannel

	ready  atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPublisher dials RabbitMQ, declares the events exchange and starts the reconnect watcher.
func NewPublisher(cfg config.EventsConfig, logger *zap.Logger) (*Publisher, error) {
	return newPublisher(cfg, logger, dialBroker, func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.MaxInterval = cfg.ReconnectMaxInterval
		return b
	})
}

func newPublisher(cfg config.EventsConfig, logger *zap.Logger, dial dialer, newBackOff func() backoff.BackOff) (*Publisher, error) {
	cleanURL, err := sanitizeURL(cfg.RabbitMQURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		url:        cleanURL,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
		dial:       dial,
		newBackOff: newBackOff,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	signals, err := p.connect()
	if err != nil {
		cancel()
		return nil, err
	}

	go p.watch(signals)
	return p, nil
}

// connect dials, opens a channel and declares the exchange.
func (p *Publisher) connect() (closeSignals, error) {
	conn, err := p.dial(p.url)
	if err != nil {
		return closeSignals{}, fmt.Errorf("dial rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return closeSignals{}, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	if err := channel.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return closeSignals{}, fmt.Errorf("declare exchange %q: %w", p.exchange, err)
	}

	// The library blocks delivering close errors, so both receivers are buffered.
	signals := closeSignals{
		conn:    conn.NotifyClose(make(chan *amqp.Error, 1)),
		channel: channel.NotifyClose(make(chan *amqp.Error, 1)),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ctx.Err(); err != nil {
		channel.Close()
		conn.Close()
		return closeSignals{}, backoff.Permanent(err)
	}
	p.conn = conn
	p.channel = channel
	p.ready.Store(true)
	brokerConnected.Set(1)
	return signals, nil
}

// watch reconnects after every broker-side close until Close is called.
func (p *Publisher) watch(signals closeSignals) {
	defer close(p.done)

	for {
		var reason *amqp.Error
		select {
		case <-p.ctx.Done():
			return
		case reason = <-signals.conn:
		case reason = <-signals.channel:
		}
		if p.ctx.Err() != nil {
			return
		}

		p.release()
		fields := []zap.Field{zap.String("exchange", p.exchange)}
		if reason != nil {
			fields = append(fields, zap.Int("code", reason.Code), zap.String("reason", reason.Reason))
		}
		p.logger.Warn("RabbitMQ connection lost, reconnecting", fields...)

		var err error
		signals, err = backoff.Retry(p.ctx, p.connect,
			backoff.WithBackOff(p.newBackOff()),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, next time.Duration) {
				brokerReconnectsTotal.WithLabelValues("failed").Inc()
				p.logger.Warn("RabbitMQ reconnect failed", zap.Error(err), zap.Duration("retry_in", next))
			}),
		)
		if err != nil {
			return
		}
		brokerReconnectsTotal.WithLabelValues("succeeded").Inc()
		p.logger.Info("RabbitMQ connection restored", zap.String("exchange", p.exchange))
	}
}

// release drops the current channel and connection and marks the publisher not ready.
func (p *Publisher) release() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ready.Store(false)
	brokerConnected.Set(0)
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// Ready reports whether the publisher currently holds an open channel.
func (p *Publisher) Ready() bool {
	return p.ready.Load()
}

// PublishRegistered publishes the event as persistent JSON.
func (p *Publisher) PublishRegistered(ctx context.Context, event domain.RegisteredEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal registered event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil {
		return fmt.Errorf("publish registered event: %w", ErrPublisherUnavailable)
	}

	err = p.channel.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.CustomerID,
		Timestamp:    event.CreatedAt,
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("publish registered event: %w", err)
	}

	p.logger.Debug("Published registration event",
		zap.String("exchange", p.exchange),
		zap.String("routing_key", p.routingKey),
		zap.String("customer_id", event.CustomerID),
	)
	return nil
}

// Close stops the reconnect watcher and releases channel and connection resources.
func (p *Publisher) Close() {
	p.cancel()
	p.release()
	<-p.done
}

// NopPublisher drops events. It is used when RabbitMQ is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishRegistered(context.Context, domain.RegisteredEvent) error { return nil }

func sanitizeURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("parse rabbitmq url: %w", err)
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return "", errors.New("RABBITMQ_URL scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
