package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"qwenstudio/internal/imagegen"
	"qwenstudio/internal/infra"
)

const (
	defaultBuffer  = 64
	publishTimeout = 5 * time.Second
)

type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher forwards terminal generation events to a RabbitMQ topic exchange.
// It implements imagegen.Sink and never blocks the caller: when the buffer is
// full the event is dropped.
type Publisher struct {
	ch       channel
	closeFn  func() error
	exchange string
	logger   *infra.Logger

	queue chan imagegen.Event
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// Dial connects to url, declares exchange and starts publishing.
func Dial(url, exchange string, logger *infra.Logger) (*Publisher, error) {
	if strings.TrimSpace(exchange) == "" {
		return nil, errors.New("events: exchange is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	p, err := NewPublisher(ch, exchange, logger, defaultBuffer)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.closeFn = conn.Close
	return p, nil
}

// NewPublisher declares exchange on ch and starts the publishing loop.
func NewPublisher(ch channel, exchange string, logger *infra.Logger, buffer int) (*Publisher, error) {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("events: declare exchange: %w", err)
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = infra.NopLogger()
	}
	p := &Publisher{
		ch:       ch,
		exchange: exchange,
		logger:   logger,
		queue:    make(chan imagegen.Event, buffer),
		done:     make(chan struct{}),
	}
	p.wg.Add(1)
	go p.loop()
	return p, nil
}

// RoutingKey is the topic an event is published under.
func RoutingKey(ev imagegen.Event) string {
	return "generation." + string(ev.Category)
}

// Emit queues terminal events; everything else is ignored.
func (p *Publisher) Emit(ev imagegen.Event) {
	if !ev.Category.Terminal() {
		return
	}
	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.queue <- ev:
	default:
		p.logger.Warn().Str("category", string(ev.Category)).Str("task_id", ev.TaskID).Msg("events: buffer full, dropping event")
	}
}

func (p *Publisher) loop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case ev := <-p.queue:
			if err := p.publish(ev); err != nil {
				p.logger.Error().Err(err).Str("category", string(ev.Category)).Msg("events: publish failed")
			}
		}
	}
}

func (p *Publisher) publish(ev imagegen.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: encode event: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(ev), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.Timestamp,
		Type:         string(ev.Category),
		Body:         body,
	})
}

// Close stops the loop and releases the channel and connection.
func (p *Publisher) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		p.wg.Wait()
		err = p.ch.Close()
		if p.closeFn != nil {
			if cerr := p.closeFn(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

var _ imagegen.Sink = (*Publisher)(nil)
