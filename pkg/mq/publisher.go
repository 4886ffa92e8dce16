// Package mq publishes domain events to a RabbitMQ topic exchange.
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var errPublisherClosed = errors.New("publisher closed")

// channel is the part of *amqp.Channel the publisher uses
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// Publisher reopens its channel, and redials the broker when the connection
// dropped, before publishing on a closed channel.
type Publisher struct {
	mu       sync.Mutex
	url      string
	exchange string
	conn     *amqp.Connection
	ch       channel
	closed   bool
	open     func() (channel, error)
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	p := &Publisher{url: url, exchange: exchange}
	p.open = p.dial

	ch, err := p.dial()
	if err != nil {
		if p.conn != nil {
			_ = p.conn.Close()
		}
		return nil, err
	}
	p.ch = ch
	return p, nil
}

// dial opens a channel with the exchange declared, redialling first if the
// connection is gone. Called with p.mu held.
func (p *Publisher) dial() (channel, error) {
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, fmt.Errorf("dial rabbitmq: %w", err)
		}
		p.conn = conn
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return ch, nil
}

// PublishJSON sends v as a persistent message. messageID lets consumers
// drop redeliveries. A failed publish is retried once on a fresh channel.
func (p *Publisher) PublishJSON(ctx context.Context, key, messageID string, v any) error {
	msg, err := newPublishing(messageID, v, time.Now())
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureChannel(); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg)
	if err == nil {
		return nil
	}

	p.dropChannel()
	if reopenErr := p.ensureChannel(); reopenErr != nil {
		return fmt.Errorf("publish %s: %w", key, errors.Join(err, reopenErr))
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

func (p *Publisher) ensureChannel() error {
	if p.closed {
		return errPublisherClosed
	}
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	if p.open == nil {
		return errors.New("channel closed")
	}

	ch, err := p.open()
	if err != nil {
		return err
	}
	p.ch = ch
	return nil
}

func (p *Publisher) dropChannel() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
}

func newPublishing(messageID string, v any, now time.Time) (amqp.Publishing, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode message: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    now.UTC(),
		Body:         b,
	}, nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.dropChannel()
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
