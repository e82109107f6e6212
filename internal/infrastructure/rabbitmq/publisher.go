package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
	reqctx "github.com/baechuer/real-time-ressys/services/feed-ranker/internal/pkg/context"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/tracing"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// wait window for Return / Confirm
const publishWait = 150 * time.Millisecond

type Publisher struct {
	url      string
	exchange string

	mu sync.Mutex

	conn *amqp.Connection
	ch   *amqp.Channel

	confirmCh <-chan amqp.Confirmation
	returnCh  <-chan amqp.Return
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	p := &Publisher{
		url:      strings.TrimSpace(url),
		exchange: exchange,
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}

	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	// enable publisher confirms
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	p.conn = conn
	p.ch = ch
	p.confirmCh = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	p.returnCh = ch.NotifyReturn(make(chan amqp.Return, 1))
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	return nil
}

// Healthy reports whether the connection is open.
func (p *Publisher) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil && !p.conn.IsClosed()
}

// EnqueuePresort publishes a presort task on the feed exchange.
func (p *Publisher) EnqueuePresort(ctx context.Context, task domain.PresortTask) error {
	if task.UserID == "" {
		return errors.New("missing user id")
	}
	traceID := tracing.TraceID(ctx)
	if traceID == "" {
		traceID = reqctx.GetRequestID(ctx)
	}
	env := Envelope[domain.PresortTask]{
		Version:    EnvelopeVersion,
		Producer:   Producer,
		TraceID:    traceID,
		MessageID:  uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Payload:    task,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode presort task: %w", err)
	}
	return p.Publish(ctx, RKPresortRequested, env.MessageID, body)
}

// Publish sends body to the exchange with mandatory + confirms. messageID
// must be stable across retries.
func (p *Publisher) Publish(ctx context.Context, routingKey, messageID string, body []byte) error {
	if routingKey == "" {
		return errors.New("missing routingKey")
	}
	if strings.TrimSpace(messageID) == "" {
		return errors.New("missing messageID")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		if err := p.connect(); err != nil {
			return fmt.Errorf("reconnect publisher: %w", err)
		}
	}

	err := p.ch.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		true,  // mandatory
		false, // immediate
		amqp.Publishing{
			MessageId:    messageID,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		return err
	}

	// wait for either Return (NO_ROUTE) or Confirm
	select {
	case ret := <-p.returnCh:
		return errors.New("NO_ROUTE: " + ret.RoutingKey)
	case conf := <-p.confirmCh:
		if !conf.Ack {
			return errors.New("publish nack")
		}
		return nil
	case <-time.After(publishWait):
		// best effort; the enqueue guard expires and a later read re-triggers
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
