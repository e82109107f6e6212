package rabbitmq

import (
	"context"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const retryDelay = 5 * time.Second

type ConsumerOptions struct {
	Exchange string
	Queue    string
	Prefetch int
}

type Consumer struct {
	rabbitURL string
	opts      ConsumerOptions
	handler   *Handler
	log       zerolog.Logger
}

func NewConsumer(rabbitURL string, opts ConsumerOptions, handler *Handler, log zerolog.Logger) *Consumer {
	if opts.Exchange == "" {
		opts.Exchange = DefaultExchange
	}
	if opts.Queue == "" {
		opts.Queue = "feed-ranker.presort"
	}
	if opts.Prefetch < 1 {
		opts.Prefetch = 1
	}
	return &Consumer{
		rabbitURL: strings.TrimSpace(rabbitURL),
		opts:      opts,
		handler:   handler,
		log:       log.With().Str("component", "rabbitmq_consumer").Logger(),
	}
}

// Run consumes until ctx is done, reconnecting after failures.
func (c *Consumer) Run(ctx context.Context) {
	for {
		err := c.connectAndConsume(ctx)
		if ctx.Err() != nil {
			return
		}
		c.log.Warn().Err(err).Dur("retry_in", retryDelay).Msg("consumer disconnected")
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}

func (c *Consumer) connectAndConsume(ctx context.Context) error {
	conn, err := amqp.Dial(c.rabbitURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(c.opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	q, err := ch.QueueDeclare(
		c.opts.Queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return err
	}

	for _, rk := range []string{RKPresortRequested, RKPostCreated} {
		if err := ch.QueueBind(q.Name, rk, c.opts.Exchange, false, nil); err != nil {
			return err
		}
	}

	if err := ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		return err
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	c.log.Info().Str("queue", q.Name).Msg("consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return amqp.ErrClosed
			}
			if err := c.handler.Handle(ctx, d); err != nil {
				c.log.Error().Err(err).Str("routing_key", d.RoutingKey).Bool("redelivered", d.Redelivered).Msg("handling failed")
				// requeue once; a second failure is dropped
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
	}
}
