package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"restaurant-ops/internal/xpkg/config"
	xerrors "restaurant-ops/internal/xpkg/errors"
	"restaurant-ops/internal/xpkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	EventsExchange        = "order_events"
	NotificationsExchange = "notifications_fanout"
	DeadLetterExchange    = "dlx"

	EffectsQueue       = "order_effects"
	EffectsRetryQueue  = "order_effects_retry"
	EffectsDeadQueue   = "order_effects_dlq"
	NotificationsQueue = "notifications_queue"

	reconnectInterval = 5 * time.Second
	publishTimeout    = 5 * time.Second
)

type Broker struct {
	ctx   context.Context
	cfg   *config.RabbitMQ
	mylog logger.Logger

	mu           sync.Mutex
	conn         *amqp.Connection
	ch           *amqp.Channel
	reconnecting bool

	prefetch int
}

// New dials RabbitMQ and opens a confirm-mode channel.
func New(ctx context.Context, cfg *config.RabbitMQ, mylog logger.Logger, prefetch int) (*Broker, error) {
	b := &Broker{
		ctx:      ctx,
		cfg:      cfg,
		mylog:    mylog,
		prefetch: prefetch,
	}
	if err := b.connect(); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrMBConn, err)
	}
	return b, nil
}

func (b *Broker) connect() error {
	conn, err := amqp.Dial(b.cfg.URL())
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}

	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return err
	}

	if b.prefetch > 0 {
		if err := ch.Qos(b.prefetch, 0, false); err != nil {
			conn.Close()
			return err
		}
	}

	b.mu.Lock()
	b.conn = conn
	b.ch = ch
	b.mu.Unlock()
	return nil
}

// DeclareTopology declares every exchange and queue the services rely on.
func (b *Broker) DeclareTopology() error {
	ch, err := b.channel()
	if err != nil {
		return err
	}

	exchanges := []struct{ name, kind string }{
		{EventsExchange, amqp.ExchangeTopic},
		{NotificationsExchange, amqp.ExchangeFanout},
		{DeadLetterExchange, amqp.ExchangeDirect},
	}
	for _, e := range exchanges {
		if err := ch.ExchangeDeclare(e.name, e.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", e.name, err)
		}
	}

	queues := []struct {
		name string
		args amqp.Table
	}{
		{EffectsQueue, amqp.Table{
			"x-dead-letter-exchange":    DeadLetterExchange,
			"x-dead-letter-routing-key": EffectsDeadQueue,
		}},
		// messages wait here for their per-message expiration, then go back to the main queue
		{EffectsRetryQueue, amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": EffectsQueue,
		}},
		{EffectsDeadQueue, nil},
		{NotificationsQueue, nil},
	}
	for _, q := range queues {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	if err := ch.QueueBind(EffectsDeadQueue, EffectsDeadQueue, DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", EffectsDeadQueue, err)
	}
	if err := ch.QueueBind(NotificationsQueue, "", NotificationsExchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", NotificationsQueue, err)
	}

	b.mylog.Action("mb_topology_declared").Debug("Exchanges and queues declared")
	return nil
}

// DeclareExclusiveQueue creates a server-named queue that disappears with the connection.
func (b *Broker) DeclareExclusiveQueue(exchange string, bindingKeys ...string) (string, error) {
	ch, err := b.channel()
	if err != nil {
		return "", err
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return "", fmt.Errorf("declare exclusive queue: %w", err)
	}
	for _, key := range bindingKeys {
		if err := ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
			return "", fmt.Errorf("bind %s to %s: %w", q.Name, key, err)
		}
	}
	return q.Name, nil
}

// Publish sends a persistent JSON message and waits for the broker confirm.
func (b *Broker) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	ch, err := b.channel()
	if err != nil {
		go b.reconnect(b.ctx)
		return err
	}

	if msg.ContentType == "" {
		msg.ContentType = "application/json"
	}
	msg.DeliveryMode = amqp.Persistent
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, msg)
	if err != nil {
		return fmt.Errorf("publish to %q/%q: %w", exchange, routingKey, err)
	}
	if confirm == nil {
		return nil
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait publish confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("publish to %q/%q: nacked by broker", exchange, routingKey)
	}
	return nil
}

func (b *Broker) Consume(ctx context.Context, queue, consumer string) (<-chan amqp.Delivery, error) {
	ch, err := b.channel()
	if err != nil {
		return nil, err
	}
	return ch.ConsumeWithContext(ctx, queue, consumer, false, false, false, false, nil)
}

func (b *Broker) IsAlive() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil || b.conn.IsClosed() {
		return xerrors.ErrMBConn
	}
	if b.ch == nil || b.ch.IsClosed() {
		return xerrors.ErrMBCh
	}
	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ch != nil && !b.ch.IsClosed() {
		if err := b.ch.Close(); err != nil {
			return fmt.Errorf("close rabbitmq channel: %w", err)
		}
	}
	if b.conn != nil && !b.conn.IsClosed() {
		if err := b.conn.Close(); err != nil {
			return fmt.Errorf("close rabbitmq connection: %w", err)
		}
	}
	return nil
}

func (b *Broker) channel() (*amqp.Channel, error) {
	if err := b.IsAlive(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch, nil
}

func (b *Broker) reconnect(ctx context.Context) {
	b.mu.Lock()
	if b.reconnecting {
		b.mu.Unlock()
		return
	}
	b.reconnecting = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.reconnecting = false
		b.mu.Unlock()
	}()

	t := time.NewTicker(reconnectInterval)
	defer t.Stop()
	log := b.mylog.Action("rabbitmq_reconnecting")

	for {
		select {
		case <-t.C:
			if err := b.connect(); err != nil {
				log.Warn("rabbitmq failed to reconnect", "error", err.Error())
				continue
			}
			if err := b.DeclareTopology(); err != nil {
				log.Error("failed to redeclare topology", err)
			}
			log.Info("rabbitmq reconnected")
			return
		case <-ctx.Done():
			return
		}
	}
}
