package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"restaurant-ops/internal/domain/models"
	"restaurant-ops/internal/xpkg/logger"
	"restaurant-ops/internal/xpkg/rabbitmq"

	amqp "github.com/rabbitmq/amqp091-go"
)

const originHeader = "x-origin"

type broker interface {
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
	DeclareExclusiveQueue(exchange string, bindingKeys ...string) (string, error)
	Consume(ctx context.Context, queue, consumer string) (<-chan amqp.Delivery, error)
}

// RoutingKey is store.<storeID>.<entity>, so consumers can bind per store.
func RoutingKey(ev models.Event) string {
	return fmt.Sprintf("store.%s.%s", ev.StoreID, ev.EntityType)
}

// AMQPPublisher puts events on the order_events topic exchange.
type AMQPPublisher struct {
	mb     broker
	origin string
}

func NewAMQPPublisher(mb broker, origin string) *AMQPPublisher {
	return &AMQPPublisher{mb: mb, origin: origin}
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev models.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.mb.Publish(ctx, rabbitmq.EventsExchange, RoutingKey(ev), amqp.Publishing{
		MessageId: ev.ID,
		Type:      string(ev.Kind),
		Headers:   amqp.Table{originHeader: p.origin},
		Body:      body,
	})
}

// Relay feeds events published by other instances into the local hub.
type Relay struct {
	mb     broker
	hub    Publisher
	origin string
	mylog  logger.Logger
}

func NewRelay(mb broker, hub Publisher, origin string, mylog logger.Logger) *Relay {
	return &Relay{mb: mb, hub: hub, origin: origin, mylog: mylog}
}

// Run blocks until ctx is done or the delivery channel closes.
func (r *Relay) Run(ctx context.Context) error {
	queue, err := r.mb.DeclareExclusiveQueue(rabbitmq.EventsExchange, "store.#")
	if err != nil {
		return fmt.Errorf("declare relay queue: %w", err)
	}
	msgs, err := r.mb.Consume(ctx, queue, "relay-"+r.origin)
	if err != nil {
		return fmt.Errorf("consume relay queue: %w", err)
	}

	mylog := r.mylog.Action("event_relayed")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("relay delivery channel closed")
			}
			r.handle(ctx, msg, mylog)
		}
	}
}

func (r *Relay) handle(ctx context.Context, msg amqp.Delivery, mylog logger.Logger) {
	if origin, _ := msg.Headers[originHeader].(string); origin == r.origin {
		msg.Ack(false)
		return
	}

	var ev models.Event
	if err := json.Unmarshal(msg.Body, &ev); err != nil {
		mylog.Error("Dropping malformed event", err, "message_id", msg.MessageId)
		msg.Nack(false, false)
		return
	}
	if err := r.hub.Publish(ctx, ev); err != nil {
		mylog.Error("Failed to relay event", err, "event_id", ev.ID)
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
	mylog.Debug("Relayed event", "event_id", ev.ID, "store_id", ev.StoreID)
}
