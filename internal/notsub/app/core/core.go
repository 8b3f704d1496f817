package core

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Params struct {
	// Shared consumes the durable notifications_queue so several subscribers
	// split the load; otherwise each subscriber gets its own exclusive copy.
	Shared  bool
	StoreID string
}

type IBroker interface {
	DeclareExclusiveQueue(exchange string, bindingKeys ...string) (string, error)
	Consume(ctx context.Context, queue, consumer string) (<-chan amqp.Delivery, error)
	IsAlive() error
	Close() error
}
