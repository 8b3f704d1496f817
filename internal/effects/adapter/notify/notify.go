package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"restaurant-ops/internal/domain/models"
	"restaurant-ops/internal/xpkg/logger"
	"restaurant-ops/internal/xpkg/rabbitmq"

	amqp "github.com/rabbitmq/amqp091-go"
)

type publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
}

// AMQP broadcasts notifications on the notifications_fanout exchange.
type AMQP struct {
	mb publisher
}

func NewAMQP(mb publisher) *AMQP {
	return &AMQP{mb: mb}
}

func (n *AMQP) Notify(ctx context.Context, storeID, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	body, err := json.Marshal(models.Notification{
		StoreID:   storeID,
		Kind:      kind,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return n.mb.Publish(ctx, rabbitmq.NotificationsExchange, "", amqp.Publishing{Type: kind, Body: body})
}

// Log writes notifications to the service log; used when no broker is configured.
type Log struct {
	mylog logger.Logger
}

func NewLog(mylog logger.Logger) *Log {
	return &Log{mylog: mylog}
}

func (n *Log) Notify(_ context.Context, storeID, kind string, payload any) error {
	n.mylog.Action("notification_sent").Info("Notification", "store_id", storeID, "kind", kind, "payload", payload)
	return nil
}
