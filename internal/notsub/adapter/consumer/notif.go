package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"restaurant-ops/internal/domain/models"
	"restaurant-ops/internal/notsub/app/core"
	"restaurant-ops/internal/notsub/app/services"
	"restaurant-ops/internal/xpkg/logger"
	"restaurant-ops/internal/xpkg/rabbitmq"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Notification struct {
	params *core.Params
	mylog  logger.Logger
	mb     core.IBroker
	out    io.Writer
	ctx    context.Context

	mu sync.Mutex
	wg sync.WaitGroup
}

func NewNotification(ctx context.Context, mb core.IBroker, params *core.Params, out io.Writer, mylog logger.Logger) *Notification {
	return &Notification{
		ctx:    ctx,
		mb:     mb,
		params: params,
		out:    out,
		mylog:  mylog,
	}
}

// Run consumes notifications until the context is cancelled or the broker drops the channel.
func (n *Notification) Run() error {
	mylog := n.mylog.Action("notifications_run")

	queue := rabbitmq.NotificationsQueue
	if !n.params.Shared {
		name, err := n.mb.DeclareExclusiveQueue(rabbitmq.NotificationsExchange, "")
		if err != nil {
			return fmt.Errorf("declare subscriber queue: %w", err)
		}
		queue = name
	}

	msgs, err := n.mb.Consume(n.ctx, queue, "")
	if err != nil {
		return fmt.Errorf("failed to consume from %s: %w", queue, err)
	}
	mylog.Info("Listening for notifications", "queue", queue, "store_id", n.params.StoreID)

	return n.work(msgs)
}

func (n *Notification) work(msgs <-chan amqp.Delivery) error {
	for {
		select {
		case <-n.ctx.Done():
			n.mylog.Action("work_shutdown").Info("Stopping message consumption due to context cancel")
			n.wg.Wait()
			return nil

		case msg, ok := <-msgs:
			if !ok {
				n.wg.Wait()
				return fmt.Errorf("notification delivery channel closed")
			}
			n.wg.Add(1)
			go func() {
				defer n.wg.Done()
				n.handle(msg)
			}()
		}
	}
}

func (n *Notification) handle(msg amqp.Delivery) {
	var note models.Notification
	if err := json.Unmarshal(msg.Body, &note); err != nil {
		n.mylog.Action("notification_malformed").Error("Failed to decode notification", err)
		if err := msg.Nack(false, false); err != nil {
			n.mylog.Action("nack_failed").Error("Failed to nack", err)
		}
		return
	}

	if services.Wanted(note, n.params.StoreID) {
		n.mylog.Action("notification_received").WithGroup("details").Info("Received notification", "store_id", note.StoreID, "kind", note.Kind)

		n.mu.Lock()
		fmt.Fprintln(n.out, services.Describe(note))
		n.mu.Unlock()
	}

	if err := msg.Ack(false); err != nil {
		n.mylog.Action("ack_failed").Error("Failed to acknowledge notification", err)
	}
}

func (n *Notification) Stop() error {
	n.mylog.Action("graceful_shutdown_started").Info("Shutting down")
	n.wg.Wait()

	if n.mb != nil {
		if err := n.mb.Close(); err != nil {
			n.mylog.Action("mb_close_failed").Error("Failed to close message broker", err)
			return fmt.Errorf("mb close: %w", err)
		}
		n.mylog.Action("mb_closed").Info("Message broker closed")
	}

	n.mylog.Action("graceful_shutdown_completed").Info("Successfully shut down")
	return nil
}
