package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"restaurant-ops/internal/domain/models"
	"restaurant-ops/internal/effects/app/core"
	"restaurant-ops/internal/xpkg/logger"
	"restaurant-ops/internal/xpkg/rabbitmq"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

type broker interface {
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
	Consume(ctx context.Context, queue, consumer string) (<-chan amqp.Delivery, error)
}

// AMQP publishes jobs to the order_effects queue.
type AMQP struct {
	mb broker
}

func NewAMQP(mb broker) *AMQP {
	return &AMQP{mb: mb}
}

func (q *AMQP) Enqueue(ctx context.Context, job models.EffectJob) error {
	return publishJob(ctx, q.mb, rabbitmq.EffectsQueue, job, "")
}

func publishJob(ctx context.Context, mb broker, queue string, job models.EffectJob, expiration string) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal effect job: %w", err)
	}
	return mb.Publish(ctx, "", queue, amqp.Publishing{
		MessageId:  job.ID,
		Type:       string(job.Kind),
		Expiration: expiration,
		Headers:    amqp.Table{"x-attempt": int32(job.Attempt), "x-order-id": job.OrderID},
		Body:       body,
	})
}

// Consumer executes jobs from order_effects. A failed job goes to the delay
// queue with a per-message TTL and comes back to order_effects when it expires;
// after maxAttempts it is rejected into the dead-letter queue.
type Consumer struct {
	mb          broker
	exec        core.IExecutor
	maxAttempts int
	retryDelay  time.Duration
	concurrency int
	name        string
	mylog       logger.Logger
}

func NewConsumer(mb broker, exec core.IExecutor, maxAttempts int, retryDelay time.Duration, concurrency int, name string, mylog logger.Logger) *Consumer {
	return &Consumer{
		mb:          mb,
		exec:        exec,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		concurrency: concurrency,
		name:        name,
		mylog:       mylog,
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.mb.Consume(ctx, rabbitmq.EffectsQueue, c.name)
	if err != nil {
		return fmt.Errorf("consume %s: %w", rabbitmq.EffectsQueue, err)
	}

	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)
	defer g.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("%s delivery channel closed", rabbitmq.EffectsQueue)
			}
			g.Go(func() error {
				c.handle(ctx, msg)
				return nil
			})
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery) {
	mylog := c.mylog.Action("effect_received")

	var job models.EffectJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		mylog.Error("Malformed effect job, dead-lettering", err, "message_id", msg.MessageId)
		msg.Nack(false, false)
		return
	}

	err := c.exec.Execute(ctx, job)
	if err == nil {
		msg.Ack(false)
		return
	}

	job.Attempt++
	mylog = mylog.With("order_id", job.OrderID, "effect", job.Kind, "attempt", job.Attempt)
	if job.Attempt >= c.maxAttempts {
		mylog.Action("effect_dead_lettered").Error("Effect gave up after max attempts", err)
		msg.Nack(false, false)
		return
	}

	delay := c.retryDelay * time.Duration(job.Attempt)
	if perr := publishJob(ctx, c.mb, rabbitmq.EffectsRetryQueue, job, strconv.FormatInt(delay.Milliseconds(), 10)); perr != nil {
		mylog.Error("Failed to schedule retry, requeueing", perr)
		msg.Nack(false, true)
		return
	}
	mylog.Warn("Effect failed, retry scheduled", "delay", delay.String(), "error", err.Error())
	msg.Ack(false)
}
