package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"restaurant-ops/internal/domain/models"
	"restaurant-ops/internal/xpkg/config"
	"restaurant-ops/internal/xpkg/logger"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaExporter copies every event to a Kafka topic for reporting consumers.
// Messages are keyed by order so one order's events land on one partition.
// Publish only enqueues; Run does the writing on a single goroutine.
type KafkaExporter struct {
	w     messageWriter
	queue chan kafka.Message
	mylog logger.Logger
}

func NewKafkaWriter(cfg *config.Kafka) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func NewKafkaExporter(w messageWriter, buffer int, mylog logger.Logger) *KafkaExporter {
	if buffer <= 0 {
		buffer = 1024
	}
	return &KafkaExporter{w: w, queue: make(chan kafka.Message, buffer), mylog: mylog}
}

func (k *KafkaExporter) Publish(ctx context.Context, ev models.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := ev.OrderID
	if key == "" {
		key = ev.EntityID
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: body,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
			{Key: "store_id", Value: []byte(ev.StoreID)},
		},
	}

	select {
	case k.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("kafka export queue full, dropping event %s", ev.ID)
	}
}

// Run writes queued messages until ctx is done, then flushes what is left.
func (k *KafkaExporter) Run(ctx context.Context) error {
	mylog := k.mylog.Action("event_exported")
	for {
		select {
		case msg := <-k.queue:
			k.write(ctx, msg, mylog)
		case <-ctx.Done():
			k.drain(mylog)
			return k.w.Close()
		}
	}
}

func (k *KafkaExporter) drain(mylog logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case msg := <-k.queue:
			k.write(ctx, msg, mylog)
		default:
			return
		}
	}
}

func (k *KafkaExporter) write(ctx context.Context, msg kafka.Message, mylog logger.Logger) {
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		mylog.Error("Failed to export event", err, "key", string(msg.Key))
		return
	}
	mylog.Debug("Event exported", "key", string(msg.Key))
}
