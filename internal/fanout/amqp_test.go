package fanout

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"restaurant-ops/internal/domain/models"
	"restaurant-ops/internal/xpkg/logger"
	"restaurant-ops/internal/xpkg/rabbitmq"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockBroker struct {
	mock.Mock
}

func (m *mockBroker) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	return m.Called(exchange, routingKey, msg).Error(0)
}

func (m *mockBroker) DeclareExclusiveQueue(exchange string, bindingKeys ...string) (string, error) {
	args := m.Called(exchange, bindingKeys)
	return args.String(0), args.Error(1)
}

func (m *mockBroker) Consume(ctx context.Context, queue, consumer string) (<-chan amqp.Delivery, error) {
	args := m.Called(queue, consumer)
	return args.Get(0).(<-chan amqp.Delivery), args.Error(1)
}

func TestAMQPPublisher_Publish(t *testing.T) {
	mb := new(mockBroker)
	ev := event("s1", "o1", 3)
	ev.Kind = models.EventStatusChanged

	mb.On("Publish", rabbitmq.EventsExchange, "store.s1.order", mock.MatchedBy(func(msg amqp.Publishing) bool {
		var got models.Event
		return json.Unmarshal(msg.Body, &got) == nil &&
			got.Version == 3 &&
			msg.MessageId == "o1" &&
			msg.Headers[originHeader] == "node-1"
	})).Return(nil).Once()

	require.NoError(t, NewAMQPPublisher(mb, "node-1").Publish(context.Background(), ev))
	mb.AssertExpectations(t)
}

type ackRecorder struct {
	mu    sync.Mutex
	acks  int
	nacks int
}

func (a *ackRecorder) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *ackRecorder) Nack(uint64, bool, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	return nil
}

func (a *ackRecorder) Reject(uint64, bool) error { return nil }

func (a *ackRecorder) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks, a.nacks
}

func TestRelay_SkipsOwnEventsAndForwardsOthers(t *testing.T) {
	mb := new(mockBroker)
	hub := NewHub(8, logger.Nop())
	sub := hub.Subscribe("s1")
	defer sub.Close()

	deliveries := make(chan amqp.Delivery, 3)
	rec := &ackRecorder{}
	body := func(order string) []byte {
		b, _ := json.Marshal(event("s1", order, 1))
		return b
	}
	deliveries <- amqp.Delivery{Acknowledger: rec, Headers: amqp.Table{originHeader: "me"}, Body: body("own")}
	deliveries <- amqp.Delivery{Acknowledger: rec, Headers: amqp.Table{originHeader: "other"}, Body: body("remote")}
	deliveries <- amqp.Delivery{Acknowledger: rec, Body: []byte("{not json")}

	mb.On("DeclareExclusiveQueue", rabbitmq.EventsExchange, []string{"store.#"}).Return("amq.gen-1", nil)
	mb.On("Consume", "amq.gen-1", "relay-me").Return((<-chan amqp.Delivery)(deliveries), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewRelay(mb, hub, "me", logger.Nop()).Run(ctx) }()

	select {
	case ev := <-sub.Events():
		assert.Equal(t, "remote", ev.OrderID)
	case <-time.After(time.Second):
		t.Fatal("relay did not forward the remote event")
	}

	assert.Eventually(t, func() bool {
		acks, nacks := rec.counts()
		return acks == 2 && nacks == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
	assert.Len(t, sub.Events(), 0)
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestKafkaExporter_KeysByOrderAndFlushesOnStop(t *testing.T) {
	w := &fakeWriter{}
	exp := NewKafkaExporter(w, 8, logger.Nop())

	for v := 1; v <= 3; v++ {
		require.NoError(t, exp.Publish(context.Background(), event("s1", "o1", v)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, exp.Run(ctx))

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.True(t, w.closed)
	require.Len(t, w.msgs, 3)
	for i, msg := range w.msgs {
		assert.Equal(t, "o1", string(msg.Key))
		var ev models.Event
		require.NoError(t, json.Unmarshal(msg.Value, &ev))
		assert.Equal(t, i+1, ev.Version)
	}
}

func TestKafkaExporter_FullQueue(t *testing.T) {
	exp := NewKafkaExporter(&fakeWriter{}, 1, logger.Nop())
	require.NoError(t, exp.Publish(context.Background(), event("s1", "o1", 1)))
	assert.Error(t, exp.Publish(context.Background(), event("s1", "o1", 2)))
}
