package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	topic   string
	key     []byte
	value   []byte
	headers []kafka.Header
}

type fakeSender struct{ got []captured }

func (f *fakeSender) Publish(_ context.Context, topic string, key, value []byte, headers ...kafka.Header) error {
	f.got = append(f.got, captured{topic: topic, key: key, value: value, headers: headers})
	return nil
}

func TestEventPublisher_RoundTrip(t *testing.T) {
	t.Parallel()

	fs := &fakeSender{}
	pub := &EventPublisher{p: fs}
	env, err := orders.NewEnvelope(orders.EventOrderStatusChanged, "order-api", "ORD-20250309-0A1B2C3D", orders.OrderStatusChangedPayload{
		OrderNumber: "ORD-20250309-0A1B2C3D", From: orders.StatusPendingPayment, To: orders.StatusPaid,
	})
	require.NoError(t, err)

	require.NoError(t, pub.Publish(context.Background(), orders.TopicOrderStatusChanged, orders.PartitionKey("ORD-20250309-0A1B2C3D"), env))
	require.Len(t, fs.got, 1)
	msg := fs.got[0]
	assert.Equal(t, orders.TopicOrderStatusChanged, msg.topic)
	assert.Equal(t, "ORD-20250309-0A1B2C3D", string(msg.key))
	assert.Equal(t, HeaderEventType, msg.headers[0].Key)
	assert.Equal(t, orders.EventOrderStatusChanged, string(msg.headers[0].Value))

	back, err := DecodeEnvelope(kafka.Message{Topic: msg.topic, Value: msg.value})
	require.NoError(t, err)
	assert.Equal(t, env.EventID, back.EventID)
	payload, err := orders.DecodePayload[orders.OrderStatusChangedPayload](back)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, payload.To)

	_, err = DecodeEnvelope(kafka.Message{Value: []byte("{")})
	assert.Error(t, err)
}

func TestProducer_PublishAfterClose(t *testing.T) {
	t.Parallel()

	p := NewProducer([]string{"127.0.0.1:1"}, 1, nil)
	p.Close()
	err := p.Publish(context.Background(), "t", nil, []byte("x"))
	assert.ErrorIs(t, err, ErrProducerClosed)
}

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
	allDone   chan struct{}
	want      int
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		m := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	if len(r.committed) == r.want {
		close(r.allDone)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumer_FailedMessageBlocksLaterCommits(t *testing.T) {
	t.Parallel()

	r := &fakeReader{allDone: make(chan struct{}), want: 3}
	for off := int64(0); off < 3; off++ {
		r.pending = append(r.pending, kafka.Message{Partition: 0, Offset: off})
	}
	c := newConsumer(r, 4, nil)
	c.retryDelay = time.Millisecond

	var mu sync.Mutex
	calls := map[int64]int{}
	handler := func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls[m.Offset]++
		if m.Offset == 1 && calls[m.Offset] < 3 {
			return errors.New("enqueue failed")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, handler) }()

	select {
	case <-r.allDone:
	case <-time.After(5 * time.Second):
		t.Fatal("messages were not all committed")
	}
	cancel()
	require.NoError(t, <-done)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, []int64{0, 1, 2}, r.committed)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls[1])
	assert.Equal(t, 1, calls[2])
}
