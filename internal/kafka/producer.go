package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var ErrProducerClosed = errors.New("kafka: producer closed")

// Producer buffers messages for any topic; the topic travels on the message.
type Producer struct {
	w        *kafka.Writer
	inbox    chan kafka.Message
	stop     chan struct{}
	stopOnce sync.Once
	closeCh  chan struct{}
	log      *zap.Logger
}

func NewProducer(brokers []string, buf int, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "kafka_producer"))
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true, // fire-and-forget untuk throughput; error di-log lewat Completion
			Completion: func(msgs []kafka.Message, err error) {
				if err != nil {
					log.Warn("kafka_write_failed", zap.Int("messages", len(msgs)), zap.Error(err))
				}
			},
		},
		inbox:   make(chan kafka.Message, buf),
		stop:    make(chan struct{}),
		closeCh: make(chan struct{}),
		log:     log,
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.flush()
				return
			case <-p.stop:
				p.flush()
				return
			case m := <-p.inbox:
				p.write(m)
			}
		}
	}()
}

// flush drains whatever is still buffered, then closes the writer.
func (p *Producer) flush() {
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			if err := p.w.Close(); err != nil {
				p.log.Warn("kafka_writer_close_failed", zap.Error(err))
			}
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		p.log.Warn("kafka_write_failed", zap.String("topic", m.Topic), zap.Error(err))
	}
}

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error {
	m := kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	select {
	case <-p.stop:
		return ErrProducerClosed
	default:
	}
	select {
	case p.inbox <- m:
		return nil
	case <-p.stop:
		return ErrProducerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close meminta goroutine nge-flush sisa pesan lalu exit rapi.
func (p *Producer) Close() { p.stopOnce.Do(func() { close(p.stop) }) }

// Tunggu sampai goroutine selesai.
func (p *Producer) WaitClosed() { <-p.closeCh }
