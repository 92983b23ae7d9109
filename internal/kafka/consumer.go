package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler harus return nil hanya jika proses sukses & boleh commit offset.
type Handler func(ctx context.Context, m kafka.Message) error

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r          reader
	workers    int
	retryDelay time.Duration
	log        *zap.Logger
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if log == nil {
		log = zap.NewNop()
	}
	return newConsumer(r, workers, log.With(zap.String("topic", topic)))
}

func newConsumer(r reader, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{r: r, workers: workers, retryDelay: 200 * time.Millisecond, log: log.With(zap.String("component", "kafka_consumer"))}
}

// Start blocks until ctx is done or the reader fails.
//
// Each partition is pinned to one worker, and a failed message is retried in
// place until it succeeds or ctx ends. Offsets of a partition are therefore
// committed strictly in order and never past a message that was not handled.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(id int, jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				if !c.handle(ctx, id, h, m) {
					return
				}
				if err := c.r.CommitMessages(ctx, m); err != nil {
					c.log.Warn("commit_failed", zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
				}
			}
		}(i, lanes[i])
	}
	stop := func() {
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
	}

	// dispatcher loop; FetchMessage tidak auto-commit
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			// kecilkan noise saat shutdown
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case lanes[m.Partition%c.workers] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// handle runs h until it succeeds. It reports false when ctx ended first.
func (c *Consumer) handle(ctx context.Context, worker int, h Handler, m kafka.Message) bool {
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			return true
		}
		c.log.Warn("handler_failed",
			zap.Int("worker", worker),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.retryDelay):
		}
	}
}
