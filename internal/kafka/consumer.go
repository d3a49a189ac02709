package kafka

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Handler returns nil only when the message was processed and its offset may
// be committed.
type Handler func(ctx context.Context, m kafka.Message) error

// ErrUnprocessable marks a message no retry can fix, such as one that does
// not decode. The consumer logs it and commits past it.
var ErrUnprocessable = errors.New("unprocessable message")

type Consumer struct {
	r       *kafka.Reader
	commit  func(ctx context.Context, msgs ...kafka.Message) error
	workers int
}

const (
	laneBuffer = 64
	retryFloor = 200 * time.Millisecond
	retryCeil  = 5 * time.Second
)

func NewConsumer(brokers []string, group, topic string, workers int) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // commit per message
	})
	return &Consumer{r: r, commit: r.CommitMessages, workers: workers}
}

// Start reads until ctx is done or the reader fails. All messages of one
// partition go to the same lane, so offsets are committed in order and a
// failing message holds back its partition until it succeeds.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	stop := make(chan struct{})
	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, laneBuffer)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				c.handle(ctx, stop, h, m)
			}
		}(lanes[i])
	}
	shutdown := func() {
		close(stop)
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			shutdown()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case lanes[m.Partition%len(lanes)] <- m:
		case <-ctx.Done():
			shutdown()
			return nil
		}
	}
}

// handle runs h until it succeeds, then commits. It gives up without
// committing once ctx is done or stop is closed; the message is redelivered
// to whoever owns the partition next.
func (c *Consumer) handle(ctx context.Context, stop <-chan struct{}, h Handler, m kafka.Message) {
	wait := retryFloor
	for {
		err := h(ctx, m)
		if err == nil {
			break
		}
		if errors.Is(err, ErrUnprocessable) {
			log.Printf("skip %s/%d@%d: %v", m.Topic, m.Partition, m.Offset, err)
			break
		}
		log.Printf("handle %s/%d@%d: %v (retry in %s)", m.Topic, m.Partition, m.Offset, err, wait)
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-time.After(wait):
		}
		wait = min(wait*2, retryCeil)
	}
	// a lost commit only means redelivery
	if err := c.commit(ctx, m); err != nil && ctx.Err() == nil {
		log.Printf("commit %s/%d@%d: %v", m.Topic, m.Partition, m.Offset, err)
	}
}
