package kafka

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-library-holds/internal/holds"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

// NoticePublisher is the engine's Notifier: every notice becomes an
// envelope on the hold notices topic.
type NoticePublisher struct {
	Producer *Producer
	Service  string
}

var _ holds.Notifier = (*NoticePublisher)(nil)

func (p *NoticePublisher) Notify(_ context.Context, n holds.Notice) error {
	env, err := NoticeEnvelope(p.Service, n)
	if err != nil {
		return err
	}
	b, err := Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return p.Producer.Publish(holds.PartitionKey(n.BookID), b,
		kafka.Header{Key: HeaderEventType, Value: []byte(n.Kind)},
		kafka.Header{Key: HeaderEventVersion, Value: []byte("1")},
	)
}

func NoticeEnvelope(service string, n holds.Notice) (holds.Envelope, error) {
	payload, err := Marshal(n)
	if err != nil {
		return holds.Envelope{}, fmt.Errorf("encode notice: %w", err)
	}
	return holds.Envelope{
		EventID:       uuid.NewString(),
		EventType:     string(n.Kind),
		EventVersion:  1,
		OccurredAt:    n.OccurredAt,
		Producer:      service,
		CorrelationID: n.BookID,
		Payload:       payload,
	}, nil
}
