// Package notify consumes hold notices and delivers them to readers.
package notify

import (
	"context"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-library-holds/internal/holds"
	kafkax "github.com/ariefcatur/go-library-holds/internal/kafka"
)

// Deduper remembers which events service already delivered. An event is
// marked only after delivery succeeded, so a failed delivery is retried on
// redelivery.
type Deduper interface {
	Seen(ctx context.Context, service, id string) (bool, error)
	Mark(ctx context.Context, service, id string) error
}

// Deliverer sends one notice to its reader (mail, push, ...).
type Deliverer interface {
	Deliver(ctx context.Context, n holds.Notice) error
}

type Service struct {
	Dedup       Deduper
	Deliverer   Deliverer
	ServiceName string
}

// HandleHoldNotice is installed as the consumer handler.
func (s *Service) HandleHoldNotice(ctx context.Context, m kafkago.Message) error {
	var env holds.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		return fmt.Errorf("decode envelope: %w: %w", kafkax.ErrUnprocessable, err)
	}
	switch holds.NoticeKind(env.EventType) {
	case holds.NoticeHoldAvailable, holds.NoticeHoldExpired:
	default:
		return nil // not ours
	}

	n, err := kafkax.UnwrapPayload[holds.Notice](env.Payload)
	if err != nil {
		return fmt.Errorf("event %s: %w: %w", env.EventID, kafkax.ErrUnprocessable, err)
	}

	seen, err := s.Dedup.Seen(ctx, s.ServiceName, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if seen {
		return nil
	}
	if err := s.Deliverer.Deliver(ctx, n); err != nil {
		return fmt.Errorf("deliver %s: %w", env.EventID, err)
	}
	return s.Dedup.Mark(ctx, s.ServiceName, env.EventID)
}

// LogDeliverer writes the notice as a log line; real channels plug in via
// Deliverer.
type LogDeliverer struct{ Logger holds.Logger }

func (d LogDeliverer) Deliver(_ context.Context, n holds.Notice) error {
	args := []any{"kind", string(n.Kind), "user_id", n.UserID, "book_id", n.BookID, "entry_id", n.EntryID}
	if n.ExpiresAt != nil {
		args = append(args, "expires_at", n.ExpiresAt.UTC())
	}
	d.Logger.Info("hold notice delivered", args...)
	return nil
}
