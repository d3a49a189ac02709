package holds

import (
	"context"
	"encoding/json"
	"time"
)

type NoticeKind string

const (
	NoticeHoldAvailable NoticeKind = "hold_available" // waiter may now claim
	NoticeHoldExpired   NoticeKind = "hold_expired"   // claim window lapsed
)

// Notice is handed to the Notifier after the state change committed.
type Notice struct {
	Kind       NoticeKind `json:"kind"`
	UserID     string     `json:"user_id"`
	BookID     string     `json:"book_id"`
	EntryID    string     `json:"entry_id"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// Notifier is best effort. Its errors are logged and never undo a transition.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

type NotifierFunc func(ctx context.Context, n Notice) error

func (f NotifierFunc) Notify(ctx context.Context, n Notice) error { return f(ctx, n) }

// Envelope wraps a notice on the wire.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"` // NoticeKind
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // book id
	Payload       json.RawMessage `json:"payload"`
}
