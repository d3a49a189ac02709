package holds

import (
	"context"
	"time"
)

// Store is the persistence the engine needs: unlocked reads plus a per-book
// serialized transaction. Two implementations exist, PgStore and MemStore.
type Store interface {
	// InBookTx locks the book row and runs fn. Writes made through tx
	// commit together when fn returns nil and are discarded otherwise.
	// Unknown books yield ErrNotFound.
	InBookTx(ctx context.Context, bookID string, fn func(ctx context.Context, tx Tx) error) error

	CreateBook(ctx context.Context, b Book) error
	Book(ctx context.Context, id string) (Book, error)
	Entry(ctx context.Context, id string) (WaitlistEntry, error)
	// Waitlist lists the active entries of a book: the notified one first,
	// then waiting entries by position.
	Waitlist(ctx context.Context, bookID string) ([]WaitlistEntry, error)
	// Loans lists a reader's outstanding (active or overdue) checkouts.
	Loans(ctx context.Context, userID string) ([]Checkout, error)
	HeldBookIDs(ctx context.Context) ([]string, error)
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)
}

// Tx is scoped to the single book locked by InBookTx.
type Tx interface {
	Book(ctx context.Context) (Book, error)
	// SetBook is a compare-and-set: it writes b only if the stored status
	// still equals expect, and returns ErrConcurrencyConflict otherwise.
	SetBook(ctx context.Context, expect BookStatus, b Book) error

	Waitlist(ctx context.Context) ([]WaitlistEntry, error)
	Entry(ctx context.Context, id string) (WaitlistEntry, error)
	// InsertEntry returns ErrAlreadyWaiting if the reader has an active entry.
	InsertEntry(ctx context.Context, e WaitlistEntry) error
	UpdateEntry(ctx context.Context, e WaitlistEntry) error
	// ShiftWaiting adds delta to the position of every waiting entry whose
	// position is >= from.
	ShiftWaiting(ctx context.Context, from, delta int) error

	// ActiveCheckout returns nil when the copy is not out.
	ActiveCheckout(ctx context.Context) (*Checkout, error)
	// InsertCheckout returns ErrConcurrencyConflict if the copy already has
	// an outstanding checkout.
	InsertCheckout(ctx context.Context, c Checkout) error
	UpdateCheckout(ctx context.Context, c Checkout) error
}
