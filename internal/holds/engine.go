// Package holds is the book availability and waitlist hold engine.
//
// A book is a single loanable copy. Its status is only ever written by the
// state machine in this package, inside a per-book transaction obtained from
// the Store. Readers queue on a waitlist; when the copy comes back, priority
// readers get a premium phase of first refusal, then the queue is served in
// order, each notified reader getting a bounded claim window. Expired windows
// are resolved by Sweep or lazily by the next access to the book, through the
// same advance step, so both paths end in the same state.
package holds

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-library-holds/internal/clock"
)

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

const (
	logAttrBookID  = "book_id"
	logAttrUserID  = "user_id"
	logAttrEntryID = "entry_id"
	logAttrKind    = "kind"
	logAttrError   = "error"
)

// Invalidator drops anything derived from a book's state, such as a cached
// availability. It is called after every commit that wrote to the book.
type Invalidator interface {
	Invalidate(ctx context.Context, bookID string)
}

type Engine struct {
	store       Store
	clock       clock.Clock
	policy      Policy
	notifier    Notifier
	invalidator Invalidator
	logger      Logger
}

type Option func(*Engine)

func WithPolicy(p Policy) Option { return func(e *Engine) { e.policy = p } }

func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

func WithInvalidator(i Invalidator) Option { return func(e *Engine) { e.invalidator = i } }

func WithLogger(l Logger) Option { return func(e *Engine) { e.logger = l } }

func New(store Store, clk clock.Clock, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		clock:  clk,
		policy: DefaultPolicy(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Policy() Policy { return e.policy }

func (e *Engine) Now() time.Time { return e.clock.Now() }

// mutate runs fn in the book's transaction and dispatches the collected
// notices once it committed.
func (e *Engine) mutate(ctx context.Context, bookID string, fn func(ctx context.Context, m *machine) error) (*machine, error) {
	var m *machine
	err := e.store.InBookTx(ctx, bookID, func(ctx context.Context, tx Tx) error {
		m = newMachine(tx, e.policy, e.clock.Now())
		return fn(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	if e.invalidator != nil && m.tx.wrote {
		e.invalidator.Invalidate(ctx, bookID)
	}
	e.dispatch(ctx, m.notices)
	return m, nil
}

func (e *Engine) dispatch(ctx context.Context, notices []Notice) {
	if e.notifier == nil {
		return
	}
	for _, n := range notices {
		if err := e.notifier.Notify(ctx, n); err != nil {
			e.logger.Warn("hold notice dispatch failed",
				logAttrKind, string(n.Kind), logAttrBookID, n.BookID, logAttrUserID, n.UserID, logAttrError, err.Error())
			continue
		}
		e.logger.Debug("hold notice dispatched", logAttrKind, string(n.Kind), logAttrBookID, n.BookID, logAttrEntryID, n.EntryID)
	}
}

// RegisterBook adds a copy to the engine, available.
func (e *Engine) RegisterBook(ctx context.Context, bookID string) (Book, error) {
	b := Book{ID: bookID, Status: BookAvailable, UpdatedAt: e.clock.Now()}
	if err := e.store.CreateBook(ctx, b); err != nil {
		return Book{}, err
	}
	return b, nil
}

// Join puts the reader on the book's waitlist.
func (e *Engine) Join(ctx context.Context, bookID, userID string, tier Tier) (WaitlistEntry, error) {
	var entry WaitlistEntry
	_, err := e.mutate(ctx, bookID, func(ctx context.Context, m *machine) error {
		b, err := m.tx.Book(ctx)
		if err != nil {
			return err
		}
		if b.Status == BookInactive {
			return ErrInactive
		}
		// a lapsed window is closed before the duplicate check
		if err := m.advance(ctx, &b); err != nil {
			return err
		}
		co, err := m.tx.ActiveCheckout(ctx)
		if err != nil {
			return err
		}
		if co != nil && co.UserID == userID {
			return ErrAlreadyBorrowed
		}
		if entry, err = m.q.join(ctx, bookID, userID, tier); err != nil {
			return err
		}
		// a priority reader joining during a reserved premium phase is
		// notified right away
		if err := m.advance(ctx, &b); err != nil {
			return err
		}
		entry, err = m.tx.Entry(ctx, entry.ID)
		return err
	})
	if err != nil {
		return WaitlistEntry{}, err
	}
	e.logger.Info("waitlist joined", logAttrBookID, bookID, logAttrUserID, userID, logAttrEntryID, entry.ID, "position", entry.Position)
	return entry, nil
}

// Withdraw cancels a waitlist entry. Withdrawing an entry that already
// reached a terminal status is a no-op. A notified reader withdrawing hands
// the hold on to the next waiter.
func (e *Engine) Withdraw(ctx context.Context, entryID string) (WaitlistEntry, error) {
	found, err := e.store.Entry(ctx, entryID)
	if err != nil {
		return WaitlistEntry{}, err
	}
	var entry WaitlistEntry
	_, err = e.mutate(ctx, found.BookID, func(ctx context.Context, m *machine) error {
		cur, err := m.tx.Entry(ctx, entryID)
		if err != nil {
			return err
		}
		wasNotified := cur.Status == EntryNotified
		var changed bool
		if entry, changed, err = m.q.withdraw(ctx, cur); err != nil || !changed || !wasNotified {
			return err
		}
		b, err := m.tx.Book(ctx)
		if err != nil {
			return err
		}
		return m.advance(ctx, &b)
	})
	if err != nil {
		return WaitlistEntry{}, err
	}
	return entry, nil
}

// Return closes the book's outstanding checkout and frees the copy.
func (e *Engine) Return(ctx context.Context, bookID string) (Checkout, error) {
	var co Checkout
	m, err := e.mutate(ctx, bookID, func(ctx context.Context, m *machine) error {
		var err error
		co, err = m.returnBook(ctx)
		return err
	})
	if err != nil {
		return Checkout{}, err
	}
	e.logger.Info("book returned", logAttrBookID, bookID, logAttrUserID, co.UserID, "notices", len(m.notices))
	return co, nil
}

// AdvanceHold resolves due hold transitions for one book. It is a no-op for
// books that are not held or have nothing due.
func (e *Engine) AdvanceHold(ctx context.Context, bookID string) (expired []WaitlistEntry, advanced bool, err error) {
	m, err := e.mutate(ctx, bookID, func(ctx context.Context, m *machine) error {
		b, err := m.tx.Book(ctx)
		if err != nil {
			return err
		}
		return m.advance(ctx, &b)
	})
	if err != nil {
		return nil, false, err
	}
	return m.expired, m.advanced, nil
}

func (e *Engine) Deactivate(ctx context.Context, bookID string) (Book, error) {
	var b Book
	_, err := e.mutate(ctx, bookID, func(ctx context.Context, m *machine) error {
		var err error
		b, err = m.deactivate(ctx)
		return err
	})
	if err != nil {
		return Book{}, err
	}
	e.logger.Info("book deactivated", logAttrBookID, bookID)
	return b, nil
}

func (e *Engine) Reactivate(ctx context.Context, bookID string) (Book, error) {
	var b Book
	_, err := e.mutate(ctx, bookID, func(ctx context.Context, m *machine) error {
		var err error
		b, err = m.reactivate(ctx)
		return err
	})
	if err != nil {
		return Book{}, err
	}
	e.logger.Info("book reactivated", logAttrBookID, bookID, "status", string(b.Status))
	return b, nil
}

// Availability resolves anything due on the book before reporting it.
func (e *Engine) Availability(ctx context.Context, bookID string) (Availability, error) {
	if _, _, err := e.AdvanceHold(ctx, bookID); err != nil {
		return Availability{}, err
	}
	b, err := e.store.Book(ctx, bookID)
	if err != nil {
		return Availability{}, err
	}
	list, err := e.store.Waitlist(ctx, bookID)
	if err != nil {
		return Availability{}, err
	}
	waiting := 0
	for _, w := range list {
		if w.Status == EntryWaiting {
			waiting++
		}
	}
	return Availability{BookID: b.ID, Status: b.Status, HoldUntil: b.HoldUntil, Waiting: waiting}, nil
}

func (e *Engine) Waitlist(ctx context.Context, bookID string) ([]WaitlistEntry, error) {
	return e.store.Waitlist(ctx, bookID)
}

// Position returns the reader's own active entry on the book, after
// resolving anything due. ErrNotFound when the reader is not queued.
func (e *Engine) Position(ctx context.Context, bookID, userID string) (WaitlistEntry, error) {
	if _, _, err := e.AdvanceHold(ctx, bookID); err != nil {
		return WaitlistEntry{}, err
	}
	list, err := e.store.Waitlist(ctx, bookID)
	if err != nil {
		return WaitlistEntry{}, err
	}
	for _, w := range list {
		if w.UserID == userID {
			return w, nil
		}
	}
	return WaitlistEntry{}, fmt.Errorf("reader %s on book %s: %w", userID, bookID, ErrNotFound)
}

// MarkOverdue flips active checkouts past their due date to overdue.
func (e *Engine) MarkOverdue(ctx context.Context) (int64, error) {
	n, err := e.store.MarkOverdue(ctx, e.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("mark overdue: %w", err)
	}
	return n, nil
}
