package holds

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// machine owns every write to a book's status. One machine lives for one
// InBookTx call; the notices it collects are dispatched after commit.
type machine struct {
	tx     *trackedTx
	q      queue
	policy Policy
	now    time.Time

	notices  []Notice
	expired  []WaitlistEntry
	advanced bool
}

func newMachine(tx Tx, p Policy, now time.Time) *machine {
	t := &trackedTx{Tx: tx}
	return &machine{tx: t, q: queue{tx: t, now: now}, policy: p, now: now}
}

// trackedTx notes whether anything was written through it.
type trackedTx struct {
	Tx
	wrote bool
}

func (t *trackedTx) SetBook(ctx context.Context, expect BookStatus, b Book) error {
	t.wrote = true
	return t.Tx.SetBook(ctx, expect, b)
}

func (t *trackedTx) InsertEntry(ctx context.Context, e WaitlistEntry) error {
	t.wrote = true
	return t.Tx.InsertEntry(ctx, e)
}

func (t *trackedTx) UpdateEntry(ctx context.Context, e WaitlistEntry) error {
	t.wrote = true
	return t.Tx.UpdateEntry(ctx, e)
}

func (t *trackedTx) ShiftWaiting(ctx context.Context, from, delta int) error {
	t.wrote = true
	return t.Tx.ShiftWaiting(ctx, from, delta)
}

func (t *trackedTx) InsertCheckout(ctx context.Context, c Checkout) error {
	t.wrote = true
	return t.Tx.InsertCheckout(ctx, c)
}

func (t *trackedTx) UpdateCheckout(ctx context.Context, c Checkout) error {
	t.wrote = true
	return t.Tx.UpdateCheckout(ctx, c)
}

func (m *machine) move(ctx context.Context, b *Book, op string, to BookStatus, holdUntil *time.Time) error {
	if !CanTransition(b.Status, to) {
		return transitionErr(op, *b, to)
	}
	next := Book{ID: b.ID, Status: to, HoldUntil: holdUntil, UpdatedAt: m.now}
	if err := m.tx.SetBook(ctx, b.Status, next); err != nil {
		return err
	}
	*b = next
	return nil
}

func (m *machine) notify(ctx context.Context, e WaitlistEntry) (WaitlistEntry, error) {
	e, err := m.q.markNotified(ctx, e, m.policy.ClaimWindowFor(e.Tier))
	if err != nil {
		return e, err
	}
	m.notices = append(m.notices, Notice{
		Kind:       NoticeHoldAvailable,
		UserID:     e.UserID,
		BookID:     e.BookID,
		EntryID:    e.ID,
		ExpiresAt:  e.ExpiresAt,
		OccurredAt: m.now,
	})
	m.advanced = true
	return e, nil
}

func (m *machine) expire(ctx context.Context, e WaitlistEntry, announce bool) error {
	e, changed, err := m.q.markExpired(ctx, e)
	if err != nil || !changed {
		return err
	}
	m.expired = append(m.expired, e)
	if announce {
		m.notices = append(m.notices, Notice{
			Kind:       NoticeHoldExpired,
			UserID:     e.UserID,
			BookID:     e.BookID,
			EntryID:    e.ID,
			ExpiresAt:  e.ExpiresAt,
			OccurredAt: m.now,
		})
	}
	return nil
}

// returnBook closes the outstanding loan and frees the copy, into a hold
// phase when anyone is waiting.
func (m *machine) returnBook(ctx context.Context) (Checkout, error) {
	b, err := m.tx.Book(ctx)
	if err != nil {
		return Checkout{}, err
	}
	if b.Status != BookCheckedOut {
		return Checkout{}, transitionErr("return", b, BookAvailable)
	}

	co, err := m.tx.ActiveCheckout(ctx)
	if err != nil {
		return Checkout{}, err
	}
	if co == nil {
		return Checkout{}, fmt.Errorf("return book %s: outstanding checkout: %w", b.ID, ErrNotFound)
	}
	now := m.now
	co.Status = CheckoutReturned
	co.ReturnedAt = &now
	if err := m.tx.UpdateCheckout(ctx, *co); err != nil {
		return Checkout{}, err
	}

	if err := m.release(ctx, &b, "return"); err != nil {
		return Checkout{}, err
	}
	return *co, nil
}

// release hands a freed copy to the queue: straight to available when
// nobody waits, otherwise into the premium phase.
func (m *machine) release(ctx context.Context, b *Book, op string) error {
	next, err := m.q.nextEligible(ctx)
	if err != nil {
		return err
	}
	if next == nil {
		return m.move(ctx, b, op, BookAvailable, nil)
	}
	until := m.now.Add(m.policy.PremiumPhase)
	if err := m.move(ctx, b, op, BookOnHoldPremium, &until); err != nil {
		return err
	}
	return m.advance(ctx, b)
}

// advance resolves whatever the clock says is due for a held book. It is
// idempotent: on a book with nothing due it writes nothing.
func (m *machine) advance(ctx context.Context, b *Book) error {
	if !b.Status.IsHold() {
		return nil
	}

	live, err := m.q.notified(ctx)
	if err != nil {
		return err
	}
	if live != nil && live.Lapsed(m.now) {
		if err := m.expire(ctx, *live, true); err != nil {
			return err
		}
		live = nil
		m.advanced = true
	}

	if b.Status == BookOnHoldPremium && m.now.Before(*b.HoldUntil) {
		if live != nil {
			return nil
		}
		next, err := m.q.nextPriority(ctx)
		if err != nil {
			return err
		}
		if next != nil {
			_, err := m.notify(ctx, *next)
			return err
		}
		if m.policy.ReservePremiumPhase {
			return nil
		}
	}

	if live != nil {
		if b.Status == BookOnHoldStandard {
			return nil
		}
		// premium phase is over; its waiter keeps the rest of the window
		until := *live.ExpiresAt
		m.advanced = true
		return m.move(ctx, b, "advance_hold", BookOnHoldStandard, &until)
	}

	next, err := m.q.nextEligible(ctx)
	if err != nil {
		return err
	}
	m.advanced = true
	if next == nil {
		return m.move(ctx, b, "advance_hold", BookAvailable, nil)
	}
	e, err := m.notify(ctx, *next)
	if err != nil {
		return err
	}
	return m.move(ctx, b, "advance_hold", BookOnHoldStandard, e.ExpiresAt)
}

// claim flips the copy to checked_out for userID. expect is the status the
// guard authorized against; the write only lands if the row still holds it.
func (m *machine) claim(ctx context.Context, expect BookStatus, userID string) (Checkout, error) {
	b, err := m.tx.Book(ctx)
	if err != nil {
		return Checkout{}, err
	}
	live, err := m.q.notified(ctx)
	if err != nil {
		return Checkout{}, err
	}
	if b.Status == expect {
		// the designated waiter can change without the status changing
		if err := authorize(m.policy, b, live, userID, m.now); err != nil {
			return Checkout{}, err
		}
	}

	next := Book{ID: b.ID, Status: BookCheckedOut, UpdatedAt: m.now}
	if !CanTransition(expect, BookCheckedOut) {
		return Checkout{}, transitionErr("claim", Book{ID: b.ID, Status: expect}, BookCheckedOut)
	}
	if err := m.tx.SetBook(ctx, expect, next); err != nil {
		return Checkout{}, err
	}

	co := Checkout{
		ID:        uuid.NewString(),
		BookID:    b.ID,
		UserID:    userID,
		DueDate:   m.now.Add(m.policy.LoanPeriod),
		Status:    CheckoutActive,
		CreatedAt: m.now,
	}
	if err := m.tx.InsertCheckout(ctx, co); err != nil {
		return Checkout{}, err
	}

	mine, err := m.q.entryOf(ctx, userID)
	if err != nil {
		return Checkout{}, err
	}
	if mine != nil {
		if _, _, err := m.q.markClaimed(ctx, *mine); err != nil {
			return Checkout{}, err
		}
	}
	return co, nil
}

// deactivate abandons any running hold. The notified waiter is expired
// without a notice and nobody else is compensated.
func (m *machine) deactivate(ctx context.Context) (Book, error) {
	b, err := m.tx.Book(ctx)
	if err != nil {
		return Book{}, err
	}
	if b.Status == BookInactive {
		return b, nil
	}
	if !CanTransition(b.Status, BookInactive) {
		return b, transitionErr("deactivate", b, BookInactive)
	}
	live, err := m.q.notified(ctx)
	if err != nil {
		return b, err
	}
	if live != nil {
		if err := m.expire(ctx, *live, false); err != nil {
			return b, err
		}
	}
	if err := m.move(ctx, &b, "deactivate", BookInactive, nil); err != nil {
		return b, err
	}
	return b, nil
}

func (m *machine) reactivate(ctx context.Context) (Book, error) {
	b, err := m.tx.Book(ctx)
	if err != nil {
		return Book{}, err
	}
	if b.Status != BookInactive {
		return b, transitionErr("reactivate", b, BookAvailable)
	}
	if err := m.release(ctx, &b, "reactivate"); err != nil {
		return b, err
	}
	return b, nil
}

// authorize decides who may take the book in its current state.
func authorize(p Policy, b Book, live *WaitlistEntry, userID string, now time.Time) error {
	switch b.Status {
	case BookAvailable:
		return nil
	case BookOnHoldPremium, BookOnHoldStandard:
		if live == nil || live.UserID != userID || live.Lapsed(now) || !p.MayClaim(b.Status, *live) {
			return ErrHeldForAnother
		}
		return nil
	case BookCheckedOut:
		return ErrNotAvailable
	case BookInactive:
		return ErrInactive
	}
	return fmt.Errorf("book %s has unknown status %q: %w", b.ID, b.Status, ErrInvalidStateTransition)
}
