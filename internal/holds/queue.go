package holds

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// queue applies waitlist transitions for the book locked by tx.
//
// Waiting positions stay contiguous from 1 and are already in claim order:
// every waiting priority entry sits before every waiting standard entry.
// Whenever an entry stops waiting, later positions close the gap.
type queue struct {
	tx  Tx
	now time.Time
}

func (q queue) waiting(ctx context.Context) ([]WaitlistEntry, error) {
	all, err := q.tx.Waitlist(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0:0]
	for _, e := range all {
		if e.Status == EntryWaiting {
			out = append(out, e)
		}
	}
	return out, nil
}

func (q queue) join(ctx context.Context, bookID, userID string, tier Tier) (WaitlistEntry, error) {
	waiting, err := q.waiting(ctx)
	if err != nil {
		return WaitlistEntry{}, err
	}

	pos := len(waiting) + 1
	if tier.IsPriority() {
		pos = 1
		for _, e := range waiting {
			if e.IsPriority {
				pos = e.Position + 1
			}
		}
	}

	e := WaitlistEntry{
		ID:         uuid.NewString(),
		BookID:     bookID,
		UserID:     userID,
		Tier:       tier,
		Position:   pos,
		IsPriority: tier.IsPriority(),
		Status:     EntryWaiting,
		CreatedAt:  q.now,
	}
	// the uniqueness check runs before any shift so a rejected join
	// leaves positions untouched
	for _, other := range waiting {
		if other.UserID == userID {
			return WaitlistEntry{}, ErrAlreadyWaiting
		}
	}
	if live, err := q.notified(ctx); err != nil {
		return WaitlistEntry{}, err
	} else if live != nil && live.UserID == userID {
		return WaitlistEntry{}, ErrAlreadyWaiting
	}

	if pos <= len(waiting) {
		if err := q.tx.ShiftWaiting(ctx, pos, 1); err != nil {
			return WaitlistEntry{}, err
		}
	}
	if err := q.tx.InsertEntry(ctx, e); err != nil {
		return WaitlistEntry{}, err
	}
	return e, nil
}

// nextEligible is the waiting entry with the lowest position.
func (q queue) nextEligible(ctx context.Context) (*WaitlistEntry, error) {
	waiting, err := q.waiting(ctx)
	if err != nil || len(waiting) == 0 {
		return nil, err
	}
	return &waiting[0], nil
}

func (q queue) nextPriority(ctx context.Context) (*WaitlistEntry, error) {
	next, err := q.nextEligible(ctx)
	if err != nil || next == nil || !next.IsPriority {
		return nil, err
	}
	return next, nil
}

// notified returns the entry currently holding the claim window, if any.
func (q queue) notified(ctx context.Context) (*WaitlistEntry, error) {
	all, err := q.tx.Waitlist(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range all {
		if e.Status == EntryNotified {
			return &e, nil
		}
	}
	return nil, nil
}

func (q queue) entryOf(ctx context.Context, userID string) (*WaitlistEntry, error) {
	all, err := q.tx.Waitlist(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range all {
		if e.UserID == userID {
			return &e, nil
		}
	}
	return nil, nil
}

// leave moves e to a terminal status. Re-applying a terminal status, or
// racing against another terminal status that landed first, is a no-op and
// reports changed=false.
func (q queue) leave(ctx context.Context, e WaitlistEntry, to EntryStatus) (WaitlistEntry, bool, error) {
	if e.Status.Terminal() {
		return e, false, nil
	}
	wasWaiting := e.Status == EntryWaiting
	e.Status = to
	if err := q.tx.UpdateEntry(ctx, e); err != nil {
		return e, false, err
	}
	if wasWaiting {
		if err := q.tx.ShiftWaiting(ctx, e.Position+1, -1); err != nil {
			return e, false, err
		}
	}
	return e, true, nil
}

func (q queue) withdraw(ctx context.Context, e WaitlistEntry) (WaitlistEntry, bool, error) {
	return q.leave(ctx, e, EntryCancelled)
}

func (q queue) markClaimed(ctx context.Context, e WaitlistEntry) (WaitlistEntry, bool, error) {
	return q.leave(ctx, e, EntryClaimed)
}

func (q queue) markExpired(ctx context.Context, e WaitlistEntry) (WaitlistEntry, bool, error) {
	return q.leave(ctx, e, EntryExpired)
}

// markNotified opens the claim window. The entry leaves the waiting
// sequence, so later waiters move up.
func (q queue) markNotified(ctx context.Context, e WaitlistEntry, window time.Duration) (WaitlistEntry, error) {
	if e.Status == EntryNotified {
		return e, nil
	}
	if e.Status != EntryWaiting {
		return e, ErrNotFound
	}
	now := q.now
	expires := now.Add(window)
	e.Status = EntryNotified
	e.NotifiedAt = &now
	e.ExpiresAt = &expires
	if err := q.tx.UpdateEntry(ctx, e); err != nil {
		return e, err
	}
	if err := q.tx.ShiftWaiting(ctx, e.Position+1, -1); err != nil {
		return e, err
	}
	return e, nil
}
