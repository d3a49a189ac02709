package holds

import (
	"context"
	"errors"
	"time"
)

// claimAttempts: a lost compare-and-set is retried once; the retry reads
// fresh state and normally turns into a plain rejection.
const claimAttempts = 2

// AuthorizeAndClaim is the only way a checkout gets created. It checks the
// reader, resolves stale holds on the book, decides whether this reader may
// take it now and flips the copy with a compare-and-set on its status.
func (e *Engine) AuthorizeAndClaim(ctx context.Context, bookID, userID string, tier Tier) (Checkout, error) {
	var co Checkout
	err := retryOnConflict(ctx, claimAttempts, func(ctx context.Context) error {
		var err error
		co, err = e.authorizeAndClaim(ctx, bookID, userID, tier)
		return err
	})
	if err != nil {
		e.logger.Info("checkout rejected", logAttrBookID, bookID, logAttrUserID, userID, logAttrError, err.Error())
		return Checkout{}, err
	}
	e.logger.Info("checkout created", logAttrBookID, bookID, logAttrUserID, userID, "checkout_id", co.ID)
	return co, nil
}

func (e *Engine) authorizeAndClaim(ctx context.Context, bookID, userID string, tier Tier) (Checkout, error) {
	loans, err := e.store.Loans(ctx, userID)
	if err != nil {
		return Checkout{}, err
	}
	if err := checkReader(e.policy, loans, bookID, tier, e.clock.Now()); err != nil {
		return Checkout{}, err
	}

	if _, _, err := e.AdvanceHold(ctx, bookID); err != nil {
		return Checkout{}, err
	}

	b, err := e.store.Book(ctx, bookID)
	if err != nil {
		return Checkout{}, err
	}
	list, err := e.store.Waitlist(ctx, bookID)
	if err != nil {
		return Checkout{}, err
	}
	var live *WaitlistEntry
	if len(list) > 0 && list[0].Status == EntryNotified {
		live = &list[0]
	}
	if err := authorize(e.policy, b, live, userID, e.clock.Now()); err != nil {
		return Checkout{}, err
	}

	var co Checkout
	_, err = e.mutate(ctx, bookID, func(ctx context.Context, m *machine) error {
		var err error
		co, err = m.claim(ctx, b.Status, userID)
		return err
	})
	return co, err
}

// checkReader enforces the loan rules before the book is even looked at.
func checkReader(p Policy, loans []Checkout, bookID string, tier Tier, now time.Time) error {
	for _, l := range loans {
		if l.BookID == bookID {
			return ErrAlreadyBorrowed
		}
	}
	for _, l := range loans {
		if l.Overdue(now) {
			return ErrOverdueLoans
		}
	}
	if len(loans) >= p.LoanLimitFor(tier) {
		return ErrLoanLimitReached
	}
	return nil
}

func retryOnConflict(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = fn(ctx); !errors.Is(err, ErrConcurrencyConflict) {
			return err
		}
	}
	return err
}
