package holds

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// checkout rejections
	ErrNotAvailable     = errors.New("book not available")
	ErrHeldForAnother   = errors.New("book held for another reader")
	ErrInactive         = errors.New("book inactive")
	ErrLoanLimitReached = errors.New("loan limit reached")
	ErrAlreadyBorrowed  = errors.New("book already borrowed by this reader")
	ErrOverdueLoans     = errors.New("reader has overdue loans")

	// waitlist misuse
	ErrAlreadyWaiting = errors.New("already on the waitlist")
	ErrNotFound       = errors.New("not found")

	// lost the compare-and-set on the book row; a retry will see fresh state
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	ErrBookExists = errors.New("book already registered")
)

// TransitionError names the state a book was in when an operation that does
// not apply to it was attempted.
type TransitionError struct {
	BookID string
	Op     string
	From   BookStatus
	To     BookStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s book %s: cannot move from %s to %s", e.Op, e.BookID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

func transitionErr(op string, b Book, to BookStatus) error {
	return &TransitionError{BookID: b.ID, Op: op, From: b.Status, To: to}
}

const reasonNotAvailableNow = "not available right now"

// PublicReason is the text shown to the end user for a rejection. Hold and
// loan rejections are collapsed so nobody learns another reader's place in
// line.
func PublicReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrHeldForAnother),
		errors.Is(err, ErrNotAvailable),
		errors.Is(err, ErrConcurrencyConflict):
		return reasonNotAvailableNow
	case errors.Is(err, ErrInactive):
		return "this title is not in circulation"
	case errors.Is(err, ErrLoanLimitReached):
		return "you have reached your loan limit"
	case errors.Is(err, ErrAlreadyBorrowed):
		return "you already have this book"
	case errors.Is(err, ErrOverdueLoans):
		return "return your overdue books first"
	case errors.Is(err, ErrAlreadyWaiting):
		return "you are already on the waitlist"
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrInvalidStateTransition):
		return "operation not allowed in the current state"
	default:
		return "internal error"
	}
}
