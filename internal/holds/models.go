package holds

import "time"

type Book struct {
	ID        string     `json:"id"`
	Status    BookStatus `json:"status"`
	HoldUntil *time.Time `json:"hold_until,omitempty"` // set iff Status.IsHold()
	UpdatedAt time.Time  `json:"updated_at"`
}

type Checkout struct {
	ID         string         `json:"id"`
	BookID     string         `json:"book_id"`
	UserID     string         `json:"user_id"`
	DueDate    time.Time      `json:"due_date"`
	Status     CheckoutStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	ReturnedAt *time.Time     `json:"returned_at,omitempty"`
}

// Overdue is true once the due date has passed, even before the overdue sweep
// has flipped the row.
func (c Checkout) Overdue(now time.Time) bool {
	if c.Status == CheckoutOverdue {
		return true
	}
	return c.Status == CheckoutActive && now.After(c.DueDate)
}

type WaitlistEntry struct {
	ID         string      `json:"id"`
	BookID     string      `json:"book_id"`
	UserID     string      `json:"user_id"`
	Tier       Tier        `json:"tier"`
	Position   int         `json:"position"` // 1-based among waiting entries; last queue slot once it left
	IsPriority bool        `json:"is_priority"`
	Status     EntryStatus `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	NotifiedAt *time.Time  `json:"notified_at,omitempty"`
	ExpiresAt  *time.Time  `json:"expires_at,omitempty"`
}

// Lapsed reports whether a notified entry's claim window has passed.
// The window is inclusive: a claim at exactly ExpiresAt is still in time.
func (e WaitlistEntry) Lapsed(now time.Time) bool {
	return e.Status == EntryNotified && e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// Availability is what a reader may see about a book: no queue identities.
type Availability struct {
	BookID    string     `json:"book_id"`
	Status    BookStatus `json:"status"`
	HoldUntil *time.Time `json:"hold_until,omitempty"`
	Waiting   int        `json:"waiting"`
}
