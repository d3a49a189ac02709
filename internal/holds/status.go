package holds

type BookStatus string

const (
	BookAvailable      BookStatus = "available"
	BookCheckedOut     BookStatus = "checked_out"
	BookOnHoldPremium  BookStatus = "on_hold_premium"
	BookOnHoldStandard BookStatus = "on_hold_standard"
	BookInactive       BookStatus = "inactive"
)

// on_hold_standard -> on_hold_standard is the hand-over from one notified
// waiter to the next one. inactive -> on_hold_premium is a reactivation with
// readers still queued.
var validNext = map[BookStatus]map[BookStatus]bool{
	BookAvailable:      {BookCheckedOut: true, BookInactive: true},
	BookCheckedOut:     {BookAvailable: true, BookOnHoldPremium: true},
	BookOnHoldPremium:  {BookOnHoldStandard: true, BookAvailable: true, BookCheckedOut: true, BookInactive: true},
	BookOnHoldStandard: {BookOnHoldStandard: true, BookAvailable: true, BookCheckedOut: true, BookInactive: true},
	BookInactive:       {BookAvailable: true, BookOnHoldPremium: true},
}

func CanTransition(from, to BookStatus) bool {
	return validNext[from][to]
}

func (s BookStatus) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// IsHold reports whether hold_until must be set for this status.
func (s BookStatus) IsHold() bool {
	return s == BookOnHoldPremium || s == BookOnHoldStandard
}

type EntryStatus string

const (
	EntryWaiting   EntryStatus = "waiting"
	EntryNotified  EntryStatus = "notified"
	EntryClaimed   EntryStatus = "claimed"
	EntryExpired   EntryStatus = "expired"
	EntryCancelled EntryStatus = "cancelled"
)

// Active entries block a second join for the same (book, user).
func (s EntryStatus) Active() bool {
	return s == EntryWaiting || s == EntryNotified
}

func (s EntryStatus) Terminal() bool {
	return s == EntryClaimed || s == EntryExpired || s == EntryCancelled
}

type CheckoutStatus string

const (
	CheckoutActive   CheckoutStatus = "active"
	CheckoutOverdue  CheckoutStatus = "overdue"
	CheckoutReturned CheckoutStatus = "returned"
)

// Outstanding loans count against the single copy and the loan limit.
func (s CheckoutStatus) Outstanding() bool {
	return s == CheckoutActive || s == CheckoutOverdue
}
