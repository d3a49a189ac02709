package holds

import "time"

type Tier string

const (
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
	TierStaff    Tier = "staff"
)

// IsPriority: premium and staff readers get first refusal on freed books.
func (t Tier) IsPriority() bool {
	return t == TierPremium || t == TierStaff
}

func (t Tier) Valid() bool {
	switch t {
	case TierStandard, TierPremium, TierStaff:
		return true
	}
	return false
}

// Policy holds every tunable of the hold engine. The engine never hard-codes
// durations.
type Policy struct {
	// PremiumPhase is how long a freshly returned book stays reserved for
	// priority waiters.
	PremiumPhase time.Duration
	// StandardClaimWindow is the claim window of a standard-tier waiter;
	// priority tiers get StandardClaimWindow * PriorityWindowMultiplier.
	StandardClaimWindow      time.Duration
	PriorityWindowMultiplier float64
	// ReservePremiumPhase keeps the premium phase running even when nobody in
	// the queue is a priority waiter, so a priority reader joining during the
	// phase still gets first refusal. When false such a book goes straight
	// to the standard phase.
	ReservePremiumPhase bool

	LoanPeriod        time.Duration
	StandardLoanLimit int
	PriorityLoanLimit int
}

func DefaultPolicy() Policy {
	return Policy{
		PremiumPhase:             48 * time.Hour,
		StandardClaimWindow:      24 * time.Hour,
		PriorityWindowMultiplier: 2,
		LoanPeriod:               14 * 24 * time.Hour,
		StandardLoanLimit:        3,
		PriorityLoanLimit:        10,
	}
}

func (p Policy) ClaimWindowFor(t Tier) time.Duration {
	if t.IsPriority() && p.PriorityWindowMultiplier > 0 {
		return time.Duration(float64(p.StandardClaimWindow) * p.PriorityWindowMultiplier)
	}
	return p.StandardClaimWindow
}

func (p Policy) LoanLimitFor(t Tier) int {
	if t.IsPriority() {
		return p.PriorityLoanLimit
	}
	return p.StandardLoanLimit
}

// MayClaim tells whether a notified waiter may take the book in the given
// hold phase.
func (p Policy) MayClaim(phase BookStatus, e WaitlistEntry) bool {
	switch phase {
	case BookOnHoldPremium:
		return e.IsPriority
	case BookOnHoldStandard:
		return true
	}
	return false
}
