package redisx

import "time"

const (
	// Cached availability: book_availability:{book_id} -> holds.Availability JSON
	KeyBookAvailability = "book_availability:%s"

	// Checkout idempotency: idem:checkout:{idempotency_key} -> checkout JSON
	KeyIdemCheckout = "idem:checkout:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// One sweeper at a time across API instances
	KeySweepLock = "lock:hold_sweep"
)

var (
	TTLIdempotency  = 24 * time.Hour
	TTLAvailability = 30 * time.Second // must stay well under any claim window
	TTLDedup        = 48 * time.Hour
)
