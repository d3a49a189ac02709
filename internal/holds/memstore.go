package holds

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore keeps everything in process memory. It backs the tests and the
// API's demo mode. InBookTx serializes per book and rolls back on error.
type MemStore struct {
	mu        sync.Mutex
	bookLocks map[string]*sync.Mutex
	books     map[string]Book
	entries   map[string]WaitlistEntry
	checkouts map[string]Checkout
}

func NewMemStore() *MemStore {
	return &MemStore{
		bookLocks: map[string]*sync.Mutex{},
		books:     map[string]Book{},
		entries:   map[string]WaitlistEntry{},
		checkouts: map[string]Checkout{},
	}
}

func (s *MemStore) CreateBook(_ context.Context, b Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.books[b.ID]; ok {
		return ErrBookExists
	}
	s.books[b.ID] = b
	s.bookLocks[b.ID] = &sync.Mutex{}
	return nil
}

func (s *MemStore) InBookTx(ctx context.Context, bookID string, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	l, ok := s.bookLocks[bookID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("book %s: %w", bookID, ErrNotFound)
	}

	l.Lock()
	defer l.Unlock()

	tx := &memTx{s: s, bookID: bookID}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *MemStore) Book(_ context.Context, id string) (Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[id]
	if !ok {
		return Book{}, fmt.Errorf("book %s: %w", id, ErrNotFound)
	}
	return b, nil
}

func (s *MemStore) Entry(_ context.Context, id string) (WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return WaitlistEntry{}, fmt.Errorf("waitlist entry %s: %w", id, ErrNotFound)
	}
	return e, nil
}

func (s *MemStore) Waitlist(_ context.Context, bookID string) ([]WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.books[bookID]; !ok {
		return nil, fmt.Errorf("book %s: %w", bookID, ErrNotFound)
	}
	return s.activeEntriesLocked(bookID), nil
}

func (s *MemStore) activeEntriesLocked(bookID string) []WaitlistEntry {
	var out []WaitlistEntry
	for _, e := range s.entries {
		if e.BookID == bookID && e.Status.Active() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ni, nj := out[i].Status == EntryNotified, out[j].Status == EntryNotified
		if ni != nj {
			return ni
		}
		return out[i].Position < out[j].Position
	})
	return out
}

func (s *MemStore) Loans(_ context.Context, userID string) ([]Checkout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Checkout
	for _, c := range s.checkouts {
		if c.UserID == userID && c.Status.Outstanding() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) HeldBookIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, b := range s.books {
		if b.Status.IsHold() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemStore) MarkOverdue(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, c := range s.checkouts {
		if c.Status == CheckoutActive && now.After(c.DueDate) {
			c.Status = CheckoutOverdue
			s.checkouts[id] = c
			n++
		}
	}
	return n, nil
}

type memTx struct {
	s      *MemStore
	bookID string
	undo   []func()
}

func (tx *memTx) rollback() {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memTx) Book(_ context.Context) (Book, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	return tx.s.books[tx.bookID], nil
}

func (tx *memTx) SetBook(_ context.Context, expect BookStatus, b Book) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	prev := tx.s.books[tx.bookID]
	if prev.Status != expect {
		return ErrConcurrencyConflict
	}
	b.ID = tx.bookID
	tx.s.books[tx.bookID] = b
	tx.undo = append(tx.undo, func() { tx.s.books[tx.bookID] = prev })
	return nil
}

func (tx *memTx) Waitlist(_ context.Context) ([]WaitlistEntry, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	return tx.s.activeEntriesLocked(tx.bookID), nil
}

func (tx *memTx) Entry(_ context.Context, id string) (WaitlistEntry, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	e, ok := tx.s.entries[id]
	if !ok || e.BookID != tx.bookID {
		return WaitlistEntry{}, fmt.Errorf("waitlist entry %s: %w", id, ErrNotFound)
	}
	return e, nil
}

func (tx *memTx) InsertEntry(_ context.Context, e WaitlistEntry) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	for _, other := range tx.s.entries {
		if other.BookID == e.BookID && other.UserID == e.UserID && other.Status.Active() {
			return ErrAlreadyWaiting
		}
	}
	tx.s.entries[e.ID] = e
	tx.undo = append(tx.undo, func() { delete(tx.s.entries, e.ID) })
	return nil
}

func (tx *memTx) UpdateEntry(_ context.Context, e WaitlistEntry) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	prev, ok := tx.s.entries[e.ID]
	if !ok {
		return fmt.Errorf("waitlist entry %s: %w", e.ID, ErrNotFound)
	}
	tx.s.entries[e.ID] = e
	tx.undo = append(tx.undo, func() { tx.s.entries[e.ID] = prev })
	return nil
}

func (tx *memTx) ShiftWaiting(_ context.Context, from, delta int) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	for id, e := range tx.s.entries {
		if e.BookID == tx.bookID && e.Status == EntryWaiting && e.Position >= from {
			prev := e
			e.Position += delta
			tx.s.entries[id] = e
			tx.undo = append(tx.undo, func() { tx.s.entries[prev.ID] = prev })
		}
	}
	return nil
}

func (tx *memTx) ActiveCheckout(_ context.Context) (*Checkout, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	return tx.s.outstandingLocked(tx.bookID), nil
}

func (s *MemStore) outstandingLocked(bookID string) *Checkout {
	for _, c := range s.checkouts {
		if c.BookID == bookID && c.Status.Outstanding() {
			c := c
			return &c
		}
	}
	return nil
}

func (tx *memTx) InsertCheckout(_ context.Context, c Checkout) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if tx.s.outstandingLocked(c.BookID) != nil {
		return ErrConcurrencyConflict
	}
	tx.s.checkouts[c.ID] = c
	tx.undo = append(tx.undo, func() { delete(tx.s.checkouts, c.ID) })
	return nil
}

func (tx *memTx) UpdateCheckout(_ context.Context, c Checkout) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	prev, ok := tx.s.checkouts[c.ID]
	if !ok {
		return fmt.Errorf("checkout %s: %w", c.ID, ErrNotFound)
	}
	tx.s.checkouts[c.ID] = c
	tx.undo = append(tx.undo, func() { tx.s.checkouts[c.ID] = prev })
	return nil
}
