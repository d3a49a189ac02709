package holds

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const pgUniqueViolation = "23505"

const entryColumns = `id, book_id, user_id, tier, position, is_priority, status, created_at, notified_at, expires_at`

// PgStore keeps the engine's rows in Postgres. Per-book serialization is a
// SELECT ... FOR UPDATE on the book row; status writes are conditional
// updates on the expected status.
type PgStore struct{ DB *pgxpool.Pool }

var _ Store = (*PgStore)(nil)

func (s *PgStore) Migrate(ctx context.Context) error {
	if _, err := s.DB.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PgStore) InBookTx(ctx context.Context, bookID string, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b, err := scanBook(tx.QueryRow(ctx, `
		SELECT id, status, hold_until, updated_at FROM books WHERE id=$1 FOR UPDATE`, bookID))
	if err != nil {
		return err
	}

	if err := fn(ctx, &pgTx{tx: tx, book: b}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PgStore) CreateBook(ctx context.Context, b Book) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO books(id, status, hold_until, updated_at) VALUES ($1,$2,$3,$4)`,
		b.ID, string(b.Status), b.HoldUntil, b.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrBookExists
	}
	return err
}

func (s *PgStore) Book(ctx context.Context, id string) (Book, error) {
	return scanBook(s.DB.QueryRow(ctx, `SELECT id, status, hold_until, updated_at FROM books WHERE id=$1`, id))
}

func (s *PgStore) Entry(ctx context.Context, id string) (WaitlistEntry, error) {
	e, err := scanEntry(s.DB.QueryRow(ctx, `SELECT `+entryColumns+` FROM waitlist_entries WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return WaitlistEntry{}, fmt.Errorf("waitlist entry %s: %w", id, ErrNotFound)
	}
	return e, err
}

func (s *PgStore) Waitlist(ctx context.Context, bookID string) ([]WaitlistEntry, error) {
	if _, err := s.Book(ctx, bookID); err != nil {
		return nil, err
	}
	return queryEntries(ctx, s.DB, bookID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// queryEntries lists active entries, notified first, then waiting by position.
func queryEntries(ctx context.Context, db querier, bookID string) ([]WaitlistEntry, error) {
	query, args, err := goqu.Dialect("postgres").
		From("waitlist_entries").
		Select(goqu.L(entryColumns)).
		Where(
			goqu.C("book_id").Eq(bookID),
			goqu.C("status").In(string(EntryWaiting), string(EntryNotified)),
		).
		Order(
			goqu.L("CASE WHEN status = ? THEN 0 ELSE 1 END", string(EntryNotified)).Asc(),
			goqu.C("position").Asc(),
		).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build waitlist query: %w", err)
	}

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WaitlistEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PgStore) Loans(ctx context.Context, userID string) ([]Checkout, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, book_id, user_id, due_date, status, created_at, returned_at
		FROM checkouts WHERE user_id=$1 AND status IN ('active','overdue')
		ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Checkout
	for rows.Next() {
		c, err := scanCheckout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PgStore) HeldBookIDs(ctx context.Context) ([]string, error) {
	query, args, err := goqu.Dialect("postgres").
		From("books").
		Select("id").
		Where(goqu.C("status").In(string(BookOnHoldPremium), string(BookOnHoldStandard))).
		Order(goqu.C("hold_until").Asc(), goqu.C("id").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build held books query: %w", err)
	}

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PgStore) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE checkouts SET status='overdue' WHERE status='active' AND due_date < $1`, now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

type pgTx struct {
	tx   pgx.Tx
	book Book
}

func (t *pgTx) Book(_ context.Context) (Book, error) { return t.book, nil }

func (t *pgTx) SetBook(ctx context.Context, expect BookStatus, b Book) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE books SET status=$3, hold_until=$4, updated_at=$5
		WHERE id=$1 AND status=$2`,
		t.book.ID, string(expect), string(b.Status), b.HoldUntil, b.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrConcurrencyConflict
	}
	b.ID = t.book.ID
	t.book = b
	return nil
}

func (t *pgTx) Waitlist(ctx context.Context) ([]WaitlistEntry, error) {
	return queryEntries(ctx, t.tx, t.book.ID)
}

func (t *pgTx) Entry(ctx context.Context, id string) (WaitlistEntry, error) {
	e, err := scanEntry(t.tx.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM waitlist_entries WHERE id=$1 AND book_id=$2`, id, t.book.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return WaitlistEntry{}, fmt.Errorf("waitlist entry %s: %w", id, ErrNotFound)
	}
	return e, err
}

func (t *pgTx) InsertEntry(ctx context.Context, e WaitlistEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO waitlist_entries(`+entryColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.BookID, e.UserID, string(e.Tier), e.Position, e.IsPriority, string(e.Status),
		e.CreatedAt, e.NotifiedAt, e.ExpiresAt)
	if isUniqueViolation(err) {
		return ErrAlreadyWaiting
	}
	return err
}

func (t *pgTx) UpdateEntry(ctx context.Context, e WaitlistEntry) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE waitlist_entries SET position=$2, status=$3, notified_at=$4, expires_at=$5
		WHERE id=$1`, e.ID, e.Position, string(e.Status), e.NotifiedAt, e.ExpiresAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("waitlist entry %s: %w", e.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) ShiftWaiting(ctx context.Context, from, delta int) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE waitlist_entries SET position = position + $3
		WHERE book_id=$1 AND status='waiting' AND position >= $2`, t.book.ID, from, delta)
	return err
}

func (t *pgTx) ActiveCheckout(ctx context.Context) (*Checkout, error) {
	c, err := scanCheckout(t.tx.QueryRow(ctx, `
		SELECT id, book_id, user_id, due_date, status, created_at, returned_at
		FROM checkouts WHERE book_id=$1 AND status IN ('active','overdue')`, t.book.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *pgTx) InsertCheckout(ctx context.Context, c Checkout) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO checkouts(id, book_id, user_id, due_date, status, created_at, returned_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		c.ID, c.BookID, c.UserID, c.DueDate, string(c.Status), c.CreatedAt, c.ReturnedAt)
	if isUniqueViolation(err) {
		return ErrConcurrencyConflict
	}
	return err
}

func (t *pgTx) UpdateCheckout(ctx context.Context, c Checkout) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE checkouts SET status=$2, returned_at=$3, due_date=$4 WHERE id=$1`,
		c.ID, string(c.Status), c.ReturnedAt, c.DueDate)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("checkout %s: %w", c.ID, ErrNotFound)
	}
	return nil
}

func scanBook(row pgx.Row) (Book, error) {
	var b Book
	var status string
	if err := row.Scan(&b.ID, &status, &b.HoldUntil, &b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Book{}, fmt.Errorf("book: %w", ErrNotFound)
		}
		return Book{}, err
	}
	b.Status = BookStatus(status)
	return b, nil
}

func scanEntry(row pgx.Row) (WaitlistEntry, error) {
	var e WaitlistEntry
	var tier, status string
	err := row.Scan(&e.ID, &e.BookID, &e.UserID, &tier, &e.Position, &e.IsPriority, &status,
		&e.CreatedAt, &e.NotifiedAt, &e.ExpiresAt)
	if err != nil {
		return WaitlistEntry{}, err
	}
	e.Tier = Tier(tier)
	e.Status = EntryStatus(status)
	return e, nil
}

func scanCheckout(row pgx.Row) (Checkout, error) {
	var c Checkout
	var status string
	if err := row.Scan(&c.ID, &c.BookID, &c.UserID, &c.DueDate, &status, &c.CreatedAt, &c.ReturnedAt); err != nil {
		return Checkout{}, err
	}
	c.Status = CheckoutStatus(status)
	return c, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
