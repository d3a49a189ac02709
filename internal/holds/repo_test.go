package holds

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-library-holds/internal/clock"
)

// newPgStore connects to HOLDS_TEST_POSTGRES_DSN and applies the schema.
func newPgStore(t *testing.T) *PgStore {
	t.Helper()
	dsn := os.Getenv("HOLDS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HOLDS_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := &PgStore{DB: pool}
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestPgStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newPgStore(t)
	clk := clock.NewSimulated(t0)
	e := New(s, clk)
	id := "pg-" + uuid.NewString()

	_, err := e.RegisterBook(ctx, id)
	require.NoError(t, err)
	_, err = e.RegisterBook(ctx, id)
	require.ErrorIs(t, err, ErrBookExists)

	owner := "owner-" + id
	_, err = e.AuthorizeAndClaim(ctx, id, owner, TierStandard)
	require.NoError(t, err)

	s1, err := e.Join(ctx, id, "s1-"+id, TierStandard)
	require.NoError(t, err)
	p1, err := e.Join(ctx, id, "p1-"+id, TierPremium)
	require.NoError(t, err)
	assert.Equal(t, 1, p1.Position)
	_, err = e.Join(ctx, id, "s1-"+id, TierStandard)
	require.ErrorIs(t, err, ErrAlreadyWaiting)

	s1, err = s.Entry(ctx, s1.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, s1.Position)

	_, err = e.Return(ctx, id)
	require.NoError(t, err)
	b, err := s.Book(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, BookOnHoldPremium, b.Status)

	list, err := s.Waitlist(ctx, id)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, EntryNotified, list[0].Status)
	assert.Equal(t, p1.ID, list[0].ID)
	assert.Equal(t, 1, list[1].Position)

	held, err := s.HeldBookIDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, held, id)

	clk.Advance(49 * time.Hour)
	expired, advanced, err := e.AdvanceHold(ctx, id)
	require.NoError(t, err)
	assert.True(t, advanced)
	require.Len(t, expired, 1)

	_, err = e.AuthorizeAndClaim(ctx, id, "s1-"+id, TierStandard)
	require.NoError(t, err)
	b, err = s.Book(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, BookCheckedOut, b.Status)
	assert.Nil(t, b.HoldUntil)
}

func TestPgStoreConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	s := newPgStore(t)
	e := New(s, clock.NewSimulated(t0))
	id := "pg-" + uuid.NewString()
	_, err := e.RegisterBook(ctx, id)
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.AuthorizeAndClaim(ctx, id, fmt.Sprintf("u%d-%s", i, id), TierStandard)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.Is(err, ErrNotAvailable) || errors.Is(err, ErrConcurrencyConflict), "%v", err)
	}
	assert.Equal(t, 1, wins)

	var outstanding int
	require.NoError(t, s.DB.QueryRow(ctx,
		`SELECT count(*) FROM checkouts WHERE book_id=$1 AND status IN ('active','overdue')`, id).Scan(&outstanding))
	assert.Equal(t, 1, outstanding)
}

func TestPgStoreUnknownBook(t *testing.T) {
	s := newPgStore(t)
	err := s.InBookTx(context.Background(), "missing-"+uuid.NewString(), func(context.Context, Tx) error { return nil })
	require.ErrorIs(t, err, ErrNotFound)
}
