package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-library-holds/internal/clock"
	"github.com/ariefcatur/go-library-holds/internal/holds"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// memOpener shares one MemStore across command runs; the clock follows --at.
func memOpener(store *holds.MemStore) Opener {
	return func(_ context.Context, at time.Time) (*Backend, error) {
		if at.IsZero() {
			at = t0
		}
		return &Backend{Engine: holds.New(store, clock.NewSimulated(at))}, nil
	}
}

func run(t *testing.T, open Opener, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand(open)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootRejectsUnknownFormat(t *testing.T) {
	_, err := run(t, memOpener(holds.NewMemStore()), "--format", "yaml", "sweep")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRootRejectsBadAt(t *testing.T) {
	_, err := run(t, memOpener(holds.NewMemStore()), "--at", "tomorrow", "sweep")
	require.Error(t, err)
}

func TestBookAddAndShow(t *testing.T) {
	open := memOpener(holds.NewMemStore())

	out, err := run(t, open, "book", "add", "b-1")
	require.NoError(t, err)
	assert.Contains(t, out, "b-1 available")

	out, err = run(t, open, "--format", "json", "book", "show", "b-1")
	require.NoError(t, err)
	var a holds.Availability
	require.NoError(t, json.Unmarshal([]byte(out), &a))
	assert.Equal(t, holds.BookAvailable, a.Status)
	assert.Zero(t, a.Waiting)
}

func TestBookDeactivateReactivate(t *testing.T) {
	open := memOpener(holds.NewMemStore())
	_, err := run(t, open, "book", "add", "b-1")
	require.NoError(t, err)

	out, err := run(t, open, "book", "deactivate", "b-1")
	require.NoError(t, err)
	assert.Contains(t, out, "inactive")

	out, err = run(t, open, "book", "reactivate", "b-1")
	require.NoError(t, err)
	assert.Contains(t, out, "available")
}

func TestBookUnknown(t *testing.T) {
	_, err := run(t, memOpener(holds.NewMemStore()), "book", "show", "missing")
	require.ErrorIs(t, err, holds.ErrNotFound)
}

func TestSweepAdvancesLapsedHold(t *testing.T) {
	store := holds.NewMemStore()
	open := memOpener(store)
	ctx := context.Background()

	e := holds.New(store, clock.NewSimulated(t0))
	_, err := e.RegisterBook(ctx, "b-1")
	require.NoError(t, err)
	_, err = e.AuthorizeAndClaim(ctx, "b-1", "alice", holds.TierStandard)
	require.NoError(t, err)
	_, err = e.Join(ctx, "b-1", "bob", holds.TierPremium)
	require.NoError(t, err)
	_, err = e.Return(ctx, "b-1")
	require.NoError(t, err)

	// bob's priority window (48h) has lapsed four days on, and nobody else waits
	later := t0.Add(96 * time.Hour).Format(time.RFC3339)
	out, err := run(t, open, "--at", later, "--format", "json", "sweep")
	require.NoError(t, err)

	var rep struct {
		Expired  []holds.WaitlistEntry `json:"expired"`
		Advanced []string              `json:"advanced"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	require.Len(t, rep.Expired, 1)
	assert.Equal(t, "bob", rep.Expired[0].UserID)
	assert.Equal(t, []string{"b-1"}, rep.Advanced)

	out, err = run(t, open, "--at", later, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "expired 0, advanced 0")
}

func TestWaitlistListing(t *testing.T) {
	store := holds.NewMemStore()
	ctx := context.Background()
	e := holds.New(store, clock.NewSimulated(t0))
	_, err := e.RegisterBook(ctx, "b-1")
	require.NoError(t, err)
	_, err = e.AuthorizeAndClaim(ctx, "b-1", "alice", holds.TierStandard)
	require.NoError(t, err)
	_, err = e.Join(ctx, "b-1", "bob", holds.TierStandard)
	require.NoError(t, err)
	_, err = e.Join(ctx, "b-1", "carol", holds.TierStaff)
	require.NoError(t, err)

	out, err := run(t, memOpener(store), "waitlist", "b-1")
	require.NoError(t, err)
	assert.Regexp(t, `(?s)1 waiting\s+staff\s+carol.*2 waiting\s+standard\s+bob`, out)
}

func TestMigrateWithoutSchema(t *testing.T) {
	_, err := run(t, memOpener(holds.NewMemStore()), "migrate")
	require.Error(t, err)
}
