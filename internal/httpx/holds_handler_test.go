package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-library-holds/internal/clock"
	"github.com/ariefcatur/go-library-holds/internal/holds"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type memCache struct {
	mu sync.Mutex
	m  map[string]holds.Availability
}

func (c *memCache) Get(_ context.Context, id string) (holds.Availability, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.m[id]
	return a, ok
}

func (c *memCache) Put(_ context.Context, a holds.Availability) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[a.BookID] = a
}

func (c *memCache) Invalidate(_ context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, id)
}

type memIdem struct {
	mu sync.Mutex
	m  map[string]holds.Checkout
}

func (s *memIdem) Lookup(_ context.Context, key string) (holds.Checkout, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	co, ok := s.m[key]
	return co, ok
}

func (s *memIdem) Remember(_ context.Context, key string, co holds.Checkout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = co
}

type testServer struct {
	srv   *httptest.Server
	clk   *clock.Overridable
	cache *memCache
	eng   *holds.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clk := clock.NewOverridable(clock.Real{})
	clk.Override(t0)
	cache := &memCache{m: map[string]holds.Availability{}}
	eng := holds.New(holds.NewMemStore(), clk, holds.WithInvalidator(cache))
	h := &HoldsHandler{
		Engine: eng,
		Cache:  cache,
		Idem:   &memIdem{m: map[string]holds.Checkout{}},
		Clock:  clk,
	}
	r := NewRouter()
	h.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, clk: clk, cache: cache, eng: eng}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) (*http.Response, map[string]any) {
	t.Helper()
	var rd bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&rd).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &rd)
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err == nil && len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func reader(user, tier string) map[string]string {
	return map[string]string{"user_id": user, "tier": tier}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	resp, err := http.Get(s.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCheckoutFlow(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(t, http.MethodPost, "/admin/books", map[string]string{"book_id": "b"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, body := s.do(t, http.MethodPost, "/admin/books", map[string]string{"book_id": "b"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["error"], "already registered")

	resp, body = s.do(t, http.MethodPost, "/books/b/checkout", reader("alice", "standard"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "alice", body["user_id"])

	resp, body = s.do(t, http.MethodPost, "/books/b/waitlist", reader("bob", "premium"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.EqualValues(t, 1, body["position"])

	resp, body = s.do(t, http.MethodPost, "/books/b/checkout", reader("carol", "standard"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, holds.PublicReason(holds.ErrNotAvailable), body["error"])

	resp, _ = s.do(t, http.MethodPost, "/books/b/return", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = s.do(t, http.MethodGet, "/books/b", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(holds.BookOnHoldPremium), body["status"])
	assert.NotContains(t, body, "user_id")

	// a held book reads the same as a borrowed one to everybody else
	resp, body = s.do(t, http.MethodPost, "/books/b/checkout", reader("carol", "standard"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, holds.PublicReason(holds.ErrNotAvailable), body["error"])

	resp, _ = s.do(t, http.MethodPost, "/books/b/checkout", reader("bob", "premium"))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, body = s.do(t, http.MethodGet, "/books/b", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(holds.BookCheckedOut), body["status"])
}

func TestCheckoutIdempotencyKey(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/admin/books", map[string]string{"book_id": "b"})

	resp, first := s.do(t, http.MethodPost, "/books/b/checkout", reader("alice", "standard"), "Idempotency-Key", "k1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, again := s.do(t, http.MethodPost, "/books/b/checkout", reader("alice", "standard"), "Idempotency-Key", "k1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first["id"], again["id"])

	resp, _ = s.do(t, http.MethodPost, "/books/b/checkout", reader("alice", "standard"), "Idempotency-Key", "k2")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestValidation(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/admin/books", map[string]string{"book_id": "b"})

	resp, _ := s.do(t, http.MethodPost, "/books/b/waitlist", reader("bob", "gold"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPost, "/books/b/checkout", map[string]string{"tier": "standard"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPost, "/books/missing/checkout", reader("bob", "standard"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPost, "/books/b/return", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestWithdrawAndWaitlist(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/admin/books", map[string]string{"book_id": "b"})
	s.do(t, http.MethodPost, "/books/b/checkout", reader("alice", "standard"))
	_, bob := s.do(t, http.MethodPost, "/books/b/waitlist", reader("bob", "standard"))
	s.do(t, http.MethodPost, "/books/b/waitlist", reader("carol", "staff"))

	resp, err := http.Get(s.srv.URL + "/admin/books/b/waitlist")
	require.NoError(t, err)
	var list []holds.WaitlistEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list, 2)
	assert.Equal(t, "carol", list[0].UserID)

	resp2, body := s.do(t, http.MethodGet, "/books/b/waitlist/bob", nil)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.EqualValues(t, 2, body["position"])

	resp2, body = s.do(t, http.MethodDelete, "/waitlist/"+bob["id"].(string), nil)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, string(holds.EntryCancelled), body["status"])
	resp2, _ = s.do(t, http.MethodDelete, "/waitlist/"+bob["id"].(string), nil)
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	resp2, _ = s.do(t, http.MethodGet, "/books/b/waitlist/bob", nil)
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestAdminClockDrivesExpiry(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/admin/books", map[string]string{"book_id": "b"})
	s.do(t, http.MethodPost, "/books/b/checkout", reader("alice", "standard"))
	s.do(t, http.MethodPost, "/books/b/waitlist", reader("bob", "standard"))
	s.do(t, http.MethodPost, "/books/b/return", nil)

	_, body := s.do(t, http.MethodGet, "/books/b", nil)
	assert.Equal(t, string(holds.BookOnHoldStandard), body["status"])

	resp, body := s.do(t, http.MethodPut, "/admin/clock", map[string]any{"now": t0.Add(25 * time.Hour)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["simulated"])

	// the cached hold has lapsed; the read recomputes it
	_, body = s.do(t, http.MethodGet, "/books/b", nil)
	assert.Equal(t, string(holds.BookAvailable), body["status"])

	resp, body = s.do(t, http.MethodPost, "/admin/sweep", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, body["advanced"])

	resp, body = s.do(t, http.MethodDelete, "/admin/clock", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["simulated"])
	_, pinned := s.clk.Overridden()
	assert.False(t, pinned)
}

func TestDeactivateEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/admin/books", map[string]string{"book_id": "b"})

	resp, body := s.do(t, http.MethodPost, "/admin/books/b/deactivate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(holds.BookInactive), body["status"])

	resp, body = s.do(t, http.MethodPost, "/books/b/checkout", reader("bob", "standard"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, holds.PublicReason(holds.ErrInactive), body["error"])

	resp, body = s.do(t, http.MethodPost, "/admin/books/b/reactivate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(holds.BookAvailable), body["status"])
}

func TestCachedAvailabilityDroppedByEngineWrites(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/admin/books", map[string]string{"book_id": "b"})
	s.do(t, http.MethodPost, "/books/b/checkout", reader("alice", "standard"))
	s.do(t, http.MethodPost, "/books/b/waitlist", reader("bob", "standard"))

	_, body := s.do(t, http.MethodGet, "/books/b", nil)
	assert.EqualValues(t, 1, body["waiting"])
	_, cached := s.cache.Get(context.Background(), "b")
	require.True(t, cached)

	// a write that bypasses the handler, as the sweeper or holdctl would
	_, err := s.eng.Join(context.Background(), "b", "carol", holds.TierStandard)
	require.NoError(t, err)
	_, cached = s.cache.Get(context.Background(), "b")
	assert.False(t, cached)

	_, body = s.do(t, http.MethodGet, "/books/b", nil)
	assert.EqualValues(t, 2, body["waiting"])
}
