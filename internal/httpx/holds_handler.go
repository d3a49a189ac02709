package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ariefcatur/go-library-holds/internal/clock"
	"github.com/ariefcatur/go-library-holds/internal/holds"
)

// AvailabilityCache is only read and filled here. Entries are dropped by the
// engine's invalidator when the book changes.
type AvailabilityCache interface {
	Get(ctx context.Context, bookID string) (holds.Availability, bool)
	Put(ctx context.Context, a holds.Availability)
}

type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) (holds.Checkout, bool)
	Remember(ctx context.Context, key string, co holds.Checkout)
}

// HoldsHandler exposes the engine over HTTP. Identity comes from the auth
// layer in front of it, which fills user_id and tier.
type HoldsHandler struct {
	Engine *holds.Engine
	Cache  AvailabilityCache  // optional
	Idem   IdempotencyStore   // optional
	Clock  *clock.Overridable // optional, enables /admin/clock

	validate *validator.Validate
}

type ReaderReq struct {
	UserID string `json:"user_id" validate:"required"`
	Tier   string `json:"tier" validate:"required,oneof=standard premium staff"`
}

type RegisterBookReq struct {
	BookID string `json:"book_id" validate:"required"`
}

type SetClockReq struct {
	Now time.Time `json:"now" validate:"required"`
}

const headerIdempotencyKey = "Idempotency-Key"

func (h *HoldsHandler) Register(r chi.Router) {
	h.validate = validator.New()

	r.Get("/books/{id}", h.availability)
	r.Post("/books/{id}/waitlist", h.join)
	r.Get("/books/{id}/waitlist/{userID}", h.position)
	r.Delete("/waitlist/{entryID}", h.withdraw)
	r.Post("/books/{id}/checkout", h.checkout)
	r.Post("/books/{id}/return", h.returnBook)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/books", h.registerBook)
		r.Get("/books/{id}/waitlist", h.waitlist)
		r.Post("/books/{id}/deactivate", h.deactivate)
		r.Post("/books/{id}/reactivate", h.reactivate)
		r.Post("/sweep", h.sweep)
		r.Get("/clock", h.getClock)
		r.Put("/clock", h.setClock)
		r.Delete("/clock", h.clearClock)
	})
}

func (h *HoldsHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// fail maps engine errors to responses. Rejection details that could reveal
// another reader's hold are folded by holds.PublicReason.
func fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, holds.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, holds.ErrHeldForAnother),
		errors.Is(err, holds.ErrNotAvailable),
		errors.Is(err, holds.ErrConcurrencyConflict),
		errors.Is(err, holds.ErrInactive),
		errors.Is(err, holds.ErrAlreadyWaiting),
		errors.Is(err, holds.ErrAlreadyBorrowed),
		errors.Is(err, holds.ErrBookExists):
		code = http.StatusConflict
	case errors.Is(err, holds.ErrLoanLimitReached),
		errors.Is(err, holds.ErrOverdueLoans),
		errors.Is(err, holds.ErrInvalidStateTransition):
		code = http.StatusUnprocessableEntity
	}
	msg := holds.PublicReason(err)
	if errors.Is(err, holds.ErrBookExists) {
		msg = err.Error()
	}
	writeError(w, code, msg)
}

func (h *HoldsHandler) availability(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Cache != nil {
		if a, ok := h.Cache.Get(ctx, bookID); ok && !holdLapsed(a, h.Engine.Now()) {
			writeJSON(w, http.StatusOK, a)
			return
		}
	}
	a, err := h.Engine.Availability(ctx, bookID)
	if err != nil {
		fail(w, err)
		return
	}
	if h.Cache != nil {
		h.Cache.Put(ctx, a)
	}
	writeJSON(w, http.StatusOK, a)
}

// holdLapsed: a cached hold whose phase ended must be recomputed.
func holdLapsed(a holds.Availability, now time.Time) bool {
	return a.HoldUntil != nil && !now.Before(*a.HoldUntil)
}

func (h *HoldsHandler) join(w http.ResponseWriter, r *http.Request) {
	var req ReaderReq
	if !h.decode(w, r, &req) {
		return
	}
	bookID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	e, err := h.Engine.Join(ctx, bookID, req.UserID, holds.Tier(req.Tier))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *HoldsHandler) position(w http.ResponseWriter, r *http.Request) {
	e, err := h.Engine.Position(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userID"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *HoldsHandler) withdraw(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	e, err := h.Engine.Withdraw(ctx, chi.URLParam(r, "entryID"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *HoldsHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req ReaderReq
	if !h.decode(w, r, &req) {
		return
	}
	bookID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	idemKey := ""
	if k := r.Header.Get(headerIdempotencyKey); k != "" && h.Idem != nil {
		idemKey = req.UserID + ":" + k
		if co, ok := h.Idem.Lookup(ctx, idemKey); ok && co.BookID == bookID {
			writeJSON(w, http.StatusOK, co)
			return
		}
	}

	co, err := h.Engine.AuthorizeAndClaim(ctx, bookID, req.UserID, holds.Tier(req.Tier))
	if err != nil {
		fail(w, err)
		return
	}
	if idemKey != "" {
		h.Idem.Remember(ctx, idemKey, co)
	}
	writeJSON(w, http.StatusCreated, co)
}

func (h *HoldsHandler) returnBook(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	co, err := h.Engine.Return(ctx, bookID)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, co)
}

func (h *HoldsHandler) registerBook(w http.ResponseWriter, r *http.Request) {
	var req RegisterBookReq
	if !h.decode(w, r, &req) {
		return
	}
	b, err := h.Engine.RegisterBook(r.Context(), req.BookID)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *HoldsHandler) waitlist(w http.ResponseWriter, r *http.Request) {
	list, err := h.Engine.Waitlist(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, err)
		return
	}
	if list == nil {
		list = []holds.WaitlistEntry{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *HoldsHandler) deactivate(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "id")
	b, err := h.Engine.Deactivate(r.Context(), bookID)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *HoldsHandler) reactivate(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "id")
	b, err := h.Engine.Reactivate(r.Context(), bookID)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *HoldsHandler) sweep(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Engine.Sweep(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *HoldsHandler) getClock(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"now": h.Engine.Now()}
	if h.Clock != nil {
		_, pinned := h.Clock.Overridden()
		resp["simulated"] = pinned
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HoldsHandler) setClock(w http.ResponseWriter, r *http.Request) {
	if h.Clock == nil {
		writeError(w, http.StatusNotImplemented, "simulated clock disabled")
		return
	}
	var req SetClockReq
	if !h.decode(w, r, &req) {
		return
	}
	h.Clock.Override(req.Now)
	writeJSON(w, http.StatusOK, map[string]any{"now": h.Clock.Now(), "simulated": true})
}

func (h *HoldsHandler) clearClock(w http.ResponseWriter, r *http.Request) {
	if h.Clock == nil {
		writeError(w, http.StatusNotImplemented, "simulated clock disabled")
		return
	}
	h.Clock.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"now": h.Clock.Now(), "simulated": false})
}
