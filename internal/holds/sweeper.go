package holds

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type SweepReport struct {
	Expired  []WaitlistEntry `json:"expired"`
	Advanced []string        `json:"advanced"`
}

func (r SweepReport) Empty() bool { return len(r.Expired) == 0 && len(r.Advanced) == 0 }

// Sweep advances every held book. Running it again with nothing changed in
// between reports nothing. A failure on one book does not stop the others.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	ids, err := e.store.HeldBookIDs(ctx)
	if err != nil {
		return SweepReport{}, fmt.Errorf("sweep: list held books: %w", err)
	}

	var report SweepReport
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		expired, advanced, err := e.AdvanceHold(ctx, id)
		if err != nil {
			e.logger.Error("sweep: advance hold failed", logAttrBookID, id, logAttrError, err.Error())
			errs = append(errs, fmt.Errorf("book %s: %w", id, err))
			continue
		}
		report.Expired = append(report.Expired, expired...)
		if advanced {
			report.Advanced = append(report.Advanced, id)
		}
	}
	if !report.Empty() {
		e.logger.Info("sweep completed", "expired", len(report.Expired), "advanced", len(report.Advanced))
	}
	return report, errors.Join(errs...)
}

// Locker keeps concurrent API processes from sweeping at the same time.
// Correctness never depends on it; it only saves duplicate work.
type Locker interface {
	TryLock(ctx context.Context, ttl time.Duration) (release func(), ok bool, err error)
}

// Sweeper runs Sweep and MarkOverdue on a fixed interval.
type Sweeper struct {
	Engine   *Engine
	Interval time.Duration
	Locker   Locker // optional
	Logger   Logger
}

func (s *Sweeper) Run(ctx context.Context) error {
	if s.Interval <= 0 {
		return fmt.Errorf("sweeper: interval must be positive, got %s", s.Interval)
	}
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.RunOnce(ctx)
		}
	}
}

func (s *Sweeper) RunOnce(ctx context.Context) {
	if s.Locker != nil {
		release, ok, err := s.Locker.TryLock(ctx, s.Interval)
		if err != nil {
			s.log().Warn("sweeper: lock failed", logAttrError, err.Error())
			return
		}
		if !ok {
			return
		}
		defer release()
	}
	if _, err := s.Engine.Sweep(ctx); err != nil {
		s.log().Error("sweeper: sweep failed", logAttrError, err.Error())
	}
	if n, err := s.Engine.MarkOverdue(ctx); err != nil {
		s.log().Error("sweeper: overdue marking failed", logAttrError, err.Error())
	} else if n > 0 {
		s.log().Info("sweeper: checkouts marked overdue", "count", n)
	}
}

func (s *Sweeper) log() Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return s.Engine.logger
}
