package periods

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/grandlivre/grandlivre/internal/shared"
)

// AuditPort records registry events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts registry outcomes.
type MetricsPort interface {
	PeriodClosed()
}

// Service owns fiscal years, their periods, and the close/lock lifecycle.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	lock    *shared.CloseLock
	metrics MetricsPort
	now     func() time.Time
}

// NewService constructs the period registry service.
func NewService(repo RepositoryPort, audit AuditPort, lock *shared.CloseLock) *Service {
	return &Service{repo: repo, audit: audit, lock: lock, now: time.Now}
}

// WithMetrics attaches outcome counters.
func (s *Service) WithMetrics(metrics MetricsPort) {
	s.metrics = metrics
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateFiscalYear inserts a year and its period partition. When the input
// supplies no ranges, calendar months are generated.
func (s *Service) CreateFiscalYear(ctx context.Context, in CreateYearInput) (FiscalYear, error) {
	if err := in.Validate(); err != nil {
		return FiscalYear{}, err
	}
	ranges := in.Periods
	if len(ranges) == 0 {
		ranges = MonthlyRanges(in.StartDate, in.EndDate)
	}
	var year FiscalYear
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		conflict, err := tx.YearRangeConflict(ctx, in.StartDate, in.EndDate)
		if err != nil {
			return err
		}
		if conflict {
			return ErrOverlap
		}
		inserted, err := tx.InsertFiscalYear(ctx, FiscalYear{Name: in.Name, StartDate: in.StartDate, EndDate: in.EndDate})
		if err != nil {
			return err
		}
		for idx, r := range ranges {
			p, err := tx.InsertPeriod(ctx, Period{
				FiscalYearID: inserted.ID,
				Number:       idx + 1,
				StartDate:    r.StartDate,
				EndDate:      r.EndDate,
			})
			if err != nil {
				return err
			}
			inserted.Periods = append(inserted.Periods, p)
		}
		year = inserted
		return nil
	})
	if err != nil {
		return FiscalYear{}, err
	}
	return year, nil
}

// GetFiscalYear returns a year with its periods.
func (s *Service) GetFiscalYear(ctx context.Context, id int64) (FiscalYear, error) {
	var year FiscalYear
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		y, err := tx.GetFiscalYear(ctx, id)
		if err != nil {
			return err
		}
		y.Periods, err = tx.ListPeriods(ctx, id)
		if err != nil {
			return err
		}
		year = y
		return nil
	})
	return year, err
}

// GetPeriod returns a single period by identifier.
func (s *Service) GetPeriod(ctx context.Context, id int64) (Period, error) {
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var e error
		period, e = tx.GetPeriod(ctx, id)
		return e
	})
	return period, err
}

// ListFiscalYears returns all years ordered by start date, without periods.
func (s *Service) ListFiscalYears(ctx context.Context) ([]FiscalYear, error) {
	var years []FiscalYear
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var e error
		years, e = tx.ListFiscalYears(ctx)
		return e
	})
	return years, err
}

// IsOpenForPosting reports whether the date falls inside a period that
// accepts postings: the year is not closed, the period is not closed, and
// no audit lock is held on it.
func (s *Service) IsOpenForPosting(ctx context.Context, date time.Time) (bool, error) {
	var open bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.FindPeriodByDate(ctx, date)
		if err != nil {
			if errors.Is(err, ErrPeriodNotFound) {
				return nil
			}
			return err
		}
		if !period.OpenForPosting() {
			return nil
		}
		year, err := tx.GetFiscalYear(ctx, period.FiscalYearID)
		if err != nil {
			return err
		}
		open = !year.IsClosed
		return nil
	})
	return open, err
}

// ClosePeriod flips a period to closed. Periods close in calendar order
// within their year, and a period with unposted entries cannot close.
func (s *Service) ClosePeriod(ctx context.Context, periodID, actorID int64) (Period, error) {
	key := shared.PeriodLockKey(periodID)
	if err := s.lock.Acquire(ctx, key); err != nil {
		if errors.Is(err, shared.ErrLockHeld) {
			return Period{}, ErrLockBusy
		}
		return Period{}, err
	}
	defer s.lock.Release(ctx, key)

	var closed Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetPeriodForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if period.IsClosed {
			return ErrAlreadyClosed
		}
		year, err := tx.GetFiscalYearForUpdate(ctx, period.FiscalYearID)
		if err != nil {
			return err
		}
		if year.IsClosed {
			return ErrYearClosed
		}
		siblings, err := tx.ListPeriods(ctx, period.FiscalYearID)
		if err != nil {
			return err
		}
		for _, sibling := range siblings {
			if sibling.Number < period.Number && !sibling.IsClosed {
				return ErrOutOfOrder
			}
		}
		pending, err := tx.CountUnpostedInRange(ctx, period.StartDate, period.EndDate)
		if err != nil {
			return err
		}
		if pending > 0 {
			return ErrHasDraftEntries
		}
		now := s.now()
		period.IsClosed = true
		period.ClosedAt = &now
		if err := tx.UpdatePeriod(ctx, period); err != nil {
			return err
		}
		closed = period
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	if s.metrics != nil {
		s.metrics.PeriodClosed()
	}
	s.recordAudit(ctx, actorID, "period.close", closed.ID, nil)
	return closed, nil
}

// LockPeriod freezes a period for audit without closing it. Posting into a
// locked period fails until it is unlocked.
func (s *Service) LockPeriod(ctx context.Context, periodID, actorID int64) (Period, error) {
	var locked Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetPeriodForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if period.LockedAt != nil {
			locked = period
			return nil
		}
		now := s.now()
		period.LockedAt = &now
		period.LockedBy = &actorID
		if err := tx.UpdatePeriod(ctx, period); err != nil {
			return err
		}
		locked = period
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	s.recordAudit(ctx, actorID, "period.lock", locked.ID, nil)
	return locked, nil
}

// UnlockPeriod releases an audit lock.
func (s *Service) UnlockPeriod(ctx context.Context, periodID, actorID int64) (Period, error) {
	var unlocked Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetPeriodForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		period.LockedAt = nil
		period.LockedBy = nil
		if err := tx.UpdatePeriod(ctx, period); err != nil {
			return err
		}
		unlocked = period
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	s.recordAudit(ctx, actorID, "period.unlock", unlocked.ID, nil)
	return unlocked, nil
}

// MarkFiscalYearClosed flips a year to closed once every period in it is
// closed. The fiscal year closer calls this after posting closing entries.
func (s *Service) MarkFiscalYearClosed(ctx context.Context, yearID, actorID int64) (FiscalYear, error) {
	var year FiscalYear
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		y, err := tx.GetFiscalYearForUpdate(ctx, yearID)
		if err != nil {
			return err
		}
		if y.IsClosed {
			return ErrYearClosed
		}
		periods, err := tx.ListPeriods(ctx, yearID)
		if err != nil {
			return err
		}
		for _, p := range periods {
			if !p.IsClosed {
				return ErrOpenPeriods
			}
		}
		now := s.now()
		if err := tx.MarkYearClosed(ctx, yearID, now); err != nil {
			return err
		}
		y.IsClosed = true
		y.ClosedAt = &now
		y.Periods = periods
		year = y
		return nil
	})
	if err != nil {
		return FiscalYear{}, err
	}
	s.recordAudit(ctx, actorID, "fiscal_year.close", year.ID, nil)
	return year, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "accounting_period",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
		At:       s.now(),
	})
}
