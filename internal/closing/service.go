// Package closing runs the fiscal year close: it sweeps every revenue and
// expense account's result into retained earnings, then marks the year
// closed in the period registry.
package closing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/grandlivre/grandlivre/internal/balances"
	"github.com/grandlivre/grandlivre/internal/coa"
	"github.com/grandlivre/grandlivre/internal/journal"
	"github.com/grandlivre/grandlivre/internal/periods"
	"github.com/grandlivre/grandlivre/internal/shared"
)

// YearRegistry is the slice of the period registry the closer needs.
type YearRegistry interface {
	GetFiscalYear(ctx context.Context, id int64) (periods.FiscalYear, error)
	MarkFiscalYearClosed(ctx context.Context, yearID, actorID int64) (periods.FiscalYear, error)
}

// ResultSource reports revenue and expense activity over the year.
type ResultSource interface {
	ResultMovements(ctx context.Context, start, end time.Time) ([]balances.Movement, error)
}

// Poster posts the closing entries through the journal.
type Poster interface {
	CreateAndPost(ctx context.Context, in journal.PostingInput, actorID int64, opts ...journal.PostOption) (journal.Entry, error)
}

// AccountDirectory resolves the retained earnings account.
type AccountDirectory interface {
	Get(ctx context.Context, code string) (coa.Account, error)
}

// ErrRetainedEarnings indicates the configured retained earnings account is
// missing, inactive, or not an equity account.
var ErrRetainedEarnings = errors.New("closing: retained earnings account unusable")

// Result summarizes one close run.
type Result struct {
	YearID        int64
	Year          periods.FiscalYear
	EntriesPosted int
	EntryIDs      []int64
	NetResult     int64
	ClosedAt      time.Time
}

// Service closes fiscal years. A run is resumable: accounts whose result is
// already zero (including those swept by an earlier interrupted run) are
// skipped, so retrying after a partial failure finishes the remainder.
type Service struct {
	registry YearRegistry
	results  ResultSource
	poster   Poster
	accounts AccountDirectory
	lock     *shared.CloseLock
	logger   *slog.Logger

	retainedEarningsCode string
	now                  func() time.Time
}

// NewService constructs the fiscal year closer. retainedEarningsCode names
// the equity account that receives the year's result.
func NewService(logger *slog.Logger, registry YearRegistry, results ResultSource, poster Poster, accounts AccountDirectory, lock *shared.CloseLock, retainedEarningsCode string) *Service {
	return &Service{
		registry:             registry,
		results:              results,
		poster:               poster,
		accounts:             accounts,
		lock:                 lock,
		logger:               logger,
		retainedEarningsCode: retainedEarningsCode,
		now:                  time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CloseFiscalYear sweeps result accounts and closes the year. Every period
// in the year must already be closed; the closing entries themselves are
// posted into the final period under the closed-period override, dated the
// year's last day.
func (s *Service) CloseFiscalYear(ctx context.Context, yearID, actorID int64) (Result, error) {
	key := shared.YearLockKey(yearID)
	if err := s.lock.Acquire(ctx, key); err != nil {
		if errors.Is(err, shared.ErrLockHeld) {
			return Result{}, periods.ErrLockBusy
		}
		return Result{}, err
	}
	defer s.lock.Release(ctx, key)

	year, err := s.registry.GetFiscalYear(ctx, yearID)
	if err != nil {
		return Result{}, err
	}
	if year.IsClosed {
		return Result{}, periods.ErrYearClosed
	}
	for _, p := range year.Periods {
		if !p.IsClosed {
			return Result{}, periods.ErrOpenPeriods
		}
	}

	retained, err := s.accounts.Get(ctx, s.retainedEarningsCode)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrRetainedEarnings, s.retainedEarningsCode)
	}
	if !retained.IsActive || retained.Type != coa.AccountTypeEquity {
		return Result{}, fmt.Errorf("%w: %s", ErrRetainedEarnings, retained.Code)
	}

	movements, err := s.results.ResultMovements(ctx, year.StartDate, year.EndDate)
	if err != nil {
		return Result{}, err
	}

	result := Result{YearID: yearID}
	for _, m := range movements {
		// Opening balances count: the sweep zeroes the account's balance,
		// not just its movement.
		net := m.NetDebit()
		if net == 0 {
			// Already swept, or genuinely nothing to sweep.
			continue
		}
		lines := sweepLines(m, retained.Code, net)
		entry, err := s.poster.CreateAndPost(ctx, journal.PostingInput{
			Date:        year.EndDate,
			Description: fmt.Sprintf("Year-end close %s: %s", year.Name, m.AccountCode),
			Lines:       lines,
		}, actorID, journal.AllowClosedPeriod())
		if err != nil {
			// Entries posted so far stand; a retry skips their accounts.
			return result, fmt.Errorf("closing: sweep %s: %w", m.AccountCode, err)
		}
		result.EntriesPosted++
		result.EntryIDs = append(result.EntryIDs, entry.ID)
		result.NetResult -= net
		s.logger.Info("closing entry posted",
			slog.String("account", m.AccountCode),
			slog.String("entry", entry.Number),
			slog.Int64("net", net))
	}

	closed, err := s.registry.MarkFiscalYearClosed(ctx, yearID, actorID)
	if err != nil {
		return result, err
	}
	result.Year = closed
	if closed.ClosedAt != nil {
		result.ClosedAt = *closed.ClosedAt
	}
	return result, nil
}

// sweepLines builds the two legs that zero the account's result against
// retained earnings. net is the account's balance expressed on the debit
// side, opening included.
func sweepLines(m balances.Movement, retainedCode string, net int64) []journal.LineInput {
	if net > 0 {
		// Net debit balance (expenses): credit it away, debit equity.
		return []journal.LineInput{
			{AccountCode: m.AccountCode, Credit: net, Description: "Result sweep"},
			{AccountCode: retainedCode, Debit: net, Description: "Result sweep"},
		}
	}
	return []journal.LineInput{
		{AccountCode: m.AccountCode, Debit: -net, Description: "Result sweep"},
		{AccountCode: retainedCode, Credit: -net, Description: "Result sweep"},
	}
}
