package closing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grandlivre/grandlivre/internal/balances"
	"github.com/grandlivre/grandlivre/internal/coa"
	"github.com/grandlivre/grandlivre/internal/journal"
	"github.com/grandlivre/grandlivre/internal/periods"
	"github.com/grandlivre/grandlivre/internal/shared"
)

type memoryRegistry struct {
	years map[int64]periods.FiscalYear
}

func (r *memoryRegistry) GetFiscalYear(_ context.Context, id int64) (periods.FiscalYear, error) {
	year, ok := r.years[id]
	if !ok {
		return periods.FiscalYear{}, periods.ErrYearNotFound
	}
	return year, nil
}

func (r *memoryRegistry) MarkFiscalYearClosed(_ context.Context, yearID, _ int64) (periods.FiscalYear, error) {
	year, ok := r.years[yearID]
	if !ok {
		return periods.FiscalYear{}, periods.ErrYearNotFound
	}
	if year.IsClosed {
		return periods.FiscalYear{}, periods.ErrYearClosed
	}
	now := time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC)
	year.IsClosed = true
	year.ClosedAt = &now
	r.years[yearID] = year
	return year, nil
}

// memoryResults keeps the year's result per account and nets swept accounts
// to zero as the poster records entries, mimicking replay over posted lines.
type memoryResults struct {
	movements map[string]balances.Movement
}

func (r *memoryResults) ResultMovements(_ context.Context, _, _ time.Time) ([]balances.Movement, error) {
	out := make([]balances.Movement, 0, len(r.movements))
	for _, code := range []string{"601", "602", "701", "702"} {
		if m, ok := r.movements[code]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

type recordingPoster struct {
	results *memoryResults
	entries []journal.PostingInput
	failOn  string
	nextID  int64
}

func (p *recordingPoster) CreateAndPost(_ context.Context, in journal.PostingInput, _ int64, opts ...journal.PostOption) (journal.Entry, error) {
	if len(in.Lines) != 2 {
		return journal.Entry{}, journal.ErrTooFewLines
	}
	target := in.Lines[0].AccountCode
	if target == p.failOn {
		return journal.Entry{}, errors.New("poster: simulated outage")
	}
	if err := in.Validate(); err != nil {
		return journal.Entry{}, err
	}
	p.entries = append(p.entries, in)
	// Sweeping zeroes the account's result for subsequent replays.
	m := p.results.movements[target]
	m.Debit += in.Lines[0].Debit
	m.Credit += in.Lines[0].Credit
	p.results.movements[target] = m
	p.nextID++
	return journal.Entry{ID: p.nextID, Number: "JE-CLOSE", Status: journal.StatusPosted}, nil
}

type memoryAccounts struct {
	accounts map[string]coa.Account
}

func (d *memoryAccounts) Get(_ context.Context, code string) (coa.Account, error) {
	account, ok := d.accounts[code]
	if !ok {
		return coa.Account{}, coa.ErrNotFound
	}
	return account, nil
}

func closedPeriod(n int) periods.Period {
	return periods.Period{Number: n, IsClosed: true}
}

func newClosingFixture() (*Service, *memoryRegistry, *recordingPoster) {
	registry := &memoryRegistry{years: map[int64]periods.FiscalYear{
		1: {
			ID:        1,
			Name:      "FY2024",
			StartDate: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC),
			Periods:   []periods.Period{closedPeriod(1), closedPeriod(2)},
		},
	}}
	results := &memoryResults{movements: map[string]balances.Movement{
		"601": {AccountCode: "601", Type: coa.AccountTypeExpense, Debit: 40000},
		"602": {AccountCode: "602", Type: coa.AccountTypeExpense, Debit: 0, Credit: 0},
		"701": {AccountCode: "701", Type: coa.AccountTypeRevenue, Credit: 100000},
	}}
	poster := &recordingPoster{results: results}
	accounts := &memoryAccounts{accounts: map[string]coa.Account{
		"118": {Code: "118", Type: coa.AccountTypeEquity, IsActive: true, AllowNegative: true},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(logger, registry, results, poster, accounts, shared.NewCloseLock(nil, 0), "118")
	return svc, registry, poster
}

func TestCloseFiscalYearSweepsResultAccounts(t *testing.T) {
	svc, registry, poster := newClosingFixture()

	result, err := svc.CloseFiscalYear(context.Background(), 1, 7)
	require.NoError(t, err)

	// One entry per account with activity; the zero-activity account skipped.
	require.Equal(t, 2, result.EntriesPosted)
	require.Len(t, poster.entries, 2)
	require.Equal(t, int64(60000), result.NetResult)
	require.True(t, registry.years[1].IsClosed)

	// Expense sweep credits the account; revenue sweep debits it.
	expense := poster.entries[0]
	require.Equal(t, "601", expense.Lines[0].AccountCode)
	require.Equal(t, int64(40000), expense.Lines[0].Credit)
	require.Equal(t, "118", expense.Lines[1].AccountCode)
	require.Equal(t, int64(40000), expense.Lines[1].Debit)

	revenue := poster.entries[1]
	require.Equal(t, int64(100000), revenue.Lines[0].Debit)
	require.Equal(t, int64(100000), revenue.Lines[1].Credit)

	// Closing entries land on the year's last day.
	require.Equal(t, registry.years[1].EndDate, expense.Date)
}

func TestCloseFiscalYearSweepsOpeningBalances(t *testing.T) {
	svc, _, poster := newClosingFixture()

	// A result account with no activity but a nonzero opening balance still
	// gets a closing entry; the sweep zeroes the balance, not the movement.
	poster.results.movements["702"] = balances.Movement{AccountCode: "702", Type: coa.AccountTypeRevenue, Opening: 25000}

	result, err := svc.CloseFiscalYear(context.Background(), 1, 7)
	require.NoError(t, err)
	require.Equal(t, 3, result.EntriesPosted)
	require.Equal(t, int64(85000), result.NetResult)

	var sweep journal.PostingInput
	for _, e := range poster.entries {
		if e.Lines[0].AccountCode == "702" {
			sweep = e
		}
	}
	require.Equal(t, int64(25000), sweep.Lines[0].Debit)
	require.Equal(t, "118", sweep.Lines[1].AccountCode)
	require.Equal(t, int64(25000), sweep.Lines[1].Credit)
}

func TestCloseFiscalYearRequiresClosedPeriods(t *testing.T) {
	svc, registry, _ := newClosingFixture()
	year := registry.years[1]
	year.Periods = append(year.Periods, periods.Period{Number: 3})
	registry.years[1] = year

	_, err := svc.CloseFiscalYear(context.Background(), 1, 7)
	require.ErrorIs(t, err, periods.ErrOpenPeriods)
}

func TestCloseFiscalYearIdempotentGuards(t *testing.T) {
	svc, _, _ := newClosingFixture()
	ctx := context.Background()

	_, err := svc.CloseFiscalYear(ctx, 1, 7)
	require.NoError(t, err)

	_, err = svc.CloseFiscalYear(ctx, 1, 7)
	require.ErrorIs(t, err, periods.ErrYearClosed)

	_, err = svc.CloseFiscalYear(ctx, 9, 7)
	require.ErrorIs(t, err, periods.ErrYearNotFound)
}

func TestCloseFiscalYearRetainedEarningsChecks(t *testing.T) {
	svc, _, _ := newClosingFixture()
	svc.retainedEarningsCode = "999"

	_, err := svc.CloseFiscalYear(context.Background(), 1, 7)
	require.ErrorIs(t, err, ErrRetainedEarnings)
}

func TestCloseFiscalYearResumesAfterPartialFailure(t *testing.T) {
	svc, registry, poster := newClosingFixture()
	ctx := context.Background()

	// First run sweeps 601 then dies on 701.
	poster.failOn = "701"
	result, err := svc.CloseFiscalYear(ctx, 1, 7)
	require.Error(t, err)
	require.Equal(t, 1, result.EntriesPosted)
	require.False(t, registry.years[1].IsClosed)

	// Retry skips the already-swept expense account and finishes.
	poster.failOn = ""
	result, err = svc.CloseFiscalYear(ctx, 1, 7)
	require.NoError(t, err)
	require.Equal(t, 1, result.EntriesPosted)
	require.Len(t, poster.entries, 2)
	require.True(t, registry.years[1].IsClosed)
}
