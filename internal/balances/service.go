package balances

import (
	"context"
	"time"

	"github.com/grandlivre/grandlivre/internal/coa"
	"github.com/grandlivre/grandlivre/internal/periods"
)

// AccountDirectory resolves accounts and their subtrees in the chart.
type AccountDirectory interface {
	Get(ctx context.Context, code string) (coa.Account, error)
	SubtreeIDs(ctx context.Context, code string) ([]int64, error)
}

// PeriodDirectory resolves period identifiers to their date ranges.
type PeriodDirectory interface {
	GetPeriod(ctx context.Context, id int64) (periods.Period, error)
}

// Service answers balance and trial balance queries. Parent balances are
// computed by summing the account's subtree at read time, which yields the
// same results as incremental propagation up the tree.
type Service struct {
	repo     ReadRepository
	accounts AccountDirectory
	periods  PeriodDirectory
	now      func() time.Time
}

// NewService constructs the balance aggregator.
func NewService(repo ReadRepository, accounts AccountDirectory, periodDir PeriodDirectory) *Service {
	return &Service{repo: repo, accounts: accounts, periods: periodDir, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// BalanceAsOf returns the account's balance on its normal side at end of the
// given date: opening balance plus all posted movement up to and including
// the date, rolled up over the account's subtree.
func (s *Service) BalanceAsOf(ctx context.Context, code string, asOf time.Time) (AccountBalance, error) {
	account, err := s.accounts.Get(ctx, code)
	if err != nil {
		return AccountBalance{}, err
	}
	ids, err := s.accounts.SubtreeIDs(ctx, code)
	if err != nil {
		return AccountBalance{}, err
	}
	opening, err := s.repo.SubtreeOpening(ctx, ids)
	if err != nil {
		return AccountBalance{}, err
	}
	debit, credit, err := s.repo.SubtreeMovement(ctx, ids, asOf)
	if err != nil {
		return AccountBalance{}, err
	}
	balance := opening
	if account.NormalSide() == coa.SideDebit {
		balance += debit - credit
	} else {
		balance += credit - debit
	}
	return AccountBalance{
		AccountID:   account.ID,
		AccountCode: account.Code,
		Name:        account.Name,
		Type:        account.Type,
		Balance:     balance,
		AsOf:        asOf,
	}, nil
}

// CurrentBalance returns the incrementally maintained running balance for a
// single account. For leaf accounts this equals BalanceAsOf at "now".
func (s *Service) CurrentBalance(ctx context.Context, code string) (AccountBalance, error) {
	account, err := s.accounts.Get(ctx, code)
	if err != nil {
		return AccountBalance{}, err
	}
	balance, err := s.repo.CurrentBalance(ctx, account.ID)
	if err != nil {
		return AccountBalance{}, err
	}
	return AccountBalance{
		AccountID:   account.ID,
		AccountCode: account.Code,
		Name:        account.Name,
		Type:        account.Type,
		Balance:     balance,
		AsOf:        s.now(),
	}, nil
}

// TrialBalanceForPeriod builds the trial balance over one accounting period.
func (s *Service) TrialBalanceForPeriod(ctx context.Context, periodID int64) (TrialBalance, error) {
	period, err := s.periods.GetPeriod(ctx, periodID)
	if err != nil {
		return TrialBalance{}, err
	}
	movements, err := s.repo.PeriodMovements(ctx, period.StartDate, period.EndDate)
	if err != nil {
		return TrialBalance{}, err
	}
	return BuildTrialBalance(movements), nil
}

// ResultMovements returns revenue and expense activity over a date range,
// used by the fiscal year closer to build closing entries.
func (s *Service) ResultMovements(ctx context.Context, start, end time.Time) ([]Movement, error) {
	return s.repo.YearMovements(ctx, start, end, []coa.AccountType{coa.AccountTypeRevenue, coa.AccountTypeExpense})
}
