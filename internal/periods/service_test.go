package periods

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryPeriodsRepo struct {
	years    map[int64]FiscalYear
	periods  map[int64]Period
	unposted []time.Time
	nextID   int64
}

func newMemoryPeriodsRepo() *memoryPeriodsRepo {
	return &memoryPeriodsRepo{
		years:   make(map[int64]FiscalYear),
		periods: make(map[int64]Period),
	}
}

func (r *memoryPeriodsRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryPeriodsTx{repo: r})
}

type memoryPeriodsTx struct {
	repo *memoryPeriodsRepo
}

func (tx *memoryPeriodsTx) InsertFiscalYear(ctx context.Context, year FiscalYear) (FiscalYear, error) {
	tx.repo.nextID++
	year.ID = tx.repo.nextID
	stored := year
	stored.Periods = nil
	tx.repo.years[year.ID] = stored
	return year, nil
}

func (tx *memoryPeriodsTx) InsertPeriod(ctx context.Context, p Period) (Period, error) {
	tx.repo.nextID++
	p.ID = tx.repo.nextID
	tx.repo.periods[p.ID] = p
	return p, nil
}

func (tx *memoryPeriodsTx) GetFiscalYear(ctx context.Context, id int64) (FiscalYear, error) {
	y, ok := tx.repo.years[id]
	if !ok {
		return FiscalYear{}, ErrYearNotFound
	}
	return y, nil
}

func (tx *memoryPeriodsTx) GetFiscalYearForUpdate(ctx context.Context, id int64) (FiscalYear, error) {
	return tx.GetFiscalYear(ctx, id)
}

func (tx *memoryPeriodsTx) ListFiscalYears(ctx context.Context) ([]FiscalYear, error) {
	var out []FiscalYear
	for _, y := range tx.repo.years {
		out = append(out, y)
	}
	return out, nil
}

func (tx *memoryPeriodsTx) ListPeriods(ctx context.Context, yearID int64) ([]Period, error) {
	var out []Period
	for _, p := range tx.repo.periods {
		if p.FiscalYearID == yearID {
			out = append(out, p)
		}
	}
	for i := range out {
		for j := i + 1; j < len(out); j++ {
			if out[j].Number < out[i].Number {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (tx *memoryPeriodsTx) GetPeriod(ctx context.Context, id int64) (Period, error) {
	p, ok := tx.repo.periods[id]
	if !ok {
		return Period{}, ErrPeriodNotFound
	}
	return p, nil
}

func (tx *memoryPeriodsTx) GetPeriodForUpdate(ctx context.Context, id int64) (Period, error) {
	return tx.GetPeriod(ctx, id)
}

func (tx *memoryPeriodsTx) FindPeriodByDate(ctx context.Context, date time.Time) (Period, error) {
	for _, p := range tx.repo.periods {
		if p.Contains(date) {
			return p, nil
		}
	}
	return Period{}, ErrPeriodNotFound
}

func (tx *memoryPeriodsTx) YearRangeConflict(ctx context.Context, start, end time.Time) (bool, error) {
	for _, y := range tx.repo.years {
		if !y.StartDate.After(end) && !y.EndDate.Before(start) {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryPeriodsTx) UpdatePeriod(ctx context.Context, p Period) error {
	if _, ok := tx.repo.periods[p.ID]; !ok {
		return ErrPeriodNotFound
	}
	tx.repo.periods[p.ID] = p
	return nil
}

func (tx *memoryPeriodsTx) MarkYearClosed(ctx context.Context, yearID int64, at time.Time) error {
	y, ok := tx.repo.years[yearID]
	if !ok {
		return ErrYearNotFound
	}
	y.IsClosed = true
	y.ClosedAt = &at
	tx.repo.years[yearID] = y
	return nil
}

func (tx *memoryPeriodsTx) CountUnpostedInRange(ctx context.Context, start, end time.Time) (int, error) {
	count := 0
	for _, d := range tx.repo.unposted {
		if !d.Before(start) && !d.After(end) {
			count++
		}
	}
	return count, nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestRegistry() (*Service, *memoryPeriodsRepo) {
	repo := newMemoryPeriodsRepo()
	svc := NewService(repo, nil, nil)
	svc.WithNow(func() time.Time { return date(2024, time.June, 15) })
	return svc, repo
}

func mustCreateYear(t *testing.T, svc *Service) FiscalYear {
	t.Helper()
	year, err := svc.CreateFiscalYear(context.Background(), CreateYearInput{
		Name:      "FY2024",
		StartDate: date(2024, time.January, 1),
		EndDate:   date(2024, time.December, 31),
	})
	require.NoError(t, err)
	require.Len(t, year.Periods, 12)
	return year
}

func TestCreateFiscalYearGeneratesMonthlyPartition(t *testing.T) {
	svc, _ := newTestRegistry()
	year := mustCreateYear(t, svc)

	require.Equal(t, date(2024, time.January, 1), year.Periods[0].StartDate)
	require.Equal(t, date(2024, time.January, 31), year.Periods[0].EndDate)
	require.Equal(t, date(2024, time.February, 1), year.Periods[1].StartDate)
	require.Equal(t, date(2024, time.February, 29), year.Periods[1].EndDate)
	require.Equal(t, date(2024, time.December, 31), year.Periods[11].EndDate)
}

func TestCreateFiscalYearRejectsBadPartition(t *testing.T) {
	svc, _ := newTestRegistry()

	// Gap between the two ranges.
	_, err := svc.CreateFiscalYear(context.Background(), CreateYearInput{
		Name:      "FY2025",
		StartDate: date(2025, time.January, 1),
		EndDate:   date(2025, time.December, 31),
		Periods: []RangeInput{
			{StartDate: date(2025, time.January, 1), EndDate: date(2025, time.June, 29)},
			{StartDate: date(2025, time.July, 1), EndDate: date(2025, time.December, 31)},
		},
	})
	require.ErrorIs(t, err, ErrPartition)

	// Short coverage.
	_, err = svc.CreateFiscalYear(context.Background(), CreateYearInput{
		Name:      "FY2025",
		StartDate: date(2025, time.January, 1),
		EndDate:   date(2025, time.December, 31),
		Periods: []RangeInput{
			{StartDate: date(2025, time.January, 1), EndDate: date(2025, time.June, 30)},
		},
	})
	require.ErrorIs(t, err, ErrPartition)
}

func TestCreateFiscalYearRejectsOverlap(t *testing.T) {
	svc, _ := newTestRegistry()
	mustCreateYear(t, svc)

	_, err := svc.CreateFiscalYear(context.Background(), CreateYearInput{
		Name:      "FY2024bis",
		StartDate: date(2024, time.July, 1),
		EndDate:   date(2025, time.June, 30),
	})
	require.ErrorIs(t, err, ErrOverlap)
}

func TestIsOpenForPosting(t *testing.T) {
	svc, _ := newTestRegistry()
	year := mustCreateYear(t, svc)
	ctx := context.Background()

	open, err := svc.IsOpenForPosting(ctx, date(2024, time.March, 10))
	require.NoError(t, err)
	require.True(t, open)

	// Outside any period.
	open, err = svc.IsOpenForPosting(ctx, date(2023, time.March, 10))
	require.NoError(t, err)
	require.False(t, open)

	// Locked period refuses postings even though not closed.
	_, err = svc.LockPeriod(ctx, year.Periods[2].ID, 1)
	require.NoError(t, err)
	open, err = svc.IsOpenForPosting(ctx, date(2024, time.March, 10))
	require.NoError(t, err)
	require.False(t, open)

	_, err = svc.UnlockPeriod(ctx, year.Periods[2].ID, 1)
	require.NoError(t, err)
	open, err = svc.IsOpenForPosting(ctx, date(2024, time.March, 10))
	require.NoError(t, err)
	require.True(t, open)
}

func TestClosePeriodEnforcesCalendarOrder(t *testing.T) {
	svc, _ := newTestRegistry()
	year := mustCreateYear(t, svc)
	ctx := context.Background()

	_, err := svc.ClosePeriod(ctx, year.Periods[1].ID, 1)
	require.ErrorIs(t, err, ErrOutOfOrder)

	_, err = svc.ClosePeriod(ctx, year.Periods[0].ID, 1)
	require.NoError(t, err)

	closed, err := svc.ClosePeriod(ctx, year.Periods[1].ID, 1)
	require.NoError(t, err)
	require.True(t, closed.IsClosed)

	_, err = svc.ClosePeriod(ctx, year.Periods[1].ID, 1)
	require.ErrorIs(t, err, ErrAlreadyClosed)
}

func TestClosePeriodRejectsUnpostedEntries(t *testing.T) {
	svc, repo := newTestRegistry()
	year := mustCreateYear(t, svc)
	ctx := context.Background()

	repo.unposted = []time.Time{date(2024, time.January, 15)}
	_, err := svc.ClosePeriod(ctx, year.Periods[0].ID, 1)
	require.ErrorIs(t, err, ErrHasDraftEntries)

	repo.unposted = nil
	_, err = svc.ClosePeriod(ctx, year.Periods[0].ID, 1)
	require.NoError(t, err)

	open, err := svc.IsOpenForPosting(ctx, date(2024, time.January, 15))
	require.NoError(t, err)
	require.False(t, open)
}

func TestMarkFiscalYearClosedRequiresAllPeriodsClosed(t *testing.T) {
	svc, _ := newTestRegistry()
	year := mustCreateYear(t, svc)
	ctx := context.Background()

	_, err := svc.MarkFiscalYearClosed(ctx, year.ID, 1)
	require.ErrorIs(t, err, ErrOpenPeriods)

	for _, p := range year.Periods {
		_, err = svc.ClosePeriod(ctx, p.ID, 1)
		require.NoError(t, err)
	}

	closed, err := svc.MarkFiscalYearClosed(ctx, year.ID, 1)
	require.NoError(t, err)
	require.True(t, closed.IsClosed)

	_, err = svc.MarkFiscalYearClosed(ctx, year.ID, 1)
	require.ErrorIs(t, err, ErrYearClosed)
}
