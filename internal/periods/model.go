package periods

import (
	"errors"
	"time"
)

// FiscalYear owns an ordered set of accounting periods partitioning its range.
type FiscalYear struct {
	ID        int64
	Name      string
	StartDate time.Time
	EndDate   time.Time
	IsClosed  bool
	ClosedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
	Periods   []Period
}

// Period is one posting window inside a fiscal year, typically a month.
// Closing and locking are independent: a locked period refuses postings even
// while it is not formally closed.
type Period struct {
	ID           int64
	FiscalYearID int64
	Number       int
	StartDate    time.Time
	EndDate      time.Time
	IsClosed     bool
	ClosedAt     *time.Time
	LockedAt     *time.Time
	LockedBy     *int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Contains reports whether the date falls inside the period's range,
// boundaries included.
func (p Period) Contains(date time.Time) bool {
	return !date.Before(p.StartDate) && !date.After(p.EndDate)
}

// OpenForPosting reports whether the period itself accepts postings.
func (p Period) OpenForPosting() bool {
	return !p.IsClosed && p.LockedAt == nil
}

var (
	// ErrYearNotFound indicates the fiscal year does not exist.
	ErrYearNotFound = errors.New("periods: fiscal year not found")
	// ErrPeriodNotFound indicates the period does not exist.
	ErrPeriodNotFound = errors.New("periods: period not found")
	// ErrPartition indicates period ranges that do not exactly cover the year.
	ErrPartition = errors.New("periods: ranges must partition the fiscal year")
	// ErrOverlap indicates the year overlaps an existing one.
	ErrOverlap = errors.New("periods: fiscal year overlaps existing range")
	// ErrNotOpen indicates the date falls in no open period.
	ErrNotOpen = errors.New("periods: no open period for date")
	// ErrOutOfOrder indicates closing a period while an earlier one is open.
	ErrOutOfOrder = errors.New("periods: earlier period still open")
	// ErrHasDraftEntries indicates unposted entries dated inside the period.
	ErrHasDraftEntries = errors.New("periods: period has unposted entries")
	// ErrAlreadyClosed indicates a repeated close.
	ErrAlreadyClosed = errors.New("periods: period already closed")
	// ErrYearClosed indicates an operation on a closed fiscal year.
	ErrYearClosed = errors.New("periods: fiscal year closed")
	// ErrLockBusy indicates the close lock is held by another operation.
	ErrLockBusy = errors.New("periods: close already in progress")
	// ErrOpenPeriods indicates a year close attempted with open periods.
	ErrOpenPeriods = errors.New("periods: fiscal year has open periods")
)

// RangeInput is a caller-supplied period range.
type RangeInput struct {
	StartDate time.Time
	EndDate   time.Time
}

// CreateYearInput groups fields required to create a fiscal year. When
// Periods is empty, monthly periods are generated.
type CreateYearInput struct {
	Name      string
	StartDate time.Time
	EndDate   time.Time
	Periods   []RangeInput
}

// Validate checks basic coherence and the partition invariant: supplied
// ranges must contiguously cover the year with no gaps or overlaps.
func (in CreateYearInput) Validate() error {
	if in.Name == "" {
		return errors.New("periods: name required")
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() || in.StartDate.After(in.EndDate) {
		return errors.New("periods: invalid year range")
	}
	if len(in.Periods) == 0 {
		return nil
	}
	cursor := in.StartDate
	for _, r := range in.Periods {
		if !r.StartDate.Equal(cursor) {
			return ErrPartition
		}
		if r.EndDate.Before(r.StartDate) {
			return ErrPartition
		}
		cursor = r.EndDate.AddDate(0, 0, 1)
	}
	if !cursor.Equal(in.EndDate.AddDate(0, 0, 1)) {
		return ErrPartition
	}
	return nil
}

// MonthlyRanges splits [start, end] into calendar-month ranges, the default
// partition when callers supply none.
func MonthlyRanges(start, end time.Time) []RangeInput {
	var out []RangeInput
	cursor := start
	for !cursor.After(end) {
		next := time.Date(cursor.Year(), cursor.Month(), 1, 0, 0, 0, 0, cursor.Location()).AddDate(0, 1, 0)
		last := next.AddDate(0, 0, -1)
		if last.After(end) {
			last = end
		}
		out = append(out, RangeInput{StartDate: cursor, EndDate: last})
		cursor = last.AddDate(0, 0, 1)
	}
	return out
}
