package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grandlivre/grandlivre/internal/platform/db"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes period registry operations inside a transaction.
type TxRepository interface {
	InsertFiscalYear(ctx context.Context, year FiscalYear) (FiscalYear, error)
	InsertPeriod(ctx context.Context, p Period) (Period, error)
	GetFiscalYear(ctx context.Context, id int64) (FiscalYear, error)
	GetFiscalYearForUpdate(ctx context.Context, id int64) (FiscalYear, error)
	ListFiscalYears(ctx context.Context) ([]FiscalYear, error)
	ListPeriods(ctx context.Context, yearID int64) ([]Period, error)
	GetPeriod(ctx context.Context, id int64) (Period, error)
	GetPeriodForUpdate(ctx context.Context, id int64) (Period, error)
	FindPeriodByDate(ctx context.Context, date time.Time) (Period, error)
	YearRangeConflict(ctx context.Context, start, end time.Time) (bool, error)
	UpdatePeriod(ctx context.Context, p Period) error
	MarkYearClosed(ctx context.Context, yearID int64, at time.Time) error
	CountUnpostedInRange(ctx context.Context, start, end time.Time) (int, error)
}

// Repository persists fiscal years and periods in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("periods repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const yearColumns = `id, name, start_date, end_date, is_closed, closed_at, created_at, updated_at`
const periodColumns = `id, fiscal_year_id, number, start_date, end_date, is_closed, closed_at, locked_at, locked_by, created_at, updated_at`

func scanYear(row pgx.Row) (FiscalYear, error) {
	var y FiscalYear
	err := row.Scan(&y.ID, &y.Name, &y.StartDate, &y.EndDate, &y.IsClosed, &y.ClosedAt, &y.CreatedAt, &y.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FiscalYear{}, ErrYearNotFound
		}
		return FiscalYear{}, err
	}
	return y, nil
}

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.FiscalYearID, &p.Number, &p.StartDate, &p.EndDate, &p.IsClosed, &p.ClosedAt, &p.LockedAt, &p.LockedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}

func (r *txRepository) InsertFiscalYear(ctx context.Context, year FiscalYear) (FiscalYear, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO fiscal_years (name, start_date, end_date) VALUES ($1,$2,$3) RETURNING id, created_at, updated_at`,
		year.Name, year.StartDate, year.EndDate)
	inserted := year
	if err := row.Scan(&inserted.ID, &inserted.CreatedAt, &inserted.UpdatedAt); err != nil {
		return FiscalYear{}, err
	}
	return inserted, nil
}

func (r *txRepository) InsertPeriod(ctx context.Context, p Period) (Period, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO accounting_periods (fiscal_year_id, number, start_date, end_date) VALUES ($1,$2,$3,$4) RETURNING id, created_at, updated_at`,
		p.FiscalYearID, p.Number, p.StartDate, p.EndDate)
	inserted := p
	if err := row.Scan(&inserted.ID, &inserted.CreatedAt, &inserted.UpdatedAt); err != nil {
		return Period{}, err
	}
	return inserted, nil
}

func (r *txRepository) GetFiscalYear(ctx context.Context, id int64) (FiscalYear, error) {
	return scanYear(r.tx.QueryRow(ctx, `SELECT `+yearColumns+` FROM fiscal_years WHERE id=$1`, id))
}

func (r *txRepository) GetFiscalYearForUpdate(ctx context.Context, id int64) (FiscalYear, error) {
	return scanYear(r.tx.QueryRow(ctx, `SELECT `+yearColumns+` FROM fiscal_years WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) ListFiscalYears(ctx context.Context) ([]FiscalYear, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+yearColumns+` FROM fiscal_years ORDER BY start_date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var years []FiscalYear
	for rows.Next() {
		y, err := scanYear(rows)
		if err != nil {
			return nil, err
		}
		years = append(years, y)
	}
	return years, rows.Err()
}

func (r *txRepository) ListPeriods(ctx context.Context, yearID int64) ([]Period, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE fiscal_year_id=$1 ORDER BY number`, yearID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *txRepository) GetPeriod(ctx context.Context, id int64) (Period, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE id=$1`, id))
}

func (r *txRepository) GetPeriodForUpdate(ctx context.Context, id int64) (Period, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) FindPeriodByDate(ctx context.Context, date time.Time) (Period, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE $1 BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1`, date))
}

func (r *txRepository) YearRangeConflict(ctx context.Context, start, end time.Time) (bool, error) {
	var count int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM fiscal_years WHERE start_date <= $2 AND end_date >= $1`, start, end).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *txRepository) UpdatePeriod(ctx context.Context, p Period) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounting_periods SET is_closed=$2, closed_at=$3, locked_at=$4, locked_by=$5, updated_at=NOW() WHERE id=$1`,
		p.ID, p.IsClosed, p.ClosedAt, p.LockedAt, p.LockedBy)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPeriodNotFound
	}
	return nil
}

func (r *txRepository) MarkYearClosed(ctx context.Context, yearID int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE fiscal_years SET is_closed=TRUE, closed_at=$2, updated_at=NOW() WHERE id=$1`, yearID, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrYearNotFound
	}
	return nil
}

func (r *txRepository) CountUnpostedInRange(ctx context.Context, start, end time.Time) (int, error) {
	var count int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM journal_entries WHERE date BETWEEN $1 AND $2 AND status IN ('DRAFT','BALANCED')`, start, end).Scan(&count)
	return count, err
}
