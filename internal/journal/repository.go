package journal

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grandlivre/grandlivre/internal/coa"
	"github.com/grandlivre/grandlivre/internal/periods"
	"github.com/grandlivre/grandlivre/internal/platform/db"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository spans every table a posting touches, so an entry, its lines,
// the period check, and the balance updates commit or roll back as one.
type TxRepository interface {
	InsertEntry(ctx context.Context, e Entry) (Entry, error)
	GetEntry(ctx context.Context, id int64) (Entry, error)
	GetEntryForUpdate(ctx context.Context, id int64) (Entry, error)
	ListEntries(ctx context.Context, f EntryFilter) ([]Entry, error)
	ListLines(ctx context.Context, entryID int64) ([]Line, error)
	InsertLine(ctx context.Context, l Line) (Line, error)
	DeleteLine(ctx context.Context, entryID, lineID int64) error
	UpdateEntryStatus(ctx context.Context, id int64, status Status, totalDebit, totalCredit int64) error
	MarkPosted(ctx context.Context, id int64, actorID int64, at time.Time) error
	SetReversal(ctx context.Context, originalID, reversalID int64) error
	FindBySourceRef(ctx context.Context, ref uuid.UUID) (int64, bool, error)

	GetAccountByCode(ctx context.Context, code string) (coa.Account, error)
	GetAccountByID(ctx context.Context, id int64) (coa.Account, error)
	GetAccountForUpdate(ctx context.Context, id int64) (coa.Account, error)
	GetPeriodForDate(ctx context.Context, date time.Time) (periods.Period, error)
	BalanceForUpdate(ctx context.Context, accountID int64) (int64, error)
	ApplyBalanceDelta(ctx context.Context, accountID, delta int64) error
}

// EntryFilter narrows entry listings.
type EntryFilter struct {
	Status Status
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// Repository persists journal entries in PostgreSQL.
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
		return errors.New("journal repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const entryColumns = `id, number, date, description, reference, notes, status, source_ref, reversal_of, reversed_by, total_debit, total_credit, posted_at, posted_by, created_at, updated_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.Number, &e.Date, &e.Description, &e.Reference, &e.Notes,
		&e.Status, &e.SourceRef, &e.ReversalOf, &e.ReversedBy, &e.TotalDebit, &e.TotalCredit,
		&e.PostedAt, &e.PostedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

func (r *txRepository) InsertEntry(ctx context.Context, e Entry) (Entry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (number, date, description, reference, notes, status, source_ref, reversal_of, total_debit, total_credit, created_at, updated_at)
VALUES ('JE-' || to_char(nextval('journal_entry_seq'), 'FM000000'), $1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
RETURNING `+entryColumns, e.Date, e.Description, e.Reference, e.Notes, e.Status, e.SourceRef, e.ReversalOf, e.TotalDebit, e.TotalCredit)
	inserted, err := scanEntry(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Entry{}, ErrSourceConflict
		}
		return Entry{}, err
	}
	return inserted, nil
}

func (r *txRepository) GetEntry(ctx context.Context, id int64) (Entry, error) {
	return scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1`, id))
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, id int64) (Entry, error) {
	return scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) ListEntries(ctx context.Context, f EntryFilter) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM journal_entries WHERE 1=1`
	args := make([]any, 0, 4)
	if f.Status != "" {
		args = append(args, f.Status)
		query += ` AND status=$` + itoa(len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		query += ` AND date>=$` + itoa(len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		query += ` AND date<=$` + itoa(len(args))
	}
	query += ` ORDER BY date, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` LIMIT $` + itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += ` OFFSET $` + itoa(len(args))
	}
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const lineColumns = `l.id, l.entry_id, l.account_id, a.code, l.description, l.debit, l.credit, l.analytic_account_id`

func (r *txRepository) ListLines(ctx context.Context, entryID int64) ([]Line, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+lineColumns+` FROM journal_lines l JOIN accounts a ON a.id = l.account_id WHERE l.entry_id=$1 ORDER BY l.id`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.EntryID, &l.AccountID, &l.AccountCode, &l.Description, &l.Debit, &l.Credit, &l.AnalyticAccountID); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *txRepository) InsertLine(ctx context.Context, l Line) (Line, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_lines (entry_id, account_id, description, debit, credit, analytic_account_id)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`, l.EntryID, l.AccountID, l.Description, l.Debit, l.Credit, l.AnalyticAccountID).Scan(&l.ID)
	if err != nil {
		return Line{}, err
	}
	return l, nil
}

func (r *txRepository) DeleteLine(ctx context.Context, entryID, lineID int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM journal_lines WHERE id=$1 AND entry_id=$2`, lineID, entryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) UpdateEntryStatus(ctx context.Context, id int64, status Status, totalDebit, totalCredit int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status=$2, total_debit=$3, total_credit=$4, updated_at=NOW() WHERE id=$1`,
		id, status, totalDebit, totalCredit)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) MarkPosted(ctx context.Context, id int64, actorID int64, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status=$2, posted_at=$3, posted_by=$4, updated_at=NOW() WHERE id=$1`,
		id, StatusPosted, at, actorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) SetReversal(ctx context.Context, originalID, reversalID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status=$2, reversed_by=$3, updated_at=NOW() WHERE id=$1`,
		originalID, StatusReversed, reversalID)
	return err
}

func (r *txRepository) FindBySourceRef(ctx context.Context, ref uuid.UUID) (int64, bool, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `SELECT id FROM journal_entries WHERE source_ref=$1`, ref).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}

func (r *txRepository) GetAccountByCode(ctx context.Context, code string) (coa.Account, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE code=$1`, code))
}

func (r *txRepository) GetAccountByID(ctx context.Context, id int64) (coa.Account, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
}

func (r *txRepository) GetAccountForUpdate(ctx context.Context, id int64) (coa.Account, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1 FOR UPDATE`, id))
}

const accountColumns = `id, code, name, description, type, parent_id, currency, is_active, is_analytic, allow_negative, opening_balance, created_at, updated_at`

func scanAccount(row pgx.Row) (coa.Account, error) {
	var a coa.Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Description, &a.Type, &a.ParentID, &a.Currency,
		&a.IsActive, &a.IsAnalytic, &a.AllowNegative, &a.OpeningBalance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coa.Account{}, coa.ErrNotFound
		}
		return coa.Account{}, err
	}
	return a, nil
}

func (r *txRepository) GetPeriodForDate(ctx context.Context, date time.Time) (periods.Period, error) {
	var p periods.Period
	err := r.tx.QueryRow(ctx, `SELECT id, fiscal_year_id, number, start_date, end_date, is_closed, closed_at, locked_at, locked_by, created_at, updated_at
FROM accounting_periods WHERE start_date <= $1 AND end_date >= $1 FOR UPDATE`, date).
		Scan(&p.ID, &p.FiscalYearID, &p.Number, &p.StartDate, &p.EndDate, &p.IsClosed, &p.ClosedAt,
			&p.LockedAt, &p.LockedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return periods.Period{}, periods.ErrNotOpen
		}
		return periods.Period{}, err
	}
	return p, nil
}

func (r *txRepository) BalanceForUpdate(ctx context.Context, accountID int64) (int64, error) {
	var balance int64
	err := r.tx.QueryRow(ctx, `SELECT balance FROM account_balances WHERE account_id=$1 FOR UPDATE`, accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, coa.ErrNotFound
		}
		return 0, err
	}
	return balance, nil
}

func (r *txRepository) ApplyBalanceDelta(ctx context.Context, accountID, delta int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE account_balances SET balance = balance + $2, updated_at=NOW() WHERE account_id=$1`, accountID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return coa.ErrNotFound
	}
	return nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
