package balances

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grandlivre/grandlivre/internal/coa"
)

// ReadRepository answers balance queries over posted data only. Reads run
// outside the posting transaction under read-committed snapshots, so a
// draft entry's lines are never visible here.
type ReadRepository interface {
	CurrentBalance(ctx context.Context, accountID int64) (int64, error)
	SubtreeMovement(ctx context.Context, accountIDs []int64, until time.Time) (debit int64, credit int64, err error)
	SubtreeOpening(ctx context.Context, accountIDs []int64) (int64, error)
	PeriodMovements(ctx context.Context, start, end time.Time) ([]Movement, error)
	YearMovements(ctx context.Context, start, end time.Time, types []coa.AccountType) ([]Movement, error)
}

// Repository implements ReadRepository against PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// postedStatuses are the entry states whose lines affect balances.
const postedStatuses = `('POSTED','REVERSED','ARCHIVED')`

func (r *Repository) CurrentBalance(ctx context.Context, accountID int64) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `SELECT balance FROM account_balances WHERE account_id=$1`, accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return balance, nil
}

func (r *Repository) SubtreeMovement(ctx context.Context, accountIDs []int64, until time.Time) (int64, int64, error) {
	var debit, credit int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(l.debit),0), COALESCE(SUM(l.credit),0)
FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
WHERE l.account_id = ANY($1) AND e.date <= $2 AND e.status IN `+postedStatuses,
		accountIDs, until).Scan(&debit, &credit)
	return debit, credit, err
}

func (r *Repository) SubtreeOpening(ctx context.Context, accountIDs []int64) (int64, error) {
	var opening int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(opening_balance),0) FROM accounts WHERE id = ANY($1)`, accountIDs).Scan(&opening)
	return opening, err
}

func (r *Repository) PeriodMovements(ctx context.Context, start, end time.Time) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.id, a.code, a.name, a.type, a.opening_balance, COALESCE(SUM(l.debit),0), COALESCE(SUM(l.credit),0)
FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
JOIN accounts a ON a.id = l.account_id
WHERE e.date BETWEEN $1 AND $2 AND e.status IN `+postedStatuses+`
GROUP BY a.id, a.code, a.name, a.type, a.opening_balance
ORDER BY a.code`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMovements(rows)
}

func (r *Repository) YearMovements(ctx context.Context, start, end time.Time, types []coa.AccountType) ([]Movement, error) {
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}
	// Left join from accounts so a result account whose only balance is its
	// opening still shows up for the year-end sweep.
	rows, err := r.pool.Query(ctx, `SELECT a.id, a.code, a.name, a.type, a.opening_balance, COALESCE(m.debit,0), COALESCE(m.credit,0)
FROM accounts a
LEFT JOIN (
	SELECT l.account_id, SUM(l.debit) AS debit, SUM(l.credit) AS credit
	FROM journal_lines l
	JOIN journal_entries e ON e.id = l.entry_id
	WHERE e.date BETWEEN $1 AND $2 AND e.status IN `+postedStatuses+`
	GROUP BY l.account_id
) m ON m.account_id = a.id
WHERE a.type = ANY($3)
ORDER BY a.code`, start, end, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMovements(rows)
}

func collectMovements(rows pgx.Rows) ([]Movement, error) {
	var out []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.AccountID, &m.AccountCode, &m.Name, &m.Type, &m.Opening, &m.Debit, &m.Credit); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
