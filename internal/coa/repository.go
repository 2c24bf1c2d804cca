package coa

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grandlivre/grandlivre/internal/platform/db"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes chart of accounts operations inside a transaction.
type TxRepository interface {
	GetByCode(ctx context.Context, code string) (Account, error)
	GetByID(ctx context.Context, id int64) (Account, error)
	Insert(ctx context.Context, a Account) (Account, error)
	Update(ctx context.Context, a Account) error
	ListChildren(ctx context.Context, parentID int64) ([]Account, error)
	List(ctx context.Context, f Filter) ([]Account, error)
	InitBalance(ctx context.Context, accountID, opening int64) error
}

// Repository persists accounts in PostgreSQL.
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
		return errors.New("coa repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const accountColumns = `id, code, name, description, type, parent_id, currency, is_active, is_analytic, allow_negative, opening_balance, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Description, &a.Type, &a.ParentID, &a.Currency,
		&a.IsActive, &a.IsAnalytic, &a.AllowNegative, &a.OpeningBalance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) GetByCode(ctx context.Context, code string) (Account, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE code=$1`, code))
}

func (r *txRepository) GetByID(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
}

func (r *txRepository) Insert(ctx context.Context, a Account) (Account, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO accounts (code, name, description, type, parent_id, currency, is_active, is_analytic, allow_negative, opening_balance)
VALUES ($1,$2,$3,$4,$5,$6,TRUE,$7,$8,$9) RETURNING id, created_at, updated_at`,
		a.Code, a.Name, a.Description, a.Type, a.ParentID, a.Currency, a.IsAnalytic, a.AllowNegative, a.OpeningBalance)
	inserted := a
	inserted.IsActive = true
	if err := row.Scan(&inserted.ID, &inserted.CreatedAt, &inserted.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Account{}, ErrDuplicateCode
		}
		return Account{}, err
	}
	return inserted, nil
}

func (r *txRepository) Update(ctx context.Context, a Account) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET name=$2, description=$3, is_active=$4, updated_at=NOW() WHERE id=$1`,
		a.ID, a.Name, a.Description, a.IsActive)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) ListChildren(ctx context.Context, parentID int64) ([]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE parent_id=$1 ORDER BY code`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAccounts(rows)
}

func (r *txRepository) List(ctx context.Context, f Filter) ([]Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE 1=1`
	args := []any{}
	if f.Type != "" {
		args = append(args, f.Type)
		query += ` AND type=$` + itoa(len(args))
	}
	if f.ParentCode != "" {
		args = append(args, f.ParentCode)
		query += ` AND parent_id=(SELECT id FROM accounts WHERE code=$` + itoa(len(args)) + `)`
	}
	if f.ActiveOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY code`
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
	return collectAccounts(rows)
}

func (r *txRepository) InitBalance(ctx context.Context, accountID, opening int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO account_balances (account_id, balance) VALUES ($1,$2)`, accountID, opening)
	return err
}

func collectAccounts(rows pgx.Rows) ([]Account, error) {
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func itoa(n int) string { return strconv.Itoa(n) }
