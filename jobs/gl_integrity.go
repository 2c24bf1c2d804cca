package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/grandlivre/grandlivre/internal/jobs"
)

// IntegrityChecker verifies that posted journal lines sum to equal debits
// and credits inside every accounting period. A balanced journal cannot
// drift, so any hit means corruption or out-of-band writes.
type IntegrityChecker struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewIntegrityChecker constructs the checker.
func NewIntegrityChecker(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityChecker {
	return &IntegrityChecker{pool: pool, logger: logger, metrics: metrics}
}

type drift struct {
	periodID int64
	debit    int64
	credit   int64
}

// Run scans periods overlapping the payload range and reports drift.
func (c *IntegrityChecker) Run(ctx context.Context, payload LedgerIntegrityPayload) error {
	tracker := c.metrics.Track("ledger_integrity")
	return tracker.End(c.scan(ctx, payload))
}

func (c *IntegrityChecker) scan(ctx context.Context, payload LedgerIntegrityPayload) error {
	query := `SELECT p.id, COALESCE(SUM(l.debit),0), COALESCE(SUM(l.credit),0)
FROM accounting_periods p
LEFT JOIN journal_entries e ON e.date BETWEEN p.start_date AND p.end_date
	AND e.status IN ('POSTED','REVERSED','ARCHIVED')
LEFT JOIN journal_lines l ON l.entry_id = e.id
WHERE ($1::date IS NULL OR p.end_date >= $1)
  AND ($2::date IS NULL OR p.start_date <= $2)
GROUP BY p.id`
	var from, to any
	if !payload.From.IsZero() {
		from = payload.From
	}
	if !payload.To.IsZero() {
		to = payload.To
	}
	rows, err := c.pool.Query(ctx, query, from, to)
	if err != nil {
		return err
	}
	defer rows.Close()

	var drifts []drift
	for rows.Next() {
		var d drift
		if err := rows.Scan(&d.periodID, &d.debit, &d.credit); err != nil {
			return err
		}
		if d.debit != d.credit {
			drifts = append(drifts, d)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, d := range drifts {
		c.logger.Error("ledger integrity drift",
			slog.Int64("period_id", d.periodID),
			slog.Int64("debit", d.debit),
			slog.Int64("credit", d.credit))
	}
	if len(drifts) > 0 {
		c.metrics.AddDrift(len(drifts))
		return fmt.Errorf("jobs: %d period(s) with debit/credit drift", len(drifts))
	}
	c.logger.Info("ledger integrity scan clean")
	return nil
}

// HandleTask adapts the checker to an Asynq handler.
func (c *IntegrityChecker) HandleTask(ctx context.Context, t *asynq.Task) error {
	var payload LedgerIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	return c.Run(ctx, payload)
}
