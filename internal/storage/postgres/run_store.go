package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"portfolio-lab/internal/storage"
)

// RunStore implements storage.RunStore using PostgreSQL.
type RunStore struct {
	pool *Pool
}

// NewRunStore creates a new RunStore.
func NewRunStore(pool *Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RunStore = (*RunStore)(nil)

// Insert adds a run. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) Insert(ctx context.Context, r *storage.RunRecord) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO simulation_runs (
			run_id, name, submitted_at, period_start, period_end,
			account_type, initial_cash, final_value,
			twr, cagr, max_drawdown, trade_count, partial
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7::numeric, $8::numeric,
			$9, $10, $11, $12, $13
		)
	`

	_, err := s.pool.Exec(ctx, query,
		r.RunID, r.Name, r.SubmittedAt, r.PeriodStart, r.PeriodEnd,
		r.AccountType, r.InitialCash.String(), r.FinalValue.String(),
		r.TWR, r.CAGR, r.MaxDrawdown, r.TradeCount, r.Partial,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID retrieves a run. Returns ErrNotFound if not exists.
func (s *RunStore) GetByID(ctx context.Context, runID string) (*storage.RunRecord, error) {
	query := `
		SELECT run_id, name, submitted_at, period_start, period_end,
		       account_type, initial_cash::text, final_value::text,
		       twr, cagr, max_drawdown, trade_count, partial
		FROM simulation_runs
		WHERE run_id = $1
	`

	row := s.pool.QueryRow(ctx, query, runID)
	rec, err := scanRun(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get run by id: %w", err)
	}
	return rec, nil
}

// List retrieves all runs ordered by submission time ASC, run_id ASC.
func (s *RunStore) List(ctx context.Context) ([]*storage.RunRecord, error) {
	query := `
		SELECT run_id, name, submitted_at, period_start, period_end,
		       account_type, initial_cash::text, final_value::text,
		       twr, cagr, max_drawdown, trade_count, partial
		FROM simulation_runs
		ORDER BY submitted_at ASC, run_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*storage.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*storage.RunRecord, error) {
	var rec storage.RunRecord
	var initialCash, finalValue string

	err := row.Scan(
		&rec.RunID, &rec.Name, &rec.SubmittedAt, &rec.PeriodStart, &rec.PeriodEnd,
		&rec.AccountType, &initialCash, &finalValue,
		&rec.TWR, &rec.CAGR, &rec.MaxDrawdown, &rec.TradeCount, &rec.Partial,
	)
	if err != nil {
		return nil, err
	}

	if rec.InitialCash, err = decimal.NewFromString(initialCash); err != nil {
		return nil, fmt.Errorf("parse initial_cash: %w", err)
	}
	if rec.FinalValue, err = decimal.NewFromString(finalValue); err != nil {
		return nil, fmt.Errorf("parse final_value: %w", err)
	}
	return &rec, nil
}
