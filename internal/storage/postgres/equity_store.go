package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"portfolio-lab/internal/domain"
	"portfolio-lab/internal/storage"
)

// EquityStore implements storage.EquityStore using PostgreSQL.
type EquityStore struct {
	pool *Pool
}

// NewEquityStore creates a new EquityStore.
func NewEquityStore(pool *Pool) *EquityStore {
	return &EquityStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EquityStore = (*EquityStore)(nil)

// InsertBulk adds a run's equity points atomically. Fails the entire
// batch when any (run_id, date) already exists.
func (s *EquityStore) InsertBulk(ctx context.Context, runID string, points []domain.EquityPoint) error {
	if runID == "" {
		return storage.ErrInvalidInput
	}
	if len(points) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO run_equity_points (
			run_id, point_date, cash, positions_value, portfolio_value, daily_return
		) VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6)
	`

	for _, pt := range points {
		_, err := tx.Exec(ctx, query,
			runID, pt.Date, pt.Cash.String(), pt.PositionsValue.String(),
			pt.PortfolioValue.String(), pt.DailyReturn,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert equity point %s: %w", pt.Date.Format("2006-01-02"), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByRunID retrieves points for a run ordered by date ASC.
func (s *EquityStore) GetByRunID(ctx context.Context, runID string) ([]domain.EquityPoint, error) {
	query := `
		SELECT point_date, cash::text, positions_value::text,
		       portfolio_value::text, daily_return
		FROM run_equity_points
		WHERE run_id = $1
		ORDER BY point_date ASC
	`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query equity points: %w", err)
	}
	defer rows.Close()

	var out []domain.EquityPoint
	for rows.Next() {
		var pt domain.EquityPoint
		var cash, positions, value string

		if err := rows.Scan(&pt.Date, &cash, &positions, &value, &pt.DailyReturn); err != nil {
			return nil, fmt.Errorf("scan equity point: %w", err)
		}
		if pt.Cash, err = decimal.NewFromString(cash); err != nil {
			return nil, fmt.Errorf("parse cash: %w", err)
		}
		if pt.PositionsValue, err = decimal.NewFromString(positions); err != nil {
			return nil, fmt.Errorf("parse positions_value: %w", err)
		}
		if pt.PortfolioValue, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("parse portfolio_value: %w", err)
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}
