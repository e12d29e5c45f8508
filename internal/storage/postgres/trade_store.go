package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"portfolio-lab/internal/domain"
	"portfolio-lab/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// InsertBulk adds a run's trades atomically. Fails the entire batch
// when any (run_id, trade_id) already exists.
func (s *TradeStore) InsertBulk(ctx context.Context, runID string, trades []domain.TradeRecord) error {
	if runID == "" {
		return storage.ErrInvalidInput
	}
	if len(trades) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO run_trades (
			run_id, trade_id, trade_date, symbol, action,
			quantity, price, commission, slippage, cash_delta,
			lot_ids, note
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::numeric, $7::numeric, $8::numeric, $9::numeric, $10::numeric,
			$11, $12
		)
	`

	for _, tr := range trades {
		lotIDs := tr.LotIDs
		if lotIDs == nil {
			lotIDs = []int64{}
		}
		_, err := tx.Exec(ctx, query,
			runID, tr.ID, tr.Date, tr.Symbol, string(tr.Action),
			tr.Quantity.String(), tr.Price.String(), tr.Commission.String(),
			tr.Slippage.String(), tr.CashDelta.String(),
			lotIDs, tr.Note,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert trade %d: %w", tr.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByRunID retrieves trades for a run ordered by trade_id ASC.
func (s *TradeStore) GetByRunID(ctx context.Context, runID string) ([]domain.TradeRecord, error) {
	query := `
		SELECT trade_id, trade_date, symbol, action,
		       quantity::text, price::text, commission::text,
		       slippage::text, cash_delta::text, lot_ids, note
		FROM run_trades
		WHERE run_id = $1
		ORDER BY trade_id ASC
	`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var tr domain.TradeRecord
		var action string
		var qty, price, commission, slippage, cashDelta string

		err := rows.Scan(&tr.ID, &tr.Date, &tr.Symbol, &action,
			&qty, &price, &commission, &slippage, &cashDelta, &tr.LotIDs, &tr.Note)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		tr.Action = domain.TradeAction(action)

		fields := []struct {
			dst *decimal.Decimal
			src string
		}{
			{&tr.Quantity, qty}, {&tr.Price, price}, {&tr.Commission, commission},
			{&tr.Slippage, slippage}, {&tr.CashDelta, cashDelta},
		}
		for _, f := range fields {
			if *f.dst, err = decimal.NewFromString(f.src); err != nil {
				return nil, fmt.Errorf("parse trade %d decimal: %w", tr.ID, err)
			}
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}
