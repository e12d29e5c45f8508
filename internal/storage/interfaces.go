package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"portfolio-lab/internal/domain"
)

// RunRecord is the stored summary of one completed simulation.
type RunRecord struct {
	RunID       string
	Name        string
	SubmittedAt time.Time // host wall-clock, assigned outside the deterministic core
	PeriodStart time.Time
	PeriodEnd   time.Time
	AccountType string
	InitialCash decimal.Decimal
	FinalValue  decimal.Decimal
	TWR         float64
	CAGR        float64
	MaxDrawdown float64
	TradeCount  int
	Partial     bool
}

// RunStore persists run summaries.
type RunStore interface {
	// Insert adds a run. Returns ErrDuplicateKey if run_id exists.
	Insert(ctx context.Context, r *RunRecord) error

	// GetByID retrieves a run. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, runID string) (*RunRecord, error)

	// List retrieves all runs ordered by submission time ASC, run_id ASC.
	List(ctx context.Context) ([]*RunRecord, error)
}

// TradeStore persists the trade list of a run.
type TradeStore interface {
	// InsertBulk adds a run's trades atomically. Fails the entire
	// batch when any (run_id, trade_id) already exists.
	InsertBulk(ctx context.Context, runID string, trades []domain.TradeRecord) error

	// GetByRunID retrieves trades for a run ordered by trade_id ASC.
	GetByRunID(ctx context.Context, runID string) ([]domain.TradeRecord, error)
}

// EquityStore persists the daily equity curve of a run.
type EquityStore interface {
	// InsertBulk adds a run's equity points atomically. Fails the
	// entire batch when any (run_id, date) already exists.
	InsertBulk(ctx context.Context, runID string, points []domain.EquityPoint) error

	// GetByRunID retrieves points for a run ordered by date ASC.
	GetByRunID(ctx context.Context, runID string) ([]domain.EquityPoint, error)
}
