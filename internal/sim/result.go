package sim

import (
	"github.com/shopspring/decimal"

	"portfolio-lab/internal/domain"
	"portfolio-lab/internal/perfstats"
)

// Diagnostics summarizes what a run did.
type Diagnostics struct {
	TradingDays    int `json:"trading_days"`
	Rebalances     int `json:"rebalances"`
	TradesExecuted int `json:"trades_executed"`
	Deposits       int `json:"deposits"`
	DividendEvents int `json:"dividend_events"`
	WashSales      int `json:"wash_sales"`
}

// Result is the full bundle a simulation returns.
type Result struct {
	RunID  string                `json:"run_id"`
	Config domain.StrategyConfig `json:"config"`

	EquityCurve []domain.EquityPoint `json:"equity_curve"`
	Metrics     perfstats.Summary    `json:"metrics"`

	BenchmarkMetrics map[string]perfstats.Summary    `json:"benchmark_metrics,omitempty"`
	BenchmarkEquity  map[string][]domain.EquityPoint `json:"benchmark_equity,omitempty"`

	Trades      []domain.TradeRecord    `json:"trades"`
	Positions   []domain.Position       `json:"positions"`
	TaxYears    []domain.TaxYearSummary `json:"tax_year_summaries"`
	OpenLots    []domain.Lot            `json:"open_lots"`
	FinalValue  decimal.Decimal         `json:"final_value"`
	AfterTaxVal decimal.Decimal         `json:"after_tax_value"`

	Warnings    []string    `json:"warnings,omitempty"`
	Diagnostics Diagnostics `json:"diagnostics"`

	// Partial marks a run cancelled by the host: everything up to the
	// last completed day is present, nothing half-applied.
	Partial bool `json:"partial,omitempty"`
}
