// Package rebalance decides when a portfolio must trade back to its
// target weights and produces the ordered, tax-aware trade plan.
package rebalance

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"portfolio-lab/internal/domain"
	"portfolio-lab/internal/marketcal"
)

// Rebalance trigger reasons.
const (
	ReasonCalendar = "calendar"
	ReasonDrift    = "drift"
	ReasonCashflow = "cashflow"
	ReasonInitial  = "initial"
)

// Book is the read-only portfolio view the planner consumes.
// *portfolio.Portfolio satisfies it.
type Book interface {
	Cash() decimal.Decimal
	Quantity(symbol string) decimal.Decimal
	Position(symbol string, closePrice decimal.Decimal) (domain.Position, bool)
}

// Rebalancer evaluates triggers and builds trade plans. One instance
// serves one simulation; it keeps no portfolio state of its own.
type Rebalancer struct {
	cfg         domain.RebalancingConfig
	cal         *marketcal.Calendar
	accountType domain.AccountType
}

// New creates a Rebalancer for the given policy.
func New(cfg domain.RebalancingConfig, cal *marketcal.Calendar, accountType domain.AccountType) *Rebalancer {
	return &Rebalancer{cfg: cfg, cal: cal, accountType: accountType}
}

func cadenceFor(p domain.CalendarPeriod) marketcal.Cadence {
	switch p {
	case domain.PeriodDaily:
		return marketcal.CadenceDaily
	case domain.PeriodWeekly:
		return marketcal.CadenceWeekly
	case domain.PeriodMonthly:
		return marketcal.CadenceMonthly
	case domain.PeriodQuarterly:
		return marketcal.CadenceQuarterly
	default:
		return marketcal.CadenceAnnually
	}
}

// DayContext carries the facts a trigger decision needs about one day.
type DayContext struct {
	Date           time.Time
	CurrentWeights map[string]float64
	TargetWeights  map[string]float64
	CashAdded      bool // a deposit or cash dividend landed today
	Cash           decimal.Decimal
	TotalValue     decimal.Decimal
}

// ShouldRebalance reports whether a rebalance is due and why.
func (r *Rebalancer) ShouldRebalance(day DayContext) (bool, string) {
	switch r.cfg.Type {
	case domain.RebalanceCashflowOnly:
		if day.CashAdded && r.cashAboveDeployThreshold(day) {
			return true, ReasonCashflow
		}
		return false, ""
	case domain.RebalanceCalendar:
		if r.calendarDue(day.Date) {
			return true, ReasonCalendar
		}
	case domain.RebalanceDrift:
		if r.driftDue(day.CurrentWeights, day.TargetWeights) {
			return true, ReasonDrift
		}
	case domain.RebalanceBoth:
		if r.calendarDue(day.Date) {
			return true, ReasonCalendar
		}
		if r.driftDue(day.CurrentWeights, day.TargetWeights) {
			return true, ReasonDrift
		}
	}
	return false, ""
}

func (r *Rebalancer) calendarDue(date time.Time) bool {
	if r.cfg.Calendar == nil {
		return false
	}
	due, err := r.cal.IsScheduled(date, cadenceFor(r.cfg.Calendar.Period))
	return err == nil && due
}

func (r *Rebalancer) driftDue(current, target map[string]float64) bool {
	if r.cfg.Drift == nil {
		return false
	}
	for symbol, tw := range target {
		cw := current[symbol]
		diff := math.Abs(cw - tw)
		if r.cfg.Drift.AbsPct != nil && diff > *r.cfg.Drift.AbsPct {
			return true
		}
		if r.cfg.Drift.RelPct != nil && tw > 0 && diff/tw > *r.cfg.Drift.RelPct {
			return true
		}
	}
	return false
}

func (r *Rebalancer) cashAboveDeployThreshold(day DayContext) bool {
	if !day.Cash.IsPositive() {
		return false
	}
	if r.cfg.DeployThreshold <= 0 {
		return true
	}
	if !day.TotalValue.IsPositive() {
		return true
	}
	frac, _ := day.Cash.Div(day.TotalValue).Float64()
	return frac > r.cfg.DeployThreshold
}
