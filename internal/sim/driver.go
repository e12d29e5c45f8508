// Package sim contains the SimulationDriver: the deterministic daily
// loop that replays market data through a configured strategy and
// assembles the result bundle.
package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"portfolio-lab/internal/domain"
	"portfolio-lab/internal/idhash"
	"portfolio-lab/internal/marketcal"
	"portfolio-lab/internal/marketdata"
	"portfolio-lab/internal/perfstats"
	"portfolio-lab/internal/portfolio"
	"portfolio-lab/internal/rebalance"
	"portfolio-lab/internal/signal"
	"portfolio-lab/internal/taxes"
)

// Driver runs simulations against a PriceSource. One Driver may run
// many simulations; each Run owns all of its mutable state.
type Driver struct {
	source marketdata.PriceSource
}

// NewDriver creates a Driver over the given source.
func NewDriver(source marketdata.PriceSource) *Driver {
	return &Driver{source: source}
}

// symbolData is one symbol's preloaded market data for the period.
type symbolData struct {
	bars      map[time.Time]domain.Bar
	dividends map[time.Time]domain.DividendAction
	splits    map[time.Time]domain.SplitAction
	er        float64
	dragged   decimal.Decimal // cumulative expense-drag factor applied to marks
	closes    []float64       // running close series for signals
	engine    *signal.Engine
}

// run is the mutable state of one simulation.
type run struct {
	cfg      *domain.StrategyConfig
	cal      *marketcal.Calendar
	days     []time.Time
	data     map[string]*symbolData
	book     *portfolio.Portfolio
	ledger   *taxes.Ledger
	reb      *rebalance.Rebalancer
	targets  map[string]float64
	result   *Result
	flows    []perfstats.Flow
	lastMark decimal.Decimal
}

// Run executes the full simulation. A cancelled context stops at the
// next day boundary and returns a partial result with a nil error;
// data and consistency failures return the partial state plus the
// error.
func (d *Driver) Run(ctx context.Context, cfg *domain.StrategyConfig) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cal, err := marketcal.New(cfg.Period.Calendar)
	if err != nil {
		return nil, err
	}
	days, err := cal.Enumerate(cfg.StartDate(), cfg.EndDate())
	if err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("%w: no trading days in period", domain.ErrConfigInvalid)
	}

	runID, err := idhash.ComputeRunID(cfg)
	if err != nil {
		return nil, err
	}

	ledger := taxes.NewLedger(cfg.Account.Type, cfg.Account.Tax)
	book := portfolio.New(portfolio.Options{
		InitialCash:   cfg.InitialCash,
		AccountType:   cfg.Account.Type,
		LotMethod:     cfg.Lots.Method,
		ApplyWashSale: cfg.Account.Tax.ApplyWashSale,
		Caps:          cfg.Account.ContributionCaps,
		Commission:    cfg.Frictions.CommissionPerTrade,
		SlippageBps:   cfg.Frictions.SlippageBps,
		Taxes:         ledger,
	})

	r := &run{
		cfg:     cfg,
		cal:     cal,
		days:    days,
		book:    book,
		ledger:  ledger,
		reb:     rebalance.New(cfg.Rebalancing, cal, cfg.Account.Type),
		targets: cfg.TargetWeights(),
		result: &Result{
			RunID:  runID,
			Config: *cfg,
		},
	}

	if err := r.loadData(ctx, d.source); err != nil {
		return r.result, err
	}

	if err := r.loop(ctx); err != nil {
		return r.result, err
	}

	r.finish()
	if err := d.runBenchmarks(ctx, r); err != nil {
		r.warnf("benchmark: %v", err)
	}
	return r.result, nil
}

func (r *run) warnf(format string, args ...any) {
	r.result.Warnings = append(r.result.Warnings, fmt.Sprintf(format, args...))
}

// loadData preloads bars and corporate actions for every universe
// symbol and verifies bar coverage of the trading-day sequence.
func (r *run) loadData(ctx context.Context, source marketdata.PriceSource) error {
	start, end := r.days[0], r.days[len(r.days)-1]
	r.data = make(map[string]*symbolData, len(r.cfg.Universe.Symbols))

	for _, symbol := range r.cfg.Universe.Symbols {
		bars, err := source.Bars(ctx, symbol, start, end)
		if err != nil {
			return err
		}
		divs, err := source.Dividends(ctx, symbol, start, end)
		if err != nil {
			return err
		}
		splits, err := source.Splits(ctx, symbol, start, end)
		if err != nil {
			return err
		}

		sd := &symbolData{
			bars:      make(map[time.Time]domain.Bar, len(bars)),
			dividends: make(map[time.Time]domain.DividendAction, len(divs)),
			splits:    make(map[time.Time]domain.SplitAction, len(splits)),
			dragged:   decimal.NewFromInt(1),
		}
		for _, bar := range bars {
			sd.bars[domain.Day(bar.Date)] = bar
		}
		for _, div := range divs {
			sd.dividends[domain.Day(div.ExDate)] = div
		}
		for _, split := range splits {
			sd.splits[domain.Day(split.ExDate)] = split
		}

		if r.cfg.Frictions.UseActualETFER {
			er, err := source.ExpenseRatio(ctx, symbol)
			if err != nil {
				return err
			}
			if er != nil {
				sd.er = *er
			}
		}

		// Every trading day must have a bar unless the symbol is
		// delisted by then.
		for _, day := range r.days {
			if _, ok := sd.bars[day]; ok {
				continue
			}
			delisted, derr := source.IsDelisted(ctx, symbol, day)
			if derr != nil {
				return derr
			}
			if delisted {
				break
			}
			return &marketdata.MissingDataError{Symbol: symbol, Date: day}
		}

		if len(r.cfg.Signals) > 0 {
			closes := make([]float64, 0, len(r.days))
			for _, day := range r.days {
				if bar, ok := sd.bars[day]; ok {
					c, _ := bar.Close.Float64()
					closes = append(closes, c)
				}
			}
			sd.closes = closes
			engine, err := signal.NewEngine(r.cfg.Signals, closes)
			if err != nil {
				return err
			}
			sd.engine = engine
		}

		r.data[symbol] = sd
	}
	return nil
}

// loop runs the fixed per-day sequence: prices, splits, dividends,
// deposits, signals, rebalance, expense drag, mark, year-end.
func (r *run) loop(ctx context.Context) error {
	for i, day := range r.days {
		if ctx.Err() != nil {
			r.result.Partial = true
			return nil
		}

		cashAdded := false

		// Splits first: a same-day dividend applies post-split shares.
		for _, symbol := range r.cfg.Universe.Symbols {
			if split, ok := r.data[symbol].splits[day]; ok {
				if err := r.book.ApplySplit(symbol, split.Ratio, day); err != nil {
					return r.fatal(day, err)
				}
			}
		}

		// Dividends.
		for _, symbol := range r.cfg.Universe.Symbols {
			div, ok := r.data[symbol].dividends[day]
			if !ok {
				continue
			}
			mode := r.dividendMode(symbol, day, div)
			recs, err := r.book.ApplyDividend(symbol, div.PerShare, r.qualifiedPct(div), day, r.closeFor(symbol, day), mode)
			if err != nil {
				return r.fatal(day, err)
			}
			if len(recs) > 0 {
				r.result.Diagnostics.DividendEvents++
				if mode == domain.DividendCash {
					cashAdded = true
				}
				r.result.Trades = append(r.result.Trades, recs...)
			}
		}

		// Deposits.
		depositToday := decimal.Zero
		if dep := r.cfg.Deposits; dep != nil && dep.Amount.IsPositive() {
			due, err := r.cal.IsScheduled(day, depositCadence(dep.Cadence))
			if err != nil {
				return r.fatal(day, err)
			}
			if due {
				rec, err := r.book.Deposit(dep.Amount, day)
				switch {
				case errors.Is(err, portfolio.ErrContributionCapExceeded):
					r.warnf("%s: deposit skipped: %v", day.Format(domain.DateLayout), err)
				case err != nil:
					return r.fatal(day, err)
				default:
					depositToday = rec.CashDelta
					cashAdded = true
					r.result.Trades = append(r.result.Trades, rec)
					r.result.Diagnostics.Deposits++
					amt, _ := rec.CashDelta.Float64()
					r.flows = append(r.flows, perfstats.Flow{Date: day, Amount: amt})
				}
			}
		}

		// Interest on idle cash accrues before trading.
		if apr := r.cfg.Frictions.CashYieldAPR; apr > 0 {
			r.book.AccrueInterest(day, apr)
		}

		// Deploy fresh deposits by target weight, then evaluate the
		// rebalance triggers.
		execPrices := r.execPrices(day)
		if depositToday.IsPositive() {
			plan := r.reb.BuildCashDeployment(depositToday, r.targets, execPrices)
			if err := r.execute(plan, day, i, execPrices, false); err != nil {
				return err
			}
		}

		// Exit signals liquidate failing symbols at the close.
		if err := r.applyExitRules(day, i); err != nil {
			return err
		}

		due, reason := false, ""
		if i == 0 {
			due, reason = true, rebalance.ReasonInitial
		} else {
			due, reason = r.reb.ShouldRebalance(rebalance.DayContext{
				Date:           day,
				CurrentWeights: r.book.Weights(r.markPrices(day)),
				TargetWeights:  r.targets,
				CashAdded:      cashAdded,
				Cash:           r.book.Cash(),
				TotalValue:     r.book.TotalValue(r.markPrices(day)),
			})
		}
		if due {
			plan := r.reb.BuildPlan(day, r.book, execPrices, r.targets, reason, rebalance.Frictions{
				Commission:  r.cfg.Frictions.CommissionPerTrade,
				SlippageBps: r.cfg.Frictions.SlippageBps,
			})
			if len(plan.Legs) > 0 {
				if plan.ScaledDown {
					r.warnf("%s: buy legs scaled down to available cash", day.Format(domain.DateLayout))
				}
				if err := r.execute(plan, day, i, execPrices, true); err != nil {
					return err
				}
			}
		}

		// Expense drag compounds into the accounting price.
		for _, symbol := range r.cfg.Universe.Symbols {
			sd := r.data[symbol]
			if sd.er > 0 {
				daily := decimal.NewFromFloat(1 - sd.er/252)
				sd.dragged = sd.dragged.Mul(daily)
			}
		}

		// Mark to close.
		marks := r.markPrices(day)
		positionsValue := r.book.Mark(marks)
		value := r.book.Cash().Add(positionsValue)
		prevMark := r.lastMark

		point := domain.EquityPoint{
			Date:           day,
			Cash:           r.book.Cash(),
			PositionsValue: positionsValue,
			PortfolioValue: domain.RoundMoney(value),
		}
		if i > 0 {
			v, _ := value.Float64()
			prev, _ := prevMark.Float64()
			flow, _ := depositToday.Float64()
			point.DailyReturn = perfstats.DailyReturn(v, prev, flow)
		}
		r.lastMark = value
		r.result.EquityCurve = append(r.result.EquityCurve, point)

		if err := r.book.CheckInvariants(); err != nil {
			return r.fatal(day, err)
		}

		// Year-end close on the last trading day of each year.
		if r.isYearEnd(i) {
			summary := r.ledger.CloseYear(day.Year())
			r.result.TaxYears = append(r.result.TaxYears, summary)
			if summary.TotalTax.IsPositive() && !r.cfg.Account.Tax.PayTaxesFromExternal {
				r.book.DeductTax(summary.TotalTax)
				// Re-mark the year's final point: the payment reduces
				// both the value and the day's return.
				last := &r.result.EquityCurve[len(r.result.EquityCurve)-1]
				last.Cash = r.book.Cash()
				taxed := last.Cash.Add(last.PositionsValue)
				last.PortfolioValue = domain.RoundMoney(taxed)
				if i > 0 {
					v, _ := taxed.Float64()
					prev, _ := prevMark.Float64()
					flow, _ := depositToday.Float64()
					last.DailyReturn = perfstats.DailyReturn(v, prev, flow)
				}
				r.lastMark = taxed
			}
		}
	}
	return nil
}

func (r *run) fatal(day time.Time, err error) error {
	return fmt.Errorf("%s: %w", day.Format(domain.DateLayout), err)
}

// execute runs a plan through the portfolio. Sell failures are fatal;
// buy failures for insufficient cash degrade to warnings.
func (r *run) execute(plan rebalance.Plan, day time.Time, dayIdx int,
	prices map[string]decimal.Decimal, isRebalance bool) error {

	executed := 0
	for _, leg := range plan.Legs {
		switch leg.Side {
		case rebalance.SideSell:
			rec, err := r.book.Sell(leg.Symbol, leg.Quantity, prices[leg.Symbol], day)
			if err != nil {
				return r.fatal(day, err)
			}
			r.result.Trades = append(r.result.Trades, rec)
			executed++
		case rebalance.SideBuy:
			if !r.entryAllowed(leg.Symbol, dayIdx) {
				continue
			}
			rec, err := r.book.Buy(leg.Symbol, leg.Notional, prices[leg.Symbol], day)
			if err != nil {
				if errors.Is(err, portfolio.ErrInsufficientCash) {
					r.warnf("%s: buy %s skipped: %v", day.Format(domain.DateLayout), leg.Symbol, err)
					continue
				}
				return r.fatal(day, err)
			}
			r.result.Trades = append(r.result.Trades, rec)
			executed++
		}
	}
	if executed > 0 {
		r.result.Diagnostics.TradesExecuted += executed
		if isRebalance {
			r.result.Diagnostics.Rebalances++
		}
	}
	return nil
}

// entryAllowed consults the symbol's entry rules; an empty rule set or
// absent signal engine always allows.
func (r *run) entryAllowed(symbol string, dayIdx int) bool {
	sd := r.data[symbol]
	if sd == nil || sd.engine == nil || len(r.cfg.Rules.Entry) == 0 {
		return true
	}
	ok, err := sd.engine.EntryAllowed(r.cfg.Rules.Entry, dayIdx)
	if err != nil {
		r.warnf("entry rules for %s: %v", symbol, err)
		return true
	}
	return ok
}

// applyExitRules liquidates any held symbol whose exit rules all pass.
func (r *run) applyExitRules(day time.Time, dayIdx int) error {
	if len(r.cfg.Rules.Exit) == 0 {
		return nil
	}
	for _, symbol := range r.cfg.Universe.Symbols {
		sd := r.data[symbol]
		if sd == nil || sd.engine == nil {
			continue
		}
		qty := r.book.Quantity(symbol)
		if !qty.IsPositive() {
			continue
		}
		exit, err := sd.engine.EntryAllowed(r.cfg.Rules.Exit, dayIdx)
		if err != nil {
			r.warnf("exit rules for %s: %v", symbol, err)
			continue
		}
		if !exit {
			continue
		}
		rec, sellErr := r.book.Sell(symbol, qty, r.closeFor(symbol, day), day)
		if sellErr != nil {
			return r.fatal(day, sellErr)
		}
		r.result.Trades = append(r.result.Trades, rec)
		r.result.Diagnostics.TradesExecuted++
	}
	return nil
}

// dividendMode resolves DRIP vs CASH for one payment, honoring the
// reinvestment threshold: DRIP only when the payment is at least the
// configured fraction of the position's value.
func (r *run) dividendMode(symbol string, day time.Time, div domain.DividendAction) domain.DividendMode {
	if r.cfg.Dividends.Mode != domain.DividendDRIP {
		return domain.DividendCash
	}
	threshold := r.cfg.Dividends.ReinvestThresholdPct
	if threshold <= 0 {
		return domain.DividendDRIP
	}
	qty := r.book.Quantity(symbol)
	value := qty.Mul(r.closeFor(symbol, day))
	if !value.IsPositive() {
		return domain.DividendDRIP
	}
	amount := qty.Mul(div.PerShare)
	frac, _ := amount.Div(value).Float64()
	if frac*100 < threshold {
		return domain.DividendCash
	}
	return domain.DividendDRIP
}

// qualifiedPct applies the account's default when the action has none.
func (r *run) qualifiedPct(div domain.DividendAction) float64 {
	if div.QualifiedPct > 0 {
		return div.QualifiedPct
	}
	return r.cfg.Account.Tax.QualifiedDividendPct
}

func (r *run) closeFor(symbol string, day time.Time) decimal.Decimal {
	return r.data[symbol].bars[day].Close
}

// execPrices are the trade prices per order-timing policy.
func (r *run) execPrices(day time.Time) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(r.cfg.Universe.Symbols))
	for _, symbol := range r.cfg.Universe.Symbols {
		bar, ok := r.data[symbol].bars[day]
		if !ok {
			continue
		}
		if r.cfg.Orders.Timing == domain.TimingMOO {
			prices[symbol] = bar.Open
		} else {
			prices[symbol] = bar.Close
		}
	}
	return prices
}

// markPrices are closes reduced by the cumulative expense drag,
// accounting-only.
func (r *run) markPrices(day time.Time) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(r.cfg.Universe.Symbols))
	for _, symbol := range r.cfg.Universe.Symbols {
		sd := r.data[symbol]
		bar, ok := sd.bars[day]
		if !ok {
			continue
		}
		prices[symbol] = bar.Close.Mul(sd.dragged)
	}
	return prices
}

func (r *run) isYearEnd(i int) bool {
	if i == len(r.days)-1 {
		return true
	}
	return r.days[i+1].Year() > r.days[i].Year()
}

func depositCadence(c domain.DepositCadence) marketcal.Cadence {
	switch c {
	case domain.DepositDaily:
		return marketcal.CadenceDaily
	case domain.DepositWeekly:
		return marketcal.CadenceWeekly
	case domain.DepositMonthly:
		return marketcal.CadenceMonthly
	case domain.DepositQuarterly:
		return marketcal.CadenceQuarterly
	case domain.DepositYearly:
		return marketcal.CadenceAnnually
	default:
		return marketcal.CadenceMarketDay
	}
}

// finish assembles the post-loop sections of the bundle.
func (r *run) finish() {
	r.result.Diagnostics.TradingDays = len(r.result.EquityCurve)
	r.result.Diagnostics.WashSales = r.book.WashSaleCount()

	if len(r.result.EquityCurve) == 0 {
		r.result.FinalValue = r.book.Cash()
		r.result.AfterTaxVal = r.ledger.AfterTaxValue(r.result.FinalValue, decimal.Zero)
		return
	}

	lastDay := r.days[len(r.result.EquityCurve)-1]
	marks := r.markPrices(lastDay)
	r.result.Positions = r.book.Positions(marks)
	r.result.OpenLots = r.book.OpenLots()
	r.result.FinalValue = r.book.TotalValue(marks)

	unrealized := decimal.Zero
	for _, pos := range r.result.Positions {
		unrealized = unrealized.Add(pos.UnrealizedGain)
	}
	r.result.AfterTaxVal = r.ledger.AfterTaxValue(r.result.FinalValue, unrealized)

	r.result.Metrics = perfstats.Compute(perfstats.Input{
		Points:       r.result.EquityCurve,
		Flows:        r.flows,
		RiskFreeRate: 0,
	})
}
