package sim

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"portfolio-lab/internal/domain"
	"portfolio-lab/internal/marketdata"
	"portfolio-lab/internal/perfstats"
)

// runBenchmarks produces a parallel buy-and-hold equity curve for each
// benchmark symbol, reusing the strategy's deposit schedule and
// dividend policy, then folds the primary benchmark's returns back
// into the strategy metric block for the regression statistics.
func (d *Driver) runBenchmarks(ctx context.Context, r *run) error {
	if len(r.cfg.Benchmark) == 0 || len(r.result.EquityCurve) < 2 {
		return nil
	}

	days := r.days[:len(r.result.EquityCurve)]
	r.result.BenchmarkMetrics = make(map[string]perfstats.Summary, len(r.cfg.Benchmark))
	r.result.BenchmarkEquity = make(map[string][]domain.EquityPoint, len(r.cfg.Benchmark))

	var firstErr error
	for _, symbol := range r.cfg.Benchmark {
		points, err := d.benchmarkCurve(ctx, r, symbol, days)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		r.result.BenchmarkEquity[symbol] = points
		r.result.BenchmarkMetrics[symbol] = perfstats.Compute(perfstats.Input{
			Points: points,
			Flows:  r.flows,
		})
	}

	// Alpha/beta and tracking stats regress against the first
	// benchmark that produced a curve.
	primary := r.cfg.Benchmark[0]
	if points, ok := r.result.BenchmarkEquity[primary]; ok && len(points) == len(r.result.EquityCurve) {
		benchReturns := make([]float64, 0, len(points)-1)
		for _, pt := range points[1:] {
			benchReturns = append(benchReturns, pt.DailyReturn)
		}
		r.result.Metrics = perfstats.Compute(perfstats.Input{
			Points:           r.result.EquityCurve,
			Flows:            r.flows,
			BenchmarkReturns: benchReturns,
		})
	}

	return firstErr
}

// benchmarkCurve simulates buy-and-hold of one symbol: deposits arrive
// on the strategy's schedule and sweep into shares at the close; DRIP
// reinvests dividends while CASH mode leaves them idle.
func (d *Driver) benchmarkCurve(ctx context.Context, r *run, symbol string, days []time.Time) ([]domain.EquityPoint, error) {
	start, end := days[0], days[len(days)-1]

	bars, err := d.source.Bars(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	divs, err := d.source.Dividends(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	splits, err := d.source.Splits(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}

	barByDay := make(map[time.Time]domain.Bar, len(bars))
	for _, bar := range bars {
		barByDay[domain.Day(bar.Date)] = bar
	}
	divByDay := make(map[time.Time]domain.DividendAction, len(divs))
	for _, div := range divs {
		divByDay[domain.Day(div.ExDate)] = div
	}
	splitByDay := make(map[time.Time]domain.SplitAction, len(splits))
	for _, split := range splits {
		splitByDay[domain.Day(split.ExDate)] = split
	}

	shares := decimal.Zero
	investable := r.cfg.InitialCash
	idle := decimal.Zero
	prev := decimal.Zero

	points := make([]domain.EquityPoint, 0, len(days))
	for i, day := range days {
		bar, ok := barByDay[day]
		if !ok {
			return nil, &marketdata.MissingDataError{Symbol: symbol, Date: day}
		}

		if split, ok := splitByDay[day]; ok && split.Ratio.IsPositive() {
			shares = shares.Mul(split.Ratio)
		}

		if div, ok := divByDay[day]; ok && shares.IsPositive() {
			amount := domain.RoundMoney(shares.Mul(div.PerShare))
			if r.cfg.Dividends.Mode == domain.DividendDRIP {
				investable = investable.Add(amount)
			} else {
				idle = idle.Add(amount)
			}
		}

		flow := decimal.Zero
		if dep := r.cfg.Deposits; dep != nil && dep.Amount.IsPositive() {
			due, err := r.cal.IsScheduled(day, depositCadence(dep.Cadence))
			if err != nil {
				return nil, err
			}
			if due {
				investable = investable.Add(dep.Amount)
				flow = dep.Amount
			}
		}

		// Sweep investable cash into shares at the close.
		if investable.IsPositive() && bar.Close.IsPositive() {
			shares = shares.Add(investable.Div(bar.Close))
			investable = decimal.Zero
		}

		value := shares.Mul(bar.Close).Add(idle).Add(investable)
		point := domain.EquityPoint{
			Date:           day,
			Cash:           idle,
			PositionsValue: domain.RoundMoney(shares.Mul(bar.Close)),
			PortfolioValue: domain.RoundMoney(value),
		}
		if i > 0 {
			v, _ := value.Float64()
			p, _ := prev.Float64()
			f, _ := flow.Float64()
			point.DailyReturn = perfstats.DailyReturn(v, p, f)
		}
		prev = value
		points = append(points, point)
	}
	return points, nil
}
