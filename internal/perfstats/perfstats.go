// Package perfstats computes performance and risk metrics from the
// recorded daily equity series. All math here is float64; the ledger's
// decimal precision ends at the equity point boundary.
package perfstats

import (
	"math"
	"time"

	"portfolio-lab/internal/domain"
)

// TradingDaysPerYear annualizes daily statistics.
const TradingDaysPerYear = 252

// Summary is the metric block of a result bundle. Pointer fields are
// nil when the series cannot support the statistic: fewer than two
// points, zero volatility, or no benchmark.
type Summary struct {
	TWR             float64  `json:"twr"`
	IRR             *float64 `json:"irr"`
	CAGR            float64  `json:"cagr"`
	AnnualVol       *float64 `json:"annual_vol"`
	Sharpe          *float64 `json:"sharpe"`
	Sortino         *float64 `json:"sortino"`
	Calmar          *float64 `json:"calmar"`
	MaxDrawdown     float64  `json:"max_drawdown"`
	MaxDrawdownDays int      `json:"max_drawdown_duration_days"`
	BestMonth       *float64 `json:"best_month"`
	WorstMonth      *float64 `json:"worst_month"`
	BestQuarter     *float64 `json:"best_quarter"`
	WorstQuarter    *float64 `json:"worst_quarter"`
	HitRatio        *float64 `json:"hit_ratio"`
	Alpha           *float64 `json:"alpha"`
	Beta            *float64 `json:"beta"`
	TrackingError   *float64 `json:"tracking_error"`
	InfoRatio       *float64 `json:"information_ratio"`
}

// Flow is one external cashflow: positive for deposits into the
// portfolio, negative for withdrawals.
type Flow struct {
	Date   time.Time
	Amount float64
}

// Input bundles everything Compute consumes.
type Input struct {
	Points           []domain.EquityPoint
	Flows            []Flow
	BenchmarkReturns []float64 // aligned to Points[1:], may be nil
	RiskFreeRate     float64   // annual
}

func ptr(v float64) *float64 { return &v }

// DailyReturn computes the flow-adjusted return for one day:
// (V_t - C_t) / V_{t-1} - 1.
func DailyReturn(value, prevValue, netFlow float64) float64 {
	if prevValue == 0 {
		return 0
	}
	return (value-netFlow)/prevValue - 1
}

// Compute derives the full metric block. With fewer than two points
// every ratio is nil and the scalar metrics are zero.
func Compute(in Input) Summary {
	n := len(in.Points)
	if n < 2 {
		return Summary{}
	}

	returns := make([]float64, 0, n-1)
	for _, pt := range in.Points[1:] {
		returns = append(returns, pt.DailyReturn)
	}

	var s Summary
	s.TWR = chain(returns)

	totalDays := in.Points[n-1].Date.Sub(in.Points[0].Date).Hours() / 24
	if totalDays > 0 {
		s.CAGR = math.Pow(1+s.TWR, 365/totalDays) - 1
	}

	if irr, ok := SolveIRR(in.Points, in.Flows); ok {
		s.IRR = ptr(irr)
	}

	vol := sampleStd(returns) * math.Sqrt(TradingDaysPerYear)
	s.AnnualVol = ptr(vol)

	dailyRF := math.Pow(1+in.RiskFreeRate, 1.0/TradingDaysPerYear) - 1
	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - dailyRF
	}

	if vol > 0 {
		s.Sharpe = ptr(mean(excess) * TradingDaysPerYear / vol)
	}
	if sortino, ok := sortinoRatio(excess); ok {
		s.Sortino = ptr(sortino)
	}

	s.MaxDrawdown, s.MaxDrawdownDays = maxDrawdown(in.Points)
	if s.MaxDrawdown < 0 {
		s.Calmar = ptr(s.CAGR / math.Abs(s.MaxDrawdown))
	}

	monthly := periodReturns(in.Points, func(t time.Time) int {
		return t.Year()*100 + int(t.Month())
	})
	quarterly := periodReturns(in.Points, func(t time.Time) int {
		return t.Year()*10 + (int(t.Month())-1)/3
	})

	if len(monthly) > 0 {
		lo, hi := minMax(monthly)
		s.BestMonth, s.WorstMonth = ptr(hi), ptr(lo)
		positive := 0
		for _, r := range monthly {
			if r > 0 {
				positive++
			}
		}
		s.HitRatio = ptr(float64(positive) / float64(len(monthly)))
	}
	if len(quarterly) > 0 {
		lo, hi := minMax(quarterly)
		s.BestQuarter, s.WorstQuarter = ptr(hi), ptr(lo)
	}

	if len(in.BenchmarkReturns) == len(returns) && len(returns) >= 2 {
		benchExcess := make([]float64, len(in.BenchmarkReturns))
		for i, r := range in.BenchmarkReturns {
			benchExcess[i] = r - dailyRF
		}
		s.applyBenchmark(excess, benchExcess)
	}

	return s
}

// applyBenchmark fills the regression block from aligned excess series.
func (s *Summary) applyBenchmark(excess, benchExcess []float64) {
	benchVar := sampleVar(benchExcess)
	if benchVar > 0 {
		beta := sampleCov(excess, benchExcess) / benchVar
		alpha := (mean(excess) - beta*mean(benchExcess)) * TradingDaysPerYear
		s.Beta = ptr(beta)
		s.Alpha = ptr(alpha)
	}

	active := make([]float64, len(excess))
	for i := range excess {
		active[i] = excess[i] - benchExcess[i]
	}
	te := sampleStd(active) * math.Sqrt(TradingDaysPerYear)
	if te > 0 {
		s.TrackingError = ptr(te)
		s.InfoRatio = ptr(mean(active) * TradingDaysPerYear / te)
	}
}

// chain compounds daily returns into a period return.
func chain(returns []float64) float64 {
	growth := 1.0
	for _, r := range returns {
		growth *= 1 + r
	}
	return growth - 1
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleVar is the unbiased (n-1) variance.
func sampleVar(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return sum / float64(n-1)
}

func sampleStd(xs []float64) float64 {
	return math.Sqrt(sampleVar(xs))
}

func sampleCov(xs, ys []float64) float64 {
	n := len(xs)
	if n < 2 || n != len(ys) {
		return 0
	}
	mx, my := mean(xs), mean(ys)
	sum := 0.0
	for i := range xs {
		sum += (xs[i] - mx) * (ys[i] - my)
	}
	return sum / float64(n-1)
}

// sortinoRatio annualizes mean excess over downside deviation. The
// denominator uses only negative excess days.
func sortinoRatio(excess []float64) (float64, bool) {
	var downside []float64
	for _, e := range excess {
		if e < 0 {
			downside = append(downside, e)
		}
	}
	dd := sampleStd(downside)
	if dd == 0 {
		return 0, false
	}
	return mean(excess) * TradingDaysPerYear / (dd * math.Sqrt(TradingDaysPerYear)), true
}

// maxDrawdown returns the deepest peak-to-trough decline and its
// duration in calendar days from the peak to recovery, or to the end
// of the series if the drawdown never recovers.
func maxDrawdown(points []domain.EquityPoint) (float64, int) {
	if len(points) < 2 {
		return 0, 0
	}

	value := func(pt domain.EquityPoint) float64 {
		v, _ := pt.PortfolioValue.Float64()
		return v
	}

	peak := value(points[0])
	peakDate := points[0].Date
	maxDD := 0.0
	var ddPeakDate time.Time
	var ddPeakValue float64

	for _, pt := range points[1:] {
		v := value(pt)
		if v > peak {
			peak = v
			peakDate = pt.Date
			continue
		}
		if peak > 0 {
			dd := (v - peak) / peak
			if dd < maxDD {
				maxDD = dd
				ddPeakDate = peakDate
				ddPeakValue = peak
			}
		}
	}
	if maxDD == 0 {
		return 0, 0
	}

	// Duration: from the drawdown's peak to the first recovery at or
	// above the peak value, or the period end if never recovered.
	recovery := points[len(points)-1].Date
	for _, pt := range points {
		if pt.Date.After(ddPeakDate) && value(pt) >= ddPeakValue {
			recovery = pt.Date
			break
		}
	}
	days := int(recovery.Sub(ddPeakDate).Hours() / 24)
	return maxDD, days
}

func minMax(xs []float64) (float64, float64) {
	lo, hi := xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	return lo, hi
}

// periodReturns compounds daily returns into buckets keyed by the
// given period function, in chronological order.
func periodReturns(points []domain.EquityPoint, key func(time.Time) int) []float64 {
	if len(points) < 2 {
		return nil
	}

	var out []float64
	currentKey := key(points[1].Date)
	growth := 1.0
	for _, pt := range points[1:] {
		k := key(pt.Date)
		if k != currentKey {
			out = append(out, growth-1)
			growth = 1.0
			currentKey = k
		}
		growth *= 1 + pt.DailyReturn
	}
	out = append(out, growth-1)
	return out
}
