package perfstats

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-lab/internal/domain"
)

func d(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// series builds equity points from consecutive trading-day values with
// no external flows.
func series(start string, values ...float64) []domain.EquityPoint {
	points := make([]domain.EquityPoint, len(values))
	date := d(start)
	for i, v := range values {
		points[i] = domain.EquityPoint{
			Date:           date,
			PortfolioValue: decimal.NewFromFloat(v),
		}
		if i > 0 {
			points[i].DailyReturn = DailyReturn(v, values[i-1], 0)
		}
		// Weekday stepping is irrelevant to the math under test.
		date = date.AddDate(0, 0, 1)
	}
	return points
}

func TestCompute_FewerThanTwoPointsIsNull(t *testing.T) {
	s := Compute(Input{Points: series("2020-01-02", 10000)})
	assert.Zero(t, s.TWR)
	assert.Nil(t, s.IRR)
	assert.Nil(t, s.Sharpe)
	assert.Nil(t, s.Sortino)
	assert.Nil(t, s.AnnualVol)
	assert.Nil(t, s.Alpha)
	assert.Nil(t, s.HitRatio)
}

func TestTWR_ChainsDailyReturns(t *testing.T) {
	// +10% then -10%: chained TWR is -1%.
	s := Compute(Input{Points: series("2020-01-02", 100, 110, 99)})
	assert.InDelta(t, -0.01, s.TWR, 1e-12)
}

func TestTWR_NeutralizesDepositTiming(t *testing.T) {
	// Flat market with a 1000 deposit on day two: TWR must be zero.
	points := []domain.EquityPoint{
		{Date: d("2020-01-02"), PortfolioValue: decimal.NewFromInt(10000)},
		{Date: d("2020-01-03"), PortfolioValue: decimal.NewFromInt(11000)},
		{Date: d("2020-01-06"), PortfolioValue: decimal.NewFromInt(11000)},
	}
	points[1].DailyReturn = DailyReturn(11000, 10000, 1000)
	points[2].DailyReturn = DailyReturn(11000, 11000, 0)

	s := Compute(Input{Points: points})
	assert.InDelta(t, 0.0, s.TWR, 1e-12)
}

func TestCAGR_OneYearDoubling(t *testing.T) {
	points := []domain.EquityPoint{
		{Date: d("2020-01-02"), PortfolioValue: decimal.NewFromInt(10000)},
		{Date: d("2021-01-01"), PortfolioValue: decimal.NewFromInt(20000)},
	}
	points[1].DailyReturn = DailyReturn(20000, 10000, 0)

	s := Compute(Input{Points: points})
	// 365 days at exactly +100%.
	assert.InDelta(t, 1.0, s.CAGR, 1e-9)
}

func TestZeroVolatility_NullRatios(t *testing.T) {
	s := Compute(Input{Points: series("2020-01-02", 100, 100, 100, 100)})
	assert.Nil(t, s.Sharpe)
	assert.Nil(t, s.Sortino)
	require.NotNil(t, s.AnnualVol)
	assert.Zero(t, *s.AnnualVol)
}

func TestMaxDrawdown(t *testing.T) {
	// Peak 120, trough 90: drawdown -25%, recovered at 125.
	s := Compute(Input{Points: series("2020-01-02", 100, 120, 90, 100, 125)})
	assert.InDelta(t, -0.25, s.MaxDrawdown, 1e-12)
	// Peak on day 2, recovery on day 5: three calendar days.
	assert.Equal(t, 3, s.MaxDrawdownDays)
}

func TestMaxDrawdown_UnrecoveredRunsToPeriodEnd(t *testing.T) {
	s := Compute(Input{Points: series("2020-01-02", 100, 120, 90, 95)})
	assert.InDelta(t, -0.25, s.MaxDrawdown, 1e-12)
	assert.Equal(t, 2, s.MaxDrawdownDays)
}

func TestCalmar_NullWithoutDrawdown(t *testing.T) {
	s := Compute(Input{Points: series("2020-01-02", 100, 101, 102)})
	assert.Nil(t, s.Calmar)

	s = Compute(Input{Points: series("2020-01-02", 100, 90, 95)})
	require.NotNil(t, s.Calmar)
}

func TestBenchmark_AlphaBetaOnIdenticalSeries(t *testing.T) {
	points := series("2020-01-02", 100, 102, 101, 104, 103, 105)
	returns := make([]float64, 0, len(points)-1)
	for _, pt := range points[1:] {
		returns = append(returns, pt.DailyReturn)
	}

	s := Compute(Input{Points: points, BenchmarkReturns: returns})
	require.NotNil(t, s.Beta)
	require.NotNil(t, s.Alpha)
	assert.InDelta(t, 1.0, *s.Beta, 1e-9)
	assert.InDelta(t, 0.0, *s.Alpha, 1e-9)
	// Zero active return: tracking error is zero, so IR is null.
	assert.Nil(t, s.TrackingError)
	assert.Nil(t, s.InfoRatio)
}

func TestBenchmark_AbsentMeansNullBlock(t *testing.T) {
	s := Compute(Input{Points: series("2020-01-02", 100, 102, 101)})
	assert.Nil(t, s.Alpha)
	assert.Nil(t, s.Beta)
	assert.Nil(t, s.TrackingError)
	assert.Nil(t, s.InfoRatio)
}

func TestHitRatio_MonthlyBuckets(t *testing.T) {
	// One up January, one down February.
	points := []domain.EquityPoint{
		{Date: d("2020-01-02"), PortfolioValue: decimal.NewFromInt(100)},
		{Date: d("2020-01-31"), PortfolioValue: decimal.NewFromInt(110)},
		{Date: d("2020-02-28"), PortfolioValue: decimal.NewFromInt(99)},
	}
	points[1].DailyReturn = DailyReturn(110, 100, 0)
	points[2].DailyReturn = DailyReturn(99, 110, 0)

	s := Compute(Input{Points: points})
	require.NotNil(t, s.HitRatio)
	assert.InDelta(t, 0.5, *s.HitRatio, 1e-12)
	require.NotNil(t, s.BestMonth)
	assert.InDelta(t, 0.10, *s.BestMonth, 1e-12)
	require.NotNil(t, s.WorstMonth)
	assert.InDelta(t, -0.10, *s.WorstMonth, 1e-12)
}

func TestSolveIRR_NoFlowsMatchesTotalReturn(t *testing.T) {
	points := []domain.EquityPoint{
		{Date: d("2020-01-02"), PortfolioValue: decimal.NewFromInt(10000)},
		{Date: d("2021-01-01"), PortfolioValue: decimal.NewFromInt(11000)},
	}

	irr, ok := SolveIRR(points, nil)
	require.True(t, ok)
	// One 365-day period: IRR equals the simple return.
	assert.InDelta(t, 0.10, irr, 1e-6)
}

func TestSolveIRR_WithInterimDeposit(t *testing.T) {
	// 10,000 initial, 5,000 deposited halfway, 16,000 at the end of a
	// year: the rate must discount the deposit by half a year.
	points := []domain.EquityPoint{
		{Date: d("2020-01-01"), PortfolioValue: decimal.NewFromInt(10000)},
		{Date: d("2020-12-31"), PortfolioValue: decimal.NewFromInt(16000)},
	}
	flows := []Flow{{Date: d("2020-07-01"), Amount: 5000}}

	irr, ok := SolveIRR(points, flows)
	require.True(t, ok)

	// Check the solution zeroes the NPV identity.
	years := points[1].Date.Sub(points[0].Date).Hours() / 24 / 365
	depYears := flows[0].Date.Sub(points[0].Date).Hours() / 24 / 365
	npv := -10000 - 5000/math.Pow(1+irr, depYears) + 16000/math.Pow(1+irr, years)
	assert.InDelta(t, 0.0, npv, 1e-4)
	assert.Greater(t, irr, 0.0)
}

func TestSolveIRR_SinglePointFails(t *testing.T) {
	_, ok := SolveIRR(series("2020-01-02", 100), nil)
	assert.False(t, ok)
}

func TestSortino_UsesDownsideOnly(t *testing.T) {
	s := Compute(Input{Points: series("2020-01-02", 100, 102, 99, 103, 100, 104)})
	require.NotNil(t, s.Sortino)
	require.NotNil(t, s.Sharpe)
	// With only two negative days among five, downside deviation is
	// smaller than total deviation, so Sortino exceeds Sharpe for a
	// positive-mean series.
	assert.Greater(t, *s.Sortino, *s.Sharpe)
}
