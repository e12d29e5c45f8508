package sim

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-lab/internal/domain"
	"portfolio-lab/internal/marketcal"
	"portfolio-lab/internal/marketdata"
)

func d(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// genBars writes a linear price series over the trading days of the
// period: close = start + step*i, open one step behind the close.
func genBars(t *testing.T, src *marketdata.MemorySource, symbol, start, end string, startPrice, step float64) []time.Time {
	t.Helper()
	cal, err := marketcal.New("NYSE")
	require.NoError(t, err)
	days, err := cal.Enumerate(d(start), d(end))
	require.NoError(t, err)

	bars := make([]domain.Bar, len(days))
	for i, day := range days {
		closeP := decimal.NewFromFloat(startPrice + step*float64(i))
		openP := decimal.NewFromFloat(startPrice + step*float64(i-1))
		bars[i] = domain.Bar{
			Date: day, Open: openP, High: closeP, Low: openP,
			Close: closeP, AdjClose: closeP, Volume: 1000000,
		}
	}
	src.SetBars(symbol, bars)
	return days
}

func baseConfig(start, end string, symbols ...string) *domain.StrategyConfig {
	return &domain.StrategyConfig{
		Meta:        domain.MetaConfig{Name: "test"},
		Period:      domain.PeriodConfig{Start: start, End: end, Calendar: "NYSE"},
		Universe:    domain.UniverseConfig{Symbols: symbols},
		InitialCash: decimal.NewFromInt(10000),
		Account: domain.AccountConfig{
			Type: domain.AccountTaxable,
			Tax: domain.TaxConfig{
				FederalOrdinary: 0.32, FederalLTCG: 0.15, State: 0.06,
				QualifiedDividendPct: 1.0, ApplyWashSale: true,
			},
		},
		Dividends: domain.DividendConfig{Mode: domain.DividendDRIP},
		Rebalancing: domain.RebalancingConfig{
			Type:     domain.RebalanceCalendar,
			Calendar: &domain.CalendarRebalanceConfig{Period: domain.PeriodAnnually},
		},
		Orders:         domain.OrderConfig{Timing: domain.TimingMOC},
		Lots:           domain.LotConfig{Method: domain.LotFIFO},
		PositionSizing: domain.PositionSizingConfig{Method: domain.SizingEqualWeight},
	}
}

func countTrades(trades []domain.TradeRecord, action domain.TradeAction) int {
	n := 0
	for _, tr := range trades {
		if tr.Action == action {
			n++
		}
	}
	return n
}

// Scenario: single-symbol buy-and-hold, taxable, DRIP on, no deposits.
func TestRun_BuyAndHoldDRIP(t *testing.T) {
	src := marketdata.NewMemorySource()
	genBars(t, src, "SPY", "2020-01-02", "2020-12-31", 300, 0.2)
	src.SetDividends("SPY", []domain.DividendAction{
		{Symbol: "SPY", ExDate: d("2020-03-20"), PerShare: decimal.NewFromFloat(1.40), QualifiedPct: 1.0},
		{Symbol: "SPY", ExDate: d("2020-09-18"), PerShare: decimal.NewFromFloat(1.45), QualifiedPct: 1.0},
	})

	cfg := baseConfig("2020-01-02", "2020-12-31", "SPY")
	res, err := NewDriver(src).Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 1, countTrades(res.Trades, domain.TradeBuy), "exactly one BUY on day one")
	assert.Zero(t, countTrades(res.Trades, domain.TradeSell))
	assert.Equal(t, 2, countTrades(res.Trades, domain.TradeDividend))
	assert.Equal(t, 2, countTrades(res.Trades, domain.TradeDRIP))

	// Rising prices plus reinvested dividends: positive TWR.
	assert.Greater(t, res.Metrics.TWR, 0.0)
	assert.Equal(t, 253, res.Diagnostics.TradingDays)
	assert.False(t, res.Partial)

	// Dividend income reached the year's tax summary.
	require.Len(t, res.TaxYears, 1)
	assert.True(t, res.TaxYears[0].QualifiedDividends.IsPositive())
	assert.True(t, res.TaxYears[0].TotalTax.IsPositive())
}

// Scenario: 60/40 two-fund Roth with monthly deposits and quarterly
// calendar rebalancing.
func TestRun_SixtyFortyRothQuarterly(t *testing.T) {
	src := marketdata.NewMemorySource()
	genBars(t, src, "SPY", "2020-01-02", "2020-12-31", 300, 0.5)
	genBars(t, src, "AGG", "2020-01-02", "2020-12-31", 110, 0)

	cfg := baseConfig("2020-01-02", "2020-12-31", "SPY", "AGG")
	cfg.Account.Type = domain.AccountRothIRA
	cfg.Lots.Method = domain.LotHIFO
	cfg.Deposits = &domain.DepositConfig{
		Cadence: domain.DepositMonthly,
		Amount:  decimal.NewFromInt(500),
	}
	cfg.Rebalancing = domain.RebalancingConfig{
		Type:     domain.RebalanceCalendar,
		Calendar: &domain.CalendarRebalanceConfig{Period: domain.PeriodQuarterly},
	}
	cfg.PositionSizing = domain.PositionSizingConfig{
		Method:        domain.SizingCustomWeights,
		CustomWeights: map[string]float64{"SPY": 0.6, "AGG": 0.4},
	}

	res, err := NewDriver(src).Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 12, res.Diagnostics.Deposits, "one deposit per month")
	assert.Equal(t, 4, res.Diagnostics.Rebalances, "initial plus Apr, Jul, Oct")

	require.Len(t, res.TaxYears, 1)
	assert.Equal(t, 2020, res.TaxYears[0].Year)
	assert.True(t, res.TaxYears[0].TotalTax.IsZero(), "Roth owes nothing")
}

// Scenario: drift-only rebalancing with a widening spread.
func TestRun_DriftTrigger(t *testing.T) {
	src := marketdata.NewMemorySource()
	// SPY rallies hard while TLT is flat: weights drift past 5%.
	genBars(t, src, "SPY", "2020-01-02", "2020-06-30", 100, 1.0)
	genBars(t, src, "TLT", "2020-01-02", "2020-06-30", 100, 0)

	abs := 0.05
	cfg := baseConfig("2020-01-02", "2020-06-30", "SPY", "TLT")
	cfg.InitialCash = decimal.NewFromInt(50000)
	cfg.Dividends.Mode = domain.DividendCash
	cfg.Rebalancing = domain.RebalancingConfig{
		Type:  domain.RebalanceDrift,
		Drift: &domain.DriftRebalanceConfig{AbsPct: &abs},
	}

	res, err := NewDriver(src).Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.Diagnostics.Rebalances, 2, "initial deployment plus at least one drift rebalance")
	assert.Greater(t, countTrades(res.Trades, domain.TradeSell), 0)
}

// Scenario: Roth contribution cap with strict rejection.
func TestRun_ContributionCapStopsDeposits(t *testing.T) {
	src := marketdata.NewMemorySource()
	genBars(t, src, "SPY", "2024-01-02", "2024-12-31", 400, 0)

	cfg := baseConfig("2024-01-02", "2024-12-31", "SPY")
	cfg.Account.Type = domain.AccountRothIRA
	cfg.Account.ContributionCaps = domain.ContributionCaps{
		Enforce: true,
		Roth:    decimal.NewFromInt(7000),
	}
	cfg.Deposits = &domain.DepositConfig{
		Cadence: domain.DepositMonthly,
		Amount:  decimal.NewFromInt(1000),
	}

	res, err := NewDriver(src).Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 7, res.Diagnostics.Deposits, "cap admits seven monthly deposits")
	assert.NotEmpty(t, res.Warnings)
}

// A split and a dividend on the same day: the split applies first, so
// the dividend pays on post-split shares.
func TestRun_SplitBeforeSameDayDividend(t *testing.T) {
	src := marketdata.NewMemorySource()
	genBars(t, src, "XYZ", "2020-01-02", "2020-03-31", 100, 0)
	src.SetSplits("XYZ", []domain.SplitAction{
		{Symbol: "XYZ", ExDate: d("2020-02-03"), Ratio: decimal.NewFromInt(2)},
	})
	src.SetDividends("XYZ", []domain.DividendAction{
		{Symbol: "XYZ", ExDate: d("2020-02-03"), PerShare: decimal.NewFromInt(1), QualifiedPct: 1.0},
	})

	cfg := baseConfig("2020-01-02", "2020-03-31", "XYZ")
	cfg.Dividends.Mode = domain.DividendCash

	res, err := NewDriver(src).Run(context.Background(), cfg)
	require.NoError(t, err)

	// 100 shares became 200 on the split; the $1 dividend pays $200.
	var divRecord *domain.TradeRecord
	for i := range res.Trades {
		if res.Trades[i].Action == domain.TradeDividend {
			divRecord = &res.Trades[i]
		}
	}
	require.NotNil(t, divRecord)
	assert.True(t, divRecord.CashDelta.Equal(decimal.NewFromInt(200)),
		"dividend %s", divRecord.CashDelta)
}

func TestRun_DeterministicByteIdentical(t *testing.T) {
	build := func() *Result {
		src := marketdata.NewMemorySource()
		genBars(t, src, "SPY", "2020-01-02", "2020-06-30", 300, 0.3)
		genBars(t, src, "TLT", "2020-01-02", "2020-06-30", 140, -0.1)
		src.SetDividends("SPY", []domain.DividendAction{
			{Symbol: "SPY", ExDate: d("2020-03-20"), PerShare: decimal.NewFromFloat(1.4), QualifiedPct: 0.95},
		})

		cfg := baseConfig("2020-01-02", "2020-06-30", "SPY", "TLT")
		cfg.Deposits = &domain.DepositConfig{Cadence: domain.DepositMonthly, Amount: decimal.NewFromInt(250)}
		cfg.Benchmark = []string{"SPY"}

		res, err := NewDriver(src).Run(context.Background(), cfg)
		require.NoError(t, err)
		return res
	}

	a, err := json.Marshal(build())
	require.NoError(t, err)
	b, err := json.Marshal(build())
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_SingleDayPeriod(t *testing.T) {
	src := marketdata.NewMemorySource()
	genBars(t, src, "SPY", "2020-06-01", "2020-06-01", 300, 0)

	cfg := baseConfig("2020-06-01", "2020-06-01", "SPY")
	// A one-day period needs start < end at the config level, so widen
	// the window but keep a single trading day of data: use a weekend.
	cfg.Period = domain.PeriodConfig{Start: "2020-05-30", End: "2020-06-01", Calendar: "NYSE"}

	res, err := NewDriver(src).Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Len(t, res.EquityCurve, 1)
	assert.Nil(t, res.Metrics.Sharpe)
	assert.Nil(t, res.Metrics.IRR)
	assert.Zero(t, res.Metrics.TWR)
}

func TestRun_MissingBarIsFatal(t *testing.T) {
	src := marketdata.NewMemorySource()
	days := genBars(t, src, "SPY", "2020-01-02", "2020-03-31", 300, 0)

	// Remove a bar in the middle.
	bars, err := src.Bars(context.Background(), "SPY", days[0], days[len(days)-1])
	require.NoError(t, err)
	src.SetBars("SPY", append(bars[:10:10], bars[11:]...))

	cfg := baseConfig("2020-01-02", "2020-03-31", "SPY")
	_, err = NewDriver(src).Run(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, marketdata.ErrDataUnavailable)

	var missing *marketdata.MissingDataError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "SPY", missing.Symbol)
	assert.Equal(t, days[10], missing.Date)
}

func TestRun_CancelledReturnsPartial(t *testing.T) {
	src := marketdata.NewMemorySource()
	genBars(t, src, "SPY", "2020-01-02", "2020-12-31", 300, 0.1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := baseConfig("2020-01-02", "2020-12-31", "SPY")
	res, err := NewDriver(src).Run(ctx, cfg)
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Empty(t, res.EquityCurve)
}

func TestRun_ExpenseRatioDragReducesValue(t *testing.T) {
	runWith := func(er float64) decimal.Decimal {
		src := marketdata.NewMemorySource()
		genBars(t, src, "SPY", "2020-01-02", "2020-12-31", 300, 0)
		if er > 0 {
			src.SetExpenseRatio("SPY", er)
		}
		cfg := baseConfig("2020-01-02", "2020-12-31", "SPY")
		cfg.Frictions.UseActualETFER = true
		res, err := NewDriver(src).Run(context.Background(), cfg)
		require.NoError(t, err)
		return res.FinalValue
	}

	gross := runWith(0)
	net := runWith(0.005)
	assert.True(t, net.LessThan(gross), "drag must reduce final value: %s vs %s", net, gross)
}

func TestRun_BenchmarkBlockPopulated(t *testing.T) {
	src := marketdata.NewMemorySource()
	genBars(t, src, "SPY", "2020-01-02", "2020-06-30", 300, 0.3)
	genBars(t, src, "VT", "2020-01-02", "2020-06-30", 90, 0.1)

	cfg := baseConfig("2020-01-02", "2020-06-30", "SPY")
	cfg.Benchmark = []string{"VT"}

	res, err := NewDriver(src).Run(context.Background(), cfg)
	require.NoError(t, err)

	require.Contains(t, res.BenchmarkMetrics, "VT")
	require.Contains(t, res.BenchmarkEquity, "VT")
	assert.Len(t, res.BenchmarkEquity["VT"], len(res.EquityCurve))
	assert.NotNil(t, res.Metrics.Beta, "regression against the primary benchmark")
}

func TestRun_EquityPointMatchesCashPlusPositions(t *testing.T) {
	src := marketdata.NewMemorySource()
	genBars(t, src, "SPY", "2020-01-02", "2020-03-31", 300, 0.25)

	cfg := baseConfig("2020-01-02", "2020-03-31", "SPY")
	res, err := NewDriver(src).Run(context.Background(), cfg)
	require.NoError(t, err)

	for _, pt := range res.EquityCurve {
		sum := pt.Cash.Add(pt.PositionsValue)
		assert.True(t, pt.PortfolioValue.Sub(domain.RoundMoney(sum)).Abs().LessThanOrEqual(decimal.New(1, -2)),
			"%s: value %s != cash %s + positions %s", pt.Date, pt.PortfolioValue, pt.Cash, pt.PositionsValue)
	}
}
