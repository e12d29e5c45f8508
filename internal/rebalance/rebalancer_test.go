package rebalance

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-lab/internal/domain"
	"portfolio-lab/internal/marketcal"
	"portfolio-lab/internal/portfolio"
)

func d(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func cal(t *testing.T) *marketcal.Calendar {
	t.Helper()
	c, err := marketcal.New("NYSE")
	require.NoError(t, err)
	return c
}

func TestShouldRebalance_CalendarQuarterly(t *testing.T) {
	r := New(domain.RebalancingConfig{
		Type:     domain.RebalanceCalendar,
		Calendar: &domain.CalendarRebalanceConfig{Period: domain.PeriodQuarterly},
	}, cal(t), domain.AccountRothIRA)

	quarterStarts := []string{"2020-01-02", "2020-04-01", "2020-07-01", "2020-10-01"}
	for _, s := range quarterStarts {
		due, reason := r.ShouldRebalance(DayContext{Date: d(s)})
		assert.Truef(t, due, "expected due on %s", s)
		assert.Equal(t, ReasonCalendar, reason)
	}

	for _, s := range []string{"2020-01-03", "2020-02-03", "2020-06-01", "2020-12-01"} {
		due, _ := r.ShouldRebalance(DayContext{Date: d(s)})
		assert.Falsef(t, due, "not due on %s", s)
	}
}

func TestShouldRebalance_DriftAbsolute(t *testing.T) {
	abs := 0.05
	r := New(domain.RebalancingConfig{
		Type:  domain.RebalanceDrift,
		Drift: &domain.DriftRebalanceConfig{AbsPct: &abs},
	}, cal(t), domain.AccountTaxable)

	targets := map[string]float64{"SPY": 0.5, "TLT": 0.5}

	due, _ := r.ShouldRebalance(DayContext{
		Date:           d("2020-06-01"),
		CurrentWeights: map[string]float64{"SPY": 0.54, "TLT": 0.46},
		TargetWeights:  targets,
	})
	assert.False(t, due)

	due, reason := r.ShouldRebalance(DayContext{
		Date:           d("2020-06-01"),
		CurrentWeights: map[string]float64{"SPY": 0.56, "TLT": 0.44},
		TargetWeights:  targets,
	})
	assert.True(t, due)
	assert.Equal(t, ReasonDrift, reason)
}

func TestShouldRebalance_DriftZeroThresholdFiresOnAnyMove(t *testing.T) {
	zero := 0.0
	r := New(domain.RebalancingConfig{
		Type:  domain.RebalanceDrift,
		Drift: &domain.DriftRebalanceConfig{AbsPct: &zero},
	}, cal(t), domain.AccountTaxable)

	due, _ := r.ShouldRebalance(DayContext{
		Date:           d("2020-06-01"),
		CurrentWeights: map[string]float64{"SPY": 0.500001, "TLT": 0.499999},
		TargetWeights:  map[string]float64{"SPY": 0.5, "TLT": 0.5},
	})
	assert.True(t, due)
}

func TestShouldRebalance_DriftRelative(t *testing.T) {
	rel := 0.10
	r := New(domain.RebalancingConfig{
		Type:  domain.RebalanceDrift,
		Drift: &domain.DriftRebalanceConfig{RelPct: &rel},
	}, cal(t), domain.AccountTaxable)

	// 0.22 vs target 0.20 is 10% relative drift: not above threshold.
	due, _ := r.ShouldRebalance(DayContext{
		Date:           d("2020-06-01"),
		CurrentWeights: map[string]float64{"SPY": 0.22},
		TargetWeights:  map[string]float64{"SPY": 0.20},
	})
	assert.False(t, due)

	due, _ = r.ShouldRebalance(DayContext{
		Date:           d("2020-06-01"),
		CurrentWeights: map[string]float64{"SPY": 0.23},
		TargetWeights:  map[string]float64{"SPY": 0.20},
	})
	assert.True(t, due)
}

func TestShouldRebalance_CashflowOnly(t *testing.T) {
	r := New(domain.RebalancingConfig{Type: domain.RebalanceCashflowOnly}, cal(t), domain.AccountTaxable)

	due, reason := r.ShouldRebalance(DayContext{
		Date:       d("2020-06-01"),
		CashAdded:  true,
		Cash:       dec("500"),
		TotalValue: dec("10000"),
	})
	assert.True(t, due)
	assert.Equal(t, ReasonCashflow, reason)

	// No cash event: never due.
	due, _ = r.ShouldRebalance(DayContext{
		Date:       d("2020-06-01"),
		CashAdded:  false,
		Cash:       dec("500"),
		TotalValue: dec("10000"),
	})
	assert.False(t, due)
}

func TestShouldRebalance_CashflowDeployThreshold(t *testing.T) {
	r := New(domain.RebalancingConfig{
		Type:            domain.RebalanceCashflowOnly,
		DeployThreshold: 0.10,
	}, cal(t), domain.AccountTaxable)

	// 5% cash: below the deploy threshold.
	due, _ := r.ShouldRebalance(DayContext{
		Date: d("2020-06-01"), CashAdded: true,
		Cash: dec("500"), TotalValue: dec("10000"),
	})
	assert.False(t, due)

	due, _ = r.ShouldRebalance(DayContext{
		Date: d("2020-06-01"), CashAdded: true,
		Cash: dec("1500"), TotalValue: dec("10000"),
	})
	assert.True(t, due)
}

func newBook(t *testing.T, method domain.LotMethod, cash string) *portfolio.Portfolio {
	t.Helper()
	return portfolio.New(portfolio.Options{
		InitialCash: dec(cash),
		AccountType: domain.AccountTaxable,
		LotMethod:   method,
	})
}

func TestBuildPlan_SellsBeforeBuys(t *testing.T) {
	p := newBook(t, domain.LotFIFO, "100000")
	_, err := p.Buy("SPY", dec("80000"), dec("100"), d("2019-01-02"))
	require.NoError(t, err)
	_, err = p.Buy("TLT", dec("20000"), dec("50"), d("2019-01-02"))
	require.NoError(t, err)

	r := New(domain.RebalancingConfig{Type: domain.RebalanceCalendar,
		Calendar: &domain.CalendarRebalanceConfig{Period: domain.PeriodQuarterly}}, cal(t), domain.AccountTaxable)

	prices := map[string]decimal.Decimal{"SPY": dec("100"), "TLT": dec("50")}
	targets := map[string]float64{"SPY": 0.5, "TLT": 0.5}

	plan := r.BuildPlan(d("2020-01-02"), p, prices, targets, ReasonCalendar, Frictions{})
	require.NotEmpty(t, plan.Legs)

	sawBuy := false
	for _, leg := range plan.Legs {
		if leg.Side == SideBuy {
			sawBuy = true
		}
		if leg.Side == SideSell {
			assert.False(t, sawBuy, "sell after buy in plan order")
			assert.Equal(t, "SPY", leg.Symbol)
		}
	}
	assert.True(t, sawBuy)
}

func TestBuildPlan_TaxAwareOrdering(t *testing.T) {
	// Three overweight positions: a loser, a long-term winner, and a
	// short-term winner. The loser is the least overweight, so only its
	// tax class puts it first.
	p := newBook(t, domain.LotFIFO, "300000")
	_, err := p.Buy("LOSS", dec("100000"), dec("100"), d("2018-01-02"))
	require.NoError(t, err)
	_, err = p.Buy("LTG", dec("100000"), dec("80"), d("2018-01-02"))
	require.NoError(t, err)
	_, err = p.Buy("STG", dec("100000"), dec("80"), d("2019-10-01"))
	require.NoError(t, err)

	r := New(domain.RebalancingConfig{Type: domain.RebalanceCalendar,
		Calendar: &domain.CalendarRebalanceConfig{Period: domain.PeriodQuarterly}}, cal(t), domain.AccountTaxable)

	// LOSS fell to 90, the winners rose to 100/share equivalents.
	prices := map[string]decimal.Decimal{
		"LOSS": dec("90"),
		"LTG":  dec("100"),
		"STG":  dec("100"),
		"CASH": dec("1"),
	}
	// Force all three to be overweight by targeting a fourth symbol.
	targets := map[string]float64{"LOSS": 0.1, "LTG": 0.1, "STG": 0.1, "CASH": 0.7}

	plan := r.BuildPlan(d("2020-01-02"), p, prices, targets, ReasonCalendar, Frictions{})

	var sellOrder []string
	for _, leg := range plan.Legs {
		if leg.Side == SideSell {
			sellOrder = append(sellOrder, leg.Symbol)
		}
	}
	require.Len(t, sellOrder, 3)
	assert.Equal(t, "LOSS", sellOrder[0], "losses harvested first")
	assert.Equal(t, "LTG", sellOrder[1], "long-term gains before short-term")
	assert.Equal(t, "STG", sellOrder[2], "short-term gains deferred")
}

func TestBuildPlan_BuysOrderedByDeficit(t *testing.T) {
	p := newBook(t, domain.LotFIFO, "10000")

	r := New(domain.RebalancingConfig{Type: domain.RebalanceCashflowOnly}, cal(t), domain.AccountTaxable)
	prices := map[string]decimal.Decimal{"SPY": dec("100"), "TLT": dec("50")}
	targets := map[string]float64{"SPY": 0.7, "TLT": 0.3}

	plan := r.BuildPlan(d("2020-01-02"), p, prices, targets, ReasonCashflow, Frictions{})
	require.Len(t, plan.Legs, 2)
	assert.Equal(t, "SPY", plan.Legs[0].Symbol)
	assert.True(t, plan.Legs[0].Notional.Equal(dec("7000")), "notional %s", plan.Legs[0].Notional)
	assert.Equal(t, "TLT", plan.Legs[1].Symbol)
	assert.True(t, plan.Legs[1].Notional.Equal(dec("3000")))
}

func TestBuildPlan_ScalesDownBuysWhenCashShort(t *testing.T) {
	// All value in SPY, none to sell, but a huge TLT target: the plan
	// must scale buys to available cash rather than overdraw.
	p := newBook(t, domain.LotFIFO, "101000")
	_, err := p.Buy("SPY", dec("100000"), dec("100"), d("2019-01-02"))
	require.NoError(t, err)

	r := New(domain.RebalancingConfig{Type: domain.RebalanceCashflowOnly}, cal(t), domain.AccountTaxable)
	prices := map[string]decimal.Decimal{"SPY": dec("100"), "TLT": dec("50")}
	// SPY target equals its current weight so no sell is generated.
	targets := map[string]float64{"SPY": 100000.0 / 101000.0, "TLT": 50000.0 / 101000.0}

	plan := r.BuildPlan(d("2020-01-02"), p, prices, targets, ReasonCashflow, Frictions{})
	assert.True(t, plan.ScaledDown)

	totalBuys := decimal.Zero
	for _, leg := range plan.Legs {
		require.Equal(t, SideBuy, leg.Side)
		totalBuys = totalBuys.Add(leg.Notional)
	}
	assert.True(t, totalBuys.LessThanOrEqual(p.Cash()),
		"buys %s exceed cash %s", totalBuys, p.Cash())
}

func TestBuildCashDeployment(t *testing.T) {
	r := New(domain.RebalancingConfig{Type: domain.RebalanceCashflowOnly}, cal(t), domain.AccountRothIRA)

	prices := map[string]decimal.Decimal{"SPY": dec("300"), "AGG": dec("100")}
	plan := r.BuildCashDeployment(dec("500"), map[string]float64{"SPY": 0.6, "AGG": 0.4}, prices)

	require.Len(t, plan.Legs, 2)
	assert.Equal(t, "SPY", plan.Legs[0].Symbol)
	assert.True(t, plan.Legs[0].Notional.Equal(dec("300")))
	assert.Equal(t, "AGG", plan.Legs[1].Symbol)
	assert.True(t, plan.Legs[1].Notional.Equal(dec("200")))
}

func TestBuildPlan_EmptyWhenBalanced(t *testing.T) {
	p := newBook(t, domain.LotFIFO, "20000")
	_, err := p.Buy("SPY", dec("10000"), dec("100"), d("2019-01-02"))
	require.NoError(t, err)
	_, err = p.Buy("TLT", dec("10000"), dec("50"), d("2019-01-02"))
	require.NoError(t, err)

	r := New(domain.RebalancingConfig{Type: domain.RebalanceCashflowOnly}, cal(t), domain.AccountTaxable)
	prices := map[string]decimal.Decimal{"SPY": dec("100"), "TLT": dec("50")}
	targets := map[string]float64{"SPY": 0.5, "TLT": 0.5}

	plan := r.BuildPlan(d("2019-06-03"), p, prices, targets, ReasonDrift, Frictions{})
	assert.Empty(t, plan.Legs)
}
