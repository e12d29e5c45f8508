package taxes

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-lab/internal/domain"
)

var testCfg = domain.TaxConfig{
	FederalOrdinary: 0.32,
	FederalLTCG:     0.15,
	State:           0.06,
}

func d(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func realize(l *Ledger, date string, gain string, longTerm bool) {
	l.RecordRealized(domain.RealizedEvent{
		Date:     d(date),
		GainLoss: dec(gain),
		LongTerm: longTerm,
	})
}

func TestCloseYear_RatesPerClass(t *testing.T) {
	l := NewLedger(domain.AccountTaxable, testCfg)

	realize(l, "2020-03-02", "1000", false) // short-term: 38%
	realize(l, "2020-06-01", "2000", true)  // long-term: 21%
	l.RecordDividend(d("2020-09-01"), dec("500"), dec("100"))
	l.RecordInterest(d("2020-10-01"), dec("50"))

	s := l.CloseYear(2020)
	// 1000*0.38 + 2000*0.21 + 500*0.21 + 100*0.38 + 50*0.38 = 962.
	assert.True(t, s.TotalTax.Equal(dec("962")), "tax %s", s.TotalTax)
	assert.True(t, s.ShortTermGains.Equal(dec("1000")))
	assert.True(t, s.LongTermGains.Equal(dec("2000")))
	assert.True(t, s.QualifiedDividends.Equal(dec("500")))
	assert.True(t, s.OrdinaryDividends.Equal(dec("100")))
	assert.True(t, s.InterestIncome.Equal(dec("50")))
}

func TestCloseYear_LossesOffsetWithinClass(t *testing.T) {
	l := NewLedger(domain.AccountTaxable, testCfg)

	realize(l, "2020-03-02", "1000", false)
	realize(l, "2020-04-01", "-600", false)

	s := l.CloseYear(2020)
	// Net ST 400 * 0.38 = 152.
	assert.True(t, s.TotalTax.Equal(dec("152")), "tax %s", s.TotalTax)
}

func TestCloseYear_ShortLossReducesLongGain(t *testing.T) {
	l := NewLedger(domain.AccountTaxable, testCfg)

	realize(l, "2020-03-02", "-1500", false)
	realize(l, "2020-06-01", "2000", true)

	s := l.CloseYear(2020)
	// LT 500 * 0.21 = 105.
	assert.True(t, s.TotalTax.Equal(dec("105")), "tax %s", s.TotalTax)
}

func TestCloseYear_LongLossReducesShortGain(t *testing.T) {
	l := NewLedger(domain.AccountTaxable, testCfg)

	realize(l, "2020-03-02", "2000", false)
	realize(l, "2020-06-01", "-500", true)

	s := l.CloseYear(2020)
	// ST 1500 * 0.38 = 570.
	assert.True(t, s.TotalTax.Equal(dec("570")), "tax %s", s.TotalTax)
}

func TestCloseYear_NetLossNoNegativeTaxNoCarry(t *testing.T) {
	l := NewLedger(domain.AccountTaxable, testCfg)

	realize(l, "2020-03-02", "-3000", false)
	s := l.CloseYear(2020)
	assert.True(t, s.TotalTax.IsZero())

	// The loss does not carry into the next year.
	realize(l, "2021-03-01", "1000", false)
	s = l.CloseYear(2021)
	assert.True(t, s.TotalTax.Equal(dec("380")), "tax %s", s.TotalTax)
}

func TestCloseYear_RothOwesNothing(t *testing.T) {
	l := NewLedger(domain.AccountRothIRA, testCfg)

	realize(l, "2020-03-02", "5000", false)
	l.RecordDividend(d("2020-09-01"), dec("500"), dec("100"))

	s := l.CloseYear(2020)
	assert.True(t, s.TotalTax.IsZero())
	// Activity is still reported.
	assert.True(t, s.ShortTermGains.Equal(dec("5000")))
}

func TestWashAdjustment_BacksLossOutAndCounts(t *testing.T) {
	l := NewLedger(domain.AccountTaxable, testCfg)

	realize(l, "2020-03-02", "-1000", false)
	l.RecordWashAdjustment(d("2020-03-02"), false, dec("1000"))
	realize(l, "2020-05-01", "1000", false)

	s := l.CloseYear(2020)
	// The disallowed loss no longer shelters the gain: 1000*0.38.
	assert.True(t, s.TotalTax.Equal(dec("380")), "tax %s", s.TotalTax)
	assert.Equal(t, 1, s.WashSaleCount)
}

func TestYears_SortedAscending(t *testing.T) {
	l := NewLedger(domain.AccountTaxable, testCfg)
	realize(l, "2022-03-01", "1", false)
	realize(l, "2020-03-02", "1", false)
	realize(l, "2021-03-01", "1", false)
	require.Equal(t, []int{2020, 2021, 2022}, l.Years())
}

func TestAfterTaxValue(t *testing.T) {
	cfg := testCfg
	cfg.WithdrawalTaxRateForIRA = 0.25

	roth := NewLedger(domain.AccountRothIRA, cfg)
	assert.True(t, roth.AfterTaxValue(dec("10000"), dec("4000")).Equal(dec("10000")))

	trad := NewLedger(domain.AccountTraditionalIRA, cfg)
	assert.True(t, trad.AfterTaxValue(dec("10000"), dec("4000")).Equal(dec("7500")))

	taxable := NewLedger(domain.AccountTaxable, cfg)
	// 10000 - 4000*0.21 = 9160.
	assert.True(t, taxable.AfterTaxValue(dec("10000"), dec("4000")).Equal(dec("9160")))
	// No unrealized gain: full value.
	assert.True(t, taxable.AfterTaxValue(dec("10000"), dec("-500")).Equal(dec("10000")))
}
