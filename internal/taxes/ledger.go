// Package taxes accumulates realized gains and investment income by
// calendar year and computes the year-end tax accrual.
package taxes

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"portfolio-lab/internal/domain"
)

// yearAccum collects one calendar year's taxable activity.
type yearAccum struct {
	shortTerm     decimal.Decimal
	longTerm      decimal.Decimal
	qualifiedDivs decimal.Decimal
	ordinaryDivs  decimal.Decimal
	interest      decimal.Decimal
	washSales     int
}

// Ledger owns the per-year accumulators. It implements
// portfolio.TaxSink. Not safe for concurrent use.
type Ledger struct {
	accountType domain.AccountType
	cfg         domain.TaxConfig
	years       map[int]*yearAccum
}

// NewLedger creates an empty ledger for the account.
func NewLedger(accountType domain.AccountType, cfg domain.TaxConfig) *Ledger {
	return &Ledger{
		accountType: accountType,
		cfg:         cfg,
		years:       make(map[int]*yearAccum),
	}
}

func (l *Ledger) year(y int) *yearAccum {
	acc, ok := l.years[y]
	if !ok {
		acc = &yearAccum{}
		l.years[y] = acc
	}
	return acc
}

// RecordRealized accumulates a realized gain or loss into its year and
// holding-period class.
func (l *Ledger) RecordRealized(ev domain.RealizedEvent) {
	acc := l.year(ev.Date.Year())
	if ev.LongTerm {
		acc.longTerm = acc.longTerm.Add(ev.GainLoss)
	} else {
		acc.shortTerm = acc.shortTerm.Add(ev.GainLoss)
	}
}

// RecordWashAdjustment removes a disallowed loss from its class: the
// loss was recorded at sell time and is backed out when a replacement
// purchase matches.
func (l *Ledger) RecordWashAdjustment(date time.Time, longTerm bool, amount decimal.Decimal) {
	acc := l.year(date.Year())
	if longTerm {
		acc.longTerm = acc.longTerm.Add(amount)
	} else {
		acc.shortTerm = acc.shortTerm.Add(amount)
	}
	acc.washSales++
}

// RecordDividend accumulates qualified and ordinary dividend income.
func (l *Ledger) RecordDividend(date time.Time, qualified, ordinary decimal.Decimal) {
	acc := l.year(date.Year())
	acc.qualifiedDivs = acc.qualifiedDivs.Add(qualified)
	acc.ordinaryDivs = acc.ordinaryDivs.Add(ordinary)
}

// RecordInterest accumulates interest income on idle cash.
func (l *Ledger) RecordInterest(date time.Time, amount decimal.Decimal) {
	l.year(date.Year()).interest = l.year(date.Year()).interest.Add(amount)
}

// Years returns every year with recorded activity, ascending.
func (l *Ledger) Years() []int {
	out := make([]int, 0, len(l.years))
	for y := range l.years {
		out = append(out, y)
	}
	sort.Ints(out)
	return out
}

// CloseYear computes the year's tax. Losses offset gains within their
// class first (the accumulators are already nets), then across
// classes; what remains negative carries nowhere — there is no
// multi-year carry-forward. Tax-deferred and tax-free accounts owe
// nothing during the simulation.
func (l *Ledger) CloseYear(year int) domain.TaxYearSummary {
	acc := l.year(year)

	summary := domain.TaxYearSummary{
		Year:               year,
		ShortTermGains:     acc.shortTerm,
		LongTermGains:      acc.longTerm,
		QualifiedDividends: acc.qualifiedDivs,
		OrdinaryDividends:  acc.ordinaryDivs,
		InterestIncome:     acc.interest,
		TotalTax:           decimal.Zero,
		WashSaleCount:      acc.washSales,
	}

	if l.accountType.TaxDeferred() {
		return summary
	}

	st, lt := acc.shortTerm, acc.longTerm

	// Cross-class offset: a net short loss reduces long gains first,
	// then a net long loss reduces short gains.
	if st.IsNegative() && lt.IsPositive() {
		offset := decimal.Min(st.Neg(), lt)
		st = st.Add(offset)
		lt = lt.Sub(offset)
	}
	if lt.IsNegative() && st.IsPositive() {
		offset := decimal.Min(lt.Neg(), st)
		lt = lt.Add(offset)
		st = st.Sub(offset)
	}

	ordinaryRate := decimal.NewFromFloat(l.cfg.FederalOrdinary + l.cfg.State)
	ltcgRate := decimal.NewFromFloat(l.cfg.FederalLTCG + l.cfg.State)

	tax := decimal.Zero
	if st.IsPositive() {
		tax = tax.Add(st.Mul(ordinaryRate))
	}
	if lt.IsPositive() {
		tax = tax.Add(lt.Mul(ltcgRate))
	}
	tax = tax.Add(acc.qualifiedDivs.Mul(ltcgRate))
	tax = tax.Add(acc.ordinaryDivs.Mul(ordinaryRate))
	tax = tax.Add(acc.interest.Mul(ordinaryRate))

	summary.TotalTax = domain.RoundMoney(tax)
	return summary
}

// AfterTaxValue estimates the portfolio's value net of exit taxes:
// Roth and 529 withdraw tax-free, Traditional IRA is taxed in full at
// the withdrawal rate, and taxable accounts owe LTCG rates on positive
// unrealized gains.
func (l *Ledger) AfterTaxValue(totalValue, unrealizedGain decimal.Decimal) decimal.Decimal {
	switch l.accountType {
	case domain.AccountRothIRA, domain.Account529Plan:
		return totalValue
	case domain.AccountTraditionalIRA:
		keep := decimal.NewFromFloat(1 - l.cfg.WithdrawalTaxRateForIRA)
		return domain.RoundMoney(totalValue.Mul(keep))
	default:
		if !unrealizedGain.IsPositive() {
			return totalValue
		}
		rate := decimal.NewFromFloat(l.cfg.FederalLTCG + l.cfg.State)
		return domain.RoundMoney(totalValue.Sub(unrealizedGain.Mul(rate)))
	}
}
