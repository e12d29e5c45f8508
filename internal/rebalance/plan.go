package rebalance

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"portfolio-lab/internal/domain"
)

// Side of a trade leg.
type Side string

// Sides.
const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Leg is one ordered instruction of a trade plan. Sells carry a share
// quantity; buys carry a cash notional.
type Leg struct {
	Symbol   string
	Side     Side
	Quantity decimal.Decimal // sells
	Notional decimal.Decimal // buys
}

// Plan is an ordered trade list the driver executes verbatim.
type Plan struct {
	Legs       []Leg
	Reason     string
	ScaledDown bool // buys were shrunk to keep cash non-negative
}

// Frictions are the execution costs the planner prices in when
// projecting post-sell cash.
type Frictions struct {
	Commission  decimal.Decimal
	SlippageBps float64
}

// minLegValue drops dust legs the frictions would eat.
var minLegValue = decimal.NewFromInt(1)

// sellClass buckets a sell leg for tax-aware ordering.
type sellClass int

const (
	classLoss     sellClass = iota // realizes a loss: harvest first
	classLongGain                  // long-term gains next
	classShortGain                 // short-term gains deferred last
)

type sellCandidate struct {
	symbol string
	qty    decimal.Decimal
	excess decimal.Decimal // overweight dollars
	class  sellClass
}

type buyCandidate struct {
	symbol  string
	deficit decimal.Decimal // underweight dollars
}

// BuildPlan computes the ordered trade list that moves the book to its
// target weights at the given execution prices.
//
// Sells come first. In a taxable account they are ordered
// losses, then long-term gains, then short-term gains, largest
// overweight first within each class; elsewhere purely by overweight.
// Buys follow, largest underweight first, scaled down proportionally
// if the projected post-plan cash would go negative.
func (r *Rebalancer) BuildPlan(date time.Time, book Book, prices map[string]decimal.Decimal,
	targets map[string]float64, reason string, fr Frictions) Plan {

	plan := Plan{Reason: reason}

	total := book.Cash()
	symbols := make([]string, 0, len(targets))
	for symbol := range targets {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	for _, symbol := range symbols {
		total = total.Add(book.Quantity(symbol).Mul(prices[symbol]))
	}
	if !total.IsPositive() {
		return plan
	}

	var sells []sellCandidate
	var buys []buyCandidate

	for _, symbol := range symbols {
		price := prices[symbol]
		if !price.IsPositive() {
			continue
		}
		target := total.Mul(decimal.NewFromFloat(targets[symbol]))
		current := book.Quantity(symbol).Mul(price)
		diff := current.Sub(target)

		switch {
		case diff.GreaterThan(minLegValue):
			qty := domain.TruncateQty(diff.Div(price))
			if held := book.Quantity(symbol); qty.GreaterThan(held) {
				qty = held
			}
			if !qty.IsPositive() {
				continue
			}
			sells = append(sells, sellCandidate{
				symbol: symbol,
				qty:    qty,
				excess: diff,
				class:  r.classifySell(date, book, symbol, price, qty),
			})
		case diff.Neg().GreaterThan(minLegValue):
			buys = append(buys, buyCandidate{symbol: symbol, deficit: diff.Neg()})
		}
	}

	r.orderSells(sells)
	sort.Slice(buys, func(i, j int) bool {
		if !buys[i].deficit.Equal(buys[j].deficit) {
			return buys[i].deficit.GreaterThan(buys[j].deficit)
		}
		return buys[i].symbol < buys[j].symbol
	})

	// Project cash through the sells to keep the buys feasible.
	slip := decimal.NewFromFloat(fr.SlippageBps).Div(decimal.NewFromInt(10000))
	cash := book.Cash()
	for _, s := range sells {
		proceeds := s.qty.Mul(prices[s.symbol]).Mul(decimal.NewFromInt(1).Sub(slip)).Sub(fr.Commission)
		cash = cash.Add(proceeds)
		plan.Legs = append(plan.Legs, Leg{Symbol: s.symbol, Side: SideSell, Quantity: s.qty})
	}

	totalBuy := decimal.Zero
	for _, b := range buys {
		totalBuy = totalBuy.Add(b.deficit)
	}
	scale := decimal.NewFromInt(1)
	if totalBuy.GreaterThan(cash) {
		if !cash.IsPositive() {
			return plan
		}
		scale = cash.Div(totalBuy)
		plan.ScaledDown = true
	}
	for _, b := range buys {
		notional := domain.RoundMoney(b.deficit.Mul(scale))
		if notional.LessThan(minLegValue) {
			continue
		}
		plan.Legs = append(plan.Legs, Leg{Symbol: b.symbol, Side: SideBuy, Notional: notional})
	}

	return plan
}

// BuildCashDeployment allocates fresh cash across the targets without
// touching existing positions. Used for deposit days and
// cashflow-triggered deployments.
func (r *Rebalancer) BuildCashDeployment(amount decimal.Decimal, targets map[string]float64,
	prices map[string]decimal.Decimal) Plan {

	plan := Plan{Reason: ReasonCashflow}
	if !amount.IsPositive() {
		return plan
	}

	symbols := make([]string, 0, len(targets))
	for symbol := range targets {
		symbols = append(symbols, symbol)
	}
	sort.Slice(symbols, func(i, j int) bool {
		if targets[symbols[i]] != targets[symbols[j]] {
			return targets[symbols[i]] > targets[symbols[j]]
		}
		return symbols[i] < symbols[j]
	})

	for _, symbol := range symbols {
		w := targets[symbol]
		if w <= 0 || !prices[symbol].IsPositive() {
			continue
		}
		notional := domain.RoundMoney(amount.Mul(decimal.NewFromFloat(w)))
		if notional.LessThan(minLegValue) {
			continue
		}
		plan.Legs = append(plan.Legs, Leg{Symbol: symbol, Side: SideBuy, Notional: notional})
	}
	return plan
}

// classifySell predicts the tax character of selling qty shares by
// walking the lots the configured disposal method would consume.
func (r *Rebalancer) classifySell(date time.Time, book Book, symbol string,
	price decimal.Decimal, qty decimal.Decimal) sellClass {

	if r.accountType != domain.AccountTaxable {
		return classLoss // ordering degenerates to overweight-first
	}

	pos, ok := book.Position(symbol, price)
	if !ok {
		return classLoss
	}

	// Position-level unrealized loss sells first regardless of lots.
	if pos.UnrealizedGain.IsNegative() {
		return classLoss
	}

	// A gain sell: short-term if any consumed lot would be short-term.
	// Walk lots oldest-first as a conservative proxy; exact consumption
	// order belongs to the portfolio at execution time.
	cutoff := date.AddDate(0, 0, -domain.ShortTermDays)
	remaining := qty
	for _, lot := range pos.Lots {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(lot.RemainingQty, remaining)
		remaining = remaining.Sub(take)
		gain := price.Sub(lot.CostPerShare)
		if gain.IsPositive() && !lot.AcquisitionDate.Before(cutoff) {
			return classShortGain
		}
	}
	return classLongGain
}

// orderSells sorts sell candidates by tax class, then by overweight
// magnitude, then symbol for determinism.
func (r *Rebalancer) orderSells(sells []sellCandidate) {
	sort.Slice(sells, func(i, j int) bool {
		if r.accountType == domain.AccountTaxable && sells[i].class != sells[j].class {
			return sells[i].class < sells[j].class
		}
		if !sells[i].excess.Equal(sells[j].excess) {
			return sells[i].excess.GreaterThan(sells[j].excess)
		}
		return sells[i].symbol < sells[j].symbol
	})
}
