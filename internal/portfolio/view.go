package portfolio

import (
	"github.com/shopspring/decimal"

	"portfolio-lab/internal/domain"
)

// Symbols returns held symbols in first-acquisition order, including
// symbols whose position has since closed.
func (p *Portfolio) Symbols() []string {
	out := make([]string, len(p.symbols))
	copy(out, p.symbols)
	return out
}

// Position returns the derived view for one symbol, or false when no
// lots are open. Market value fields use the provided close price.
func (p *Portfolio) Position(symbol string, closePrice decimal.Decimal) (domain.Position, bool) {
	lots := p.lots[symbol]
	if len(lots) == 0 {
		return domain.Position{}, false
	}

	pos := domain.Position{Symbol: symbol}
	for _, lot := range lots {
		pos.Quantity = pos.Quantity.Add(lot.RemainingQty)
		pos.CostBasis = pos.CostBasis.Add(lot.CostBasis())
		pos.Lots = append(pos.Lots, *lot)
	}
	pos.MarketValue = domain.RoundMoney(pos.Quantity.Mul(closePrice))
	pos.UnrealizedGain = pos.MarketValue.Sub(pos.CostBasis)
	return pos, true
}

// Positions returns all open positions in first-acquisition order.
func (p *Portfolio) Positions(closes map[string]decimal.Decimal) []domain.Position {
	var out []domain.Position
	for _, symbol := range p.symbols {
		if pos, ok := p.Position(symbol, closes[symbol]); ok {
			out = append(out, pos)
		}
	}
	return out
}

// Mark values the open positions at the provided closes without
// mutating anything.
func (p *Portfolio) Mark(closes map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, symbol := range p.symbols {
		qty := p.Quantity(symbol)
		if qty.IsPositive() {
			total = total.Add(qty.Mul(closes[symbol]))
		}
	}
	return domain.RoundMoney(total)
}

// TotalValue is cash plus marked positions.
func (p *Portfolio) TotalValue(closes map[string]decimal.Decimal) decimal.Decimal {
	return p.cash.Add(p.Mark(closes))
}

// Weights returns each open position's share of total portfolio value.
func (p *Portfolio) Weights(closes map[string]decimal.Decimal) map[string]float64 {
	total := p.TotalValue(closes)
	weights := make(map[string]float64)
	if !total.IsPositive() {
		return weights
	}
	for _, symbol := range p.symbols {
		qty := p.Quantity(symbol)
		if qty.IsPositive() {
			value := qty.Mul(closes[symbol])
			weights[symbol], _ = value.Div(total).Float64()
		}
	}
	return weights
}

// OpenLots snapshots every open lot in id order.
func (p *Portfolio) OpenLots() []domain.Lot {
	var out []domain.Lot
	for _, symbol := range p.symbols {
		for _, lot := range p.lots[symbol] {
			out = append(out, *lot)
		}
	}
	// Lots within a symbol follow acquisition order; order across
	// symbols follows first acquisition, so sort by id for a stable
	// global view.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].ID < out[j-1].ID; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
