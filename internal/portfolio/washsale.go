package portfolio

import (
	"time"

	"github.com/shopspring/decimal"

	"portfolio-lab/internal/domain"
)

// washWindow tracks a loss-producing sell for wash-sale matching.
// It spans the sell date plus and minus WashSaleDays calendar days,
// both inclusive, and closes when all sold quantity has been matched
// or the forward half of the window expires.
type washWindow struct {
	symbol        string
	sellDate      time.Time
	lossPerShare  decimal.Decimal // positive
	unmatchedQty  decimal.Decimal
	remainingLoss decimal.Decimal // cap: attributions never exceed the triggering loss
	realizedIdx   int             // index into Portfolio.realized
}

// openWashWindow records a pending window for a loss-producing sell and
// immediately matches it against replacement shares already bought
// within the backward half of the window.
func (p *Portfolio) openWashWindow(symbol string, sellDate time.Time, loss, qty decimal.Decimal, realizedIdx int, sourceLotID int64) {
	if !loss.IsPositive() || !qty.IsPositive() {
		return
	}
	w := &washWindow{
		symbol:        symbol,
		sellDate:      sellDate,
		lossPerShare:  loss.Div(qty),
		unmatchedQty:  qty,
		remainingLoss: loss,
		realizedIdx:   realizedIdx,
	}
	p.windows = append(p.windows, w)

	// Backward match: open lots of the same symbol acquired within the
	// prior thirty days count as replacement shares. The lot the loss
	// came from is not its own replacement.
	windowStart := sellDate.AddDate(0, 0, -domain.WashSaleDays)
	for _, lot := range p.lots[symbol] {
		if lot.ID == sourceLotID || !lot.RemainingQty.IsPositive() {
			continue
		}
		if lot.AcquisitionDate.Before(windowStart) || lot.AcquisitionDate.After(sellDate) {
			continue
		}
		p.matchWindowToLot(w, lot)
		if !w.unmatchedQty.IsPositive() {
			break
		}
	}
}

// matchBuyAgainstWindows attributes open wash windows to a freshly
// created lot. Windows match in the order their sells occurred.
func (p *Portfolio) matchBuyAgainstWindows(lot *domain.Lot, buyDate time.Time) {
	buyDate = domain.Day(buyDate)
	for _, w := range p.windows {
		if w.symbol != lot.Symbol || !w.unmatchedQty.IsPositive() {
			continue
		}
		if buyDate.After(w.sellDate.AddDate(0, 0, domain.WashSaleDays)) {
			continue
		}
		p.matchWindowToLot(w, lot)
		if !lotAvailable(p, lot).IsPositive() {
			break
		}
	}
	p.pruneWindows(buyDate)
}

func lotAvailable(p *Portfolio, lot *domain.Lot) decimal.Decimal {
	return lot.RemainingQty.Sub(p.washedQty[lot.ID])
}

// matchWindowToLot disallows loss for the overlap quantity and folds
// the disallowed amount into the replacement lot's basis.
func (p *Portfolio) matchWindowToLot(w *washWindow, lot *domain.Lot) {
	avail := lotAvailable(p, lot)
	if !avail.IsPositive() {
		return
	}

	matched := decimal.Min(w.unmatchedQty, avail)
	disallowed := domain.RoundMoney(w.lossPerShare.Mul(matched))
	if disallowed.GreaterThan(w.remainingLoss) {
		disallowed = w.remainingLoss
	}
	if !disallowed.IsPositive() {
		return
	}

	// Recompute the replacement lot's per-share basis.
	total := lot.CostPerShare.Mul(lot.RemainingQty).Add(disallowed)
	lot.CostPerShare = domain.RoundBasis(total.Div(lot.RemainingQty))
	lot.WashDisallowed = lot.WashDisallowed.Add(disallowed)
	lot.WashedInto = true

	// Flag the realized event and back the loss out of the ledger.
	ev := &p.realized[w.realizedIdx]
	ev.WashDisallowed = ev.WashDisallowed.Add(disallowed)
	if p.taxes != nil {
		p.taxes.RecordWashAdjustment(ev.Date, ev.LongTerm, disallowed)
	}

	w.unmatchedQty = w.unmatchedQty.Sub(matched)
	w.remainingLoss = w.remainingLoss.Sub(disallowed)
	p.washedQty[lot.ID] = p.washedQty[lot.ID].Add(matched)
	p.washEvents++
}

// pruneWindows drops windows whose forward half has expired or whose
// quantity is fully matched.
func (p *Portfolio) pruneWindows(now time.Time) {
	open := p.windows[:0]
	for _, w := range p.windows {
		expired := now.After(w.sellDate.AddDate(0, 0, domain.WashSaleDays))
		if expired || !w.unmatchedQty.IsPositive() {
			continue
		}
		open = append(open, w)
	}
	p.windows = open
}
