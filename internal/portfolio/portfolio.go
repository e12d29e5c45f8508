// Package portfolio is the per-lot ledger: cash, open tax lots, and
// the mechanics of buying, selling, and receiving distributions.
// Operations are transactional: a failed call leaves no partial state.
package portfolio

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"portfolio-lab/internal/domain"
)

// Operation errors.
var (
	ErrInsufficientCash        = errors.New("insufficient cash")
	ErrInsufficientShares      = errors.New("insufficient shares")
	ErrContributionCapExceeded = errors.New("contribution cap exceeded")
	ErrInternalConsistency     = errors.New("internal consistency violation")
)

// TaxSink receives the tax consequences of portfolio operations.
// Implemented by taxes.Ledger; nil for accounts that accrue no tax.
type TaxSink interface {
	// RecordRealized accumulates a realized gain or loss net of any
	// wash-sale-disallowed portion.
	RecordRealized(ev domain.RealizedEvent)

	// RecordWashAdjustment removes a later-disallowed loss amount
	// from the year's short- or long-term accumulator.
	RecordWashAdjustment(date time.Time, longTerm bool, amount decimal.Decimal)

	// RecordDividend accumulates qualified and ordinary dividend income.
	RecordDividend(date time.Time, qualified, ordinary decimal.Decimal)

	// RecordInterest accumulates interest income on idle cash.
	RecordInterest(date time.Time, amount decimal.Decimal)
}

// Options configures a Portfolio.
type Options struct {
	InitialCash   decimal.Decimal
	AccountType   domain.AccountType
	LotMethod     domain.LotMethod
	ApplyWashSale bool
	Caps          domain.ContributionCaps
	Commission    decimal.Decimal
	SlippageBps   float64
	Taxes         TaxSink
}

// Portfolio owns its lots and cash exclusively; nothing else mutates
// them. It is not safe for concurrent use.
type Portfolio struct {
	cash          decimal.Decimal
	accountType   domain.AccountType
	lotMethod     domain.LotMethod
	applyWashSale bool
	caps          domain.ContributionCaps
	commission    decimal.Decimal
	slippage      decimal.Decimal // fractional, e.g. 0.0005 for 5 bps

	lots       map[string][]*domain.Lot // open lots in acquisition order
	symbols    []string                 // insertion order, for deterministic iteration
	nextLotID  int64
	nextTrade  int64
	realized   []domain.RealizedEvent
	windows    []*washWindow
	washedQty  map[int64]decimal.Decimal // lot id -> buy quantity already wash-matched
	washEvents int

	cumDeposits   decimal.Decimal
	contributions map[int]decimal.Decimal // tax year -> credited amount
	movements     decimal.Decimal         // running sum of cash deltas
	initialCash   decimal.Decimal

	taxes TaxSink
}

// New creates an empty portfolio with the given opening cash.
func New(opts Options) *Portfolio {
	slip := decimal.NewFromFloat(opts.SlippageBps).Div(decimal.NewFromInt(10000))
	return &Portfolio{
		cash:          opts.InitialCash,
		accountType:   opts.AccountType,
		lotMethod:     opts.LotMethod,
		applyWashSale: opts.ApplyWashSale && opts.AccountType == domain.AccountTaxable,
		caps:          opts.Caps,
		commission:    opts.Commission,
		slippage:      slip,
		lots:          make(map[string][]*domain.Lot),
		washedQty:     make(map[int64]decimal.Decimal),
		contributions: make(map[int]decimal.Decimal),
		initialCash:   opts.InitialCash,
		taxes:         opts.Taxes,
	}
}

// Cash returns the current cash balance.
func (p *Portfolio) Cash() decimal.Decimal { return p.cash }

// CumulativeDeposits returns all external cash credited so far.
func (p *Portfolio) CumulativeDeposits() decimal.Decimal { return p.cumDeposits }

// Contributions returns the amount credited in the given tax year.
func (p *Portfolio) Contributions(year int) decimal.Decimal {
	return p.contributions[year]
}

// RealizedEvents returns the realized gain/loss log in emission order.
func (p *Portfolio) RealizedEvents() []domain.RealizedEvent { return p.realized }

// WashSaleCount returns the number of wash-sale attributions so far.
func (p *Portfolio) WashSaleCount() int { return p.washEvents }

func (p *Portfolio) creditCash(amount decimal.Decimal) {
	p.cash = p.cash.Add(amount)
	p.movements = p.movements.Add(amount)
}

func (p *Portfolio) newTradeID() int64 {
	p.nextTrade++
	return p.nextTrade
}

// Deposit credits an external contribution. For IRA and Roth accounts
// with cap enforcement the credited amount may be limited: with
// AllowPartial the remaining room is credited, otherwise the call
// fails with ErrContributionCapExceeded and credits nothing.
func (p *Portfolio) Deposit(amount decimal.Decimal, date time.Time) (domain.TradeRecord, error) {
	if amount.IsNegative() {
		return domain.TradeRecord{}, fmt.Errorf("%w: negative deposit", ErrInternalConsistency)
	}

	credit := amount
	if cap, capped := p.annualCap(); capped && p.caps.Enforce {
		year := date.Year()
		room := cap.Sub(p.contributions[year])
		if room.IsNegative() {
			room = decimal.Zero
		}
		if credit.GreaterThan(room) {
			if !p.caps.AllowPartial {
				return domain.TradeRecord{}, fmt.Errorf("%w: %s over the %s annual limit",
					ErrContributionCapExceeded, amount.Sub(room).StringFixed(2), cap.StringFixed(2))
			}
			credit = room
		}
	}

	credit = domain.RoundMoney(credit)
	p.creditCash(credit)
	p.cumDeposits = p.cumDeposits.Add(credit)
	year := date.Year()
	p.contributions[year] = p.contributions[year].Add(credit)

	rec := domain.TradeRecord{
		ID:        p.newTradeID(),
		Date:      date,
		Action:    domain.TradeDeposit,
		CashDelta: credit,
	}
	if credit.LessThan(amount) {
		rec.Note = fmt.Sprintf("reduced from %s by contribution cap", amount.StringFixed(2))
	}
	return rec, nil
}

// annualCap returns the contribution limit for the account type.
func (p *Portfolio) annualCap() (decimal.Decimal, bool) {
	switch p.accountType {
	case domain.AccountTraditionalIRA:
		return p.caps.IRA, true
	case domain.AccountRothIRA:
		return p.caps.Roth, true
	default:
		return decimal.Zero, false
	}
}

// Buy converts a cash notional into a new lot. Slippage widens the
// executed price; the share quantity rounds down to four decimals.
func (p *Portfolio) Buy(symbol string, notional, price decimal.Decimal, date time.Time) (domain.TradeRecord, error) {
	return p.buy(symbol, notional, price, date, p.commission, p.slippage, domain.TradeBuy)
}

func (p *Portfolio) buy(symbol string, notional, price decimal.Decimal, date time.Time,
	commission, slippage decimal.Decimal, action domain.TradeAction) (domain.TradeRecord, error) {

	if notional.GreaterThan(p.cash) {
		return domain.TradeRecord{}, fmt.Errorf("%w: need %s, have %s",
			ErrInsufficientCash, notional.StringFixed(2), p.cash.StringFixed(2))
	}
	if !price.IsPositive() {
		return domain.TradeRecord{}, fmt.Errorf("%w: non-positive price for %s", ErrInternalConsistency, symbol)
	}

	execPrice := price.Mul(decimal.NewFromInt(1).Add(slippage))
	qty := domain.TruncateQty(notional.Sub(commission).Div(execPrice))
	if !qty.IsPositive() {
		return domain.TradeRecord{}, fmt.Errorf("%w: notional %s buys no shares of %s",
			ErrInsufficientCash, notional.StringFixed(2), symbol)
	}

	cost := domain.RoundMoney(qty.Mul(execPrice).Add(commission))
	if cost.GreaterThan(p.cash) {
		return domain.TradeRecord{}, fmt.Errorf("%w: need %s, have %s",
			ErrInsufficientCash, cost.StringFixed(2), p.cash.StringFixed(2))
	}

	p.nextLotID++
	lot := &domain.Lot{
		ID:              p.nextLotID,
		Symbol:          symbol,
		OriginalQty:     qty,
		RemainingQty:    qty,
		CostPerShare:    domain.RoundBasis(cost.Div(qty)),
		AcquisitionDate: domain.Day(date),
	}
	p.addLot(symbol, lot)
	p.creditCash(cost.Neg())

	if p.applyWashSale {
		p.matchBuyAgainstWindows(lot, date)
	}

	return domain.TradeRecord{
		ID:         p.newTradeID(),
		Date:       date,
		Symbol:     symbol,
		Action:     action,
		Quantity:   qty,
		Price:      execPrice,
		Commission: commission,
		Slippage:   execPrice.Sub(price).Mul(qty),
		CashDelta:  cost.Neg(),
		LotIDs:     []int64{lot.ID},
	}, nil
}

func (p *Portfolio) addLot(symbol string, lot *domain.Lot) {
	if _, ok := p.lots[symbol]; !ok {
		p.symbols = append(p.symbols, symbol)
	}
	p.lots[symbol] = append(p.lots[symbol], lot)
}

// Sell disposes the given share quantity using the configured lot
// method and emits one RealizedEvent per consumed lot portion.
func (p *Portfolio) Sell(symbol string, qty, price decimal.Decimal, date time.Time) (domain.TradeRecord, error) {
	held := p.Quantity(symbol)
	if qty.GreaterThan(held) {
		return domain.TradeRecord{}, fmt.Errorf("%w: selling %s of %s, hold %s",
			ErrInsufficientShares, qty.String(), symbol, held.String())
	}
	if !qty.IsPositive() {
		return domain.TradeRecord{}, fmt.Errorf("%w: non-positive sell quantity", ErrInternalConsistency)
	}

	execPrice := price.Mul(decimal.NewFromInt(1).Sub(p.slippage))
	gross := qty.Mul(execPrice)
	net := domain.RoundMoney(gross.Sub(p.commission))

	consumed := p.selectLots(symbol, qty)

	var lotIDs []int64
	date = domain.Day(date)
	for _, c := range consumed {
		lot, take := c.lot, c.qty
		lotIDs = append(lotIDs, lot.ID)

		basis := domain.RoundMoney(lot.CostPerShare.Mul(take))
		proceeds := domain.RoundMoney(net.Mul(take).Div(qty))
		gain := proceeds.Sub(basis)

		holdingDays := int(date.Sub(lot.AcquisitionDate).Hours() / 24)
		ev := domain.RealizedEvent{
			Date:        date,
			Symbol:      symbol,
			LotID:       lot.ID,
			Quantity:    take,
			Proceeds:    proceeds,
			CostBasis:   basis,
			GainLoss:    gain,
			HoldingDays: holdingDays,
			LongTerm:    holdingDays > domain.ShortTermDays,
		}

		lot.RemainingQty = lot.RemainingQty.Sub(take)

		p.realized = append(p.realized, ev)
		idx := len(p.realized) - 1

		if p.taxes != nil {
			p.taxes.RecordRealized(ev)
		}

		if p.applyWashSale && gain.IsNegative() {
			p.openWashWindow(symbol, date, gain.Neg(), take, idx, lot.ID)
		}
	}

	p.removeClosedLots(symbol)
	p.creditCash(net)

	return domain.TradeRecord{
		ID:         p.newTradeID(),
		Date:       date,
		Symbol:     symbol,
		Action:     domain.TradeSell,
		Quantity:   qty,
		Price:      execPrice,
		Commission: p.commission,
		Slippage:   price.Sub(execPrice).Mul(qty),
		CashDelta:  net,
		LotIDs:     lotIDs,
	}, nil
}

// SellNotional sells enough shares to raise approximately the given
// cash amount at the quoted price, capped at the full position.
func (p *Portfolio) SellNotional(symbol string, notional, price decimal.Decimal, date time.Time) (domain.TradeRecord, error) {
	execPrice := price.Mul(decimal.NewFromInt(1).Sub(p.slippage))
	qty := domain.TruncateQty(notional.Div(execPrice))
	if held := p.Quantity(symbol); qty.GreaterThan(held) {
		qty = held
	}
	return p.Sell(symbol, qty, price, date)
}

type lotSlice struct {
	lot *domain.Lot
	qty decimal.Decimal
}

// selectLots orders open lots per the disposal method and takes from
// the front until the quantity is covered. Ordering is stable: ties
// fall back to lot id, which follows acquisition order.
func (p *Portfolio) selectLots(symbol string, qty decimal.Decimal) []lotSlice {
	open := make([]*domain.Lot, len(p.lots[symbol]))
	copy(open, p.lots[symbol])

	less := func(a, b *domain.Lot) bool { return a.ID < b.ID }
	switch p.lotMethod {
	case domain.LotFIFO:
		less = func(a, b *domain.Lot) bool {
			if !a.AcquisitionDate.Equal(b.AcquisitionDate) {
				return a.AcquisitionDate.Before(b.AcquisitionDate)
			}
			return a.ID < b.ID
		}
	case domain.LotLIFO:
		less = func(a, b *domain.Lot) bool {
			if !a.AcquisitionDate.Equal(b.AcquisitionDate) {
				return a.AcquisitionDate.After(b.AcquisitionDate)
			}
			return a.ID > b.ID
		}
	case domain.LotHIFO:
		less = func(a, b *domain.Lot) bool {
			if !a.CostPerShare.Equal(b.CostPerShare) {
				return a.CostPerShare.GreaterThan(b.CostPerShare)
			}
			if !a.AcquisitionDate.Equal(b.AcquisitionDate) {
				return a.AcquisitionDate.Before(b.AcquisitionDate)
			}
			return a.ID < b.ID
		}
	}
	insertionSort(open, less)

	var out []lotSlice
	remaining := qty
	for _, lot := range open {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(lot.RemainingQty, remaining)
		out = append(out, lotSlice{lot: lot, qty: take})
		remaining = remaining.Sub(take)
	}
	return out
}

// insertionSort keeps lot selection deterministic without pulling in
// sort.SliceStable closures over interface values.
func insertionSort(lots []*domain.Lot, less func(a, b *domain.Lot) bool) {
	for i := 1; i < len(lots); i++ {
		for j := i; j > 0 && less(lots[j], lots[j-1]); j-- {
			lots[j], lots[j-1] = lots[j-1], lots[j]
		}
	}
}

func (p *Portfolio) removeClosedLots(symbol string) {
	open := p.lots[symbol][:0]
	for _, lot := range p.lots[symbol] {
		if lot.RemainingQty.IsPositive() {
			open = append(open, lot)
		}
	}
	p.lots[symbol] = open
}

// ApplyDividend credits the dividend for all shares held on the
// ex-date. CASH mode leaves the proceeds in cash; DRIP mode reinvests
// them at the closing price with no frictions. Returns the emitted
// trade records: a DIVIDEND record, plus a DRIP record when reinvested.
func (p *Portfolio) ApplyDividend(symbol string, perShare decimal.Decimal, qualifiedPct float64,
	date time.Time, closePrice decimal.Decimal, mode domain.DividendMode) ([]domain.TradeRecord, error) {

	shares := p.Quantity(symbol)
	if !shares.IsPositive() {
		return nil, nil
	}

	amount := domain.RoundMoney(shares.Mul(perShare))
	if !amount.IsPositive() {
		return nil, nil
	}

	p.creditCash(amount)
	if p.taxes != nil && p.accountType == domain.AccountTaxable {
		qualified := domain.RoundMoney(amount.Mul(decimal.NewFromFloat(qualifiedPct)))
		ordinary := amount.Sub(qualified)
		p.taxes.RecordDividend(date, qualified, ordinary)
	}

	records := []domain.TradeRecord{{
		ID:        p.newTradeID(),
		Date:      domain.Day(date),
		Symbol:    symbol,
		Action:    domain.TradeDividend,
		Quantity:  shares,
		Price:     perShare,
		CashDelta: amount,
		Note:      fmt.Sprintf("%s/share on %s shares", perShare.String(), shares.String()),
	}}

	if mode == domain.DividendDRIP && closePrice.IsPositive() {
		drip, err := p.buy(symbol, amount, closePrice, date, decimal.Zero, decimal.Zero, domain.TradeDRIP)
		if err != nil {
			// Leave the cash in place when the amount is too small to
			// purchase any shares.
			if errors.Is(err, ErrInsufficientCash) {
				return records, nil
			}
			return records, err
		}
		records = append(records, drip)
	}

	return records, nil
}

// ApplySplit multiplies remaining quantities by the ratio and divides
// per-share bases, rounding basis to six decimals.
func (p *Portfolio) ApplySplit(symbol string, ratio decimal.Decimal, date time.Time) error {
	if !ratio.IsPositive() {
		return fmt.Errorf("%w: split ratio %s", ErrInternalConsistency, ratio.String())
	}
	for _, lot := range p.lots[symbol] {
		lot.OriginalQty = domain.TruncateQty(lot.OriginalQty.Mul(ratio))
		lot.RemainingQty = domain.TruncateQty(lot.RemainingQty.Mul(ratio))
		lot.CostPerShare = domain.RoundBasis(lot.CostPerShare.Div(ratio))
	}
	return nil
}

// AccrueInterest credits one day of interest on idle cash and routes
// it to the tax ledger as interest income.
func (p *Portfolio) AccrueInterest(date time.Time, apr float64) decimal.Decimal {
	if apr <= 0 || !p.cash.IsPositive() {
		return decimal.Zero
	}
	daily := decimal.NewFromFloat(apr / 252)
	interest := domain.RoundMoney(p.cash.Mul(daily))
	if !interest.IsPositive() {
		return decimal.Zero
	}
	p.creditCash(interest)
	if p.taxes != nil && p.accountType == domain.AccountTaxable {
		p.taxes.RecordInterest(date, interest)
	}
	return interest
}

// DeductTax removes a year-end tax payment from cash. Cash may go
// negative; the next operation needing cash fails normally.
func (p *Portfolio) DeductTax(amount decimal.Decimal) {
	p.creditCash(amount.Neg())
}

// Quantity returns total open shares of a symbol.
func (p *Portfolio) Quantity(symbol string) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range p.lots[symbol] {
		total = total.Add(lot.RemainingQty)
	}
	return total
}

// CheckInvariants verifies the ledger's internal accounting: positive
// remaining quantities and cash equal to the recorded movement sum.
func (p *Portfolio) CheckInvariants() error {
	tolerance := decimal.New(1, -6)
	diff := p.cash.Sub(p.initialCash.Add(p.movements))
	if diff.Abs().GreaterThan(tolerance) {
		return fmt.Errorf("%w: cash %s deviates from movement sum by %s",
			ErrInternalConsistency, p.cash.String(), diff.String())
	}
	for _, symbol := range p.symbols {
		for _, lot := range p.lots[symbol] {
			if !lot.RemainingQty.IsPositive() {
				return fmt.Errorf("%w: lot %d of %s has non-positive remaining quantity",
					ErrInternalConsistency, lot.ID, symbol)
			}
		}
	}
	return nil
}
