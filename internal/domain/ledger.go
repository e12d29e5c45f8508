package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Rounding precision at externally observable boundaries.
const (
	QuantityPlaces = 4 // share quantities, rounded down at creation
	MoneyPlaces    = 2 // cash deltas, tax amounts, equity points
	BasisPlaces    = 6 // per-share cost basis
)

// Holding-period boundary: a sale this many days or fewer after
// acquisition is short-term.
const ShortTermDays = 365

// WashSaleDays is the half-width of the wash-sale window in calendar
// days, inclusive on both sides.
const WashSaleDays = 30

// Lot is a tax lot of shares acquired at one price on one date.
// Only the quantity and basis fields change after creation:
// RemainingQty is reduced by sells, CostPerShare absorbs a wash-sale
// attribution, and a split rescales OriginalQty, RemainingQty and
// CostPerShare.
type Lot struct {
	ID              int64
	Symbol          string
	OriginalQty     decimal.Decimal
	RemainingQty    decimal.Decimal
	CostPerShare    decimal.Decimal
	AcquisitionDate time.Time
	WashDisallowed  decimal.Decimal // disallowed loss folded into this lot's basis
	WashedInto      bool
}

// CostBasis returns the total remaining basis of the lot.
func (l *Lot) CostBasis() decimal.Decimal {
	return l.CostPerShare.Mul(l.RemainingQty)
}

// Position is a derived view over the open lots of one symbol.
type Position struct {
	Symbol         string
	Quantity       decimal.Decimal
	CostBasis      decimal.Decimal
	MarketValue    decimal.Decimal
	UnrealizedGain decimal.Decimal
	Lots           []Lot
}

// TradeAction identifies what a trade record represents.
type TradeAction string

// Trade actions.
const (
	TradeBuy      TradeAction = "BUY"
	TradeSell     TradeAction = "SELL"
	TradeDRIP     TradeAction = "DRIP"
	TradeDividend TradeAction = "DIVIDEND"
	TradeDeposit  TradeAction = "DEPOSIT"
)

// TradeRecord is an immutable record of one executed operation.
// IDs increase monotonically in execution order within a run.
type TradeRecord struct {
	ID         int64
	Date       time.Time
	Symbol     string
	Action     TradeAction
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Commission decimal.Decimal
	Slippage   decimal.Decimal
	CashDelta  decimal.Decimal // signed effect on cash, two decimals
	LotIDs     []int64         // lots produced by a buy or consumed by a sell
	Note       string
}

// RealizedEvent records the tax consequence of consuming part of a lot.
type RealizedEvent struct {
	Date           time.Time
	Symbol         string
	LotID          int64
	Quantity       decimal.Decimal
	Proceeds       decimal.Decimal
	CostBasis      decimal.Decimal
	GainLoss       decimal.Decimal
	HoldingDays    int
	LongTerm       bool
	WashDisallowed decimal.Decimal // portion of a loss disallowed by the wash-sale rule
}

// EquityPoint is the end-of-day snapshot of portfolio value.
type EquityPoint struct {
	Date           time.Time
	Cash           decimal.Decimal
	PositionsValue decimal.Decimal
	PortfolioValue decimal.Decimal
	DailyReturn    float64 // flow-adjusted, zero on the first day
}

// TaxYearSummary is the closed tax picture of one calendar year.
type TaxYearSummary struct {
	Year               int
	ShortTermGains     decimal.Decimal
	LongTermGains      decimal.Decimal
	QualifiedDividends decimal.Decimal
	OrdinaryDividends  decimal.Decimal
	InterestIncome     decimal.Decimal
	TotalTax           decimal.Decimal
	WashSaleCount      int
}

// RoundMoney rounds to cents, half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// RoundBasis rounds a per-share basis to six decimals.
func RoundBasis(d decimal.Decimal) decimal.Decimal {
	return d.Round(BasisPlaces)
}

// TruncateQty rounds a share quantity down to four decimals.
func TruncateQty(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(QuantityPlaces)
}
