package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD string into a UTC-midnight time.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Bar is one trading day of OHLCV data for one symbol.
type Bar struct {
	Date     time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	AdjClose decimal.Decimal
	Volume   int64
}

// DividendAction is a cash dividend declared on an ex-date.
type DividendAction struct {
	Symbol       string
	ExDate       time.Time
	PayDate      *time.Time
	PerShare     decimal.Decimal
	QualifiedPct float64 // fraction in [0,1] taxed at LTCG rates
}

// SplitAction is a stock split effective on an ex-date.
// Ratio 2 means a 2-for-1 split.
type SplitAction struct {
	Symbol string
	ExDate time.Time
	Ratio  decimal.Decimal
}
