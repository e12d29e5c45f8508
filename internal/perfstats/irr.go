package perfstats

import (
	"math"

	"portfolio-lab/internal/domain"
)

// irrTolerance is the convergence bound for the IRR solve.
const irrTolerance = 1e-8

// SolveIRR finds the annualized rate that zeroes the net present value
// of the cashflow stream: the opening value out, each external flow
// out on its date, and the terminal value in.
//
// The solver brackets a sign change, bisects, and refines with Newton
// steps; when Newton wanders outside the bracket it falls back to the
// bisection midpoint. Returns false when no bracket exists.
func SolveIRR(points []domain.EquityPoint, flows []Flow) (float64, bool) {
	if len(points) < 2 {
		return 0, false
	}

	start := points[0].Date
	end := points[len(points)-1].Date
	totalDays := end.Sub(start).Hours() / 24
	if totalDays <= 0 {
		return 0, false
	}

	type cashflow struct {
		amount float64
		years  float64
	}

	initial, _ := points[0].PortfolioValue.Float64()
	terminal, _ := points[len(points)-1].PortfolioValue.Float64()

	cfs := []cashflow{{amount: -initial, years: 0}}
	for _, f := range flows {
		if f.Amount == 0 || f.Date.Before(start) || f.Date.After(end) {
			continue
		}
		if f.Date.Equal(start) {
			// Opening-day flows fold into the initial outlay.
			cfs[0].amount -= f.Amount
			continue
		}
		cfs = append(cfs, cashflow{
			amount: -f.Amount,
			years:  f.Date.Sub(start).Hours() / 24 / 365,
		})
	}
	cfs = append(cfs, cashflow{amount: terminal, years: totalDays / 365})

	npv := func(rate float64) float64 {
		sum := 0.0
		for _, cf := range cfs {
			sum += cf.amount / math.Pow(1+rate, cf.years)
		}
		return sum
	}

	// Bracket a sign change between fixed bounds.
	lo, hi := -0.9999, 10.0
	fLo, fHi := npv(lo), npv(hi)
	if fLo*fHi > 0 {
		return 0, false
	}

	rate := 0.1
	for i := 0; i < 200; i++ {
		f := npv(rate)
		if math.Abs(f) < irrTolerance {
			return rate, true
		}
		if (f < 0) == (fLo < 0) {
			lo, fLo = rate, f
		} else {
			hi, fHi = rate, f
		}

		// Newton step from a numerical derivative.
		h := 1e-7
		deriv := (npv(rate+h) - f) / h
		next := rate
		if deriv != 0 {
			next = rate - f/deriv
		}
		if next <= lo || next >= hi || math.IsNaN(next) {
			next = (lo + hi) / 2
		}
		if math.Abs(next-rate) < irrTolerance {
			return next, true
		}
		rate = next
	}
	return (lo + hi) / 2, true
}
