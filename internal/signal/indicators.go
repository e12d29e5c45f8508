// Package signal computes technical indicators and evaluates
// entry/exit rules with strict no-look-ahead semantics: the value a
// rule sees on day t is built from closes up to and including t-1.
package signal

import "math"

// SMA over the last p points; aligned to the input with NaNs for warmup.
func SMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	var sum float64
	for i := range x {
		sum += x[i]
		if i < p-1 {
			out[i] = math.NaN()
			continue
		}
		if i >= p {
			sum -= x[i-p]
		}
		out[i] = sum / float64(p)
	}
	return out
}

// EMA with smoothing 2/(p+1), seeded with SMA(p); NaNs for warmup.
func EMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	if len(x) < p {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}

	k := 2.0 / float64(p+1)
	var seed float64
	for i := 0; i < p; i++ {
		seed += x[i]
		if i < p-1 {
			out[i] = math.NaN()
		}
	}
	out[p-1] = seed / float64(p)
	for i := p; i < len(x); i++ {
		out[i] = (x[i]-out[i-1])*k + out[i-1]
	}
	return out
}

// RSI over period p using simple rolling averages of gains and losses.
// 100 when there are no losses in the window.
func RSI(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(x) <= p {
		return out
	}

	for i := p; i < len(x); i++ {
		var gain, loss float64
		for j := i - p + 1; j <= i; j++ {
			delta := x[j] - x[j-1]
			if delta > 0 {
				gain += delta
			} else {
				loss -= delta
			}
		}
		if loss == 0 {
			out[i] = 100
			continue
		}
		rs := gain / loss
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// MACD returns the macd line, signal line, and histogram for the
// standard fast/slow/signal EMAs.
func MACD(x []float64, fast, slow, signalP int) (macd, signalLine, hist []float64) {
	emaFast := EMA(x, fast)
	emaSlow := EMA(x, slow)

	macd = make([]float64, len(x))
	for i := range x {
		macd[i] = emaFast[i] - emaSlow[i]
	}

	// The signal EMA only makes sense once the macd line exists; seed
	// it past the slow warmup.
	signalLine = make([]float64, len(x))
	for i := range signalLine {
		signalLine[i] = math.NaN()
	}
	start := slow - 1
	if start+signalP <= len(x) {
		valid := EMA(macd[start:], signalP)
		copy(signalLine[start:], valid)
	}

	hist = make([]float64, len(x))
	for i := range x {
		hist[i] = macd[i] - signalLine[i]
	}
	return macd, signalLine, hist
}

// Momentum is the trailing return from lookback periods ago to skip
// periods ago, the classic 12-1 construction when lookback=252 skip=21.
func Momentum(x []float64, lookback, skip int) []float64 {
	out := make([]float64, len(x))
	for i := range out {
		out[i] = math.NaN()
	}
	if lookback <= skip {
		return out
	}
	for i := lookback; i < len(x); i++ {
		base := x[i-lookback]
		if base != 0 {
			out[i] = x[i-skip]/base - 1
		}
	}
	return out
}

// RollingHigh is the maximum over the trailing window, inclusive.
func RollingHigh(x []float64, window int) []float64 {
	out := make([]float64, len(x))
	for i := range out {
		if i < window-1 {
			out[i] = math.NaN()
			continue
		}
		hi := x[i]
		for j := i - window + 1; j < i; j++ {
			if x[j] > hi {
				hi = x[j]
			}
		}
		out[i] = hi
	}
	return out
}

// Bollinger returns upper, middle, and lower bands: SMA(p) +/- k
// rolling standard deviations.
func Bollinger(x []float64, p int, k float64) (upper, middle, lower []float64) {
	middle = SMA(x, p)
	upper = make([]float64, len(x))
	lower = make([]float64, len(x))

	for i := range x {
		if i < p-1 {
			upper[i], lower[i] = math.NaN(), math.NaN()
			continue
		}
		var sumSq float64
		for j := i - p + 1; j <= i; j++ {
			d := x[j] - middle[i]
			sumSq += d * d
		}
		std := math.Sqrt(sumSq / float64(p))
		upper[i] = middle[i] + k*std
		lower[i] = middle[i] - k*std
	}
	return upper, middle, lower
}
