package signal

import (
	"errors"
	"fmt"
	"math"

	"portfolio-lab/internal/domain"
)

// ErrUnknownSignal reports an unrecognized signal type or rule op.
var ErrUnknownSignal = errors.New("unknown signal")

// Signal type names accepted in StrategyConfig.
const (
	TypeSMA       = "SMA"
	TypeEMA       = "EMA"
	TypeRSI       = "RSI"
	TypeMACD      = "MACD"
	TypeMomentum  = "MOMENTUM"
	TypeBreakout  = "BREAKOUT"
	TypeBollinger = "BOLLINGER"
)

// Rule operators.
const (
	OpAbove     = "ABOVE"
	OpBelow     = "BELOW"
	OpCrossUp   = "CROSS_UP"
	OpCrossDown = "CROSS_DOWN"
)

// oscillators compare against a configured threshold instead of price.
var oscillators = map[string]float64{
	TypeRSI:      50,
	TypeMACD:     0,
	TypeMomentum: 0,
}

type computed struct {
	values    []float64
	reference []float64 // what the op compares against at each index
}

// Engine holds precomputed indicator series for one symbol's closes.
type Engine struct {
	signals map[string]computed
	closes  []float64
}

func param(cfg domain.SignalConfig, key string, def float64) float64 {
	if v, ok := cfg.Params[key]; ok {
		return v
	}
	return def
}

// NewEngine computes every configured indicator over the close series.
func NewEngine(cfgs []domain.SignalConfig, closes []float64) (*Engine, error) {
	e := &Engine{signals: make(map[string]computed), closes: closes}

	for _, cfg := range cfgs {
		var values []float64
		switch cfg.Type {
		case TypeSMA:
			values = SMA(closes, int(param(cfg, "period", 50)))
		case TypeEMA:
			values = EMA(closes, int(param(cfg, "period", 20)))
		case TypeRSI:
			values = RSI(closes, int(param(cfg, "period", 14)))
		case TypeMACD:
			_, _, hist := MACD(closes,
				int(param(cfg, "fast", 12)), int(param(cfg, "slow", 26)), int(param(cfg, "signal", 9)))
			values = hist
		case TypeMomentum:
			values = Momentum(closes, int(param(cfg, "lookback", 252)), int(param(cfg, "skip", 21)))
		case TypeBreakout:
			values = RollingHigh(closes, int(param(cfg, "window", 252)))
		case TypeBollinger:
			upper, _, lower := Bollinger(closes, int(param(cfg, "period", 20)), param(cfg, "std_dev", 2))
			if param(cfg, "band", 1) < 0 {
				values = lower
			} else {
				values = upper
			}
		default:
			return nil, fmt.Errorf("%w: type %q", ErrUnknownSignal, cfg.Type)
		}

		c := computed{values: values}
		if threshold, osc := oscillators[cfg.Type]; osc {
			ref := make([]float64, len(closes))
			t := param(cfg, "threshold", threshold)
			for i := range ref {
				ref[i] = t
			}
			c.reference = ref
		} else {
			// Price-level signals compare the close against the series.
			c.reference = values
			c.values = closes
		}
		e.signals[cfg.ID] = c
	}
	return e, nil
}

// Evaluate applies one rule on day t. Only data through t-1 is
// consulted; warmup NaNs evaluate to false.
func (e *Engine) Evaluate(rule domain.RuleConfig, t int) (bool, error) {
	c, ok := e.signals[rule.Signal]
	if !ok {
		return false, fmt.Errorf("%w: rule references %q", ErrUnknownSignal, rule.Signal)
	}
	switch rule.Op {
	case OpAbove, OpBelow, OpCrossUp, OpCrossDown:
	default:
		return false, fmt.Errorf("%w: op %q", ErrUnknownSignal, rule.Op)
	}
	prev := t - 1
	if prev < 0 || prev >= len(c.values) {
		return false, nil
	}

	v, ref := c.values[prev], c.reference[prev]
	if math.IsNaN(v) || math.IsNaN(ref) {
		return false, nil
	}

	switch rule.Op {
	case OpAbove:
		return v > ref, nil
	case OpBelow:
		return v < ref, nil
	case OpCrossUp, OpCrossDown:
		if prev == 0 {
			return false, nil
		}
		pv, pref := c.values[prev-1], c.reference[prev-1]
		if math.IsNaN(pv) || math.IsNaN(pref) {
			return false, nil
		}
		if rule.Op == OpCrossUp {
			return pv <= pref && v > ref, nil
		}
		return pv >= pref && v < ref, nil
	default:
		return false, fmt.Errorf("%w: op %q", ErrUnknownSignal, rule.Op)
	}
}

// EntryAllowed reports whether every entry rule passes on day t.
// An empty rule list always allows entry.
func (e *Engine) EntryAllowed(rules []domain.RuleConfig, t int) (bool, error) {
	for _, rule := range rules {
		ok, err := e.Evaluate(rule, t)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
