package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

// ErrConfigInvalid wraps every configuration validation failure.
var ErrConfigInvalid = errors.New("configuration invalid")

// AccountType identifies the tax treatment of the account.
type AccountType string

// Account types.
const (
	AccountTaxable        AccountType = "Taxable"
	AccountTraditionalIRA AccountType = "Traditional-IRA"
	AccountRothIRA        AccountType = "Roth-IRA"
	Account529Plan        AccountType = "529-Plan"
)

// TaxDeferred reports whether the account pays no tax during the
// simulation. Traditional IRA taxation happens at withdrawal.
func (a AccountType) TaxDeferred() bool {
	return a != AccountTaxable
}

// LotMethod selects the disposal ordering on a sell.
type LotMethod string

// Lot disposal methods.
const (
	LotFIFO LotMethod = "FIFO"
	LotLIFO LotMethod = "LIFO"
	LotHIFO LotMethod = "HIFO"
)

// OrderTiming selects which price of the day a trade plan executes at.
type OrderTiming string

// Order timings.
const (
	TimingMOO OrderTiming = "MOO"
	TimingMOC OrderTiming = "MOC"
)

// DividendMode routes cash dividends.
type DividendMode string

// Dividend modes.
const (
	DividendDRIP DividendMode = "DRIP"
	DividendCash DividendMode = "CASH"
)

// RebalanceType selects the trigger policy.
type RebalanceType string

// Rebalance trigger types.
const (
	RebalanceCalendar     RebalanceType = "calendar"
	RebalanceDrift        RebalanceType = "drift"
	RebalanceBoth         RebalanceType = "both"
	RebalanceCashflowOnly RebalanceType = "cashflow_only"
)

// CalendarPeriod is a rebalance cadence.
type CalendarPeriod string

// Calendar rebalance periods.
const (
	PeriodDaily     CalendarPeriod = "D"
	PeriodWeekly    CalendarPeriod = "W"
	PeriodMonthly   CalendarPeriod = "M"
	PeriodQuarterly CalendarPeriod = "Q"
	PeriodAnnually  CalendarPeriod = "A"
)

// DepositCadence is a deposit schedule.
type DepositCadence string

// Deposit cadences.
const (
	DepositDaily          DepositCadence = "daily"
	DepositWeekly         DepositCadence = "weekly"
	DepositMonthly        DepositCadence = "monthly"
	DepositQuarterly      DepositCadence = "quarterly"
	DepositYearly         DepositCadence = "yearly"
	DepositEveryMarketDay DepositCadence = "every_market_day"
)

// SizingMethod selects target-weight construction.
type SizingMethod string

// Position sizing methods.
const (
	SizingEqualWeight   SizingMethod = "EQUAL_WEIGHT"
	SizingCustomWeights SizingMethod = "CUSTOM_WEIGHTS"
)

// MetaConfig names the strategy.
type MetaConfig struct {
	Name  string `json:"name"`
	Notes string `json:"notes"`
}

// PeriodConfig bounds the simulation.
type PeriodConfig struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Calendar string `json:"calendar"`
}

// UniverseConfig lists the tradable symbols.
type UniverseConfig struct {
	Symbols []string `json:"symbols"`
}

// TaxConfig holds the marginal rates and tax policies.
type TaxConfig struct {
	FederalOrdinary         float64 `json:"federal_ordinary"`
	FederalLTCG             float64 `json:"federal_ltcg"`
	State                   float64 `json:"state"`
	QualifiedDividendPct    float64 `json:"qualified_dividend_pct"`
	ApplyWashSale           bool    `json:"apply_wash_sale"`
	PayTaxesFromExternal    bool    `json:"pay_taxes_from_external"`
	WithdrawalTaxRateForIRA float64 `json:"withdrawal_tax_rate_for_ira"`
}

// ContributionCaps holds annual IRA/Roth limits.
type ContributionCaps struct {
	Enforce      bool            `json:"enforce"`
	IRA          decimal.Decimal `json:"ira"`
	IRACatchUp   decimal.Decimal `json:"ira_catch_up"`
	Roth         decimal.Decimal `json:"roth"`
	RothCatchUp  decimal.Decimal `json:"roth_catch_up"`
	AllowPartial bool            `json:"allow_partial"` // credit up to the remaining room instead of rejecting
}

// AccountConfig selects the account type and its tax parameters.
type AccountConfig struct {
	Type             AccountType      `json:"type"`
	State            string           `json:"state,omitempty"`
	Tax              TaxConfig        `json:"tax"`
	ContributionCaps ContributionCaps `json:"contribution_caps"`
}

// DepositConfig schedules recurring external contributions.
type DepositConfig struct {
	Cadence           DepositCadence  `json:"cadence"`
	Amount            decimal.Decimal `json:"amount"`
	DayRule           string          `json:"day_rule"`
	MarketDayEveryday bool            `json:"market_day_everyday"`
}

// DividendConfig routes dividend cash.
type DividendConfig struct {
	Mode                 DividendMode `json:"mode"`
	ReinvestThresholdPct float64      `json:"reinvest_threshold_pct"`
}

// CalendarRebalanceConfig is the calendar trigger cadence.
type CalendarRebalanceConfig struct {
	Period CalendarPeriod `json:"period"`
}

// DriftRebalanceConfig is the drift trigger thresholds.
type DriftRebalanceConfig struct {
	AbsPct *float64 `json:"abs_pct,omitempty"`
	RelPct *float64 `json:"rel_pct,omitempty"`
}

// RebalancingConfig selects trigger policy and parameters.
type RebalancingConfig struct {
	Type     RebalanceType            `json:"type"`
	Calendar *CalendarRebalanceConfig `json:"calendar,omitempty"`
	Drift    *DriftRebalanceConfig    `json:"drift,omitempty"`
	// DeployThreshold is the cash level, as a fraction of portfolio
	// value, above which cashflow_only deploys. Zero deploys any cash.
	DeployThreshold float64 `json:"deploy_threshold_pct,omitempty"`
}

// OrderConfig selects trade timing.
type OrderConfig struct {
	Timing OrderTiming `json:"timing"`
}

// LotConfig selects the disposal method.
type LotConfig struct {
	Method LotMethod `json:"method"`
}

// FrictionsConfig models trading costs.
type FrictionsConfig struct {
	CommissionPerTrade decimal.Decimal `json:"commission_per_trade"`
	SlippageBps        float64         `json:"slippage_bps"`
	UseActualETFER     bool            `json:"use_actual_etf_er"`
	EquityBorrowBps    float64         `json:"equity_borrow_bps"`
	CashYieldAPR       float64         `json:"cash_yield_apr,omitempty"`
}

// SignalConfig declares one indicator instance.
type SignalConfig struct {
	ID     string             `json:"id"`
	Type   string             `json:"type"`
	Params map[string]float64 `json:"params,omitempty"`
}

// RuleConfig references a signal with a comparison operator.
type RuleConfig struct {
	Signal string `json:"signal"`
	Op     string `json:"op"`
}

// RulesConfig gates entries and exits.
type RulesConfig struct {
	Entry []RuleConfig `json:"entry,omitempty"`
	Exit  []RuleConfig `json:"exit,omitempty"`
}

// PositionSizingConfig constructs target weights.
type PositionSizingConfig struct {
	Method        SizingMethod       `json:"method"`
	CustomWeights map[string]float64 `json:"custom_weights,omitempty"`
	TopN          *int               `json:"top_n,omitempty"`
	VolTarget     *float64           `json:"vol_target,omitempty"`
}

// StrategyConfig is the full simulation input. It is immutable for the
// duration of a run.
type StrategyConfig struct {
	Meta           MetaConfig           `json:"meta"`
	Period         PeriodConfig         `json:"period"`
	Universe       UniverseConfig       `json:"universe"`
	InitialCash    decimal.Decimal      `json:"initial_cash"`
	Account        AccountConfig        `json:"account"`
	Deposits       *DepositConfig       `json:"deposits,omitempty"`
	Dividends      DividendConfig       `json:"dividends"`
	Rebalancing    RebalancingConfig    `json:"rebalancing"`
	Orders         OrderConfig          `json:"orders"`
	Lots           LotConfig            `json:"lots"`
	Frictions      FrictionsConfig      `json:"frictions"`
	Signals        []SignalConfig       `json:"signals,omitempty"`
	Rules          RulesConfig          `json:"rules,omitempty"`
	PositionSizing PositionSizingConfig `json:"position_sizing"`
	Benchmark      []string             `json:"benchmark,omitempty"`
}

// DecodeStrategyConfig reads a JSON StrategyConfig, rejecting unknown
// keys, and validates it.
func DecodeStrategyConfig(r io.Reader) (*StrategyConfig, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var cfg StrategyConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration before a simulation starts.
func (c *StrategyConfig) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrConfigInvalid, fmt.Sprintf(format, args...))
	}

	start, err := ParseDate(c.Period.Start)
	if err != nil {
		return fail("period.start %q: %v", c.Period.Start, err)
	}
	end, err := ParseDate(c.Period.End)
	if err != nil {
		return fail("period.end %q: %v", c.Period.End, err)
	}
	if !start.Before(end) {
		return fail("period.start %s must precede period.end %s", c.Period.Start, c.Period.End)
	}

	if len(c.Universe.Symbols) == 0 {
		return fail("universe.symbols must not be empty")
	}
	seen := make(map[string]struct{}, len(c.Universe.Symbols))
	for _, s := range c.Universe.Symbols {
		if s == "" {
			return fail("universe.symbols contains an empty symbol")
		}
		if _, dup := seen[s]; dup {
			return fail("universe.symbols contains %s twice", s)
		}
		seen[s] = struct{}{}
	}

	if c.InitialCash.IsNegative() {
		return fail("initial_cash must not be negative")
	}

	switch c.Account.Type {
	case AccountTaxable, AccountTraditionalIRA, AccountRothIRA, Account529Plan:
	default:
		return fail("unknown account.type %q", c.Account.Type)
	}

	if c.Deposits != nil {
		switch c.Deposits.Cadence {
		case DepositDaily, DepositWeekly, DepositMonthly, DepositQuarterly, DepositYearly, DepositEveryMarketDay:
		default:
			return fail("unknown deposits.cadence %q", c.Deposits.Cadence)
		}
		if c.Deposits.Amount.IsNegative() {
			return fail("deposits.amount must not be negative")
		}
	}

	switch c.Dividends.Mode {
	case DividendDRIP, DividendCash:
	default:
		return fail("unknown dividends.mode %q", c.Dividends.Mode)
	}

	switch c.Rebalancing.Type {
	case RebalanceCalendar, RebalanceBoth:
		if c.Rebalancing.Calendar == nil {
			return fail("rebalancing.type %s requires rebalancing.calendar", c.Rebalancing.Type)
		}
	case RebalanceDrift:
		if c.Rebalancing.Drift == nil {
			return fail("rebalancing.type drift requires rebalancing.drift")
		}
	case RebalanceCashflowOnly:
	default:
		return fail("unknown rebalancing.type %q", c.Rebalancing.Type)
	}
	if c.Rebalancing.Type == RebalanceBoth && c.Rebalancing.Drift == nil {
		return fail("rebalancing.type both requires rebalancing.drift")
	}
	if cal := c.Rebalancing.Calendar; cal != nil {
		switch cal.Period {
		case PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodQuarterly, PeriodAnnually:
		default:
			return fail("unknown rebalancing.calendar.period %q", cal.Period)
		}
	}
	if drift := c.Rebalancing.Drift; drift != nil {
		if drift.AbsPct == nil && drift.RelPct == nil {
			return fail("rebalancing.drift requires abs_pct or rel_pct")
		}
		if drift.AbsPct != nil && *drift.AbsPct < 0 {
			return fail("rebalancing.drift.abs_pct must not be negative")
		}
		if drift.RelPct != nil && *drift.RelPct < 0 {
			return fail("rebalancing.drift.rel_pct must not be negative")
		}
	}

	switch c.Orders.Timing {
	case TimingMOO, TimingMOC:
	default:
		return fail("unknown orders.timing %q", c.Orders.Timing)
	}

	switch c.Lots.Method {
	case LotFIFO, LotLIFO, LotHIFO:
	default:
		return fail("unknown lots.method %q", c.Lots.Method)
	}

	if c.Frictions.SlippageBps < 0 {
		return fail("frictions.slippage_bps must not be negative")
	}
	if c.Frictions.CommissionPerTrade.IsNegative() {
		return fail("frictions.commission_per_trade must not be negative")
	}

	switch c.PositionSizing.Method {
	case SizingEqualWeight:
	case SizingCustomWeights:
		if len(c.PositionSizing.CustomWeights) == 0 {
			return fail("position_sizing.method CUSTOM_WEIGHTS requires custom_weights")
		}
		for sym, w := range c.PositionSizing.CustomWeights {
			if _, ok := seen[sym]; !ok {
				return fail("custom_weights references %s outside the universe", sym)
			}
			if w < 0 {
				return fail("custom_weights[%s] must not be negative", sym)
			}
		}
	default:
		return fail("unknown position_sizing.method %q", c.PositionSizing.Method)
	}

	if tax := c.Account.Tax; tax.FederalOrdinary < 0 || tax.FederalLTCG < 0 || tax.State < 0 {
		return fail("tax rates must not be negative")
	}
	if q := c.Account.Tax.QualifiedDividendPct; q < 0 || q > 1 {
		return fail("account.tax.qualified_dividend_pct must be within [0,1]")
	}

	return nil
}

// StartDate returns the parsed period start. Validate must have passed.
func (c *StrategyConfig) StartDate() time.Time {
	t, _ := ParseDate(c.Period.Start)
	return t
}

// EndDate returns the parsed period end. Validate must have passed.
func (c *StrategyConfig) EndDate() time.Time {
	t, _ := ParseDate(c.Period.End)
	return t
}

// TargetWeights resolves the position-sizing policy into weights that
// sum to one. Custom weights are normalized; symbols missing from the
// map get zero.
func (c *StrategyConfig) TargetWeights() map[string]float64 {
	weights := make(map[string]float64, len(c.Universe.Symbols))

	switch c.PositionSizing.Method {
	case SizingCustomWeights:
		total := 0.0
		for _, sym := range c.Universe.Symbols {
			total += c.PositionSizing.CustomWeights[sym]
		}
		if total <= 0 {
			break
		}
		for _, sym := range c.Universe.Symbols {
			weights[sym] = c.PositionSizing.CustomWeights[sym] / total
		}
		return weights
	}

	// EQUAL_WEIGHT, or a custom map that summed to zero.
	w := 1.0 / float64(len(c.Universe.Symbols))
	for _, sym := range c.Universe.Symbols {
		weights[sym] = w
	}
	return weights
}
