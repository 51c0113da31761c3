// Package risk implements position sizing and trade validation.
//
// Sizing is fixed-fractional: a configured percentage of account balance is
// put at risk per trade, converted to units through the per-unit risk given
// by the entry-to-stop distance. Trades with a poor reward-to-risk ratio are
// not blocked, their risk budget is shrunk proportionally instead.
package risk

import (
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/deepterminal/deepterminal/internal/logger"
	"github.com/deepterminal/deepterminal/internal/types"
	"github.com/deepterminal/deepterminal/pkg/errors"
)

// Config holds the risk limits the calculator enforces.
type Config struct {
	// MaxRiskPerTrade caps the fraction of balance risked on one trade.
	MaxRiskPerTrade float64 `yaml:"max_risk_per_trade" json:"max_risk_per_trade" validate:"required,gt=0,lte=1"`
	// MinRiskReward is the reward-to-risk ratio below which the risk budget shrinks.
	MinRiskReward float64 `yaml:"min_risk_reward" json:"min_risk_reward" validate:"gte=0"`
	// MaxTotalRisk caps the combined open risk across positions.
	MaxTotalRisk float64 `yaml:"max_total_risk" json:"max_total_risk" validate:"required,gt=0,lte=1"`
	// MaxNotionalPct caps a single trade's notional relative to balance.
	MaxNotionalPct float64 `yaml:"max_notional_pct" json:"max_notional_pct" validate:"gt=0"`
	// CorrelationThreshold is the correlation above which sizes are reduced.
	CorrelationThreshold float64 `yaml:"correlation_threshold" json:"correlation_threshold" validate:"gte=0,lte=1"`
}

// DefaultConfig returns the limits used when no configuration is supplied.
func DefaultConfig() Config {
	return Config{
		MaxRiskPerTrade:      0.02,
		MinRiskReward:        1.5,
		MaxTotalRisk:         0.06,
		MaxNotionalPct:       1.0,
		CorrelationThreshold: 0.7,
	}
}

// Validate validates the Config struct.
func (c *Config) Validate() error {
	validate := validator.New()

	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeRiskConfigError, "invalid risk config", err)
	}

	return nil
}

// Calculator sizes trades against account balance and the configured limits.
// It holds no per-trade state and is safe for concurrent use.
type Calculator struct {
	config Config
	logger *logger.Logger
}

// NewCalculator creates a calculator with the given config.
func NewCalculator(config Config, log *logger.Logger) (*Calculator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Calculator{
		config: config,
		logger: log.Named("risk"),
	}, nil
}

// SizeRequest carries the inputs for a single sizing decision.
type SizeRequest struct {
	Balance    float64
	EntryPrice float64
	StopLoss   float64
	// RiskPct is the requested risk fraction; it is capped at MaxRiskPerTrade.
	RiskPct float64
	// RiskReward is the trade's reward-to-risk ratio, 0 when unknown.
	RiskReward float64
	Instrument types.Instrument
}

// SizeResult is the outcome of a sizing decision.
type SizeResult struct {
	// Quantity is the sized quantity in lots, 0 when the trade cannot be sized.
	Quantity float64
	// RiskAmount is the cash actually put at risk after caps and shrinkage.
	RiskAmount float64
	// RiskPct is the effective risk fraction after capping.
	RiskPct float64
	// Shrunk is true when the reward-to-risk policy reduced the risk budget.
	Shrunk bool
}

// PositionSize computes the quantity to trade.
//
// Formula:
//
//	risk_pct    = min(requested, max_risk_per_trade)
//	risk_amount = balance * risk_pct            (shrunk by rr/min_rr when rr < min_rr)
//	per_unit    = |entry - stop| * contract_size
//	quantity    = floor_to_lot(risk_amount / per_unit)
//
// A zero entry-to-stop distance sizes to 0. A positive raw size that floors
// below one lot is bumped to one lot.
func (c *Calculator) PositionSize(req SizeRequest) SizeResult {
	if req.Balance <= 0 || req.EntryPrice <= 0 || req.StopLoss <= 0 {
		return SizeResult{}
	}

	riskPct := req.RiskPct
	if riskPct <= 0 || riskPct > c.config.MaxRiskPerTrade {
		riskPct = c.config.MaxRiskPerTrade
	}

	entry := decimal.NewFromFloat(req.EntryPrice)
	stop := decimal.NewFromFloat(req.StopLoss)
	contractSize := decimal.NewFromFloat(instrumentContractSize(req.Instrument))

	perUnit := entry.Sub(stop).Abs().Mul(contractSize)
	if perUnit.LessThanOrEqual(decimal.Zero) {
		c.logger.Warn("zero entry-to-stop distance, sizing to zero")

		return SizeResult{RiskPct: riskPct}
	}

	riskAmount := decimal.NewFromFloat(req.Balance).Mul(decimal.NewFromFloat(riskPct))

	shrunk := false
	if c.config.MinRiskReward > 0 && req.RiskReward > 0 && req.RiskReward < c.config.MinRiskReward {
		// Shrink, never block: scale the risk budget by rr/min_rr.
		ratio := decimal.NewFromFloat(req.RiskReward).Div(decimal.NewFromFloat(c.config.MinRiskReward))
		riskAmount = riskAmount.Mul(ratio)
		shrunk = true
	}

	lotSize := decimal.NewFromFloat(instrumentLotSize(req.Instrument))
	raw := riskAmount.Div(perUnit)

	// Floor to a whole number of lots.
	quantity := raw.Div(lotSize).Floor().Mul(lotSize)
	if quantity.LessThanOrEqual(decimal.Zero) && raw.GreaterThan(decimal.Zero) {
		quantity = lotSize
	}

	quantityF, _ := quantity.Float64()
	riskAmountF, _ := riskAmount.Float64()

	return SizeResult{
		Quantity:   quantityF,
		RiskAmount: riskAmountF,
		RiskPct:    riskPct,
		Shrunk:     shrunk,
	}
}

// ValidateTrade checks a sized trade against the configured limits. It
// returns false with a reason rather than an error: a rejected trade is an
// expected outcome, not a failure.
func (c *Calculator) ValidateTrade(req SizeRequest, quantity float64) (bool, string) {
	if req.EntryPrice <= 0 {
		return false, "entry price must be positive"
	}

	if req.StopLoss <= 0 {
		return false, "stop loss must be positive"
	}

	if quantity <= 0 {
		return false, "quantity must be positive"
	}

	if req.Balance <= 0 {
		return false, "account balance must be positive"
	}

	// Unlike sizing, which shrinks the budget, validation refuses trades
	// whose known reward-to-risk ratio is below the minimum.
	if c.config.MinRiskReward > 0 && req.RiskReward > 0 && req.RiskReward < c.config.MinRiskReward {
		return false, "risk reward below minimum"
	}

	entry := decimal.NewFromFloat(req.EntryPrice)
	stop := decimal.NewFromFloat(req.StopLoss)
	qty := decimal.NewFromFloat(quantity)
	balance := decimal.NewFromFloat(req.Balance)
	contractSize := decimal.NewFromFloat(instrumentContractSize(req.Instrument))

	riskAmount := entry.Sub(stop).Abs().Mul(qty).Mul(contractSize)
	maxRisk := balance.Mul(decimal.NewFromFloat(c.config.MaxRiskPerTrade))

	// Small tolerance for lot rounding on the last lot.
	if riskAmount.GreaterThan(maxRisk.Mul(decimal.NewFromFloat(1.001))) {
		return false, "risk amount exceeds per-trade limit"
	}

	notional := entry.Mul(qty).Mul(contractSize)
	maxNotional := balance.Mul(decimal.NewFromFloat(c.config.MaxNotionalPct))

	if notional.GreaterThan(maxNotional) {
		return false, "notional exceeds limit"
	}

	margin := decimal.NewFromFloat(req.Instrument.MarginRequired).Mul(qty)
	if margin.GreaterThan(balance) {
		return false, "insufficient margin"
	}

	return true, ""
}

// MaxPositions sizes each instrument independently and reports how many lots
// the risk budget supports per symbol. A symbol with no entry or stop price
// yields 0 rather than an error.
func (c *Calculator) MaxPositions(balance float64, instruments []types.Instrument,
	entryPrices, stopLosses map[string]float64,
) map[string]int {
	result := make(map[string]int, len(instruments))

	for _, instrument := range instruments {
		entry, hasEntry := entryPrices[instrument.Symbol]
		stop, hasStop := stopLosses[instrument.Symbol]

		if !hasEntry || !hasStop {
			result[instrument.Symbol] = 0

			continue
		}

		sized := c.PositionSize(SizeRequest{
			Balance:    balance,
			EntryPrice: entry,
			StopLoss:   stop,
			Instrument: instrument,
		})

		lots := decimal.NewFromFloat(sized.Quantity).
			Div(decimal.NewFromFloat(instrumentLotSize(instrument))).Floor()
		result[instrument.Symbol] = int(lots.IntPart())
	}

	return result
}

// AdjustForCorrelation reduces a position size when the new trade is highly
// correlated with existing exposure. The reduction is linear in the excess
// correlation and never goes below 25% of the original size. Correlation at
// or below the threshold leaves the size unchanged.
func (c *Calculator) AdjustForCorrelation(quantity, correlation float64) float64 {
	if quantity <= 0 {
		return 0
	}

	corr := correlation
	if corr < 0 {
		corr = -corr
	}

	threshold := c.config.CorrelationThreshold
	if corr <= threshold || threshold >= 1 {
		return quantity
	}

	// Linear from 1.0 at the threshold down to 0 at correlation 1.
	factor := decimal.NewFromFloat(1).Sub(
		decimal.NewFromFloat(corr - threshold).Div(decimal.NewFromFloat(1 - threshold)))

	floor := decimal.NewFromFloat(0.25)
	if factor.LessThan(floor) {
		factor = floor
	}

	adjusted, _ := decimal.NewFromFloat(quantity).Mul(factor).Float64()

	return adjusted
}

func instrumentContractSize(instrument types.Instrument) float64 {
	if instrument.ContractSize <= 0 {
		return 1
	}

	return instrument.ContractSize
}

func instrumentLotSize(instrument types.Instrument) float64 {
	if instrument.LotSize <= 0 {
		return 1
	}

	return instrument.LotSize
}
