package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"

	"github.com/deepterminal/deepterminal/pkg/errors"
)

type SignalType string

type SignalDirection string

type SignalStatus string

type SignalStrength string

const (
	SignalStrengthWeak       SignalStrength = "WEAK"
	SignalStrengthModerate   SignalStrength = "MODERATE"
	SignalStrengthStrong     SignalStrength = "STRONG"
	SignalStrengthVeryStrong SignalStrength = "VERY_STRONG"
)

const (
	// SignalTypeEntry asks the engine to open a new position.
	SignalTypeEntry SignalType = "ENTRY"
	// SignalTypeExit asks the engine to close an existing position.
	SignalTypeExit SignalType = "EXIT"
	// SignalTypeAlert carries information only and never trades.
	SignalTypeAlert SignalType = "ALERT"
)

const (
	SignalDirectionLong  SignalDirection = "LONG"
	SignalDirectionShort SignalDirection = "SHORT"
	SignalDirectionFlat  SignalDirection = "FLAT"
)

const (
	SignalStatusGenerated SignalStatus = "GENERATED"
	SignalStatusValidated SignalStatus = "VALIDATED"
	SignalStatusExecuted  SignalStatus = "EXECUTED"
	SignalStatusExpired   SignalStatus = "EXPIRED"
	SignalStatusCancelled SignalStatus = "CANCELLED"
	SignalStatusInvalid   SignalStatus = "INVALID"
)

// Signal is a trade recommendation produced by a strategy. Expiry is lazy:
// nothing times signals out in the background, an expired signal is only
// marked EXPIRED when IsActive observes it past its expiry.
type Signal struct {
	ID        string          `yaml:"id" json:"id"`
	Type      SignalType      `yaml:"type" json:"type"`
	Direction SignalDirection `yaml:"direction" json:"direction"`
	Status    SignalStatus    `yaml:"status" json:"status"`
	Symbol    string          `yaml:"symbol" json:"symbol"`

	EntryPrice optional.Option[float64] `yaml:"entry_price" json:"entry_price"`
	StopLoss   optional.Option[float64] `yaml:"stop_loss" json:"stop_loss"`
	TakeProfit optional.Option[float64] `yaml:"take_profit" json:"take_profit"`
	Quantity   optional.Option[float64] `yaml:"quantity" json:"quantity"`

	// Strength, Confidence, and WinProbability grade the signal for post-hoc
	// strategy scoring; nothing in the execution path branches on them.
	Strength SignalStrength `yaml:"strength" json:"strength"`
	// Confidence is the strategy's own conviction in [0, 1].
	Confidence float64 `yaml:"confidence" json:"confidence"`
	// WinProbability is the strategy's estimated hit rate in [0, 1].
	WinProbability float64 `yaml:"win_probability" json:"win_probability"`

	StrategyName string `yaml:"strategy_name" json:"strategy_name"`
	Reason       string `yaml:"reason" json:"reason"`
	// Indicators snapshots the values that triggered the signal.
	Indicators map[string]float64 `yaml:"indicators" json:"indicators"`

	GeneratedAt time.Time                  `yaml:"generated_at" json:"generated_at"`
	ExpiresAt   optional.Option[time.Time] `yaml:"expires_at" json:"expires_at"`

	// OrderIDs and PositionID are set when the signal is executed.
	OrderIDs   []string `yaml:"order_ids" json:"order_ids"`
	PositionID string   `yaml:"position_id" json:"position_id"`

	// Result and ProfitLoss record the trade's outcome once it is known.
	Result     optional.Option[bool]    `yaml:"result" json:"result"`
	ProfitLoss optional.Option[float64] `yaml:"profit_loss" json:"profit_loss"`
}

func newSignal(signalType SignalType, symbol string, direction SignalDirection, strategyName string) Signal {
	return Signal{
		ID:             uuid.New().String(),
		Type:           signalType,
		Direction:      direction,
		Status:         SignalStatusGenerated,
		Symbol:         symbol,
		Strength:       SignalStrengthModerate,
		Confidence:     1,
		WinProbability: 0.5,
		StrategyName:   strategyName,
		GeneratedAt:    time.Now(),
	}
}

// NewEntrySignal creates an entry signal with the prices the risk calculator
// needs for sizing.
func NewEntrySignal(symbol string, direction SignalDirection, entry, stop float64, strategyName string) Signal {
	signal := newSignal(SignalTypeEntry, symbol, direction, strategyName)
	signal.EntryPrice = optional.Some(entry)
	signal.StopLoss = optional.Some(stop)

	return signal
}

// NewExitSignal creates an exit signal for the given position.
func NewExitSignal(symbol string, positionID string, exitPrice float64, strategyName string) Signal {
	signal := newSignal(SignalTypeExit, symbol, SignalDirectionFlat, strategyName)
	signal.PositionID = positionID
	signal.EntryPrice = optional.Some(exitPrice)

	return signal
}

// NewAlertSignal creates an informational signal that will never trade.
func NewAlertSignal(symbol, reason, strategyName string) Signal {
	signal := newSignal(SignalTypeAlert, symbol, SignalDirectionFlat, strategyName)
	signal.Reason = reason

	return signal
}

// IsActive reports whether the signal can still be executed. Observing an
// expired signal mutates its status to EXPIRED.
func (s *Signal) IsActive(now time.Time) bool {
	if s.Status != SignalStatusGenerated && s.Status != SignalStatusValidated {
		return false
	}

	if s.ExpiresAt.IsSome() && now.After(s.ExpiresAt.Unwrap()) {
		s.Status = SignalStatusExpired

		return false
	}

	return true
}

// Execute marks the signal executed and links the orders and position it
// produced.
func (s *Signal) Execute(orderIDs []string, positionID string) error {
	if s.Status == SignalStatusExecuted {
		return errors.Newf(errors.ErrCodeInvalidTransition, "signal %s already executed", s.ID)
	}

	if !s.IsActive(time.Now()) {
		return errors.Newf(errors.ErrCodeInvalidTransition, "signal %s is not active", s.ID)
	}

	s.Status = SignalStatusExecuted
	s.OrderIDs = append(s.OrderIDs, orderIDs...)

	if positionID != "" {
		s.PositionID = positionID
	}

	return nil
}

// RecordOutcome stores the realized result of the trade this signal produced.
func (s *Signal) RecordOutcome(profitLoss float64) {
	s.ProfitLoss = optional.Some(profitLoss)
	s.Result = optional.Some(profitLoss > 0)
}

// Cancel marks the signal cancelled.
func (s *Signal) Cancel() {
	s.Status = SignalStatusCancelled
}

// Invalidate marks the signal invalid with the given reason.
func (s *Signal) Invalidate(reason string) {
	s.Status = SignalStatusInvalid
	s.Reason = reason
}

// RiskReward returns reward/risk derived from entry, stop, and target. It
// returns None when any of the three prices is missing or the risk side is
// zero.
func (s *Signal) RiskReward() optional.Option[float64] {
	if s.EntryPrice.IsNone() || s.StopLoss.IsNone() || s.TakeProfit.IsNone() {
		return optional.None[float64]()
	}

	entry := decimal.NewFromFloat(s.EntryPrice.Unwrap())
	stop := decimal.NewFromFloat(s.StopLoss.Unwrap())
	target := decimal.NewFromFloat(s.TakeProfit.Unwrap())

	risk := entry.Sub(stop).Abs()
	if risk.IsZero() {
		return optional.None[float64]()
	}

	reward := target.Sub(entry).Abs()
	ratio, _ := reward.Div(risk).Float64()

	return optional.Some(ratio)
}
