package types

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"

	"github.com/deepterminal/deepterminal/pkg/errors"
)

type InstrumentType string

const (
	InstrumentTypeStock  InstrumentType = "STOCK"
	InstrumentTypeFuture InstrumentType = "FUTURE"
	InstrumentTypeOption InstrumentType = "OPTION"
	InstrumentTypeForex  InstrumentType = "FOREX"
	InstrumentTypeCrypto InstrumentType = "CRYPTO"
)

// Instrument describes a tradable contract. ContractSize is the cash value of
// one point of price movement per unit (1 for stocks, the multiplier for
// futures). LotSize is the smallest order increment.
type Instrument struct {
	Symbol         string         `yaml:"symbol" json:"symbol" validate:"required"`
	Exchange       string         `yaml:"exchange" json:"exchange" validate:"required"`
	Type           InstrumentType `yaml:"type" json:"type" validate:"required,oneof=STOCK FUTURE OPTION FOREX CRYPTO"`
	TickSize       float64        `yaml:"tick_size" json:"tick_size" validate:"required,gt=0"`
	LotSize        float64        `yaml:"lot_size" json:"lot_size" validate:"required,gt=0"`
	ContractSize   float64        `yaml:"contract_size" json:"contract_size" validate:"required,gt=0"`
	MarginRequired float64        `yaml:"margin_required" json:"margin_required" validate:"gte=0"`
	Currency       string         `yaml:"currency" json:"currency"`
	// Expiry is set for dated contracts (futures, options).
	Expiry optional.Option[time.Time] `yaml:"expiry" json:"expiry"`
}

// NewInstrument creates an instrument with stock-like defaults for the sizing
// fields so callers only override what differs.
func NewInstrument(symbol, exchange string, instrumentType InstrumentType) Instrument {
	return Instrument{
		Symbol:       symbol,
		Exchange:     exchange,
		Type:         instrumentType,
		TickSize:     0.01,
		LotSize:      1,
		ContractSize: 1,
		Currency:     "USD",
	}
}

// Validate validates the Instrument struct.
func (i *Instrument) Validate() error {
	validate := validator.New()

	if err := validate.Struct(i); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInstrument, "invalid instrument", err)
	}

	return nil
}

// IsExpired reports whether the instrument's expiry, if any, is before now.
func (i *Instrument) IsExpired(now time.Time) bool {
	if i.Expiry.IsNone() {
		return false
	}

	return i.Expiry.Unwrap().Before(now)
}

// Key returns the symbol qualified with its exchange.
func (i *Instrument) Key() string {
	return fmt.Sprintf("%s:%s", i.Exchange, i.Symbol)
}
