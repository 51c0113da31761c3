package types

import "time"

// Bar is a single OHLCV candle for a symbol.
type Bar struct {
	Symbol string    `yaml:"symbol" json:"symbol" csv:"symbol"`
	Time   time.Time `yaml:"time" json:"time" csv:"time"`
	Open   float64   `yaml:"open" json:"open" csv:"open"`
	High   float64   `yaml:"high" json:"high" csv:"high"`
	Low    float64   `yaml:"low" json:"low" csv:"low"`
	Close  float64   `yaml:"close" json:"close" csv:"close"`
	Volume float64   `yaml:"volume" json:"volume" csv:"volume"`
}

// Tick is a single streamed quote update.
type Tick struct {
	Symbol string    `json:"symbol"`
	Time   time.Time `json:"time"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Last   float64   `json:"last"`
	Size   float64   `json:"size"`
}

// Mid returns the bid/ask midpoint, falling back to the last trade price when
// either side of the book is missing.
func (t Tick) Mid() float64 {
	if t.Bid > 0 && t.Ask > 0 {
		return (t.Bid + t.Ask) / 2
	}

	return t.Last
}

// Price returns the best available price for marking a position: last trade
// if present, otherwise the midpoint.
func (t Tick) Price() float64 {
	if t.Last > 0 {
		return t.Last
	}

	return t.Mid()
}
