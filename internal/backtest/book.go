package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/deepterminal/deepterminal/internal/types"
)

// book is the replay's in-memory position ledger. It applies the same net
// position arithmetic as the live simulator: additions re-weight the average
// entry, reductions realize PnL on the closed slice, and an overshooting
// reduction flips the position to the opposite side at the fill price.
type book struct {
	// net signed quantity per symbol, positive long, negative short
	net      map[string]decimal.Decimal
	avgEntry map[string]decimal.Decimal
	openTime map[string]time.Time
	marks    map[string]float64
	realized decimal.Decimal
	trades   []types.Trade
}

func newBook() *book {
	return &book{
		net:      make(map[string]decimal.Decimal),
		avgEntry: make(map[string]decimal.Decimal),
		openTime: make(map[string]time.Time),
		marks:    make(map[string]float64),
	}
}

// mark records the latest price for a symbol.
func (b *book) mark(symbol string, price float64) {
	b.marks[symbol] = price
}

// fill applies an execution to the ledger. Closed slices are appended to the
// trade list as round trips.
func (b *book) fill(symbol string, side types.OrderSide, quantity, price float64, at time.Time, strategyName string) {
	qty := decimal.NewFromFloat(quantity)
	if side == types.OrderSideSell {
		qty = qty.Neg()
	}

	prev := b.net[symbol]
	next := prev.Add(qty)
	fillPrice := decimal.NewFromFloat(price)

	switch {
	case prev.IsZero():
		b.avgEntry[symbol] = fillPrice
		b.openTime[symbol] = at
	case prev.Sign() == qty.Sign():
		total := prev.Abs().Add(qty.Abs())
		b.avgEntry[symbol] = prev.Abs().Mul(b.avgEntry[symbol]).
			Add(qty.Abs().Mul(fillPrice)).Div(total)
	default:
		closed := decimal.Min(prev.Abs(), qty.Abs())
		move := fillPrice.Sub(b.avgEntry[symbol])
		if prev.Sign() < 0 {
			move = move.Neg()
		}

		pnl := move.Mul(closed)
		b.realized = b.realized.Add(pnl)
		b.recordTrade(symbol, prev, closed, fillPrice, pnl, at, strategyName)

		if prev.Abs().LessThan(qty.Abs()) {
			// Flip: the remainder opens a fresh position at the fill price.
			b.avgEntry[symbol] = fillPrice
			b.openTime[symbol] = at
		}
	}

	b.net[symbol] = next
	if next.IsZero() {
		delete(b.net, symbol)
		delete(b.avgEntry, symbol)
		delete(b.openTime, symbol)
	}
}

func (b *book) recordTrade(symbol string, prev, closed, exitPrice, pnl decimal.Decimal, at time.Time, strategyName string) {
	side := types.PositionSideLong
	if prev.Sign() < 0 {
		side = types.PositionSideShort
	}

	quantity, _ := closed.Float64()
	entry, _ := b.avgEntry[symbol].Float64()
	exit, _ := exitPrice.Float64()
	realized, _ := pnl.Float64()
	openTime := b.openTime[symbol]

	b.trades = append(b.trades, types.Trade{
		PositionID:   symbol + "_" + openTime.UTC().Format("20060102T150405"),
		Symbol:       symbol,
		Side:         side,
		Quantity:     quantity,
		EntryPrice:   entry,
		ExitPrice:    exit,
		RealizedPnL:  realized,
		StrategyName: strategyName,
		OpenTime:     openTime,
		CloseTime:    at,
	})
}

// unrealizedPnL sums the mark-to-market PnL of all open positions.
func (b *book) unrealizedPnL() float64 {
	total := decimal.Zero

	for symbol, net := range b.net {
		price, ok := b.marks[symbol]
		if !ok {
			continue
		}

		move := decimal.NewFromFloat(price).Sub(b.avgEntry[symbol])
		total = total.Add(move.Mul(net))
	}

	value, _ := total.Float64()

	return value
}

// realizedPnL returns the accumulated realized PnL.
func (b *book) realizedPnL() float64 {
	value, _ := b.realized.Float64()

	return value
}

// positions materializes the open ledger entries as positions marked at the
// latest price.
func (b *book) positions() []types.Position {
	positions := make([]types.Position, 0, len(b.net))

	for symbol, net := range b.net {
		side := types.PositionSideLong
		if net.Sign() < 0 {
			side = types.PositionSideShort
		}

		quantity, _ := net.Abs().Float64()
		entry, _ := b.avgEntry[symbol].Float64()

		position := types.NewPosition(symbol, side, quantity, entry, b.openTime[symbol])
		if price, ok := b.marks[symbol]; ok {
			position.UpdatePrice(price)
		}

		positions = append(positions, position)
	}

	return positions
}

// position returns the open position for a symbol, if any.
func (b *book) position(symbol string) (types.Position, bool) {
	for _, position := range b.positions() {
		if position.Symbol == symbol {
			return position, true
		}
	}

	return types.Position{}, false
}
