// Package exchange defines the broker collaborator contract. Implementations
// adapt a concrete broker API; the engine and trackers only ever see this
// interface.
package exchange

import (
	"context"

	"github.com/deepterminal/deepterminal/internal/types"
)

// TickHandler receives streamed quote updates.
type TickHandler func(tick types.Tick)

// Exchange is the broker collaborator. All blocking calls take a context and
// honor its cancellation. Implementations must be safe for concurrent use.
type Exchange interface {
	// Connect establishes the session. Calling Connect on a connected
	// exchange is a no-op.
	Connect(ctx context.Context) error
	// Disconnect tears the session down.
	Disconnect(ctx context.Context) error
	// IsConnected reports the current session state.
	IsConnected() bool

	// PlaceOrder submits an order and returns it with the broker's order ID
	// and an updated status.
	PlaceOrder(ctx context.Context, order types.Order) (types.Order, error)
	// CancelOrder cancels an active order by ID.
	CancelOrder(ctx context.Context, orderID string) error
	// ModifyOrder replaces the mutable fields of an active order.
	ModifyOrder(ctx context.Context, order types.Order) (types.Order, error)
	// OrderStatus fetches the current state of an order by ID.
	OrderStatus(ctx context.Context, orderID string) (types.Order, error)
	// OpenOrders returns all orders that can still fill.
	OpenOrders(ctx context.Context) ([]types.Order, error)

	// Positions returns the current open positions.
	Positions(ctx context.Context) ([]types.Position, error)
	// AccountInfo returns the current account snapshot.
	AccountInfo(ctx context.Context) (types.AccountInfo, error)

	// LastPrice returns the most recent price for a symbol.
	LastPrice(ctx context.Context, symbol string) (float64, error)
	// SubscribeTicks streams quote updates for the given symbols into the
	// handler until the context is cancelled.
	SubscribeTicks(ctx context.Context, symbols []string, handler TickHandler) error
}
