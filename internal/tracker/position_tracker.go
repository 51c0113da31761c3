// Package tracker keeps a live view of broker positions and orders. Both
// trackers poll on an interval; the position tracker additionally bridges
// streamed ticks into mark-to-market updates between polls.
package tracker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deepterminal/deepterminal/internal/exchange"
	"github.com/deepterminal/deepterminal/internal/logger"
	"github.com/deepterminal/deepterminal/internal/types"
)

// PositionCallback receives position lifecycle events.
type PositionCallback func(position types.Position)

// PositionTracker polls the exchange for position snapshots, diffs them
// against its view, and fans out open/close/update callbacks. OnTick applies
// streamed prices to matching symbols between polls.
type PositionTracker struct {
	exchange exchange.Exchange
	interval time.Duration
	logger   *logger.Logger

	mu        sync.RWMutex
	positions map[string]*types.Position
	onOpen    []PositionCallback
	onClose   []PositionCallback
	onUpdate  []PositionCallback

	runMu   sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewPositionTracker creates a tracker polling at the given interval.
func NewPositionTracker(ex exchange.Exchange, interval time.Duration, log *logger.Logger) *PositionTracker {
	if log == nil {
		log = logger.NewNopLogger()
	}

	if interval <= 0 {
		interval = time.Second
	}

	return &PositionTracker{
		exchange:  ex,
		interval:  interval,
		logger:    log.Named("positions"),
		positions: make(map[string]*types.Position),
	}
}

// OnOpen registers a callback for newly observed positions.
func (t *PositionTracker) OnOpen(callback PositionCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onOpen = append(t.onOpen, callback)
}

// OnClose registers a callback for positions that disappeared from the broker.
func (t *PositionTracker) OnClose(callback PositionCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onClose = append(t.onClose, callback)
}

// OnUpdate registers a callback for mark-to-market changes.
func (t *PositionTracker) OnUpdate(callback PositionCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onUpdate = append(t.onUpdate, callback)
}

// Start launches the poll loop. Starting a running tracker is a no-op.
func (t *PositionTracker) Start(ctx context.Context) error {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	if t.running {
		return nil
	}

	t.done = make(chan struct{})
	t.running = true

	t.wg.Add(1)
	go t.pollLoop()

	t.logger.Info("position tracker started", zap.Duration("interval", t.interval))

	return nil
}

// Stop halts the poll loop and waits for it. Stopping a stopped tracker is a
// no-op.
func (t *PositionTracker) Stop() {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	if !t.running {
		return
	}

	close(t.done)
	t.wg.Wait()
	t.running = false

	t.logger.Info("position tracker stopped")
}

func (t *PositionTracker) pollLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), t.interval)
			t.Poll(ctx)
			cancel()
		}
	}
}

// Poll fetches one position snapshot and applies it. Exposed so callers can
// force a refresh outside the loop cadence.
func (t *PositionTracker) Poll(ctx context.Context) {
	remote, err := t.exchange.Positions(ctx)
	if err != nil {
		t.logger.Error("failed to poll positions", zap.Error(err))

		return
	}

	opened, closed, updated := t.apply(remote)

	for _, position := range opened {
		t.fanOut(t.callbacks(&t.onOpen), position)
	}

	for _, position := range closed {
		t.fanOut(t.callbacks(&t.onClose), position)
	}

	for _, position := range updated {
		t.fanOut(t.callbacks(&t.onUpdate), position)
	}
}

func (t *PositionTracker) apply(remote []types.Position) (opened, closed, updated []types.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]struct{}, len(remote))

	for i := range remote {
		position := remote[i]
		seen[position.ID] = struct{}{}

		existing, ok := t.positions[position.ID]
		if !ok {
			copied := position
			t.positions[position.ID] = &copied
			opened = append(opened, position)

			continue
		}

		if existing.CurrentPrice != position.CurrentPrice || existing.Quantity != position.Quantity {
			*existing = position
			updated = append(updated, position)
		}
	}

	for id, position := range t.positions {
		if _, ok := seen[id]; !ok {
			closed = append(closed, *position)
			delete(t.positions, id)
		}
	}

	return opened, closed, updated
}

func (t *PositionTracker) callbacks(list *[]PositionCallback) []PositionCallback {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return append([]PositionCallback(nil), *list...)
}

func (t *PositionTracker) fanOut(callbacks []PositionCallback, position types.Position) {
	for _, callback := range callbacks {
		callback(position)
	}
}

// OnTick marks positions in the tick's symbol to the streamed price and fans
// out update callbacks for them.
func (t *PositionTracker) OnTick(tick types.Tick) {
	price := tick.Price()
	if price <= 0 {
		return
	}

	t.mu.Lock()
	updated := make([]types.Position, 0, 1)

	for _, position := range t.positions {
		if position.Symbol != tick.Symbol {
			continue
		}

		position.UpdatePrice(price)
		updated = append(updated, *position)
	}
	t.mu.Unlock()

	for _, position := range updated {
		t.fanOut(t.callbacks(&t.onUpdate), position)
	}
}

// Snapshot returns a copy of the tracked positions.
func (t *PositionTracker) Snapshot() []types.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()

	positions := make([]types.Position, 0, len(t.positions))
	for _, position := range t.positions {
		positions = append(positions, *position)
	}

	return positions
}

// Get returns a tracked position by ID; when the ID is unknown it falls back
// to one fetch from the exchange before giving up.
func (t *PositionTracker) Get(ctx context.Context, id string) (types.Position, bool) {
	t.mu.RLock()
	position, ok := t.positions[id]
	if ok {
		copied := *position
		t.mu.RUnlock()

		return copied, true
	}
	t.mu.RUnlock()

	// Cache miss: refresh and retry once.
	t.Poll(ctx)

	t.mu.RLock()
	defer t.mu.RUnlock()

	if position, ok := t.positions[id]; ok {
		return *position, true
	}

	return types.Position{}, false
}

// TotalUnrealizedPnL sums the unrealized PnL across tracked positions.
func (t *PositionTracker) TotalUnrealizedPnL() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := 0.0
	for _, position := range t.positions {
		total += position.UnrealizedPnL
	}

	return total
}
