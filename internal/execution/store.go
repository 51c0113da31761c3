package execution

import (
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/deepterminal/deepterminal/internal/logger"
	"github.com/deepterminal/deepterminal/internal/types"
	"github.com/deepterminal/deepterminal/pkg/errors"
)

// HistoryStore records every order, fill, and completed trade the engine
// produces. It backs the engine's statistics and the backtest result report.
type HistoryStore struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

// NewHistoryStore opens a store at path; an empty path uses an in-memory
// database.
func NewHistoryStore(path string, log *logger.Logger) (*HistoryStore, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreInitFailed, "failed to open history database", err)
	}

	store := &HistoryStore{
		db:     db,
		logger: log.Named("history"),
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}

	if err := store.initialize(); err != nil {
		_ = db.Close()

		return nil, err
	}

	return store, nil
}

func (s *HistoryStore) initialize() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			symbol TEXT,
			side TEXT,
			order_type TEXT,
			status TEXT,
			quantity DOUBLE,
			reason TEXT,
			signal_id TEXT,
			position_id TEXT,
			strategy_name TEXT,
			created_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS fills (
			order_id TEXT,
			symbol TEXT,
			side TEXT,
			quantity DOUBLE,
			price DOUBLE,
			filled_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			position_id TEXT,
			symbol TEXT,
			side TEXT,
			quantity DOUBLE,
			entry_price DOUBLE,
			exit_price DOUBLE,
			realized_pnl DOUBLE,
			strategy_name TEXT,
			open_time TIMESTAMP,
			close_time TIMESTAMP
		)`,
	}

	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return errors.Wrap(errors.ErrCodeStoreInitFailed, "failed to create history tables", err)
		}
	}

	return nil
}

// Close closes the underlying database.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}

// RecordOrder persists an order placement. Failures are logged and returned
// but never block trading.
func (s *HistoryStore) RecordOrder(order types.Order) error {
	query := s.sq.
		Insert("orders").
		Columns("order_id", "symbol", "side", "order_type", "status", "quantity",
			"reason", "signal_id", "position_id", "strategy_name", "created_at").
		Values(order.ID, order.Symbol, string(order.Side), string(order.Type), string(order.Status),
			order.Quantity, order.Reason, order.SignalID, order.PositionID, order.StrategyName, order.CreatedAt)

	if _, err := query.RunWith(s.db).Exec(); err != nil {
		s.logger.Error("failed to record order", zap.String("order_id", order.ID), zap.Error(err))

		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to record order", err)
	}

	return nil
}

// RecordFill persists a fill event.
func (s *HistoryStore) RecordFill(fill types.Fill) error {
	query := s.sq.
		Insert("fills").
		Columns("order_id", "symbol", "side", "quantity", "price", "filled_at").
		Values(fill.OrderID, fill.Symbol, string(fill.Side), fill.Quantity, fill.Price, fill.Time)

	if _, err := query.RunWith(s.db).Exec(); err != nil {
		s.logger.Error("failed to record fill", zap.String("order_id", fill.OrderID), zap.Error(err))

		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to record fill", err)
	}

	return nil
}

// RecordTrade persists a completed round trip.
func (s *HistoryStore) RecordTrade(trade types.Trade) error {
	query := s.sq.
		Insert("trades").
		Columns("position_id", "symbol", "side", "quantity", "entry_price", "exit_price",
			"realized_pnl", "strategy_name", "open_time", "close_time").
		Values(trade.PositionID, trade.Symbol, string(trade.Side), trade.Quantity, trade.EntryPrice,
			trade.ExitPrice, trade.RealizedPnL, trade.StrategyName, trade.OpenTime, trade.CloseTime)

	if _, err := query.RunWith(s.db).Exec(); err != nil {
		s.logger.Error("failed to record trade", zap.String("position_id", trade.PositionID), zap.Error(err))

		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to record trade", err)
	}

	return nil
}

// Trades returns recorded round trips matching the filter, oldest first.
func (s *HistoryStore) Trades(filter types.TradeFilter) ([]types.Trade, error) {
	query := s.sq.
		Select("position_id", "symbol", "side", "quantity", "entry_price", "exit_price",
			"realized_pnl", "strategy_name", "open_time", "close_time").
		From("trades").
		OrderBy("close_time ASC")

	if filter.Symbol != "" {
		query = query.Where(squirrel.Eq{"symbol": filter.Symbol})
	}

	if !filter.StartTime.IsZero() {
		query = query.Where(squirrel.GtOrEq{"close_time": filter.StartTime})
	}

	if !filter.EndTime.IsZero() {
		query = query.Where(squirrel.LtOrEq{"close_time": filter.EndTime})
	}

	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}

	rows, err := query.RunWith(s.db).Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to query trades", err)
	}
	defer rows.Close()

	trades := make([]types.Trade, 0)

	for rows.Next() {
		var trade types.Trade

		var side string

		err := rows.Scan(&trade.PositionID, &trade.Symbol, &side, &trade.Quantity, &trade.EntryPrice,
			&trade.ExitPrice, &trade.RealizedPnL, &trade.StrategyName, &trade.OpenTime, &trade.CloseTime)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to scan trade", err)
		}

		trade.Side = types.PositionSide(side)
		trades = append(trades, trade)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to iterate trades", err)
	}

	return trades, nil
}

// TradeStats summarizes recorded round trips.
type TradeStats struct {
	Total       int     `json:"total"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// ClosedTradeStats aggregates counts and realized PnL across all recorded
// trades, optionally restricted to one symbol.
func (s *HistoryStore) ClosedTradeStats(symbol string) (TradeStats, error) {
	query := s.sq.
		Select(
			"COUNT(*)",
			"COALESCE(SUM(CASE WHEN realized_pnl > 0 THEN 1 ELSE 0 END), 0)",
			"COALESCE(SUM(CASE WHEN realized_pnl < 0 THEN 1 ELSE 0 END), 0)",
			"COALESCE(SUM(realized_pnl), 0)",
		).
		From("trades")

	if symbol != "" {
		query = query.Where(squirrel.Eq{"symbol": symbol})
	}

	var stats TradeStats

	row := query.RunWith(s.db).QueryRow()
	if err := row.Scan(&stats.Total, &stats.Wins, &stats.Losses, &stats.RealizedPnL); err != nil {
		return TradeStats{}, errors.Wrap(errors.ErrCodeStoreQueryFailed, "failed to aggregate trades", err)
	}

	return stats, nil
}

// FillCount returns the number of recorded fills for an order.
func (s *HistoryStore) FillCount(orderID string) (int, error) {
	query := s.sq.
		Select("COUNT(*)").
		From("fills").
		Where(squirrel.Eq{"order_id": orderID})

	var count int
	if err := query.RunWith(s.db).QueryRow().Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeStoreQueryFailed,
			fmt.Sprintf("failed to count fills for order %s", orderID), err)
	}

	return count, nil
}
