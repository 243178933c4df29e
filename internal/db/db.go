// Package db holds the persistence layer: candle storage and backtest
// result storage, with Postgres, ClickHouse and in-memory backends.
package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/amirphl/staged-backtester/internal/backtest"
	"github.com/amirphl/staged-backtester/internal/candle"
)

// CandleStore persists and serves OHLCV bars.
type CandleStore interface {
	SaveCandles(ctx context.Context, candles []candle.Candle) error
	// GetCandles returns candles in [start, end) ordered by timestamp.
	// Empty source matches any source.
	GetCandles(ctx context.Context, symbol, timeframe, source string, start, end time.Time) ([]candle.Candle, error)
	GetCandleCount(ctx context.Context, symbol, timeframe string, start, end time.Time) (int, error)
	DeleteCandles(ctx context.Context, symbol, timeframe string, before time.Time) error
}

// ResultStore persists completed backtest runs.
type ResultStore interface {
	SaveBacktestResult(ctx context.Context, result *backtest.Result) (int64, error)
	GetBacktestResult(ctx context.Context, id int64) (*backtest.Result, error)
	ListBacktestResults(ctx context.Context, strategyID string, limit int) ([]ResultSummary, error)
}

// ResultSummary is the list-view projection of a stored run.
type ResultSummary struct {
	ID              int64     `json:"id"`
	StrategyID      string    `json:"strategy_id"`
	StrategyName    string    `json:"strategy_name"`
	FinalCapital    float64   `json:"final_capital"`
	TotalReturnRate float64   `json:"total_return_rate"`
	MaxDrawdown     float64   `json:"max_drawdown"`
	WinRate         float64   `json:"win_rate"`
	CreatedAt       time.Time `json:"created_at"`
}

// Storage is the full persistence surface the application wires up.
type Storage interface {
	CandleStore
	ResultStore
}

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context.
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or nil if absent.
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}
