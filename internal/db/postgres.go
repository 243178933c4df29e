package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/amirphl/staged-backtester/internal/backtest"
	"github.com/amirphl/staged-backtester/internal/candle"
)

// Postgres is the default durable backend.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a Postgres connection and verifies it.
func NewPostgres(connStr string) (*Postgres, error) {
	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("NewPostgres | opening connection: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("NewPostgres | ping: %w", err)
	}
	return &Postgres{db: conn}, nil
}

// NewPostgresFromDB wraps an existing connection (used by tests).
func NewPostgresFromDB(conn *sql.DB) *Postgres {
	return &Postgres{db: conn}
}

// GetDB exposes the underlying connection.
func (p *Postgres) GetDB() *sql.DB { return p.db }

// Close closes the connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

// EnsureSchema creates the tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			open DOUBLE PRECISION NOT NULL,
			high DOUBLE PRECISION NOT NULL,
			low DOUBLE PRECISION NOT NULL,
			close DOUBLE PRECISION NOT NULL,
			volume DOUBLE PRECISION NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (symbol, timeframe, timestamp, source)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candles_lookup
			ON candles (symbol, timeframe, timestamp)`,
		`CREATE TABLE IF NOT EXISTS backtest_results (
			id BIGSERIAL PRIMARY KEY,
			strategy_id TEXT NOT NULL,
			strategy_name TEXT NOT NULL,
			allocation TEXT NOT NULL,
			initial_capital DOUBLE PRECISION NOT NULL,
			final_capital DOUBLE PRECISION NOT NULL,
			total_return_rate DOUBLE PRECISION NOT NULL,
			max_drawdown DOUBLE PRECISION NOT NULL,
			win_rate DOUBLE PRECISION NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_backtest_results_strategy
			ON backtest_results (strategy_id, created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("EnsureSchema | %w", err)
		}
	}
	return nil
}

// executeWithTransaction runs fn inside the context transaction when one
// exists, otherwise in a fresh transaction with commit/rollback handling.
func (p *Postgres) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}
	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}
	return nil
}

func (p *Postgres) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return p.db.QueryContext(ctx, query, args...)
}

// SaveCandles upserts a batch of candles in one transaction.
func (p *Postgres) SaveCandles(ctx context.Context, candles []candle.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("SaveCandles | invalid candle at index %d: %w", i, err)
		}
	}

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO candles (symbol, timeframe, timestamp, open, high, low, close, volume, source)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (symbol, timeframe, timestamp, source) DO UPDATE SET
				open=EXCLUDED.open, high=EXCLUDED.high, low=EXCLUDED.low,
				close=EXCLUDED.close, volume=EXCLUDED.volume`)
		if err != nil {
			return fmt.Errorf("SaveCandles | preparing statement: %w", err)
		}
		defer stmt.Close()

		for _, c := range candles {
			if _, err := stmt.ExecContext(ctx,
				c.Symbol, c.Timeframe, c.Timestamp.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume, c.Source); err != nil {
				return fmt.Errorf("SaveCandles | %s %s at %s: %w", c.Symbol, c.Timeframe, c.Timestamp, err)
			}
		}
		return nil
	})
}

// GetCandles returns candles in [start, end) ordered by timestamp.
func (p *Postgres) GetCandles(ctx context.Context, symbol, timeframe, source string, start, end time.Time) ([]candle.Candle, error) {
	query := `
		SELECT symbol, timeframe, timestamp, open, high, low, close, volume, source
		FROM candles
		WHERE symbol=$1 AND timeframe=$2 AND timestamp >= $3 AND timestamp < $4`
	args := []any{symbol, timeframe, start.UTC(), end.UTC()}
	if source != "" {
		query += ` AND source=$5`
		args = append(args, source)
	}
	query += ` ORDER BY timestamp ASC`

	rows, err := p.queryWithTransaction(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("GetCandles | %w", err)
	}
	defer rows.Close()

	var out []candle.Candle
	for rows.Next() {
		var c candle.Candle
		if err := rows.Scan(&c.Symbol, &c.Timeframe, &c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Source); err != nil {
			return nil, fmt.Errorf("GetCandles | scanning row: %w", err)
		}
		c.Timestamp = c.Timestamp.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCandleCount counts candles in [start, end).
func (p *Postgres) GetCandleCount(ctx context.Context, symbol, timeframe string, start, end time.Time) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM candles
		WHERE symbol=$1 AND timeframe=$2 AND timestamp >= $3 AND timestamp < $4`,
		symbol, timeframe, start.UTC(), end.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("GetCandleCount | %w", err)
	}
	return count, nil
}

// DeleteCandles drops candles older than before.
func (p *Postgres) DeleteCandles(ctx context.Context, symbol, timeframe string, before time.Time) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM candles WHERE symbol=$1 AND timeframe=$2 AND timestamp < $3`,
			symbol, timeframe, before.UTC())
		if err != nil {
			return fmt.Errorf("DeleteCandles | %w", err)
		}
		return nil
	})
}

// SaveBacktestResult stores a finished run: headline numbers as columns
// for listing, the full ledger and equity curve as a JSONB payload.
func (p *Postgres) SaveBacktestResult(ctx context.Context, result *backtest.Result) (int64, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return 0, fmt.Errorf("SaveBacktestResult | marshaling payload: %w", err)
	}

	var id int64
	err = p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO backtest_results
				(strategy_id, strategy_name, allocation, initial_capital, final_capital,
				 total_return_rate, max_drawdown, win_rate, payload)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			RETURNING id`,
			result.StrategyID, result.StrategyName, string(result.Allocation),
			result.InitialCapital, result.FinalCapital,
			result.TotalReturnRate, result.MaxDrawdown, result.WinRate,
			payload).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("SaveBacktestResult | %w", err)
	}
	return id, nil
}

// GetBacktestResult loads a stored run by id.
func (p *Postgres) GetBacktestResult(ctx context.Context, id int64) (*backtest.Result, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT payload FROM backtest_results WHERE id=$1`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("GetBacktestResult | result %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("GetBacktestResult | %w", err)
	}

	var result backtest.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("GetBacktestResult | unmarshaling payload: %w", err)
	}
	return &result, nil
}

// ListBacktestResults returns recent run summaries for a strategy, newest
// first. Empty strategyID lists across strategies.
func (p *Postgres) ListBacktestResults(ctx context.Context, strategyID string, limit int) ([]ResultSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, strategy_id, strategy_name, final_capital, total_return_rate,
		       max_drawdown, win_rate, created_at
		FROM backtest_results`
	args := []any{}
	if strategyID != "" {
		query += ` WHERE strategy_id=$1`
		args = append(args, strategyID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := p.queryWithTransaction(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListBacktestResults | %w", err)
	}
	defer rows.Close()

	var out []ResultSummary
	for rows.Next() {
		var s ResultSummary
		if err := rows.Scan(&s.ID, &s.StrategyID, &s.StrategyName, &s.FinalCapital,
			&s.TotalReturnRate, &s.MaxDrawdown, &s.WinRate, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListBacktestResults | scanning row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
