package db

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/amirphl/staged-backtester/internal/candle"
)

// ClickHouse is a column-store candle backend for large historical
// archives. It implements CandleStore only; run results stay in Postgres.
type ClickHouse struct {
	conn driver.Conn
}

// ClickHouseConfig holds connection parameters.
type ClickHouseConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NewClickHouse opens a native-protocol connection and verifies it.
func NewClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("NewClickHouse | opening connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("NewClickHouse | ping: %w", err)
	}
	return &ClickHouse{conn: conn}, nil
}

// Close closes the connection.
func (c *ClickHouse) Close() error { return c.conn.Close() }

// EnsureSchema creates the candles table if it does not exist. The
// ReplacingMergeTree keeps the last row per key, matching the
// dedupe-keep-last candle invariant.
func (c *ClickHouse) EnsureSchema(ctx context.Context) error {
	err := c.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS candles (
			symbol    LowCardinality(String),
			timeframe LowCardinality(String),
			timestamp DateTime('UTC'),
			open      Float64,
			high      Float64,
			low       Float64,
			close     Float64,
			volume    Float64,
			source    LowCardinality(String)
		) ENGINE = ReplacingMergeTree()
		ORDER BY (symbol, timeframe, timestamp, source)`)
	if err != nil {
		return fmt.Errorf("EnsureSchema | %w", err)
	}
	return nil
}

// SaveCandles appends a batch of candles.
func (c *ClickHouse) SaveCandles(ctx context.Context, candles []candle.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	for i, cn := range candles {
		if err := cn.Validate(); err != nil {
			return fmt.Errorf("SaveCandles | invalid candle at index %d: %w", i, err)
		}
	}

	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO candles")
	if err != nil {
		return fmt.Errorf("SaveCandles | preparing batch: %w", err)
	}
	for _, cn := range candles {
		if err := batch.Append(
			cn.Symbol, cn.Timeframe, cn.Timestamp.UTC(),
			cn.Open, cn.High, cn.Low, cn.Close, cn.Volume, cn.Source,
		); err != nil {
			return fmt.Errorf("SaveCandles | appending %s at %s: %w", cn.Symbol, cn.Timestamp, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("SaveCandles | sending batch: %w", err)
	}
	return nil
}

// GetCandles returns candles in [start, end) ordered by timestamp. FINAL
// collapses ReplacingMergeTree duplicates at read time.
func (c *ClickHouse) GetCandles(ctx context.Context, symbol, timeframe, source string, start, end time.Time) ([]candle.Candle, error) {
	query := `
		SELECT symbol, timeframe, timestamp, open, high, low, close, volume, source
		FROM candles FINAL
		WHERE symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp < ?`
	args := []any{symbol, timeframe, start.UTC(), end.UTC()}
	if source != "" {
		query += ` AND source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY timestamp ASC`

	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("GetCandles | %w", err)
	}
	defer rows.Close()

	var out []candle.Candle
	for rows.Next() {
		var cn candle.Candle
		if err := rows.Scan(&cn.Symbol, &cn.Timeframe, &cn.Timestamp,
			&cn.Open, &cn.High, &cn.Low, &cn.Close, &cn.Volume, &cn.Source); err != nil {
			return nil, fmt.Errorf("GetCandles | scanning row: %w", err)
		}
		cn.Timestamp = cn.Timestamp.UTC()
		out = append(out, cn)
	}
	return out, rows.Err()
}

// GetCandleCount counts candles in [start, end).
func (c *ClickHouse) GetCandleCount(ctx context.Context, symbol, timeframe string, start, end time.Time) (int, error) {
	var count uint64
	err := c.conn.QueryRow(ctx, `
		SELECT count() FROM candles FINAL
		WHERE symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp < ?`,
		symbol, timeframe, start.UTC(), end.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("GetCandleCount | %w", err)
	}
	return int(count), nil
}

// DeleteCandles drops candles older than before.
func (c *ClickHouse) DeleteCandles(ctx context.Context, symbol, timeframe string, before time.Time) error {
	err := c.conn.Exec(ctx, `
		ALTER TABLE candles DELETE
		WHERE symbol = ? AND timeframe = ? AND timestamp < ?`,
		symbol, timeframe, before.UTC())
	if err != nil {
		return fmt.Errorf("DeleteCandles | %w", err)
	}
	return nil
}
