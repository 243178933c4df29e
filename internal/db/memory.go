package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/amirphl/staged-backtester/internal/backtest"
	"github.com/amirphl/staged-backtester/internal/candle"
)

// MemoryStorage is an in-memory Storage used by tests and dry runs.
type MemoryStorage struct {
	mu      sync.RWMutex
	candles map[string]candle.Candle
	results map[int64]*backtest.Result
	nextID  int64
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		candles: make(map[string]candle.Candle),
		results: make(map[int64]*backtest.Result),
		nextID:  1,
	}
}

func candleKey(symbol, timeframe string, ts time.Time, source string) string {
	return fmt.Sprintf("%s|%s|%d|%s", symbol, timeframe, ts.UTC().UnixNano(), source)
}

// SaveCandles upserts candles keyed by (symbol, timeframe, timestamp, source).
func (m *MemoryStorage) SaveCandles(ctx context.Context, candles []candle.Candle) error {
	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("SaveCandles | invalid candle at index %d: %w", i, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range candles {
		c.Timestamp = c.Timestamp.UTC()
		m.candles[candleKey(c.Symbol, c.Timeframe, c.Timestamp, c.Source)] = c
	}
	return nil
}

// GetCandles returns candles in [start, end) ordered by timestamp.
func (m *MemoryStorage) GetCandles(ctx context.Context, symbol, timeframe, source string, start, end time.Time) ([]candle.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []candle.Candle
	for _, c := range m.candles {
		if c.Symbol != symbol || c.Timeframe != timeframe {
			continue
		}
		if source != "" && c.Source != source {
			continue
		}
		if c.Timestamp.Before(start) || !c.Timestamp.Before(end) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// GetCandleCount counts candles in [start, end) across sources.
func (m *MemoryStorage) GetCandleCount(ctx context.Context, symbol, timeframe string, start, end time.Time) (int, error) {
	candles, err := m.GetCandles(ctx, symbol, timeframe, "", start, end)
	if err != nil {
		return 0, err
	}
	return len(candles), nil
}

// DeleteCandles drops candles older than before.
func (m *MemoryStorage) DeleteCandles(ctx context.Context, symbol, timeframe string, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, c := range m.candles {
		if c.Symbol == symbol && c.Timeframe == timeframe && c.Timestamp.Before(before) {
			delete(m.candles, key)
		}
	}
	return nil
}

// SaveBacktestResult stores a copy of the result and returns its id.
func (m *MemoryStorage) SaveBacktestResult(ctx context.Context, result *backtest.Result) (int64, error) {
	if result == nil {
		return 0, fmt.Errorf("SaveBacktestResult | nil result")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	cp := *result
	m.results[id] = &cp
	return id, nil
}

// GetBacktestResult loads a stored run by id.
func (m *MemoryStorage) GetBacktestResult(ctx context.Context, id int64) (*backtest.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result, ok := m.results[id]
	if !ok {
		return nil, fmt.Errorf("GetBacktestResult | result %d not found", id)
	}
	cp := *result
	return &cp, nil
}

// ListBacktestResults returns run summaries newest first by id.
func (m *MemoryStorage) ListBacktestResults(ctx context.Context, strategyID string, limit int) ([]ResultSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int64, 0, len(m.results))
	for id := range m.results {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	var out []ResultSummary
	for _, id := range ids {
		r := m.results[id]
		if strategyID != "" && r.StrategyID != strategyID {
			continue
		}
		out = append(out, ResultSummary{
			ID:              id,
			StrategyID:      r.StrategyID,
			StrategyName:    r.StrategyName,
			FinalCapital:    r.FinalCapital,
			TotalReturnRate: r.TotalReturnRate,
			MaxDrawdown:     r.MaxDrawdown,
			WinRate:         r.WinRate,
			CreatedAt:       r.FinishedAt,
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
