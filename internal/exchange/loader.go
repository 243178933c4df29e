package exchange

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/staged-backtester/internal/candle"
	"github.com/amirphl/staged-backtester/internal/db"
	"github.com/amirphl/staged-backtester/internal/tfutils"
)

// Loader fills the candle store from a provider and serves backtest-ready
// bars: sorted, deduped, trimmed to [start, end) and gap-filled.
type Loader struct {
	Store    db.CandleStore
	Provider HistoricalDataProvider

	// ChunkDays bounds a single provider request; the kline API caps
	// responses at 1000 rows.
	ChunkDays int
	// RateLimit spaces consecutive provider requests.
	RateLimit time.Duration
}

func NewLoader(store db.CandleStore, provider HistoricalDataProvider) *Loader {
	return &Loader{
		Store:     store,
		Provider:  provider,
		ChunkDays: 7,
		RateLimit: 2 * time.Second,
	}
}

// LoadCandles returns candles in [start, end), downloading from the
// provider when the store has fewer bars than the range should hold.
func (l *Loader) LoadCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]candle.Candle, error) {
	duration := tfutils.GetTimeframeDuration(timeframe)
	if duration == 0 {
		return nil, fmt.Errorf("invalid timeframe: %s", timeframe)
	}

	expected := int(end.Sub(start) / duration)
	count, err := l.Store.GetCandleCount(ctx, symbol, timeframe, start, end)
	if err != nil {
		return nil, fmt.Errorf("LoadCandles | counting stored candles: %w", err)
	}

	if count < expected {
		log.Printf("LoadCandles | store has %d/%d candles for %s %s, downloading from %s",
			count, expected, symbol, timeframe, l.Provider.Name())
		if err := l.download(ctx, symbol, timeframe, start, end); err != nil {
			return nil, err
		}
	}

	candles, err := l.Store.GetCandles(ctx, symbol, timeframe, "", start, end)
	if err != nil {
		return nil, fmt.Errorf("LoadCandles | loading candles: %w", err)
	}
	return candles, nil
}

// download fetches the range in chunks, processes it and saves the result.
func (l *Loader) download(ctx context.Context, symbol, timeframe string, start, end time.Time) error {
	ticker := time.NewTicker(l.RateLimit)
	defer ticker.Stop()

	var downloaded []candle.Candle
	currTime := start
	for currTime.Before(end) {
		next := currTime.Add(time.Duration(l.ChunkDays) * 24 * time.Hour)
		if next.After(end) {
			next = end
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		chunk, err := l.Provider.FetchCandles(fetchCtx, symbol, timeframe, currTime, next)
		cancel()
		if err != nil {
			return fmt.Errorf("download | fetching %s from %s to %s: %w",
				symbol, currTime.Format(time.RFC3339), next.Format(time.RFC3339), err)
		}

		log.Printf("download | Downloaded %d candles for %s from %s to %s",
			len(chunk), symbol, currTime.Format("2006-01-02"), next.Format("2006-01-02"))

		downloaded = append(downloaded, chunk...)
		currTime = next
	}

	if len(downloaded) == 0 {
		return fmt.Errorf("download | no candles available for %s from %s to %s",
			symbol, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	processed := ProcessCandles(downloaded, symbol, timeframe, start, end)
	if len(processed) == 0 {
		return nil
	}

	saveCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := l.Store.SaveCandles(saveCtx, processed); err != nil {
		return fmt.Errorf("download | saving candles: %w", err)
	}
	log.Printf("download | Saved %d processed candles", len(processed))
	return nil
}

// ProcessCandles sorts, dedupes, trims to [start, end) and fills gaps with
// flat synthetic candles carrying the previous close and zero volume.
func ProcessCandles(candles []candle.Candle, symbol, timeframe string, start, end time.Time) []candle.Candle {
	if len(candles) == 0 {
		return nil
	}

	duration := tfutils.GetTimeframeDuration(timeframe)
	aligned := make([]candle.Candle, len(candles))
	for i, c := range candles {
		c.Timestamp = c.Timestamp.Truncate(duration)
		aligned[i] = c
	}

	normalized := candle.Normalize(aligned)
	trimmed := candle.Trim(normalized, start, end)
	if len(trimmed) == 0 {
		return nil
	}

	var complete []candle.Candle
	currentTime := trimmed[0].Timestamp
	lastTime := trimmed[len(trimmed)-1].Timestamp
	basePrice := trimmed[0].Close

	i := 0
	for !currentTime.After(lastTime) && currentTime.Before(end) {
		if i < len(trimmed) && trimmed[i].Timestamp.Equal(currentTime) {
			complete = append(complete, trimmed[i])
			basePrice = trimmed[i].Close
			i++
		} else {
			complete = append(complete, candle.Candle{
				Timestamp: currentTime,
				Open:      basePrice,
				High:      basePrice,
				Low:       basePrice,
				Close:     basePrice,
				Volume:    0,
				Symbol:    symbol,
				Timeframe: timeframe,
				Source:    "synthetic",
			})
		}
		currentTime = currentTime.Add(duration)
	}

	return complete
}
