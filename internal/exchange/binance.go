package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/staged-backtester/internal/candle"
)

// BinanceProvider fetches candle history from the Binance public kline API.
// No API key is needed for historical klines.
type BinanceProvider struct {
	// ProxyURL routes requests through an HTTP proxy when set.
	ProxyURL string

	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func NewBinanceProvider(proxyURL string) *BinanceProvider {
	return &BinanceProvider{
		ProxyURL:   proxyURL,
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

func (b *BinanceProvider) Name() string {
	return "binance"
}

// FetchCandles downloads klines with retry, exponential backoff and jitter.
func (b *BinanceProvider) FetchCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]candle.Candle, error) {
	const (
		backoffFactor = 2.0
		jitterRange   = 0.1 // ±10% jitter
	)

	interval, err := binanceInterval(timeframe)
	if err != nil {
		return nil, err
	}

	apiSymbol := strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
	startMs := start.UnixNano() / int64(time.Millisecond)
	endMs := end.UnixNano() / int64(time.Millisecond)

	apiURL := fmt.Sprintf(
		"https://api.binance.com/api/v3/klines?symbol=%s&interval=%s&startTime=%d&endTime=%d&limit=1000",
		apiSymbol, interval, startMs, endMs,
	)

	transport := &http.Transport{}
	if b.ProxyURL != "" {
		proxyParsed, err := url.Parse(b.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyParsed)
		log.Printf("FetchCandles | Using proxy: %s", b.ProxyURL)
	}

	client := &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
	}

	var lastErr error
	for attempt := 0; attempt < b.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, "GET", apiURL, nil)
		if err != nil {
			return nil, fmt.Errorf("error creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		log.Printf("FetchCandles | Attempt %d/%d for %s", attempt+1, b.MaxRetries, symbol)

		resp, err := client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("network error on attempt %d: %w", attempt+1, err)
			log.Printf("FetchCandles | %v", lastErr)
			if err := b.waitRetry(ctx, attempt, backoffFactor, jitterRange); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()

			lastErr = fmt.Errorf("API error (status %d) on attempt %d: %s", resp.StatusCode, attempt+1, string(body))
			log.Printf("FetchCandles | %v", lastErr)

			if !isRetryableHTTPStatus(resp.StatusCode) {
				return nil, lastErr
			}
			if err := b.waitRetry(ctx, attempt, backoffFactor, jitterRange); err != nil {
				return nil, err
			}
			continue
		}

		bodyBytes, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("error reading response body on attempt %d: %w", attempt+1, err)
			log.Printf("FetchCandles | %v", lastErr)
			if err := b.waitRetry(ctx, attempt, backoffFactor, jitterRange); err != nil {
				return nil, err
			}
			continue
		}

		candles, err := parseKlines(bodyBytes, symbol, timeframe)
		if err != nil {
			lastErr = fmt.Errorf("decode error on attempt %d: %w", attempt+1, err)
			log.Printf("FetchCandles | %v", lastErr)
			if err := b.waitRetry(ctx, attempt, backoffFactor, jitterRange); err != nil {
				return nil, err
			}
			continue
		}

		log.Printf("FetchCandles | Downloaded %d candles for %s on attempt %d", len(candles), symbol, attempt+1)
		return candles, nil
	}

	return nil, fmt.Errorf("failed to download candles after %d attempts, last error: %w", b.MaxRetries, lastErr)
}

// waitRetry sleeps before the next attempt, honoring cancellation. The
// final attempt does not sleep.
func (b *BinanceProvider) waitRetry(ctx context.Context, attempt int, backoffFactor, jitterRange float64) error {
	if attempt >= b.MaxRetries-1 {
		return nil
	}
	delay := calculateRetryDelay(attempt, b.BaseDelay, b.MaxDelay, backoffFactor, jitterRange)
	log.Printf("FetchCandles | Retrying in %v...", delay)

	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
	case <-time.After(delay):
		return nil
	}
}

// parseKlines converts the raw kline array-of-arrays payload into candles.
// Entries with fewer than six fields are skipped.
func parseKlines(body []byte, symbol, timeframe string) ([]candle.Candle, error) {
	var rawCandles [][]any
	if err := json.Unmarshal(body, &rawCandles); err != nil {
		return nil, err
	}

	candles := make([]candle.Candle, 0, len(rawCandles))
	for _, raw := range rawCandles {
		if len(raw) < 6 {
			continue
		}

		var timestamp int64
		switch v := raw[0].(type) {
		case float64:
			timestamp = int64(v)
		case string:
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				log.Printf("parseKlines | Error parsing timestamp string: %v", err)
				continue
			}
			timestamp = parsed
		default:
			log.Printf("parseKlines | Unexpected timestamp type: %T", v)
			continue
		}

		candles = append(candles, candle.Candle{
			Timestamp: time.Unix(timestamp/1000, 0).UTC(),
			Open:      parseNum(raw[1]),
			High:      parseNum(raw[2]),
			Low:       parseNum(raw[3]),
			Close:     parseNum(raw[4]),
			Volume:    parseNum(raw[5]),
			Symbol:    symbol,
			Timeframe: timeframe,
			Source:    "binance",
		})
	}
	return candles, nil
}

// parseNum handles the API returning numbers either as floats or strings.
func parseNum(val any) float64 {
	switch n := val.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			log.Printf("parseNum | Error parsing float string: %v", err)
			return 0
		}
		return f
	default:
		log.Printf("parseNum | Unexpected number type: %T", n)
		return 0
	}
}

func binanceInterval(timeframe string) (string, error) {
	switch timeframe {
	case "1m", "5m", "15m", "30m", "1h", "4h", "1d":
		return timeframe, nil
	default:
		return "", fmt.Errorf("unsupported timeframe: %s", timeframe)
	}
}

// calculateRetryDelay calculates the delay for the next retry attempt with exponential backoff and jitter
func calculateRetryDelay(attempt int, baseDelay, maxDelay time.Duration, backoffFactor, jitterRange float64) time.Duration {
	delay := float64(baseDelay) * math.Pow(backoffFactor, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	// Jitter avoids synchronized retries across goroutines.
	jitter := delay * jitterRange * (2*rand.Float64() - 1)
	delay += jitter

	if delay < 0 {
		delay = float64(baseDelay)
	}
	return time.Duration(delay)
}

// isRetryableHTTPStatus determines if an HTTP status code indicates a retryable error
func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
