package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/amirphl/staged-backtester/internal/backtest"
	"github.com/amirphl/staged-backtester/internal/candle"
	"github.com/amirphl/staged-backtester/internal/config"
	"github.com/amirphl/staged-backtester/internal/db"
	"github.com/amirphl/staged-backtester/internal/exchange"
	"github.com/amirphl/staged-backtester/internal/indicator"
	"github.com/amirphl/staged-backtester/internal/notifier"
	"github.com/amirphl/staged-backtester/internal/preflight"
	"github.com/amirphl/staged-backtester/internal/strategy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main | invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("main | %v", err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	candleStore, resultStore, closeStores, err := buildStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	var notify notifier.Notifier = notifier.Nop{}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		notify = notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
	}

	loader := exchange.NewLoader(candleStore, provider)
	store := strategy.NewFileStore(cfg.StrategyDir)
	engine := indicator.NewEngine()

	var failed []string
	for _, id := range cfg.StrategyIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := runStrategy(ctx, cfg, id, store, loader, engine, resultStore, notify); err != nil {
			log.Printf("run | strategy %s failed: %v", id, err)
			failed = append(failed, id)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d strategies failed: %s",
			len(failed), len(cfg.StrategyIDs), strings.Join(failed, ", "))
	}
	return nil
}

func runStrategy(
	ctx context.Context,
	cfg config.Config,
	id string,
	store strategy.Store,
	loader *exchange.Loader,
	engine *indicator.Engine,
	results db.ResultStore,
	notify notifier.Notifier,
) error {
	strat, err := store.LoadStrategyConfig(ctx, id)
	if err != nil {
		return fmt.Errorf("loading strategy: %w", err)
	}
	if len(strat.Symbols) == 0 {
		strat.Symbols = cfg.Symbols
	}
	if strat.Timeframe == "" {
		strat.Timeframe = cfg.Timeframe
	}

	log.Printf("runStrategy | %s (%s) on %v %s from %s to %s",
		strat.Name, id, strat.Symbols, strat.Timeframe,
		cfg.From.Format("2006-01-02"), cfg.To.Format("2006-01-02"))

	bars := make(map[string][]candle.Candle, len(strat.Symbols))
	minBars := 0
	for _, sym := range strat.Symbols {
		candles, err := loader.LoadCandles(ctx, sym, strat.Timeframe, cfg.From, cfg.To)
		if err != nil {
			log.Printf("runStrategy | loading %s: %v", sym, err)
			continue
		}
		bars[sym] = candles
		if minBars == 0 || len(candles) < minBars {
			minBars = len(candles)
		}
	}

	validator := preflight.New(engine, preflight.Options{
		Bars:         minBars,
		StrictWindow: cfg.StrictPreflight,
	})
	report := validator.Validate(strat)
	for _, w := range report.Warnings {
		log.Printf("runStrategy | preflight warning: %s", w)
	}
	if !report.Valid() {
		return fmt.Errorf("preflight failed: %s", strings.Join(report.Errors, "; "))
	}

	sim := backtest.NewSimulator(engine, backtest.Options{
		InitialCapital:    cfg.InitialCapital,
		CommissionPercent: cfg.CommissionPercent,
		SlippagePercent:   cfg.SlippagePercent,
		Allocation:        strategy.AllocationMode(cfg.Allocation),
	})

	result, err := sim.Run(ctx, strat, bars)
	if err != nil {
		return fmt.Errorf("simulation: %w", err)
	}

	log.Printf("runStrategy | %s finished: %.2f -> %.2f (%.2f%%), %d trades, win rate %.1f%%, max DD %.2f%%",
		strat.Name, result.InitialCapital, result.FinalCapital, result.TotalReturnRate,
		len(result.Trades), result.WinRate, result.MaxDrawdown)

	if results != nil {
		if resultID, err := results.SaveBacktestResult(ctx, result); err != nil {
			log.Printf("runStrategy | saving result: %v", err)
		} else {
			log.Printf("runStrategy | saved result id %d", resultID)
		}
	}

	prefix := fmt.Sprintf("%s_%s", id, result.FinishedAt.Format("20060102_150405"))
	if err := backtest.SaveJSON(result, filepath.Join(cfg.OutputDir, prefix+".json")); err != nil {
		log.Printf("runStrategy | exporting JSON: %v", err)
	}
	if cfg.SaveCSV {
		if err := backtest.SaveCSV(result, cfg.OutputDir, prefix); err != nil {
			log.Printf("runStrategy | exporting CSV: %v", err)
		}
	}

	if err := notify.SendWithRetry(notifier.FormatRunSummary(result)); err != nil {
		log.Printf("runStrategy | notification failed: %v", err)
	}
	return nil
}

// buildStorage wires the configured candle and result backends. ClickHouse
// only stores candles; results then go to Postgres when a connection
// string is set, otherwise persistence is skipped.
func buildStorage(ctx context.Context, cfg config.Config) (db.CandleStore, db.ResultStore, func(), error) {
	switch cfg.Storage {
	case "memory":
		mem := db.NewMemoryStorage()
		return mem, mem, func() {}, nil

	case "postgres":
		pg, err := db.NewPostgres(cfg.DBConnStr)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, nil, nil, err
		}
		return pg, pg, func() { pg.Close() }, nil

	case "clickhouse":
		ch, err := db.NewClickHouse(ctx, db.ClickHouseConfig{
			Addr:     cfg.ClickHouse,
			Database: cfg.ClickHouseDB,
			Username: os.Getenv("CLICKHOUSE_USER"),
			Password: os.Getenv("CLICKHOUSE_PASSWORD"),
		})
		if err != nil {
			return nil, nil, nil, err
		}
		if err := ch.EnsureSchema(ctx); err != nil {
			ch.Close()
			return nil, nil, nil, err
		}

		if cfg.DBConnStr == "" {
			log.Printf("buildStorage | no Postgres connection configured, results will not be persisted")
			return ch, nil, func() { ch.Close() }, nil
		}
		pg, err := db.NewPostgres(cfg.DBConnStr)
		if err != nil {
			ch.Close()
			return nil, nil, nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			ch.Close()
			pg.Close()
			return nil, nil, nil, err
		}
		return ch, pg, func() { ch.Close(); pg.Close() }, nil

	default:
		return nil, nil, nil, fmt.Errorf("unsupported storage backend: %s", cfg.Storage)
	}
}

func buildProvider(cfg config.Config) (exchange.HistoricalDataProvider, error) {
	switch cfg.Provider {
	case "binance":
		p := exchange.NewBinanceProvider(cfg.ProxyURL)
		p.MaxRetries = cfg.APIRetryMaxAttempts
		p.BaseDelay = cfg.APIRetryBaseDelay
		p.MaxDelay = cfg.APIRetryMaxDelay
		return p, nil
	case "wallex":
		return exchange.NewWallexProvider(cfg.WallexAPIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}
