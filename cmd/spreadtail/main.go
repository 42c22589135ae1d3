package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/pflag"

	"spreadwatch/internal/aggregate"
	"spreadwatch/internal/alert"
	"spreadwatch/internal/config"
	"spreadwatch/internal/feed"
	"spreadwatch/internal/model"
	"spreadwatch/internal/watch"
)

func main() {
	flags := pflag.NewFlagSet("spreadtail", pflag.ExitOnError)
	configPath := flags.String("config", ".", "directory containing config.yaml")
	flags.String("url", "", "spreadwatch server URL, e.g. http://localhost:3000")
	flags.StringSlice("symbols", nil, "canonical symbols to track (default: all)")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.Parse(os.Args[1:])

	cfg, err := config.LoadConfigWithFlags(*configPath, flags)
	if err != nil {
		slog.Error("cannot load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("spreadtail exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg config.Config) error {
	client, err := feed.NewClient(logger, cfg.Feed)
	if err != nil {
		return err
	}

	store := aggregate.NewStore(cfg.Aggregate.HistoryCap, aggregate.WithLogger(logger))
	if err := store.FetchSymbols(ctx, client); err != nil {
		return err
	}

	selected := cfg.Feed.Symbols
	if len(selected) == 0 {
		selected = store.AvailableSymbols()
	}
	available := make(map[string]bool)
	for _, sym := range store.AvailableSymbols() {
		available[sym] = true
	}
	for _, sym := range selected {
		if !available[sym] {
			logger.Warn("Symbol not served, skipping", "symbol", sym)
			continue
		}
		store.AddSymbol(sym)
	}
	logger.Info("Tracking symbols", "symbols", store.SelectedSymbols())

	var monitor *alert.SpreadMonitor
	if cfg.Alert.Enabled {
		monitor = alert.NewSpreadMonitor(logger, nil, cfg.Alert)
	}
	watcher := watch.NewWatcher(logger, store, monitor)

	updates := make(chan model.PriceUpdate, 256)
	var wg conc.WaitGroup
	wg.Go(func() { client.Run(ctx, updates) })
	wg.Go(func() { watcher.Run(ctx, updates) })
	wg.Go(func() { report(ctx, logger, store, cfg.Feed.ReportInterval) })
	wg.Wait()

	logger.Info("spreadtail stopped")
	return nil
}

// report periodically logs the tracked symbols' prices and spread.
func report(ctx context.Context, logger *slog.Logger, store *aggregate.Store, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		entries := store.GetFilteredPrices()
		syms := make([]string, 0, len(entries))
		for sym := range entries {
			syms = append(syms, sym)
		}
		sort.Strings(syms)

		for _, sym := range syms {
			e := entries[sym]
			prices := make(map[model.Venue]float64, len(e.Latest))
			for v, u := range e.Latest {
				prices[v] = u.Price
			}
			if e.Spread == nil {
				logger.Info("Waiting for prices", "symbol", sym, "state", store.State(sym).String(), "prices", prices)
				continue
			}
			logger.Info("Spread",
				"symbol", sym,
				"prices", prices,
				"spread_percent", e.Spread.Value,
				"severity", e.Spread.Severity(),
				"direction", e.Spread.Direction.Label(),
				"history", len(store.SpreadHistory(sym)),
			)
		}
	}
}
