package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sourcegraph/conc"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"

	"spreadwatch/internal/aggregate"
	"spreadwatch/internal/alert"
	"spreadwatch/internal/cache"
	"spreadwatch/internal/config"
	"spreadwatch/internal/database"
	"spreadwatch/internal/exchange"
	"spreadwatch/internal/merge"
	"spreadwatch/internal/server"
	"spreadwatch/internal/symbols"
	"spreadwatch/internal/watch"
)

func main() {
	flags := pflag.NewFlagSet("spreadwatch", pflag.ExitOnError)
	configPath := flags.String("config", ".", "directory containing config.yaml")
	flags.String("addr", "", "listen address, e.g. :3000")
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
		logger.Error("spreadwatch exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg config.Config) (err error) {
	adapters, vs, err := bootstrap(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, a := range adapters {
			err = multierr.Append(err, a.Disconnect())
		}
	}()

	universe, err := symbols.Reconcile(symbols.Mode(cfg.Reconcile.Mode), vs)
	if err != nil {
		var cfgErr *symbols.ConfigurationError
		if errors.As(err, &cfgErr) {
			return fmt.Errorf("symbol normalization: %w", err)
		}
		return err
	}
	if universe.Len() == 0 {
		return errors.New("no canonical symbols shared by the live venues")
	}
	logger.Info("Symbols reconciled", "mode", cfg.Reconcile.Mode, "symbols", universe.Symbols(), "venues", universe.Venues())

	var repo database.Repository
	if cfg.Database.Enabled {
		pool, err := database.NewPool(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()
		pg := &database.PostgresRepository{Pool: pool}
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		repo = pg
	}

	var sinks []watch.Sink
	if cfg.Redis.Enabled {
		rc, err := cache.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rc.Close()
		sinks = append(sinks, cache.NewLatestCache(rc, cfg.Redis.TTL))
	}

	var monitor *alert.SpreadMonitor
	if cfg.Alert.Enabled {
		monitor = alert.NewSpreadMonitor(logger, repo, cfg.Alert)
	}

	store := aggregate.NewStore(cfg.Aggregate.HistoryCap,
		aggregate.WithVenues(universe.Venues()...),
		aggregate.WithLogger(logger),
	)
	store.SetAvailableSymbols(universe.Symbols())
	for _, sym := range universe.Symbols() {
		store.AddSymbol(sym)
	}

	merger := merge.NewMerger(logger, universe, adapters, cfg.Server.SessionBuffer)
	srv := server.New(logger, cfg.Server, merger, repo)

	session := merger.Open(ctx, universe.Symbols())
	watcher := watch.NewWatcher(logger, store, monitor, sinks...)

	var wg conc.WaitGroup
	wg.Go(func() {
		// Runs until the session closes so every delivered update is folded in.
		watcher.Run(context.Background(), session.C)
	})

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err = <-srvErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	err = multierr.Append(err, srv.Shutdown(shutdownCtx))

	session.Close()
	wg.Wait()
	applied, dropped := watcher.Stats()
	logger.Info("Watcher finished", "applied", applied, "dropped", dropped)
	return err
}

// bootstrap builds every configured adapter, then connects and lists symbols
// concurrently. Venues that fail either step are dropped.
func bootstrap(ctx context.Context, logger *slog.Logger, cfg config.Config) ([]exchange.ExchangeClient, []symbols.VenueSymbols, error) {
	names := cfg.VenueNames()
	clients := make([]exchange.ExchangeClient, len(names))
	rules := make([]symbols.Rule, len(names))
	for i, name := range names {
		vc := cfg.Venues[name]
		c, err := exchange.NewClient(name, logger, &vc)
		if err != nil {
			return nil, nil, err
		}
		clients[i] = c
		rules[i] = symbols.Rule{
			TrimPrefix: vc.Normalize.TrimPrefix,
			TrimSuffix: vc.Normalize.TrimSuffix,
			Case:       vc.Normalize.Case,
		}
	}

	listed := make([][]string, len(clients))
	failed := make([]error, len(clients))
	var wg conc.WaitGroup
	for i, c := range clients {
		wg.Go(func() {
			if err := c.Connect(ctx); err != nil {
				failed[i] = err
				return
			}
			syms, err := c.GetAvailableSymbols(ctx)
			if err != nil {
				failed[i] = err
				return
			}
			listed[i] = syms
		})
	}
	wg.Wait()

	var live []exchange.ExchangeClient
	var vs []symbols.VenueSymbols
	for i, c := range clients {
		if failed[i] != nil {
			logger.Warn("Venue unavailable, continuing without it", "venue", c.GetName(), "error", failed[i])
			if err := c.Disconnect(); err != nil {
				logger.Warn("Venue disconnect failed", "venue", c.GetName(), "error", err)
			}
			continue
		}
		logger.Info("Venue ready", "venue", c.GetName(), "symbols", len(listed[i]))
		live = append(live, c)
		vs = append(vs, symbols.VenueSymbols{Venue: c.GetName(), Rule: rules[i], Symbols: listed[i]})
	}
	if len(live) == 0 {
		return nil, nil, symbols.ErrNoVenues
	}
	return live, vs, nil
}
