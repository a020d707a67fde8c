package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"apex-core/internal/alpha"
	"apex-core/internal/api"
	"apex-core/internal/engine"
	"apex-core/internal/events"
	"apex-core/internal/monitor"
	"apex-core/internal/notify"
	"apex-core/internal/risk"
	"apex-core/internal/router"
	"apex-core/internal/sentinel"
	"apex-core/internal/shutdown"
	"apex-core/internal/state"
	"apex-core/pkg/config"
	"apex-core/pkg/db"
	"apex-core/pkg/exchanges/bybit"
	"apex-core/pkg/exchanges/common"
	"apex-core/pkg/exchanges/mexc"
	"apex-core/pkg/exchanges/paper"
	"apex-core/pkg/ident"
	"apex-core/pkg/logger"

	"go.uber.org/zap"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}
	logger.Init(cfg.Debug)
	defer logger.Sync()

	logger.Info("starting apex-core",
		zap.String("version", version),
		zap.String("instance", ident.InstanceTag()),
		zap.String("exchange", cfg.DefaultExchange),
		zap.Bool("dry_run", cfg.DryRun))

	if dir := filepath.Dir(cfg.DBPath); dir != "." && cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatal("create data directory failed", zap.Error(err))
		}
	}
	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("database init failed", zap.Error(err))
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	store := state.NewStore(bus, database)
	if _, err := store.Restore(ctx); err != nil {
		logger.Warn("restore open positions failed", zap.Error(err))
	}
	metrics := monitor.NewMetrics()
	venue := buildVenue(ctx, cfg)

	trading := cfg.Trading
	takerFee := trading.TakerFee(venue.Name())

	physics := risk.New(risk.Config{
		TPMultiplier:  trading.TPMultiplier,
		SLMultiplier:  trading.SLMultiplier,
		TakerFeeRate:  takerFee,
		MaxCapital:    trading.MaxCapitalPerTrade,
		MaxLeverage:   trading.MaxLeverage,
		MinRiskReward: trading.MinRiskReward,
		RiskPerTrade:  trading.RiskPerTrade,
	})
	evaluator := alpha.New(alpha.Config{
		SlippagePct:  trading.SlippagePct,
		TakerFeeRate: takerFee,
		MinEVScore:   trading.MinEVScore,
		MinKelly:     trading.MinKellyScore,
	})
	generator := sentinel.New(sentinel.Config{})
	orderRouter := router.New(router.Config{MinCapital: trading.MinCapital}, physics)

	var notifier notify.Notifier = notify.Noop{}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		tg := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
		defer tg.Close()
		notifier = tg
	}

	protocol := shutdown.New(shutdown.Config{
		CandleInterval: trading.CandleInterval,
	}, store, orderRouter, physics, notifier, database)

	eng := engine.New(engine.Config{
		Symbols:          trading.Symbols,
		CandleInterval:   trading.CandleInterval,
		CycleInterval:    time.Duration(trading.CycleSeconds) * time.Second,
		MaxOpenPositions: trading.MaxOpenPositions,
		TakerFeeRate:     takerFee,
	}, engine.Deps{
		Venue:    venue,
		Store:    store,
		Sentinel: generator,
		Alpha:    evaluator,
		Router:   orderRouter,
		Guard:    risk.NewGuard(),
		Notifier: notifier,
		Metrics:  metrics,
		Protocol: protocol,
	})

	watcher := monitor.NewWatcher(bus, metrics, notifier)
	watcher.Start(ctx)

	server := api.NewServer(eng, store, bus, database, metrics, api.SystemMeta{
		Venue:       venue.Name(),
		Symbols:     trading.Symbols,
		DryRun:      cfg.DryRun,
		InstanceTag: ident.InstanceTag(),
		Version:     version,
	}, cfg.JWTSecret)

	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	if err := eng.Start(ctx); err != nil {
		logger.Fatal("engine start failed", zap.Error(err))
	}

	// Positions must be protected before the process exits, no matter how
	// the stop was requested.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("signal received, protecting positions", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer shutdownCancel()
	final := eng.Shutdown(shutdownCtx, "signal: "+sig.String())

	logger.Info("exit",
		zap.Int("positions_updated", len(final.PositionsUpdate)),
		zap.Int("errors", len(final.Errors)))
}

// buildVenue selects the execution venue. Dry runs always trade on paper.
func buildVenue(ctx context.Context, cfg *config.Config) common.Venue {
	if cfg.DryRun {
		return paper.New(10000)
	}
	switch cfg.DefaultExchange {
	case "mexc":
		client := mexc.NewClient(mexc.Config{
			APIKey:    cfg.MexcAPIKey,
			APISecret: cfg.MexcAPISecret,
		})
		client.StartTimeSync(ctx)
		return client
	default:
		client := bybit.NewClient(bybit.Config{
			APIKey:    cfg.BybitAPIKey,
			APISecret: cfg.BybitAPISecret,
			Testnet:   cfg.BybitTestnet,
		})
		client.StartTimeSync(ctx)
		return client
	}
}
