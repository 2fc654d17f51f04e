package main

import (
	"context"
	"fmt"
	"os"

	"leverbot/config"
	"leverbot/internal/adapters/binanceclient"
	"leverbot/internal/adapters/logger"
	"leverbot/internal/adapters/signal"
	"leverbot/internal/adapters/sqlite"
	"leverbot/internal/admission"
	"leverbot/internal/app"
	"leverbot/internal/domain"
	"leverbot/internal/gateway"
	"leverbot/internal/lifecycle"
	"leverbot/internal/metrics"
	"leverbot/internal/risk"
	"leverbot/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(cfg.LogLevel)
	log.Info(ctx, "configuration loaded", map[string]interface{}{
		"testnet": cfg.IsTestnet,
		"symbols": cfg.Symbols,
	})

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: log})
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			log.Error(ctx, err, "failed to close repository")
		}
	}()

	exchange, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize exchange client: %w", err)
	}

	sched := admission.New(admission.Config{Logger: log})
	gw, err := gateway.New(exchange, sched, log, gateway.Config{
		CallTimeout:      cfg.CallTimeout,
		RetryBaseDelay:   cfg.RetryBaseDelay,
		RetryMaxDelay:    cfg.RetryMaxDelay,
		RetryMaxAttempts: uint64(cfg.RetryMaxAttempts),
		RetryCooldown:    cfg.RetryCooldown,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerCooldown:  cfg.BreakerCooldown,
		RatePerMinute:    cfg.RatePerMinute,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}

	riskEngine := risk.NewEngine(risk.Config{
		RiskPerTrade:          cfg.RiskPerTrade,
		MaxNotional:           cfg.MaxNotional,
		BaseLeverage:          cfg.BaseLeverage,
		MinLeverage:           cfg.MinLeverage,
		MaxLeverage:           cfg.MaxLeverage,
		MinStopDist:           cfg.MinStopDist,
		MaxStopDist:           cfg.MaxStopDist,
		StopVolMult:           cfg.StopVolMult,
		KellyFloor:            cfg.KellyFloor,
		KellyCeiling:          cfg.KellyCeiling,
		KellyMinTrades:        cfg.KellyMinTrades,
		MaxGroupPositions:     cfg.MaxGroupPositions,
		MaxGroupNotionalShare: cfg.MaxGroupNotionalShare,
		DailyLossLimit:        cfg.DailyLossLimit,
	})

	lcCfg := lifecycle.DefaultConfig()
	lcCfg.RoundTripFee = cfg.FeeRate
	lcCfg.BaseTrailPct = cfg.TrailBasePct
	lcCfg.MinTrailPct = cfg.TrailMinPct
	lcCfg.MaxTrailPct = cfg.TrailMaxPct
	lcCfg.RefVol = cfg.TrailRefVol
	lcCfg.BreakevenBuffer = cfg.BreakevenBuffer
	lcCfg.TPProgressLock = cfg.TPProgressLock
	lcCfg.TPExtendFactor = cfg.TPExtendFactor
	lcCfg.ProtectionTiers = cfg.ProtectionTiers
	lcCfg.DrawdownPeakROI = cfg.DrawdownPeakROI
	lcCfg.DrawdownRetrace = cfg.DrawdownRetrace

	history, err := seedHistory(ctx, repo, cfg.OutcomeSeedLimit)
	if err != nil {
		return fmt.Errorf("failed to seed outcome history: %w", err)
	}
	log.Info(ctx, "outcome history seeded", map[string]interface{}{"count": history.Len()})

	scorer, err := signal.NewMomentumScorer(cfg.SignalShortMAPeriod, cfg.SignalLongMAPeriod)
	if err != nil {
		return fmt.Errorf("failed to initialize signal scorer: %w", err)
	}

	coordinator, err := app.NewCoordinator(app.Config{
		QuoteAsset:           cfg.QuoteAsset,
		KlineInterval:        cfg.KlineInterval,
		KlineLimit:           cfg.KlineLimit,
		MonitorInterval:      cfg.MonitorInterval,
		ScanInterval:         cfg.ScanInterval,
		ScanStartDelay:       cfg.ScanStartDelay,
		MinConfidence:        cfg.MinConfidence,
		MaxOpenPositions:     cfg.MaxOpenPositions,
		OutcomeWindow:        cfg.OutcomeWindow,
		CorrelationGroups:    cfg.CorrelationGroups,
		ForceCloseOnShutdown: cfg.ForceCloseOnShutdown,
		ShutdownTimeout:      cfg.ShutdownTimeout,
	}, app.Deps{
		Logger:      log,
		Exchange:    exchange,
		Gateway:     gw,
		Store:       store.New(repo, log),
		Risk:        riskEngine,
		History:     history,
		LossBreaker: risk.NewDailyLossBreaker(cfg.DailyLossLimit),
		Lifecycle:   lifecycle.New(lcCfg),
		Signals:     scorer,
		Pairs:       signal.NewStaticPairProvider(cfg.Symbols),
		Outcomes:    repo,
		Momentum:    scorer,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize coordinator: %w", err)
	}

	if cfg.MetricsAddr != "" {
		errCh := metrics.Serve(cfg.MetricsAddr)
		go func() {
			if err := <-errCh; err != nil {
				log.Error(ctx, err, "metrics endpoint stopped", map[string]interface{}{"addr": cfg.MetricsAddr})
			}
		}()
		log.Info(ctx, "metrics endpoint started", map[string]interface{}{"addr": cfg.MetricsAddr})
	}

	return coordinator.Start(ctx)
}

// seedHistory loads the most recent recorded outcomes so Kelly sizing does not
// restart cold. FindRecent returns newest first; the history wants oldest
// first.
func seedHistory(ctx context.Context, repo *sqlite.Repository, limit int) (*risk.OutcomeHistory, error) {
	recent, err := repo.FindRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	seed := make([]*domain.TradeOutcome, len(recent))
	for i, o := range recent {
		seed[len(recent)-1-i] = o
	}
	return risk.NewOutcomeHistory(seed), nil
}
