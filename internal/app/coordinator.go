// Package app wires the position monitor and the market scanner around the
// shared position store and the exchange gateway. The monitor protects open
// positions at critical priority; the scanner hunts for new entries at normal
// priority and always yields to the monitor.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"leverbot/internal/domain"
	"leverbot/internal/gateway"
	"leverbot/internal/lifecycle"
	"leverbot/internal/ports"
	"leverbot/internal/risk"
	"leverbot/internal/store"
)

// MomentumEstimator turns recent candles into a signed trend score in [-1,1].
type MomentumEstimator interface {
	Momentum(klines []*domain.Kline) float64
}

// Config holds the coordinator's run-loop tuning.
type Config struct {
	QuoteAsset       string        // Asset the account's margin is held in (e.g. "USDT")
	KlineInterval    string        // Candle interval for volatility/momentum context (e.g. "1m")
	KlineLimit       int           // Candles fetched per context refresh
	MonitorInterval  time.Duration // Position monitor tick period
	ScanInterval     time.Duration // Market scanner cycle period
	ScanStartDelay   time.Duration // Extra scanner hold-back after the monitor's first pass
	MinConfidence    float64       // Signal confidence below which candidates are rejected
	MaxOpenPositions int           // Hard cap on concurrent open positions
	OutcomeWindow    int           // Trailing outcome window for Kelly statistics

	// CorrelationGroups maps symbol -> group name for the portfolio guard.
	// Ungrouped symbols count as their own group.
	CorrelationGroups map[string]string

	// ForceCloseOnShutdown closes all open positions at market during
	// shutdown instead of leaving them for the next run to re-adopt.
	ForceCloseOnShutdown bool
	ShutdownTimeout      time.Duration
}

func (c *Config) applyDefaults() {
	if c.QuoteAsset == "" {
		c.QuoteAsset = "USDT"
	}
	if c.KlineInterval == "" {
		c.KlineInterval = "1m"
	}
	if c.KlineLimit <= 0 {
		c.KlineLimit = 60
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 5 * time.Second
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = 30 * time.Second
	}
	if c.ScanStartDelay < 0 {
		c.ScanStartDelay = 0
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.3
	}
	if c.MaxOpenPositions <= 0 {
		c.MaxOpenPositions = 5
	}
	if c.OutcomeWindow <= 0 {
		c.OutcomeWindow = 50
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// Deps are the collaborators the coordinator orchestrates.
type Deps struct {
	Logger      ports.Logger
	Exchange    ports.ExchangeClient // Raw client, used only for startup time sync
	Gateway     *gateway.Gateway
	Store       *store.PositionStore
	Risk        *risk.Engine
	History     *risk.OutcomeHistory
	LossBreaker *risk.DailyLossBreaker
	Lifecycle   *lifecycle.Engine
	Signals     ports.SignalProvider
	Pairs       ports.PairProvider
	Outcomes    ports.OutcomeRepository
	Momentum    MomentumEstimator // Optional; nil means neutral momentum
}

// Coordinator runs the two loops and owns startup/shutdown ordering: the
// monitor starts first and completes one full pass before the scanner is
// released; shutdown tears down in the reverse order.
type Coordinator struct {
	cfg  Config
	deps Deps

	monitorReady chan struct{}
	readyOnce    sync.Once
}

// NewCoordinator validates dependencies and creates a coordinator.
func NewCoordinator(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Logger == nil || deps.Exchange == nil || deps.Gateway == nil || deps.Store == nil ||
		deps.Risk == nil || deps.History == nil || deps.LossBreaker == nil || deps.Lifecycle == nil ||
		deps.Signals == nil || deps.Pairs == nil || deps.Outcomes == nil {
		return nil, fmt.Errorf("missing required dependencies for coordinator")
	}
	cfg.applyDefaults()
	return &Coordinator{
		cfg:          cfg,
		deps:         deps,
		monitorReady: make(chan struct{}),
	}, nil
}

// MonitorReady is closed after the monitor's first complete pass over open
// positions. The scanner and tests gate on it.
func (c *Coordinator) MonitorReady() <-chan struct{} {
	return c.monitorReady
}

// Start runs until the context is canceled or a termination signal arrives.
func (c *Coordinator) Start(ctx context.Context) error {
	log := c.deps.Logger
	log.Info(ctx, "starting coordinator")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info(ctx, "received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := c.deps.Exchange.SetServerTime(ctx); err != nil {
		return fmt.Errorf("failed to synchronize server time: %w", err)
	}

	if err := c.deps.Store.Load(ctx); err != nil {
		return fmt.Errorf("failed to restore open positions: %w", err)
	}
	log.Info(ctx, "open positions restored", map[string]interface{}{"count": c.deps.Store.Len()})

	// Monitor first; the scanner is held until the monitor has seen every
	// restored position once.
	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	var monitorWG sync.WaitGroup
	monitorWG.Add(1)
	go func() {
		defer monitorWG.Done()
		c.runMonitor(monitorCtx)
	}()

	scanCtx, stopScanner := context.WithCancel(ctx)
	defer stopScanner()
	var scanWG sync.WaitGroup
	scanWG.Add(1)
	go func() {
		defer scanWG.Done()
		c.runScanner(scanCtx)
	}()

	<-ctx.Done()
	log.Info(ctx, "shutting down, stopping scanner first")

	// Reverse order: scanner stops before the monitor so no new position can
	// appear while existing ones are being wound down.
	stopScanner()
	scanWG.Wait()

	if c.cfg.ForceCloseOnShutdown {
		closeCtx, cancelClose := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
		c.closeAllPositions(closeCtx)
		cancelClose()
	}

	stopMonitor()
	monitorWG.Wait()

	log.Info(context.Background(), "coordinator stopped")
	return nil
}

// closeAllPositions force-closes every held position at market. Used only on
// shutdown, after the scanner has stopped.
func (c *Coordinator) closeAllPositions(ctx context.Context) {
	log := c.deps.Logger
	symbols := c.deps.Store.Symbols()
	log.Info(ctx, "force-closing open positions", map[string]interface{}{"count": len(symbols)})

	for _, symbol := range symbols {
		p, ok := c.deps.Store.Get(symbol)
		if !ok {
			continue
		}
		price, err := c.deps.Gateway.MarkPrice(ctx, symbol, criticalPriority)
		if err != nil {
			log.Error(ctx, err, "failed to price position for shutdown close", map[string]interface{}{"symbol": symbol})
			price = p.EntryPrice
		}
		if err := c.closePosition(ctx, symbol, domain.CloseReasonShutdown, price); err != nil {
			log.Error(ctx, err, "shutdown close failed, position left open", map[string]interface{}{"symbol": symbol})
		}
	}
}

func (c *Coordinator) momentum(klines []*domain.Kline) float64 {
	if c.deps.Momentum == nil {
		return 0
	}
	return c.deps.Momentum.Momentum(klines)
}
