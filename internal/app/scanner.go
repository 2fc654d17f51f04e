package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"leverbot/internal/domain"
	"leverbot/internal/gateway"
	"leverbot/internal/metrics"
	"leverbot/internal/risk"
)

// runScanner is the market scanner loop. It is released only after the
// monitor's first pass, runs at normal priority throughout, and opens at most
// one position per cycle.
func (c *Coordinator) runScanner(ctx context.Context) {
	log := c.deps.Logger

	select {
	case <-ctx.Done():
		return
	case <-c.monitorReady:
	}
	if c.cfg.ScanStartDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ScanStartDelay):
		}
	}
	log.Info(ctx, "market scanner started", map[string]interface{}{"interval": c.cfg.ScanInterval.String()})

	ticker := time.NewTicker(c.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info(ctx, "market scanner stopped")
			return
		case <-ticker.C:
			if err := c.scanCycle(ctx); err != nil && ctx.Err() == nil {
				log.Error(ctx, err, "scan cycle failed")
			}
		}
	}
}

// scanCycle walks the candidate list once and tries to open the first
// acceptable position.
func (c *Coordinator) scanCycle(ctx context.Context) error {
	log := c.deps.Logger

	if c.deps.Store.Len() >= c.cfg.MaxOpenPositions {
		log.Debug(ctx, "scan skipped, position cap reached", map[string]interface{}{"open": c.deps.Store.Len()})
		return nil
	}

	equity, err := c.deps.Gateway.Balance(ctx, c.cfg.QuoteAsset, normalPriority)
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}
	if !c.deps.LossBreaker.Allow(equity, time.Now()) {
		metrics.TradesRejected.WithLabelValues(string(domain.RejectDailyLossLimit)).Inc()
		log.Warn(ctx, "daily loss limit reached, new entries halted", map[string]interface{}{"equity": equity})
		return nil
	}

	candidates, err := c.deps.Pairs.Candidates(ctx)
	if err != nil {
		return fmt.Errorf("candidates: %w", err)
	}

	for _, cand := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		opened, err := c.evaluateCandidate(ctx, cand, equity)
		if err != nil {
			log.Error(ctx, err, "candidate evaluation failed", map[string]interface{}{"symbol": cand.Symbol})
			continue
		}
		if opened {
			return nil
		}
	}
	return nil
}

// evaluateCandidate runs one symbol through signal scoring, the risk engine,
// and the portfolio guard, then opens the position if everything admits it.
func (c *Coordinator) evaluateCandidate(ctx context.Context, cand domain.Candidate, equity float64) (bool, error) {
	log := c.deps.Logger
	symbol := cand.Symbol

	if _, held := c.deps.Store.Get(symbol); held {
		log.Debug(ctx, "candidate skipped, position already open", map[string]interface{}{"symbol": symbol})
		return false, nil
	}

	klines, err := c.deps.Gateway.Klines(ctx, symbol, c.cfg.KlineInterval, c.cfg.KlineLimit, normalPriority)
	if err != nil {
		return false, fmt.Errorf("klines: %w", err)
	}

	sig, err := c.deps.Signals.Evaluate(ctx, symbol, klines)
	if err != nil {
		return false, fmt.Errorf("signal: %w", err)
	}
	if sig.Kind == domain.SignalHold {
		return false, nil
	}
	if sig.Confidence < c.cfg.MinConfidence {
		metrics.TradesRejected.WithLabelValues(string(domain.RejectLowConfidence)).Inc()
		log.Debug(ctx, "candidate rejected", map[string]interface{}{
			"symbol": symbol, "reason": string(domain.RejectLowConfidence), "confidence": sig.Confidence,
		})
		return false, nil
	}

	price, err := c.deps.Gateway.MarkPrice(ctx, symbol, normalPriority)
	if err != nil {
		return false, fmt.Errorf("mark price: %w", err)
	}

	side := domain.SideLong
	if sig.Kind == domain.SignalSell {
		side = domain.SideShort
	}

	vol := risk.RealizedVolatility(klines)
	stopDist := c.deps.Risk.AdaptiveStopDistance(vol)
	tpDist := c.deps.Risk.TakeProfitDistance(stopDist)
	stats := c.deps.History.Stats(c.cfg.OutcomeWindow)
	riskFraction := c.deps.Risk.KellyFraction(stats)

	stopPrice := price * (1 - stopDist)
	targetPrice := price * (1 + tpDist)
	if side == domain.SideShort {
		stopPrice = price * (1 + stopDist)
		targetPrice = price * (1 - tpDist)
	}

	qty := c.deps.Risk.PositionSize(equity, riskFraction, price, stopPrice)
	if qty <= 0 {
		metrics.TradesRejected.WithLabelValues(string(domain.RejectZeroSize)).Inc()
		log.Debug(ctx, "candidate rejected", map[string]interface{}{
			"symbol": symbol, "reason": string(domain.RejectZeroSize),
		})
		return false, nil
	}

	if ok, reason := c.deps.Risk.PortfolioGuard(c.deps.Store.Snapshot(), symbol, qty*price, c.cfg.CorrelationGroups); !ok {
		metrics.TradesRejected.WithLabelValues(string(reason)).Inc()
		log.Info(ctx, "candidate rejected by portfolio guard", map[string]interface{}{
			"symbol": symbol, "reason": string(reason),
		})
		return false, nil
	}

	// The venue takes whole-number leverage; round once and carry the same
	// value everywhere so the recorded position matches the venue setting.
	leverage := math.Round(c.deps.Risk.AdaptiveLeverage(vol, sig.Confidence, c.momentum(klines), stats.WinRate))
	filters, err := c.deps.Gateway.SymbolFilters(ctx, symbol, normalPriority)
	if err != nil {
		return false, fmt.Errorf("symbol filters: %w", err)
	}
	if filters.MaxLeverage > 0 && leverage > float64(filters.MaxLeverage) {
		log.Debug(ctx, "leverage capped to venue maximum", map[string]interface{}{
			"symbol": symbol, "requested": leverage, "max": filters.MaxLeverage,
		})
		leverage = float64(filters.MaxLeverage)
	}
	if err := c.deps.Gateway.SetLeverage(ctx, symbol, int(leverage)); err != nil {
		return false, fmt.Errorf("set leverage: %w", err)
	}

	resp, filledQty, err := c.deps.Gateway.OpenPosition(ctx, gateway.OpenRequest{
		Symbol:          symbol,
		Side:            side,
		Quantity:        qty,
		Price:           price,
		Leverage:        leverage,
		AvailableMargin: equity,
	})
	if err != nil {
		return false, fmt.Errorf("open position: %w", err)
	}

	entryPrice := resp.AvgPrice
	if entryPrice <= 0 {
		entryPrice = price
	}
	// Re-anchor stop and target to the actual fill.
	stopPrice = entryPrice * (1 - stopDist)
	targetPrice = entryPrice * (1 + tpDist)
	if side == domain.SideShort {
		stopPrice = entryPrice * (1 + stopDist)
		targetPrice = entryPrice * (1 - tpDist)
	}

	pos := &domain.Position{
		Symbol:            symbol,
		Side:              side,
		EntryPrice:        entryPrice,
		Amount:            filledQty,
		Leverage:          leverage,
		StopLoss:          stopPrice,
		TakeProfit:        targetPrice,
		InitialStopLoss:   stopPrice,
		InitialTakeProfit: targetPrice,
		EntryTime:         time.Now().UTC(),
		State:             domain.StateOpening,
	}
	if err := c.deps.Store.Open(ctx, pos); err != nil {
		// The venue position exists but the store refused it; close it back
		// out rather than running naked exposure the monitor cannot see.
		log.Error(ctx, err, "failed to register opened position, unwinding", map[string]interface{}{"symbol": symbol})
		qtyStr, fmtErr := c.deps.Gateway.FormatQuantity(ctx, symbol, filledQty)
		if fmtErr == nil {
			if _, closeErr := c.deps.Gateway.ReducePosition(ctx, symbol, side, qtyStr); closeErr != nil {
				log.Error(ctx, closeErr, "unwind close failed, manual intervention required", map[string]interface{}{"symbol": symbol})
			}
		}
		return false, err
	}

	log.Info(ctx, "position opened", map[string]interface{}{
		"symbol":     symbol,
		"side":       string(side),
		"entryPrice": entryPrice,
		"amount":     filledQty,
		"leverage":   leverage,
		"stopLoss":   stopPrice,
		"takeProfit": targetPrice,
		"riskFrac":   riskFraction,
	})
	return true, nil
}
