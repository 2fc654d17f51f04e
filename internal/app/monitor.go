package app

import (
	"context"
	"fmt"
	"time"

	"leverbot/internal/admission"
	"leverbot/internal/domain"
	"leverbot/internal/gateway"
	"leverbot/internal/lifecycle"
	"leverbot/internal/metrics"
	"leverbot/internal/risk"
)

const (
	criticalPriority = admission.Critical
	normalPriority   = admission.Normal
)

// runMonitor is the position monitor loop. Every tick it re-prices each held
// position, runs the lifecycle engine under the store lock, and executes
// whatever exit the engine demands. All of its exchange calls are critical.
func (c *Coordinator) runMonitor(ctx context.Context) {
	log := c.deps.Logger
	log.Info(ctx, "position monitor started", map[string]interface{}{"interval": c.cfg.MonitorInterval.String()})

	ticker := time.NewTicker(c.cfg.MonitorInterval)
	defer ticker.Stop()

	// First pass runs immediately so restored positions are protected before
	// the scanner is released.
	c.monitorPass(ctx)
	c.readyOnce.Do(func() { close(c.monitorReady) })

	for {
		select {
		case <-ctx.Done():
			log.Info(ctx, "position monitor stopped")
			return
		case <-ticker.C:
			c.monitorPass(ctx)
		}
	}
}

func (c *Coordinator) monitorPass(ctx context.Context) {
	for _, symbol := range c.deps.Store.Symbols() {
		if ctx.Err() != nil {
			return
		}
		if err := c.monitorSymbol(ctx, symbol); err != nil && ctx.Err() == nil {
			c.deps.Logger.Error(ctx, err, "monitor tick failed", map[string]interface{}{"symbol": symbol})
		}
	}
}

// monitorSymbol handles one tick for one symbol: fetch market context, step
// the lifecycle engine, execute the resulting action.
func (c *Coordinator) monitorSymbol(ctx context.Context, symbol string) error {
	price, err := c.deps.Gateway.MarkPrice(ctx, symbol, criticalPriority)
	if err != nil {
		return fmt.Errorf("mark price: %w", err)
	}

	klines, err := c.deps.Gateway.Klines(ctx, symbol, c.cfg.KlineInterval, c.cfg.KlineLimit, criticalPriority)
	if err != nil {
		// A position can still be protected on price alone; volatility and
		// momentum degrade to neutral.
		c.deps.Logger.Warn(ctx, "kline fetch failed, using neutral market context", map[string]interface{}{
			"symbol": symbol, "error": err.Error(),
		})
		klines = nil
	}

	filters, err := c.deps.Gateway.SymbolFilters(ctx, symbol, criticalPriority)
	if err != nil {
		return fmt.Errorf("symbol filters: %w", err)
	}

	market := lifecycle.Market{
		Price:       price,
		Time:        time.Now().UTC(),
		Volatility:  risk.RealizedVolatility(klines),
		Momentum:    c.momentum(klines),
		MinQuantity: filters.MinQuantity,
	}

	var decision lifecycle.Decision
	updated, err := c.deps.Store.Mutate(ctx, symbol, func(p *domain.Position) error {
		decision = c.deps.Lifecycle.Step(p, market)
		return nil
	})
	if err != nil {
		return fmt.Errorf("lifecycle step: %w", err)
	}

	switch decision.Action {
	case lifecycle.ActionClose:
		return c.closePosition(ctx, symbol, decision.Reason, price)
	case lifecycle.ActionScaleOut:
		return c.scaleOut(ctx, updated, decision, price)
	default:
		if decision.StopAdjusted || decision.BreakevenMoved || decision.TargetAdjusted {
			c.deps.Logger.Info(ctx, "position levels adjusted", map[string]interface{}{
				"symbol":         symbol,
				"price":          price,
				"stopLoss":       updated.StopLoss,
				"takeProfit":     updated.TakeProfit,
				"breakevenMoved": updated.BreakevenMoved,
			})
		}
		return nil
	}
}

// closePosition executes a full market close and finalizes the position:
// persist the exit, drop it from the store, and record the outcome for the
// sizing history. A venue report of "already flat" settles the same way.
func (c *Coordinator) closePosition(ctx context.Context, symbol string, reason domain.CloseReason, fallbackPrice float64) error {
	log := c.deps.Logger

	held, ok := c.deps.Store.Get(symbol)
	if !ok {
		return nil
	}

	qtyStr, err := c.deps.Gateway.FormatQuantity(ctx, symbol, held.Amount)
	if err != nil {
		c.reactivate(ctx, symbol)
		return fmt.Errorf("close %s: %w", symbol, err)
	}
	result, err := c.deps.Gateway.ReducePosition(ctx, symbol, held.Side, qtyStr)
	if err != nil {
		c.reactivate(ctx, symbol)
		return fmt.Errorf("close %s: %w", symbol, err)
	}

	exitPrice := result.AvgPrice
	if exitPrice <= 0 {
		exitPrice = fallbackPrice
	}

	closed, err := c.deps.Store.CloseAndRemove(ctx, symbol, func(p *domain.Position) error {
		p.ExitPrice = exitPrice
		p.ExitTime = time.Now().UTC()
		p.CloseReason = reason
		p.PNL = p.NetMovePct(exitPrice, c.roundTripFee()) * p.EntryPrice * p.Amount
		return nil
	})
	if err != nil {
		return fmt.Errorf("finalize close %s: %w", symbol, err)
	}
	if closed == nil {
		return nil
	}

	metrics.PositionsClosed.WithLabelValues(string(reason)).Inc()
	log.Info(ctx, "position closed", map[string]interface{}{
		"symbol":    symbol,
		"reason":    string(reason),
		"status":    string(result.Status),
		"exitPrice": exitPrice,
		"pnl":       closed.PNL,
	})

	c.recordOutcome(ctx, closed, closed.Amount, exitPrice, reason)
	return nil
}

// reactivate puts a position back in play after a close attempt failed before
// reaching the venue fill. Left in the closing state it would be invisible to
// every later tick and never exit.
func (c *Coordinator) reactivate(ctx context.Context, symbol string) {
	if _, err := c.deps.Store.Mutate(ctx, symbol, func(p *domain.Position) error {
		if p.State == domain.StateClosing {
			p.State = domain.StateActive
		}
		return nil
	}); err != nil {
		c.deps.Logger.Error(ctx, err, "failed to reactivate position after failed close", map[string]interface{}{"symbol": symbol})
	}
}

// scaleOut reduces the position by the engine's requested amount, keeping the
// remainder open. The realized half is recorded as its own outcome.
func (c *Coordinator) scaleOut(ctx context.Context, p *domain.Position, decision lifecycle.Decision, price float64) error {
	log := c.deps.Logger
	symbol := p.Symbol

	qtyStr, err := c.deps.Gateway.FormatQuantity(ctx, symbol, decision.Amount)
	if err != nil {
		return fmt.Errorf("scale out %s: %w", symbol, err)
	}
	result, err := c.deps.Gateway.ReducePosition(ctx, symbol, p.Side, qtyStr)
	if err != nil {
		return fmt.Errorf("scale out %s: %w", symbol, err)
	}

	if result.Status == gateway.CloseAlreadyClosed {
		// Nothing left on the venue: the whole position settled externally.
		closed, err := c.deps.Store.CloseAndRemove(ctx, symbol, func(pos *domain.Position) error {
			pos.ExitPrice = price
			pos.ExitTime = time.Now().UTC()
			pos.CloseReason = decision.Reason
			pos.PNL = pos.NetMovePct(price, c.roundTripFee()) * pos.EntryPrice * pos.Amount
			return nil
		})
		if err != nil {
			return err
		}
		if closed != nil {
			metrics.PositionsClosed.WithLabelValues(string(decision.Reason)).Inc()
			c.recordOutcome(ctx, closed, closed.Amount, price, decision.Reason)
		}
		return nil
	}

	exitPrice := result.AvgPrice
	if exitPrice <= 0 {
		exitPrice = price
	}
	reduced := result.ExecutedQty
	if reduced <= 0 {
		reduced = decision.Amount
	}

	updated, err := c.deps.Store.Mutate(ctx, symbol, func(pos *domain.Position) error {
		if reduced >= pos.Amount {
			return fmt.Errorf("scale-out fill %.8f exceeds held amount %.8f", reduced, pos.Amount)
		}
		pos.Amount -= reduced
		realized := pos.NetMovePct(exitPrice, c.roundTripFee()) * pos.EntryPrice * reduced
		pos.PNL += realized
		// Latched only once the fill is real; a failed order leaves the tier
		// armed for the next tick.
		pos.ScaledOut = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("record scale-out %s: %w", symbol, err)
	}

	log.Info(ctx, "scaled out half position", map[string]interface{}{
		"symbol":    symbol,
		"reduced":   reduced,
		"remaining": updated.Amount,
		"exitPrice": exitPrice,
	})

	c.recordOutcome(ctx, updated, reduced, exitPrice, decision.Reason)
	return nil
}

// recordOutcome persists a realized result and feeds it to the in-memory
// history the Kelly sizing reads. amount may be a partial fill.
func (c *Coordinator) recordOutcome(ctx context.Context, p *domain.Position, amount, exitPrice float64, reason domain.CloseReason) {
	returnPct := p.NetMovePct(exitPrice, c.roundTripFee())
	outcome := &domain.TradeOutcome{
		PositionID:  p.ID,
		Symbol:      p.Symbol,
		Side:        p.Side,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   exitPrice,
		Amount:      amount,
		Leverage:    p.Leverage,
		PNL:         returnPct * p.EntryPrice * amount,
		ReturnPct:   returnPct,
		EntryTime:   p.EntryTime,
		ExitTime:    time.Now().UTC(),
		CloseReason: reason,
	}
	if _, err := c.deps.Outcomes.CreateOutcome(ctx, outcome); err != nil {
		// The in-memory history still gets the outcome; sizing degrades only
		// across restarts.
		c.deps.Logger.Error(ctx, err, "failed to persist trade outcome", map[string]interface{}{"symbol": p.Symbol})
	}
	c.deps.History.Append(outcome)
}

func (c *Coordinator) roundTripFee() float64 {
	return c.deps.Lifecycle.RoundTripFee()
}
