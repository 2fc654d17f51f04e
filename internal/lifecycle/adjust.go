package lifecycle

import (
	"leverbot/internal/domain"
)

// migrateBreakeven moves the stop to entry plus a fee-covering buffer once net
// profit clears the buffer. One-shot: the BreakevenMoved latch prevents
// repeated moves and the stop is only touched when it actually improves.
func (e *Engine) migrateBreakeven(p *domain.Position, net float64) bool {
	if p.BreakevenMoved || net <= e.cfg.BreakevenBuffer {
		return false
	}

	buffer := e.cfg.RoundTripFee
	var stop float64
	if p.Side == domain.SideShort {
		stop = p.EntryPrice * (1 - buffer)
	} else {
		stop = p.EntryPrice * (1 + buffer)
	}

	p.BreakevenMoved = true
	if p.StopImproves(stop) {
		p.StopLoss = stop
		return true
	}
	return false
}

// trailStop recomputes the trailing distance as an order-independent product
// of bounded multipliers and tightens the stop when the result improves it.
// The stop only ever moves in the profit-protecting direction.
func (e *Engine) trailStop(p *domain.Position, m Market, gross float64) bool {
	trail := e.cfg.BaseTrailPct * e.volMult(m.Volatility) * e.profitMult(gross) * e.momentumMult(m.Momentum)
	trail = clamp(trail, e.cfg.MinTrailPct, e.cfg.MaxTrailPct)

	var candidate float64
	if p.Side == domain.SideShort {
		candidate = m.Price * (1 + trail)
	} else {
		candidate = m.Price * (1 - trail)
	}

	if p.StopImproves(candidate) {
		p.StopLoss = candidate
		return true
	}
	return false
}

// volMult widens the trail in rough markets and tightens it in quiet ones.
func (e *Engine) volMult(vol float64) float64 {
	if vol <= 0 || e.cfg.RefVol <= 0 {
		return 1
	}
	return clamp(vol/e.cfg.RefVol, 0.5, 2)
}

// profitMult tightens the trail as unrealized profit grows.
func (e *Engine) profitMult(gross float64) float64 {
	return clamp(1-gross*2, 0.5, 1)
}

// momentumMult lets a strong move run and tightens when momentum fades.
func (e *Engine) momentumMult(momentum float64) float64 {
	return clamp(1+0.5*clamp(momentum, -1, 1), 0.5, 1.5)
}

// adjustTarget applies the take-profit rules. Past the progress lock the
// distance-to-target may only shrink; before it, strong momentum may extend
// the target but never below the initial minimum-profit level.
func (e *Engine) adjustTarget(p *domain.Position, m Market) bool {
	if p.TakeProfit <= 0 {
		return false
	}
	progress := p.TargetProgress(m.Price)

	if progress >= e.cfg.TPProgressLock {
		// Fading momentum pulls the target halfway toward price, banking the
		// move instead of letting the goalpost walk away.
		if m.Momentum < 0 {
			var candidate float64
			if p.Side == domain.SideShort {
				candidate = m.Price - (m.Price-p.TakeProfit)/2
				if candidate > p.TakeProfit && candidate < m.Price {
					p.TakeProfit = candidate
					return true
				}
			} else {
				candidate = m.Price + (p.TakeProfit-m.Price)/2
				if candidate < p.TakeProfit && candidate > m.Price {
					p.TakeProfit = candidate
					return true
				}
			}
		}
		return false
	}

	// Pre-lock extension on strong momentum only. Total extension is capped
	// at twice the initial distance so the target cannot walk away
	// indefinitely, and the initial minimum-profit level is never given up.
	if m.Momentum >= e.cfg.TPExtendMaxMom {
		dist := p.TakeProfit - p.EntryPrice
		extended := p.EntryPrice + dist*e.cfg.TPExtendFactor
		maxTarget := p.EntryPrice + (p.InitialTakeProfit-p.EntryPrice)*2
		if withinExtensionCap(p, extended, maxTarget) {
			p.TakeProfit = extended
			return true
		}
	}
	return false
}

func withinExtensionCap(p *domain.Position, target, maxTarget float64) bool {
	if p.Side == domain.SideShort {
		return target >= maxTarget && target <= p.InitialTakeProfit
	}
	return target <= maxTarget && target >= p.InitialTakeProfit
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
