// Package lifecycle drives each open position's state machine from live price
// ticks: trail the stop, migrate to breakeven, adjust the target, scale out,
// or close. Step runs inside the store's Mutate so every mutation for a symbol
// is serialized; the returned Decision tells the coordinator which exchange
// action to take.
package lifecycle

import (
	"time"

	"leverbot/internal/domain"
)

// Action is what the coordinator must do after a tick.
type Action int

const (
	// ActionNone: tick consumed, nothing to execute (adjustments may still
	// have been applied to the position in place).
	ActionNone Action = iota
	// ActionScaleOut: reduce the position by Decision.Amount at market.
	ActionScaleOut
	// ActionClose: close the full remaining position at market.
	ActionClose
)

// Decision is the outcome of one tick for one position.
type Decision struct {
	Action Action
	Reason domain.CloseReason
	Amount float64 // Quantity to reduce for ActionScaleOut

	StopAdjusted   bool
	TargetAdjusted bool
	BreakevenMoved bool
}

// Market carries the per-tick context a decision needs.
type Market struct {
	Price       float64
	Time        time.Time
	Volatility  float64 // Range fraction from recent candles
	Momentum    float64 // Signed trend strength in [-1,1]
	MinQuantity float64 // Venue minimum order quantity for the symbol
}

// StaleBand closes positions that sat around too long with nothing to show.
type StaleBand struct {
	Age       time.Duration
	MaxAbsROI float64 // Net leveraged ROI magnitude below which the position counts as going nowhere
	Reason    domain.CloseReason
}

// Config holds the lifecycle coefficients. All thresholds are evaluated on
// fee-inclusive net PnL.
type Config struct {
	RoundTripFee float64 // Round-trip fee estimate as a fraction of notional (e.g. 0.0008)

	BaseTrailPct float64 // Base trailing distance (e.g. 0.01)
	MinTrailPct  float64 // Product clamp floor (0.004)
	MaxTrailPct  float64 // Product clamp ceiling (0.05)
	RefVol       float64 // Volatility considered "normal" for the multiplier (e.g. 0.02)

	BreakevenBuffer float64 // Net profit above fees required before breakeven migration (e.g. 0.002)

	TPProgressLock float64 // Progress fraction after which the target may only come closer (0.60)
	TPExtendFactor float64 // Distance growth factor for pre-lock extensions (e.g. 1.25)
	TPExtendMaxMom float64 // Momentum required before extending (e.g. 0.5)

	// ProtectionTiers are net leveraged ROI levels that force protective
	// action, ascending (e.g. 0.15, 0.20, 0.25). The first tier takes a
	// half scale-out when feasible; any tier at or above forces a close.
	// Empty disables tiers.
	ProtectionTiers []float64

	StaleBands []StaleBand

	DrawdownPeakROI float64 // Peak net leveraged ROI that arms the drawdown exit (0.10)
	DrawdownRetrace float64 // Retracement fraction from peak that fires it (0.30)
}

// DefaultConfig returns the standard coefficient set.
func DefaultConfig() Config {
	return Config{
		RoundTripFee:    0.0008,
		BaseTrailPct:    0.01,
		MinTrailPct:     0.004,
		MaxTrailPct:     0.05,
		RefVol:          0.02,
		BreakevenBuffer: 0.002,
		TPProgressLock:  0.60,
		TPExtendFactor:  1.25,
		TPExtendMaxMom:  0.5,
		ProtectionTiers: []float64{0.15, 0.20, 0.25},
		StaleBands: []StaleBand{
			{Age: 48 * time.Hour, MaxAbsROI: 0.02, Reason: domain.CloseReasonStale48h},
			{Age: 24 * time.Hour, MaxAbsROI: 0.01, Reason: domain.CloseReasonStale24h},
			{Age: 12 * time.Hour, MaxAbsROI: 0.005, Reason: domain.CloseReasonStale12h},
		},
		DrawdownPeakROI: 0.10,
		DrawdownRetrace: 0.30,
	}
}

// Engine evaluates ticks. It is stateless; all position state lives on the
// Position itself.
type Engine struct {
	cfg Config
}

// New creates a lifecycle engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// RoundTripFee exposes the fee estimate so realized PnL is computed with the
// same deduction the close thresholds used.
func (e *Engine) RoundTripFee() float64 {
	return e.cfg.RoundTripFee
}

// Step consumes one tick for one position, applying in-place adjustments
// (MFE, trailing stop, breakeven, target) and returning the action the
// coordinator must execute. The caller holds the store lock for p.
//
// Evaluation order is fixed: stop/target crossings, protection tiers,
// momentum drawdown, staleness, then adjustments. Mandatory tiers are checked
// before any target manipulation, so an extension can never outrun them.
func (e *Engine) Step(p *domain.Position, m Market) Decision {
	if m.Price <= 0 || p.State == domain.StateClosing || p.State == domain.StateClosed {
		return Decision{}
	}
	if p.State == domain.StateOpening {
		p.State = domain.StateActive
	}

	gross := p.GrossMovePct(m.Price)
	if gross > p.MaxFavorableExcursion {
		p.MaxFavorableExcursion = gross
	}
	net := p.NetMovePct(m.Price, e.cfg.RoundTripFee)
	roi := net * p.Leverage

	// Hard exits first.
	if e.crossedStop(p, m.Price) {
		reason := domain.CloseReasonStopLoss
		if p.BreakevenMoved && !p.StopImproves(p.EntryPrice) {
			// Stop already sits at or beyond entry: the exit locks fees, not a loss.
			reason = domain.CloseReasonBreakevenProtect
		}
		p.State = domain.StateClosing
		return Decision{Action: ActionClose, Reason: reason}
	}
	if e.crossedTarget(p, m.Price) {
		p.State = domain.StateClosing
		return Decision{Action: ActionClose, Reason: domain.CloseReasonTakeProfit}
	}

	// Mandatory protection tiers.
	if d, ok := e.checkProtectionTiers(p, roi, m); ok {
		return d
	}

	// Momentum-loss drawdown from peak.
	peakROI := (p.MaxFavorableExcursion - e.cfg.RoundTripFee) * p.Leverage
	if peakROI >= e.cfg.DrawdownPeakROI && p.MaxFavorableExcursion > 0 {
		retrace := (p.MaxFavorableExcursion - gross) / p.MaxFavorableExcursion
		if retrace >= e.cfg.DrawdownRetrace {
			p.State = domain.StateClosing
			return Decision{Action: ActionClose, Reason: domain.CloseReasonMomentumDraw}
		}
	}

	// Staleness, longest horizon first.
	age := m.Time.Sub(p.EntryTime)
	for _, band := range e.cfg.StaleBands {
		if age >= band.Age && roi < band.MaxAbsROI && roi > -band.MaxAbsROI {
			p.State = domain.StateClosing
			return Decision{Action: ActionClose, Reason: band.Reason}
		}
	}

	// Adjustments.
	var d Decision
	d.BreakevenMoved = e.migrateBreakeven(p, net)
	d.StopAdjusted = e.trailStop(p, m, gross)
	d.TargetAdjusted = e.adjustTarget(p, m)
	if d.BreakevenMoved || d.StopAdjusted || d.TargetAdjusted {
		p.State = domain.StateAdjusting
	} else {
		p.State = domain.StateActive
	}
	return d
}

func (e *Engine) crossedStop(p *domain.Position, price float64) bool {
	if p.StopLoss <= 0 {
		return false
	}
	if p.Side == domain.SideShort {
		return price >= p.StopLoss
	}
	return price <= p.StopLoss
}

func (e *Engine) crossedTarget(p *domain.Position, price float64) bool {
	if p.TakeProfit <= 0 {
		return false
	}
	if p.Side == domain.SideShort {
		return price <= p.TakeProfit
	}
	return price >= p.TakeProfit
}

// checkProtectionTiers enforces the mandatory net-ROI tiers. The first tier
// takes a half scale-out when the remainder would still clear the venue
// minimum; every other tier hit forces a full close.
func (e *Engine) checkProtectionTiers(p *domain.Position, roi float64, m Market) (Decision, bool) {
	if len(e.cfg.ProtectionTiers) == 0 {
		return Decision{}, false
	}

	first := e.cfg.ProtectionTiers[0]
	highest := -1.0
	for _, tier := range e.cfg.ProtectionTiers {
		if roi >= tier && tier > highest {
			highest = tier
		}
	}
	if highest < 0 {
		return Decision{}, false
	}

	if highest == first {
		if p.ScaledOut {
			// First tier already banked half; the remainder rides to the
			// next tier or another exit.
			return Decision{}, false
		}
		half := p.Amount / 2
		if half >= m.MinQuantity {
			// ScaledOut is latched by the executor after the fill, so a
			// rejected order re-arms the tier on the next tick.
			return Decision{Action: ActionScaleOut, Reason: domain.CloseReasonProfitTier, Amount: half}, true
		}
	}
	p.State = domain.StateClosing
	return Decision{Action: ActionClose, Reason: domain.CloseReasonProfitTier}, true
}
