package domain

import (
	"math"
	"time"
)

// Position represents one open leveraged trade.
//
// All mutation happens through the position store's Mutate API; everything a
// reader receives is a copy, so a *Position held outside the store is always a
// snapshot.
type Position struct {
	ID         int64  // Unique identifier (from DB)
	Symbol     string // Trading symbol (e.g., "ETHUSDT")
	Side       Side   // Long or short
	EntryPrice float64
	ExitPrice  float64 // 0 while open
	Amount     float64 // Position size in base units, always > 0
	Leverage   float64

	StopLoss   float64 // Mutable; only ever moves in the profit-protecting direction
	TakeProfit float64 // Mutable; see take-profit adjustment rules in the lifecycle engine

	// Immutable record of the levels the position was opened with.
	InitialStopLoss   float64
	InitialTakeProfit float64

	EntryTime time.Time
	ExitTime  time.Time // Zero value while open

	// MaxFavorableExcursion is the peak unrealized gross profit fraction the
	// position has reached. Monotonic non-decreasing, never reset.
	MaxFavorableExcursion float64

	// BreakevenMoved latches once the stop has been migrated to entry.
	BreakevenMoved bool

	// ScaledOut latches once a partial scale-out has been taken.
	ScaledOut bool

	State       PositionState
	CloseReason CloseReason
	PNL         float64 // Realized PnL, set on close
}

// IsOpen reports whether the position still has exposure on the venue.
func (p *Position) IsOpen() bool {
	return p.State != StateClosed
}

// Notional returns the position's notional value at entry.
func (p *Position) Notional() float64 {
	return p.Amount * p.EntryPrice
}

// GrossMovePct returns the signed price-move fraction at the given price:
// positive when the move favors the holder.
func (p *Position) GrossMovePct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	move := (price - p.EntryPrice) / p.EntryPrice
	if p.Side == SideShort {
		move = -move
	}
	return move
}

// NetMovePct returns the price-move fraction with a round-trip fee estimate
// deducted. Every close/adjust threshold is evaluated against this, not the
// gross move.
func (p *Position) NetMovePct(price, roundTripFee float64) float64 {
	return p.GrossMovePct(price) - roundTripFee
}

// NetLeveragedROI returns the fee-adjusted return on margin at the given price.
func (p *Position) NetLeveragedROI(price, roundTripFee float64) float64 {
	return p.NetMovePct(price, roundTripFee) * p.Leverage
}

// TargetProgress returns how far price has travelled from entry toward the
// initial take-profit, as a fraction of the initial distance. Negative moves
// clamp to 0.
func (p *Position) TargetProgress(price float64) float64 {
	dist := math.Abs(p.InitialTakeProfit - p.EntryPrice)
	if dist == 0 {
		return 0
	}
	progress := p.GrossMovePct(price) * p.EntryPrice / dist
	if progress < 0 {
		return 0
	}
	return progress
}

// StopImproves reports whether the proposed stop is strictly better protected
// than the current one for this side.
func (p *Position) StopImproves(proposed float64) bool {
	if p.Side == SideShort {
		return proposed < p.StopLoss
	}
	return proposed > p.StopLoss
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	cp := *p
	return &cp
}
