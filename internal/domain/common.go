package domain

// Side represents the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// EntrySide returns the order side used to open a position in this direction.
func (s Side) EntrySide() OrderSide {
	if s == SideShort {
		return Sell
	}
	return Buy
}

// CloseSide returns the order side used to close a position in this direction.
func (s Side) CloseSide() OrderSide {
	if s == SideShort {
		return Buy
	}
	return Sell
}

// PositionState represents the lifecycle state of a position.
type PositionState string

const (
	StateOpening   PositionState = "opening"
	StateActive    PositionState = "active"
	StateAdjusting PositionState = "adjusting"
	StateClosing   PositionState = "closing"
	StateClosed    PositionState = "closed"
)

// CloseReason is a machine-readable code explaining why a position was closed.
type CloseReason string

const (
	CloseReasonTakeProfit       CloseReason = "take_profit"
	CloseReasonStopLoss         CloseReason = "stop_loss"
	CloseReasonBreakevenProtect CloseReason = "breakeven_protect"
	CloseReasonProfitTier       CloseReason = "profit_protection_tier"
	CloseReasonStale12h         CloseReason = "stale_position_12h"
	CloseReasonStale24h         CloseReason = "stale_position_24h"
	CloseReasonStale48h         CloseReason = "stale_position_48h"
	CloseReasonMomentumDraw     CloseReason = "momentum_drawdown"
	CloseReasonShutdown         CloseReason = "shutdown"
	CloseReasonManual           CloseReason = "manual"
	CloseReasonUnknown          CloseReason = "unknown"
)

// RejectReason is a machine-readable code explaining why a candidate trade was
// not opened.
type RejectReason string

const (
	RejectDailyLossLimit RejectReason = "daily_loss_limit"
	RejectCorrelationCap RejectReason = "correlation_cap"
	RejectNotionalShare  RejectReason = "correlation_notional_share"
	RejectZeroSize       RejectReason = "zero_position_size"
	RejectLowConfidence  RejectReason = "low_confidence"
	RejectAlreadyOpen    RejectReason = "position_already_open"
	RejectMaxPositions   RejectReason = "max_open_positions"
)

// SignalKind is the direction recommended by the signal collaborator.
type SignalKind string

const (
	SignalBuy  SignalKind = "BUY"
	SignalSell SignalKind = "SELL"
	SignalHold SignalKind = "HOLD"
)

// Signal is the opaque result of the external scorer for one symbol.
type Signal struct {
	Kind       SignalKind
	Confidence float64 // [0,1]
}

// Candidate is one entry of the market-pair discovery collaborator's output.
type Candidate struct {
	Symbol         string
	LiquidityScore float64
}
