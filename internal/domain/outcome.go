package domain

import "time"

// TradeOutcome is the recorded result of one completed trade. The risk
// engine's Kelly sizing reads a trailing window of these.
type TradeOutcome struct {
	ID          int64
	PositionID  int64
	Symbol      string
	Side        Side
	EntryPrice  float64
	ExitPrice   float64
	Amount      float64
	Leverage    float64
	PNL         float64
	ReturnPct   float64 // Fee-adjusted return on the position's notional
	EntryTime   time.Time
	ExitTime    time.Time
	CloseReason CloseReason
}

// IsWin reports whether the outcome was profitable after fees.
func (o *TradeOutcome) IsWin() bool {
	return o.PNL > 0
}
