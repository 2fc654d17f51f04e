package risk

import (
	"math"

	"leverbot/internal/domain"
)

// Config holds the static bounds the risk engine works within. Supplied at
// startup and treated as immutable for the process lifetime.
type Config struct {
	RiskPerTrade   float64 // Fallback equity fraction risked per trade (e.g. 0.01)
	MaxNotional    float64 // Hard cap on a single position's notional value
	BaseLeverage   float64 // Starting point for adaptive leverage (e.g. 10)
	MinLeverage    float64 // Global leverage floor (e.g. 3)
	MaxLeverage    float64 // Global leverage ceiling (e.g. 20)
	MinStopDist    float64 // Stop distance floor (e.g. 0.015)
	MaxStopDist    float64 // Stop distance ceiling (e.g. 0.08)
	StopVolMult    float64 // Volatility multiplier for stop distance (e.g. 1.5)
	KellyFloor     float64 // Minimum Kelly-derived risk fraction (e.g. 0.005)
	KellyCeiling   float64 // Maximum Kelly-derived risk fraction (e.g. 0.035)
	KellyMinTrades int     // Outcomes required before Kelly activates (e.g. 10)

	MaxGroupPositions     int     // Max concurrent positions per correlation group (e.g. 2)
	MaxGroupNotionalShare float64 // Max notional share per correlation group (e.g. 0.40)
	DailyLossLimit        float64 // Daily loss fraction that halts new trades (e.g. 0.10)
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		RiskPerTrade:          0.01,
		MaxNotional:           50000,
		BaseLeverage:          10,
		MinLeverage:           3,
		MaxLeverage:           20,
		MinStopDist:           0.015,
		MaxStopDist:           0.08,
		StopVolMult:           1.5,
		KellyFloor:            0.005,
		KellyCeiling:          0.035,
		KellyMinTrades:        10,
		MaxGroupPositions:     2,
		MaxGroupNotionalShare: 0.40,
		DailyLossLimit:        0.10,
	}
}

// Engine exposes the pure sizing functions. It carries no mutable state beyond
// its immutable config; outcome history is passed in by the caller.
type Engine struct {
	cfg Config
}

// NewEngine creates a risk engine with the given bounds.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Profile is the advisory output of a sizing decision. Derived fresh per
// decision, never persisted.
type Profile struct {
	RecommendedSize float64 // Quantity in base units
	Leverage        float64
	StopDistance    float64 // Fraction of entry price
	TakeProfitDist  float64 // Fraction of entry price
}

// PositionSize converts risked equity and stop distance into a quantity.
// Leverage deliberately does not enter the formula: it only determines the
// margin required for the resulting notional, not the risk-sized quantity.
// Invalid inputs yield a safe zero size.
func (e *Engine) PositionSize(equity, riskPerTrade, entryPrice, stopPrice float64) float64 {
	if equity <= 0 || riskPerTrade <= 0 || entryPrice <= 0 || stopPrice <= 0 {
		return 0
	}
	stopDist := math.Abs(entryPrice-stopPrice) / entryPrice
	if stopDist == 0 {
		return 0
	}
	qty := (equity * riskPerTrade) / stopDist / entryPrice
	if maxQty := e.cfg.MaxNotional / entryPrice; qty > maxQty {
		qty = maxQty
	}
	return qty
}

// AdaptiveLeverage adjusts base leverage by individually bounded signed terms
// and clamps the result to the global range. regime is a trend score in
// [-1,1]; recentWinRate in [0,1]; volatility is a price-range fraction.
func (e *Engine) AdaptiveLeverage(volatility, confidence, regime, recentWinRate float64) float64 {
	lev := e.cfg.BaseLeverage

	// Each term is bounded on its own before entering the sum.
	confTerm := clamp((confidence-0.5)*2, -1, 1) * 3
	regimeTerm := clamp(regime, -1, 1) * 2
	streakTerm := clamp((recentWinRate-0.5)*2, -1, 1) * 2
	volPenalty := clamp((volatility-0.02)*100, 0, 5)

	lev = lev + confTerm + regimeTerm + streakTerm - volPenalty
	return clamp(lev, e.cfg.MinLeverage, e.cfg.MaxLeverage)
}

// AdaptiveStopDistance widens the stop in high volatility and tightens it in
// low, clamped to the configured band.
func (e *Engine) AdaptiveStopDistance(volatility float64) float64 {
	if volatility <= 0 {
		return e.cfg.MinStopDist
	}
	return clamp(volatility*e.cfg.StopVolMult, e.cfg.MinStopDist, e.cfg.MaxStopDist)
}

// TakeProfitDistance derives the initial target distance as a multiple of the
// stop distance, so the reward:risk ratio stays fixed at entry.
func (e *Engine) TakeProfitDistance(stopDistance float64) float64 {
	return stopDistance * 2
}

// RealizedVolatility estimates volatility as the mean true-range fraction of
// the supplied candles. Returns 0 when there is not enough data.
func RealizedVolatility(klines []*domain.Kline) float64 {
	if len(klines) == 0 {
		return 0
	}
	var sum float64
	var n int
	for _, k := range klines {
		if k == nil || k.Close <= 0 || k.High < k.Low {
			continue
		}
		sum += (k.High - k.Low) / k.Close
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
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
