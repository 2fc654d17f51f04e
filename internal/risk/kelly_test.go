package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"leverbot/internal/domain"
)

func outcomes(returns ...float64) *OutcomeHistory {
	h := NewOutcomeHistory(nil)
	for _, r := range returns {
		h.Append(&domain.TradeOutcome{ReturnPct: r, PNL: r})
	}
	return h
}

func TestKellyFraction_BelowMinSampleUsesDefault(t *testing.T) {
	e := NewEngine(DefaultConfig())

	h := outcomes(0.02, 0.01, -0.01, 0.03, 0.02) // 5 trades, min is 10
	f := e.KellyFraction(h.Stats(0))
	assert.InDelta(t, 0.01, f, 1e-9)
}

func TestKellyFraction_ClampedToBounds(t *testing.T) {
	e := NewEngine(DefaultConfig())

	// A long, wildly profitable streak: raw Kelly would be huge, the
	// ceiling must hold.
	var wins []float64
	for i := 0; i < 40; i++ {
		wins = append(wins, 0.03)
	}
	wins = append(wins, -0.01)
	f := e.KellyFraction(outcomes(wins...).Stats(0))
	assert.LessOrEqual(t, f, 0.035)
	assert.GreaterOrEqual(t, f, 0.005)

	// A losing history: negative edge pins the floor.
	var losses []float64
	for i := 0; i < 15; i++ {
		losses = append(losses, -0.02)
	}
	losses = append(losses, 0.01)
	f = e.KellyFraction(outcomes(losses...).Stats(0))
	assert.InDelta(t, 0.005, f, 1e-9)
}

func TestKellyFraction_DegenerateStatsUseDefault(t *testing.T) {
	e := NewEngine(DefaultConfig())

	// All winners: AvgLoss is zero and the odds ratio is undefined.
	var wins []float64
	for i := 0; i < 12; i++ {
		wins = append(wins, 0.02)
	}
	f := e.KellyFraction(outcomes(wins...).Stats(0))
	assert.InDelta(t, 0.01, f, 1e-9)
}

func TestKellyMultiplier_Range(t *testing.T) {
	e := NewEngine(DefaultConfig())

	// Tiny sample, high dispersion: multiplier bottoms at 0.3.
	low := e.kellyMultiplier(Stats{Count: 10, StdDev: 0.5})
	assert.InDelta(t, 0.3, low, 1e-9)

	// Large consistent sample: multiplier tops out at 0.7.
	high := e.kellyMultiplier(Stats{Count: 100, StdDev: 0})
	assert.InDelta(t, 0.7, high, 1e-9)

	mid := e.kellyMultiplier(Stats{Count: 25, StdDev: 0.05})
	assert.Greater(t, mid, 0.3)
	assert.Less(t, mid, 0.7)
}

func TestOutcomeHistory_StatsWindow(t *testing.T) {
	h := outcomes(-0.05, -0.05, 0.02, 0.02, 0.02, 0.02)

	full := h.Stats(0)
	assert.Equal(t, 6, full.Count)
	assert.Equal(t, 4, full.Wins)
	assert.InDelta(t, 4.0/6.0, full.WinRate, 1e-9)
	assert.InDelta(t, 0.02, full.AvgWin, 1e-9)
	assert.InDelta(t, 0.05, full.AvgLoss, 1e-9)

	// The trailing window excludes the old losses entirely.
	recent := h.Stats(4)
	assert.Equal(t, 4, recent.Count)
	assert.Equal(t, 1.0, recent.WinRate)
	assert.Zero(t, recent.AvgLoss)
}
