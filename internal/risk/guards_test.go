package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"leverbot/internal/domain"
)

var testGroups = map[string]string{
	"BTCUSDT": "majors",
	"ETHUSDT": "majors",
	"SOLUSDT": "alts",
	"AVAXUSDT": "alts",
}

func openPosition(symbol string, amount, entry float64) *domain.Position {
	return &domain.Position{
		Symbol:     symbol,
		Side:       domain.SideLong,
		Amount:     amount,
		EntryPrice: entry,
		State:      domain.StateActive,
	}
}

func TestPortfolioGuard_GroupPositionCap(t *testing.T) {
	e := NewEngine(DefaultConfig()) // MaxGroupPositions = 2

	open := []*domain.Position{
		openPosition("BTCUSDT", 0.1, 50000),
		openPosition("ETHUSDT", 1, 2000),
	}

	ok, reason := e.PortfolioGuard(open, "BTCUSDT", 1000, testGroups)
	assert.False(t, ok)
	assert.Equal(t, domain.RejectCorrelationCap, reason)

	// A different group is unaffected by the majors cap.
	ok, reason = e.PortfolioGuard(open, "SOLUSDT", 100, testGroups)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestPortfolioGuard_NotionalShareCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxGroupPositions = 10
	e := NewEngine(cfg) // MaxGroupNotionalShare = 0.40

	open := []*domain.Position{
		openPosition("BTCUSDT", 0.1, 50000), // majors: 5000
		openPosition("SOLUSDT", 50, 100),    // alts:   5000
	}

	// Adding 4000 of ETH puts majors at 9000/14000 = 64%, over the cap.
	ok, reason := e.PortfolioGuard(open, "ETHUSDT", 4000, testGroups)
	assert.False(t, ok)
	assert.Equal(t, domain.RejectNotionalShare, reason)

	// A small add keeps majors at 5500/10500 = 52%... still over.
	ok, _ = e.PortfolioGuard(open, "ETHUSDT", 500, testGroups)
	assert.False(t, ok)

	// Balanced books admit alts the same way they rejected majors.
	ok, reason = e.PortfolioGuard(open[:1], "SOLUSDT", 2000, testGroups)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestPortfolioGuard_FirstPositionAlwaysAdmitted(t *testing.T) {
	e := NewEngine(DefaultConfig())

	// An empty book is 100% of notional by definition; the share cap must
	// not fire on it.
	ok, reason := e.PortfolioGuard(nil, "BTCUSDT", 100000, testGroups)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestPortfolioGuard_UngroupedSymbolIsOwnGroup(t *testing.T) {
	e := NewEngine(DefaultConfig())

	open := []*domain.Position{
		openPosition("DOGEUSDT", 1000, 0.1),
	}
	ok, _ := e.PortfolioGuard(open, "SHIBUSDT", 100, testGroups)
	assert.True(t, ok)
}

func TestDailyLossBreaker_BlocksAtLimit(t *testing.T) {
	b := NewDailyLossBreaker(0.10)
	day := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	assert.True(t, b.Allow(10000, day)) // Establishes the baseline.
	assert.True(t, b.Allow(9500, day.Add(time.Hour)))
	assert.True(t, b.Allow(9001, day.Add(2*time.Hour)))

	// 10% down from the day's start: halted.
	assert.False(t, b.Allow(9000, day.Add(3*time.Hour)))
	assert.False(t, b.Allow(8000, day.Add(4*time.Hour)))

	// Recovery within the same day lifts the halt.
	assert.True(t, b.Allow(9200, day.Add(5*time.Hour)))
}

func TestDailyLossBreaker_ResetsAtUTCDateBoundary(t *testing.T) {
	b := NewDailyLossBreaker(0.10)
	day := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	assert.True(t, b.Allow(10000, day))
	assert.False(t, b.Allow(8500, day.Add(10*time.Hour)))

	// Next UTC date: the depressed equity becomes the new baseline and
	// trading resumes regardless of yesterday's loss.
	nextDay := time.Date(2026, 3, 2, 0, 0, 1, 0, time.UTC)
	assert.True(t, b.Allow(8500, nextDay))
	assert.False(t, b.Allow(7600, nextDay.Add(time.Hour)))
}

func TestDailyLossBreaker_BaselineIsFirstObservationOfDay(t *testing.T) {
	b := NewDailyLossBreaker(0.10)

	// A local-time evening that is already the next UTC day must key on the
	// UTC date.
	local := time.Date(2026, 3, 1, 20, 0, 0, 0, time.FixedZone("UTC-5", -5*3600))
	assert.True(t, b.Allow(10000, local))

	utcNext := time.Date(2026, 3, 2, 1, 30, 0, 0, time.UTC) // Same UTC day as local above
	assert.False(t, b.Allow(8900, utcNext))
}
