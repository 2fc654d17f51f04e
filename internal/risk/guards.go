package risk

import (
	"sync"
	"time"

	"leverbot/internal/domain"
)

// PortfolioGuard rejects a candidate that would push any single correlation
// group over the concurrent-position cap or the notional-share cap.
// correlationGroups maps symbol -> group name; symbols without a group are
// treated as their own group.
func (e *Engine) PortfolioGuard(open []*domain.Position, candidateSymbol string, candidateNotional float64, correlationGroups map[string]string) (bool, domain.RejectReason) {
	group := groupOf(candidateSymbol, correlationGroups)

	var groupCount int
	var groupNotional, otherNotional float64
	for _, p := range open {
		if p == nil || !p.IsOpen() {
			continue
		}
		if groupOf(p.Symbol, correlationGroups) == group {
			groupCount++
			groupNotional += p.Notional()
		} else {
			otherNotional += p.Notional()
		}
	}

	if groupCount >= e.cfg.MaxGroupPositions {
		return false, domain.RejectCorrelationCap
	}

	// The share cap only has meaning once capital is spread across groups;
	// the first position in an empty book is always 100% of notional.
	if otherNotional > 0 {
		total := groupNotional + otherNotional + candidateNotional
		share := (groupNotional + candidateNotional) / total
		if share > e.cfg.MaxGroupNotionalShare {
			return false, domain.RejectNotionalShare
		}
	}

	return true, ""
}

func groupOf(symbol string, groups map[string]string) string {
	if g, ok := groups[symbol]; ok {
		return g
	}
	return symbol
}

// DailyLossBreaker blocks new positions once the day's loss reaches the limit.
// The baseline resets at the UTC date boundary, not after elapsed seconds.
type DailyLossBreaker struct {
	mu             sync.Mutex
	limit          float64
	day            string // UTC calendar date of the current baseline
	dayStartEquity float64
}

// NewDailyLossBreaker creates a breaker with the given loss limit fraction.
func NewDailyLossBreaker(limit float64) *DailyLossBreaker {
	return &DailyLossBreaker{limit: limit}
}

// Allow reports whether new positions may be opened given current equity.
// The first observation of a new UTC day establishes that day's baseline.
func (b *DailyLossBreaker) Allow(equity float64, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	day := now.UTC().Format("2006-01-02")
	if day != b.day {
		b.day = day
		b.dayStartEquity = equity
		return true
	}
	if b.dayStartEquity <= 0 {
		return true
	}
	loss := (b.dayStartEquity - equity) / b.dayStartEquity
	return loss < b.limit
}
