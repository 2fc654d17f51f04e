package risk

import (
	"math"
	"sync"

	"leverbot/internal/domain"
)

// OutcomeHistory is an append-only record of completed trades. Appends and
// reads are safe for concurrent use; nothing is ever removed or rewritten.
type OutcomeHistory struct {
	mu       sync.RWMutex
	outcomes []*domain.TradeOutcome
}

// NewOutcomeHistory creates a history pre-seeded with outcomes loaded from the
// repository, oldest first.
func NewOutcomeHistory(seed []*domain.TradeOutcome) *OutcomeHistory {
	h := &OutcomeHistory{}
	h.outcomes = append(h.outcomes, seed...)
	return h
}

// Append records a completed trade.
func (h *OutcomeHistory) Append(o *domain.TradeOutcome) {
	if o == nil {
		return
	}
	h.mu.Lock()
	h.outcomes = append(h.outcomes, o)
	h.mu.Unlock()
}

// Len returns the number of recorded outcomes.
func (h *OutcomeHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.outcomes)
}

// Stats summarizes the trailing window of recorded outcomes.
type Stats struct {
	Count   int
	Wins    int
	WinRate float64
	AvgWin  float64 // Mean fee-adjusted return of winning trades (positive)
	AvgLoss float64 // Mean absolute fee-adjusted return of losing trades (positive)
	StdDev  float64 // Standard deviation of per-trade returns
}

// Stats computes summary statistics over the most recent window outcomes.
// window <= 0 means the full history.
func (h *OutcomeHistory) Stats(window int) Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	outcomes := h.outcomes
	if window > 0 && len(outcomes) > window {
		outcomes = outcomes[len(outcomes)-window:]
	}

	st := Stats{Count: len(outcomes)}
	if st.Count == 0 {
		return st
	}

	var winSum, lossSum, retSum float64
	var losses int
	for _, o := range outcomes {
		retSum += o.ReturnPct
		if o.IsWin() {
			st.Wins++
			winSum += o.ReturnPct
		} else {
			losses++
			lossSum += math.Abs(o.ReturnPct)
		}
	}
	st.WinRate = float64(st.Wins) / float64(st.Count)
	if st.Wins > 0 {
		st.AvgWin = winSum / float64(st.Wins)
	}
	if losses > 0 {
		st.AvgLoss = lossSum / float64(losses)
	}

	mean := retSum / float64(st.Count)
	var varSum float64
	for _, o := range outcomes {
		d := o.ReturnPct - mean
		varSum += d * d
	}
	st.StdDev = math.Sqrt(varSum / float64(st.Count))
	return st
}
