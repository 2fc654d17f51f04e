// Package signal provides the default implementations of the external
// collaborator boundaries: a minimal momentum scorer and a static candidate
// list. Anything smarter plugs in behind the same ports interfaces.
package signal

import (
	"context"
	"fmt"

	"leverbot/internal/domain"
)

// MomentumScorer scores symbols by comparing a short and a long simple moving
// average of closes. Confidence grows with the spread between them.
type MomentumScorer struct {
	shortPeriod int
	longPeriod  int
}

// NewMomentumScorer creates a scorer; shortPeriod must be below longPeriod.
func NewMomentumScorer(shortPeriod, longPeriod int) (*MomentumScorer, error) {
	if shortPeriod <= 0 || longPeriod <= 0 || shortPeriod >= longPeriod {
		return nil, fmt.Errorf("invalid scorer periods: short=%d long=%d", shortPeriod, longPeriod)
	}
	return &MomentumScorer{shortPeriod: shortPeriod, longPeriod: longPeriod}, nil
}

// Evaluate implements ports.SignalProvider.
func (s *MomentumScorer) Evaluate(ctx context.Context, symbol string, klines []*domain.Kline) (domain.Signal, error) {
	if len(klines) < s.longPeriod {
		return domain.Signal{Kind: domain.SignalHold}, nil
	}

	shortMA := smaClose(klines, s.shortPeriod)
	longMA := smaClose(klines, s.longPeriod)
	if longMA <= 0 {
		return domain.Signal{Kind: domain.SignalHold}, nil
	}

	spread := (shortMA - longMA) / longMA
	confidence := spread * 50
	if confidence < 0 {
		confidence = -confidence
	}
	if confidence > 1 {
		confidence = 1
	}

	switch {
	case spread > 0:
		return domain.Signal{Kind: domain.SignalBuy, Confidence: confidence}, nil
	case spread < 0:
		return domain.Signal{Kind: domain.SignalSell, Confidence: confidence}, nil
	default:
		return domain.Signal{Kind: domain.SignalHold}, nil
	}
}

// Momentum returns a signed trend score in [-1,1] for lifecycle decisions.
func (s *MomentumScorer) Momentum(klines []*domain.Kline) float64 {
	if len(klines) < s.longPeriod {
		return 0
	}
	longMA := smaClose(klines, s.longPeriod)
	if longMA <= 0 {
		return 0
	}
	spread := (smaClose(klines, s.shortPeriod) - longMA) / longMA
	m := spread * 50
	if m > 1 {
		m = 1
	}
	if m < -1 {
		m = -1
	}
	return m
}

func smaClose(klines []*domain.Kline, period int) float64 {
	if period <= 0 || len(klines) < period {
		return 0
	}
	var sum float64
	for _, k := range klines[len(klines)-period:] {
		sum += k.Close
	}
	return sum / float64(period)
}
