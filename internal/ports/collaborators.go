package ports

import (
	"context"

	"leverbot/internal/domain"
)

// SignalProvider is the external signal/ML collaborator. The core treats it as
// an opaque scorer and never inspects its indicator logic.
type SignalProvider interface {
	// Evaluate scores a symbol given recent market data.
	Evaluate(ctx context.Context, symbol string, klines []*domain.Kline) (domain.Signal, error)
}

// PairProvider is the market-pair discovery collaborator. It produces an
// ordered candidate list; the core only consumes it.
type PairProvider interface {
	// Candidates returns tradable symbols ordered by preference.
	Candidates(ctx context.Context) ([]domain.Candidate, error)
}
