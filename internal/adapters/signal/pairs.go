package signal

import (
	"context"

	"leverbot/internal/domain"
)

// StaticPairProvider serves a fixed, ordered candidate list from config.
type StaticPairProvider struct {
	candidates []domain.Candidate
}

// NewStaticPairProvider builds a provider from the configured symbol list,
// preserving order as preference.
func NewStaticPairProvider(symbols []string) *StaticPairProvider {
	candidates := make([]domain.Candidate, 0, len(symbols))
	for i, sym := range symbols {
		candidates = append(candidates, domain.Candidate{
			Symbol:         sym,
			LiquidityScore: 1 - float64(i)/float64(len(symbols)+1),
		})
	}
	return &StaticPairProvider{candidates: candidates}
}

// Candidates implements ports.PairProvider.
func (p *StaticPairProvider) Candidates(ctx context.Context) ([]domain.Candidate, error) {
	out := make([]domain.Candidate, len(p.candidates))
	copy(out, p.candidates)
	return out, nil
}
