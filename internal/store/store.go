// Package store owns the authoritative map of symbol -> open Position.
// No other component holds a long-lived *domain.Position: readers get deep
// copies, writers go through Mutate/CloseAndRemove so every mutation for a
// symbol is serialized under one lock.
package store

import (
	"context"
	"fmt"
	"sync"

	"leverbot/internal/domain"
	"leverbot/internal/metrics"
	"leverbot/internal/ports"
)

// PositionStore is the lock-protected position map with write-through
// persistence to the durable position record.
type PositionStore struct {
	logger ports.Logger
	repo   ports.PositionRepository

	mu        sync.RWMutex
	positions map[string]*domain.Position
}

// New creates an empty store.
func New(repo ports.PositionRepository, logger ports.Logger) *PositionStore {
	return &PositionStore{
		logger:    logger,
		repo:      repo,
		positions: make(map[string]*domain.Position),
	}
}

// Load restores open positions from the repository after a restart.
func (s *PositionStore) Load(ctx context.Context) error {
	open, err := s.repo.FindOpen(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open positions: %w", err)
	}

	s.mu.Lock()
	for _, p := range open {
		s.positions[p.Symbol] = p
	}
	count := len(s.positions)
	s.mu.Unlock()

	metrics.OpenPositions.Set(float64(count))
	s.logger.Info(ctx, "position store loaded", map[string]interface{}{"openPositions": count})
	return nil
}

// Open persists a freshly filled position and takes ownership of it. The
// caller must not retain the pointer after a successful call.
func (s *PositionStore) Open(ctx context.Context, pos *domain.Position) error {
	if pos == nil || pos.Amount <= 0 {
		return fmt.Errorf("%w: position must have positive amount", ports.ErrInvalidRequest)
	}

	// Duplicate check and persistence happen under one lock acquisition so a
	// rejected open never leaves an orphaned row behind for Load to resurrect.
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.positions[pos.Symbol]; exists {
		return fmt.Errorf("%w: position already open for %s", ports.ErrDuplicateEntry, pos.Symbol)
	}

	id, err := s.repo.Create(ctx, pos)
	if err != nil {
		return fmt.Errorf("failed to persist new position: %w", err)
	}
	pos.ID = id
	s.positions[pos.Symbol] = pos

	metrics.OpenPositions.Set(float64(len(s.positions)))
	return nil
}

// Get returns a copy of the position for a symbol, if present.
func (s *PositionStore) Get(symbol string) (*domain.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[symbol]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Snapshot returns deep copies of all held positions.
func (s *PositionStore) Snapshot() []*domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p.Clone())
	}
	return out
}

// CleanupAndSnapshot removes every position matching remove and returns copies
// of the remainder. Removal and snapshot happen under a single lock
// acquisition so no mutation can interleave between the check and the read.
func (s *PositionStore) CleanupAndSnapshot(remove func(*domain.Position) bool) []*domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sym, p := range s.positions {
		if remove(p) {
			delete(s.positions, sym)
		}
	}
	out := make([]*domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p.Clone())
	}
	metrics.OpenPositions.Set(float64(len(s.positions)))
	return out
}

// Len returns the number of held positions.
func (s *PositionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// Symbols returns the symbols with a held position.
func (s *PositionStore) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.positions))
	for sym := range s.positions {
		out = append(out, sym)
	}
	return out
}

// Mutate applies fn to the owned position for a symbol under the store lock
// and writes the result through to the repository. fn returning an error
// abandons the mutation. Returns a copy of the updated position.
func (s *PositionStore) Mutate(ctx context.Context, symbol string, fn func(*domain.Position) error) (*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: no open position for %s", ports.ErrNotFound, symbol)
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to persist position update: %w", err)
	}
	return p.Clone(), nil
}

// CloseAndRemove finalizes a position: fn sets the exit fields, the result is
// persisted, and the symbol leaves the store. Removing a symbol that is not
// held is not an error, matching the idempotent-close contract.
func (s *PositionStore) CloseAndRemove(ctx context.Context, symbol string, fn func(*domain.Position) error) (*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[symbol]
	if !ok {
		return nil, nil
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	p.State = domain.StateClosed
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to persist closed position: %w", err)
	}
	delete(s.positions, symbol)
	metrics.OpenPositions.Set(float64(len(s.positions)))
	return p.Clone(), nil
}
