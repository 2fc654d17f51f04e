package ports

import (
	"context"

	"leverbot/internal/domain"
)

// PositionRepository defines the interface for the durable position record.
// Only open positions need to survive a restart; closed positions are kept for
// bookkeeping.
type PositionRepository interface {
	// Create saves a new position and returns its assigned ID.
	Create(ctx context.Context, pos *domain.Position) (int64, error)
	// Update modifies an existing position.
	Update(ctx context.Context, pos *domain.Position) error
	// FindOpen retrieves all currently open positions.
	FindOpen(ctx context.Context) ([]*domain.Position, error)
	// FindOpenBySymbol retrieves the open position for a symbol, if any.
	// Returns nil, nil if no open position is found.
	FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error)
}

// OutcomeRepository defines the interface for recorded trade outcomes, the
// append-only history behind Kelly sizing.
type OutcomeRepository interface {
	// CreateOutcome saves a new outcome record and returns its assigned ID.
	CreateOutcome(ctx context.Context, outcome *domain.TradeOutcome) (int64, error)
	// FindRecent retrieves the most recent outcomes, newest first, up to a limit.
	FindRecent(ctx context.Context, limit int) ([]*domain.TradeOutcome, error)
}
