package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"leverbot/internal/domain"
	"leverbot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.PositionRepository and ports.OutcomeRepository
// using SQLite. This is the minimal durable record needed to survive a
// restart: open positions plus the outcome history behind Kelly sizing.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/leverbot.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the two loops
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite repository ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL DEFAULT NULL,
		amount REAL NOT NULL,
		leverage REAL NOT NULL,
		stop_loss REAL NOT NULL,
		take_profit REAL NOT NULL,
		initial_stop_loss REAL NOT NULL,
		initial_take_profit REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP DEFAULT NULL,
		max_favorable_excursion REAL NOT NULL DEFAULT 0,
		breakeven_moved INTEGER NOT NULL DEFAULT 0,
		scaled_out INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		close_reason TEXT DEFAULT NULL,
		pnl REAL DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id INTEGER NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		amount REAL NOT NULL,
		leverage REAL NOT NULL,
		pnl REAL NOT NULL,
		return_pct REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		close_reason TEXT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_positions_symbol_state ON positions (symbol, state);
	CREATE INDEX IF NOT EXISTS idx_trade_outcomes_exit_time ON trade_outcomes (exit_time);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- PositionRepository Implementation ---

const positionColumns = `id, symbol, side, entry_price, COALESCE(exit_price, 0), amount, leverage,
	stop_loss, take_profit, initial_stop_loss, initial_take_profit,
	entry_time, exit_time, max_favorable_excursion, breakeven_moved, scaled_out,
	state, COALESCE(close_reason, ''), COALESCE(pnl, 0)`

// Create saves a new position and returns its assigned ID.
func (r *Repository) Create(ctx context.Context, pos *domain.Position) (int64, error) {
	const query = `
	INSERT INTO positions (symbol, side, entry_price, amount, leverage, stop_loss, take_profit,
	                       initial_stop_loss, initial_take_profit, entry_time,
	                       max_favorable_excursion, breakeven_moved, scaled_out, state)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		pos.Symbol, pos.Side, pos.EntryPrice, pos.Amount, pos.Leverage, pos.StopLoss, pos.TakeProfit,
		pos.InitialStopLoss, pos.InitialTakeProfit, pos.EntryTime,
		pos.MaxFavorableExcursion, pos.BreakevenMoved, pos.ScaledOut, pos.State)
	if err != nil {
		return 0, fmt.Errorf("failed to insert position for symbol %s: %w", pos.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for position %s: %w", pos.Symbol, err)
	}
	pos.ID = id
	r.logger.Debug(ctx, "Position created", map[string]interface{}{"positionID": id, "symbol": pos.Symbol})
	return id, nil
}

// Update modifies an existing position based on its ID.
func (r *Repository) Update(ctx context.Context, pos *domain.Position) error {
	const query = `
	UPDATE positions
	SET exit_price = ?, amount = ?, stop_loss = ?, take_profit = ?, exit_time = ?,
	    max_favorable_excursion = ?, breakeven_moved = ?, scaled_out = ?, state = ?,
	    close_reason = ?, pnl = ?
	WHERE id = ?`

	var exitTime sql.NullTime
	if !pos.ExitTime.IsZero() {
		exitTime = sql.NullTime{Time: pos.ExitTime, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		pos.ExitPrice, pos.Amount, pos.StopLoss, pos.TakeProfit, exitTime,
		pos.MaxFavorableExcursion, pos.BreakevenMoved, pos.ScaledOut, pos.State,
		string(pos.CloseReason), pos.PNL,
		pos.ID)
	if err != nil {
		return fmt.Errorf("failed to update position ID %d: %w", pos.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update position ID %d: %w", pos.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("position ID %d not found for update: %w", pos.ID, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Position updated", map[string]interface{}{"positionID": pos.ID, "symbol": pos.Symbol, "state": pos.State})
	return nil
}

// FindOpen retrieves all positions that are not closed.
func (r *Repository) FindOpen(ctx context.Context) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE state != ? ORDER BY entry_time ASC`

	rows, err := r.db.QueryContext(ctx, query, domain.StateClosed)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position during FindOpen: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// FindOpenBySymbol retrieves the open position for a symbol, if any.
func (r *Repository) FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE symbol = ? AND state != ?`

	row := r.db.QueryRowContext(ctx, query, symbol, domain.StateClosed)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query open position for symbol %s: %w", symbol, err)
	}
	return pos, nil
}

// --- OutcomeRepository Implementation ---

// CreateOutcome saves a new outcome record and returns its assigned ID.
func (r *Repository) CreateOutcome(ctx context.Context, outcome *domain.TradeOutcome) (int64, error) {
	const query = `
	INSERT INTO trade_outcomes (position_id, symbol, side, entry_price, exit_price, amount, leverage,
	                            pnl, return_pct, entry_time, exit_time, close_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var positionID sql.NullInt64
	if outcome.PositionID != 0 {
		positionID = sql.NullInt64{Int64: outcome.PositionID, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		positionID, outcome.Symbol, outcome.Side, outcome.EntryPrice, outcome.ExitPrice,
		outcome.Amount, outcome.Leverage, outcome.PNL, outcome.ReturnPct,
		outcome.EntryTime, outcome.ExitTime, string(outcome.CloseReason))
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade outcome for symbol %s: %w", outcome.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade outcome %s: %w", outcome.Symbol, err)
	}
	outcome.ID = id
	r.logger.Debug(ctx, "Trade outcome recorded", map[string]interface{}{"outcomeID": id, "symbol": outcome.Symbol, "pnl": outcome.PNL})
	return id, nil
}

// FindRecent retrieves the most recent outcomes, newest first, up to a limit.
func (r *Repository) FindRecent(ctx context.Context, limit int) ([]*domain.TradeOutcome, error) {
	const query = `
	SELECT id, position_id, symbol, side, entry_price, exit_price, amount, leverage,
	       pnl, return_pct, entry_time, exit_time, close_reason
	FROM trade_outcomes
	ORDER BY exit_time DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent trade outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := make([]*domain.TradeOutcome, 0)
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade outcome during FindRecent: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade outcome rows: %w", err)
	}
	return outcomes, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanPosition scans a row into a domain.Position struct.
func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var exitTime sql.NullTime
	var side, state, closeReason string
	err := s.Scan(
		&p.ID, &p.Symbol, &side, &p.EntryPrice, &p.ExitPrice, &p.Amount, &p.Leverage,
		&p.StopLoss, &p.TakeProfit, &p.InitialStopLoss, &p.InitialTakeProfit,
		&p.EntryTime, &exitTime, &p.MaxFavorableExcursion, &p.BreakevenMoved, &p.ScaledOut,
		&state, &closeReason, &p.PNL)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	if exitTime.Valid {
		p.ExitTime = exitTime.Time
	}
	p.Side = domain.Side(side)
	p.State = domain.PositionState(state)
	p.CloseReason = domain.CloseReason(closeReason)
	return p, nil
}

// scanOutcome scans a row into a domain.TradeOutcome struct.
func scanOutcome(s scanner) (*domain.TradeOutcome, error) {
	o := &domain.TradeOutcome{}
	var positionID sql.NullInt64
	var side string
	var closeReason sql.NullString
	err := s.Scan(
		&o.ID, &positionID, &o.Symbol, &side, &o.EntryPrice, &o.ExitPrice, &o.Amount, &o.Leverage,
		&o.PNL, &o.ReturnPct, &o.EntryTime, &o.ExitTime, &closeReason)
	if err != nil {
		return nil, err
	}
	if positionID.Valid {
		o.PositionID = positionID.Int64
	}
	o.Side = domain.Side(side)
	if closeReason.Valid {
		o.CloseReason = domain.CloseReason(closeReason.String)
	} else {
		o.CloseReason = domain.CloseReasonUnknown
	}
	return o, nil
}
