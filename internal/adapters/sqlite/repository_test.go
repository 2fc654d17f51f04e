package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leverbot/internal/domain"
	"leverbot/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) *Repository {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "leverbot-test-*")
	require.NoError(t, err)

	repo, err := NewRepository(Config{
		DBPath: filepath.Join(tmpDir, "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	})
	return repo
}

func testPosition(symbol string) *domain.Position {
	return &domain.Position{
		Symbol:            symbol,
		Side:              domain.SideLong,
		EntryPrice:        2000,
		Amount:            1.5,
		Leverage:          10,
		StopLoss:          1950,
		TakeProfit:        2100,
		InitialStopLoss:   1950,
		InitialTakeProfit: 2100,
		EntryTime:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		State:             domain.StateActive,
	}
}

func TestRepository_CreateAndFindOpen(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	pos := testPosition("ETHUSDT")
	pos.MaxFavorableExcursion = 0.02
	pos.BreakevenMoved = true
	pos.ScaledOut = true

	id, err := repo.Create(ctx, pos)
	require.NoError(t, err)
	assert.Positive(t, id)

	open, err := repo.FindOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	got := open[0]
	assert.Equal(t, id, got.ID)
	assert.Equal(t, domain.SideLong, got.Side)
	assert.Equal(t, 2000.0, got.EntryPrice)
	assert.Equal(t, 1.5, got.Amount)
	assert.Equal(t, 1950.0, got.InitialStopLoss)
	assert.Equal(t, 2100.0, got.InitialTakeProfit)
	assert.Equal(t, 0.02, got.MaxFavorableExcursion)
	assert.True(t, got.BreakevenMoved)
	assert.True(t, got.ScaledOut)
	assert.Equal(t, domain.StateActive, got.State)
	assert.True(t, got.ExitTime.IsZero())
}

func TestRepository_UpdateLifecycleFields(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	pos := testPosition("ETHUSDT")
	_, err := repo.Create(ctx, pos)
	require.NoError(t, err)

	pos.StopLoss = 2001.6
	pos.TakeProfit = 2080
	pos.BreakevenMoved = true
	pos.MaxFavorableExcursion = 0.035
	pos.State = domain.StateAdjusting
	require.NoError(t, repo.Update(ctx, pos))

	got, err := repo.FindOpenBySymbol(ctx, "ETHUSDT")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2001.6, got.StopLoss)
	assert.Equal(t, 2080.0, got.TakeProfit)
	assert.True(t, got.BreakevenMoved)
	assert.Equal(t, 0.035, got.MaxFavorableExcursion)
	assert.Equal(t, domain.StateAdjusting, got.State)
}

func TestRepository_CloseRemovesFromOpenSet(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	pos := testPosition("ETHUSDT")
	_, err := repo.Create(ctx, pos)
	require.NoError(t, err)

	pos.ExitPrice = 2100
	pos.ExitTime = pos.EntryTime.Add(2 * time.Hour)
	pos.State = domain.StateClosed
	pos.CloseReason = domain.CloseReasonTakeProfit
	pos.PNL = 148.4
	require.NoError(t, repo.Update(ctx, pos))

	open, err := repo.FindOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	got, err := repo.FindOpenBySymbol(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_UpdateUnknownID(t *testing.T) {
	repo := setupTestDB(t)

	pos := testPosition("ETHUSDT")
	pos.ID = 424242
	err := repo.Update(context.Background(), pos)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestRepository_FindOpenBySymbol_Missing(t *testing.T) {
	repo := setupTestDB(t)

	got, err := repo.FindOpenBySymbol(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_OutcomeRoundTrip(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		o := &domain.TradeOutcome{
			PositionID:  int64(i + 1),
			Symbol:      "ETHUSDT",
			Side:        domain.SideLong,
			EntryPrice:  2000,
			ExitPrice:   2000 + float64(i*10),
			Amount:      1,
			Leverage:    10,
			PNL:         float64(i * 10),
			ReturnPct:   float64(i) * 0.005,
			EntryTime:   base.Add(time.Duration(i) * time.Hour),
			ExitTime:    base.Add(time.Duration(i+1) * time.Hour),
			CloseReason: domain.CloseReasonTakeProfit,
		}
		_, err := repo.CreateOutcome(ctx, o)
		require.NoError(t, err)
	}

	// Newest first, limited.
	recent, err := repo.FindRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 2020.0, recent[0].ExitPrice)
	assert.Equal(t, 2010.0, recent[1].ExitPrice)
	assert.Equal(t, domain.CloseReasonTakeProfit, recent[0].CloseReason)
	assert.Equal(t, int64(3), recent[0].PositionID)
}
