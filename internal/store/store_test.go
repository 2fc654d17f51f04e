package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leverbot/internal/domain"
	"leverbot/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// fakeRepo is an in-memory PositionRepository recording calls.
type fakeRepo struct {
	mu        sync.Mutex
	nextID    int64
	updates   int
	open      []*domain.Position
	createErr error
	updateErr error
}

func (f *fakeRepo) Create(ctx context.Context, pos *domain.Position) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.nextID++
	return f.nextID, nil
}

func (f *fakeRepo) Update(ctx context.Context, pos *domain.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates++
	return nil
}

func (f *fakeRepo) FindOpen(ctx context.Context) ([]*domain.Position, error) {
	return f.open, nil
}

func (f *fakeRepo) FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error) {
	for _, p := range f.open {
		if p.Symbol == symbol {
			return p, nil
		}
	}
	return nil, nil
}

func newTestPosition(symbol string) *domain.Position {
	return &domain.Position{
		Symbol:     symbol,
		Side:       domain.SideLong,
		EntryPrice: 2000,
		Amount:     1,
		Leverage:   10,
		StopLoss:   1950,
		TakeProfit: 2100,
		EntryTime:  time.Now().UTC(),
		State:      domain.StateActive,
	}
}

func TestOpenAndGet(t *testing.T) {
	s := New(&fakeRepo{}, &mockLogger{})
	ctx := context.Background()

	pos := newTestPosition("ETHUSDT")
	require.NoError(t, s.Open(ctx, pos))
	assert.Equal(t, int64(1), pos.ID, "repo-assigned ID should be set")

	got, ok := s.Get("ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, "ETHUSDT", got.Symbol)

	_, ok = s.Get("BTCUSDT")
	assert.False(t, ok)
}

func TestOpen_RejectsDuplicateSymbol(t *testing.T) {
	repo := &fakeRepo{}
	s := New(repo, &mockLogger{})
	ctx := context.Background()

	require.NoError(t, s.Open(ctx, newTestPosition("ETHUSDT")))
	err := s.Open(ctx, newTestPosition("ETHUSDT"))
	assert.ErrorIs(t, err, ports.ErrDuplicateEntry)
	assert.Equal(t, int64(1), repo.nextID, "rejected open must not reach the repository")
	assert.Equal(t, 1, s.Len())
}

func TestOpen_RejectsInvalidPosition(t *testing.T) {
	s := New(&fakeRepo{}, &mockLogger{})
	ctx := context.Background()

	assert.ErrorIs(t, s.Open(ctx, nil), ports.ErrInvalidRequest)

	bad := newTestPosition("ETHUSDT")
	bad.Amount = 0
	assert.ErrorIs(t, s.Open(ctx, bad), ports.ErrInvalidRequest)
}

func TestGet_ReturnsIsolatedCopy(t *testing.T) {
	s := New(&fakeRepo{}, &mockLogger{})
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, newTestPosition("ETHUSDT")))

	copy1, _ := s.Get("ETHUSDT")
	copy1.StopLoss = 1 // Mutating the copy must not touch the owned position.

	copy2, _ := s.Get("ETHUSDT")
	assert.Equal(t, 1950.0, copy2.StopLoss)
}

func TestSnapshot_IsolatedFromLaterMutations(t *testing.T) {
	s := New(&fakeRepo{}, &mockLogger{})
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, newTestPosition("ETHUSDT")))
	require.NoError(t, s.Open(ctx, newTestPosition("BTCUSDT")))

	snap := s.Snapshot()
	require.Len(t, snap, 2)

	_, err := s.Mutate(ctx, "ETHUSDT", func(p *domain.Position) error {
		p.StopLoss = 1999
		return nil
	})
	require.NoError(t, err)

	for _, p := range snap {
		assert.Equal(t, 1950.0, p.StopLoss, "snapshot changed after a later mutation")
	}
}

func TestMutate_PersistsAndReturnsCopy(t *testing.T) {
	repo := &fakeRepo{}
	s := New(repo, &mockLogger{})
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, newTestPosition("ETHUSDT")))

	updated, err := s.Mutate(ctx, "ETHUSDT", func(p *domain.Position) error {
		p.StopLoss = 2000.5
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2000.5, updated.StopLoss)
	assert.Equal(t, 1, repo.updates)

	// The returned value is a copy.
	updated.StopLoss = 0
	again, _ := s.Get("ETHUSDT")
	assert.Equal(t, 2000.5, again.StopLoss)
}

func TestMutate_ErrorAbandonsUpdate(t *testing.T) {
	repo := &fakeRepo{}
	s := New(repo, &mockLogger{})
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, newTestPosition("ETHUSDT")))

	boom := errors.New("rejected")
	_, err := s.Mutate(ctx, "ETHUSDT", func(p *domain.Position) error {
		p.StopLoss = 1
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, repo.updates, "a failed mutation must not be persisted")
}

func TestMutate_UnknownSymbol(t *testing.T) {
	s := New(&fakeRepo{}, &mockLogger{})
	_, err := s.Mutate(context.Background(), "NOPE", func(p *domain.Position) error { return nil })
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestCloseAndRemove(t *testing.T) {
	repo := &fakeRepo{}
	s := New(repo, &mockLogger{})
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, newTestPosition("ETHUSDT")))

	closed, err := s.CloseAndRemove(ctx, "ETHUSDT", func(p *domain.Position) error {
		p.ExitPrice = 2100
		p.CloseReason = domain.CloseReasonTakeProfit
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.Equal(t, domain.StateClosed, closed.State)
	assert.Equal(t, 2100.0, closed.ExitPrice)
	assert.Zero(t, s.Len())

	// Removing an absent symbol is not an error: the desired end state
	// already holds.
	gone, err := s.CloseAndRemove(ctx, "ETHUSDT", func(p *domain.Position) error { return nil })
	assert.NoError(t, err)
	assert.Nil(t, gone)
}

func TestCleanupAndSnapshot_Atomic(t *testing.T) {
	s := New(&fakeRepo{}, &mockLogger{})
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, newTestPosition("ETHUSDT")))
	stale := newTestPosition("BTCUSDT")
	stale.State = domain.StateClosed
	require.NoError(t, s.Open(ctx, stale))

	remaining := s.CleanupAndSnapshot(func(p *domain.Position) bool {
		return p.State == domain.StateClosed
	})
	require.Len(t, remaining, 1)
	assert.Equal(t, "ETHUSDT", remaining[0].Symbol)
	assert.Equal(t, 1, s.Len())
}

func TestLoad_RestoresOpenPositions(t *testing.T) {
	repo := &fakeRepo{open: []*domain.Position{
		newTestPosition("ETHUSDT"),
		newTestPosition("BTCUSDT"),
	}}
	s := New(repo, &mockLogger{})
	require.NoError(t, s.Load(context.Background()))
	assert.Equal(t, 2, s.Len())
	assert.ElementsMatch(t, []string{"ETHUSDT", "BTCUSDT"}, s.Symbols())
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	s := New(&fakeRepo{}, &mockLogger{})
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, newTestPosition("ETHUSDT")))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Snapshot()
				s.Get("ETHUSDT")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = s.Mutate(ctx, "ETHUSDT", func(p *domain.Position) error {
					p.MaxFavorableExcursion += 0.0001
					return nil
				})
			}
		}()
	}
	wg.Wait()

	p, ok := s.Get("ETHUSDT")
	require.True(t, ok)
	assert.InDelta(t, 0.08, p.MaxFavorableExcursion, 1e-9)
}
