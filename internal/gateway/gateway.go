// Package gateway wraps all outbound exchange calls behind the admission
// scheduler, a token-bucket rate limiter, retry with exponential backoff, and
// a circuit breaker. Nothing above this package talks to the venue directly.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"leverbot/internal/admission"
	"leverbot/internal/domain"
	"leverbot/internal/metrics"
	"leverbot/internal/ports"
)

// Config holds the gateway's resilience tuning.
type Config struct {
	CallTimeout      time.Duration // Hard per-attempt timeout (default 10s)
	RetryBaseDelay   time.Duration // First backoff delay (default 3s)
	RetryMaxDelay    time.Duration // Backoff cap (default 60s)
	RetryMaxAttempts uint64        // Attempts including the first (default 4)
	RetryCooldown    time.Duration // Per-operation-class cooldown after exhaustion (default 30s)

	BreakerThreshold int           // Consecutive failures before opening (default 5)
	BreakerCooldown  time.Duration // Open window before a half-open trial (default 90s)

	RatePerMinute int // Token bucket refill, sized under the venue quota (default 1200)
}

func (c *Config) applyDefaults() {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 3 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 60 * time.Second
	}
	if c.RetryMaxAttempts == 0 {
		c.RetryMaxAttempts = 4
	}
	if c.RetryCooldown <= 0 {
		c.RetryCooldown = 30 * time.Second
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 90 * time.Second
	}
	if c.RatePerMinute <= 0 {
		c.RatePerMinute = 1200
	}
}

// Gateway is the resilient exchange-call wrapper.
type Gateway struct {
	client  ports.ExchangeClient
	sched   *admission.Scheduler
	breaker *CircuitBreaker
	limiter *rate.Limiter
	logger  ports.Logger
	cfg     Config

	cooldownMu sync.Mutex
	cooldowns  map[string]time.Time // operation class -> cooldown expiry

	filterMu sync.Mutex
	filters  map[string]*ports.SymbolFilters
}

// New creates a gateway around the raw exchange client.
func New(client ports.ExchangeClient, sched *admission.Scheduler, logger ports.Logger, cfg Config) (*Gateway, error) {
	if client == nil || sched == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for gateway")
	}
	cfg.applyDefaults()

	return &Gateway{
		client:    client,
		sched:     sched,
		breaker:   NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		limiter:   rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), cfg.RatePerMinute/10+1),
		logger:    logger,
		cfg:       cfg,
		cooldowns: make(map[string]time.Time),
		filters:   make(map[string]*ports.SymbolFilters),
	}, nil
}

// Breaker exposes the breaker state for observability.
func (g *Gateway) Breaker() BreakerState {
	return g.breaker.State()
}

// call runs fn through admission, rate limiting, the breaker, and the retry
// schedule. Critical calls register with the scheduler for their full
// duration so Normal callers hold back.
func (g *Gateway) call(ctx context.Context, opClass string, p admission.Priority, fn func(ctx context.Context) error) error {
	if p == admission.Critical {
		g.sched.Begin()
		defer g.sched.End()
	}
	if err := g.sched.Acquire(ctx, p); err != nil {
		return fmt.Errorf("%s: admission wait canceled: %w", opClass, err)
	}

	// Cooldown check comes before the breaker so a fail-fast here cannot
	// consume a half-open trial slot.
	if expiry, active := g.cooldownActive(opClass); active {
		metrics.APICalls.WithLabelValues(p.String(), "cooldown").Inc()
		return fmt.Errorf("%s: %w: cooling down until %s", opClass, ports.ErrRetriesExhausted, expiry.UTC().Format(time.RFC3339))
	}

	if !g.breaker.Allow() {
		metrics.APICalls.WithLabelValues(p.String(), "circuit_open").Inc()
		return fmt.Errorf("%s: %w", opClass, ports.ErrCircuitOpen)
	}

	policy := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(g.cfg.RetryBaseDelay),
		backoff.WithMaxInterval(g.cfg.RetryMaxDelay),
		backoff.WithMultiplier(2),
	)
	attempt := func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limiter wait canceled: %w", err))
		}
		cctx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()

		err := fn(cctx)
		if err == nil {
			return nil
		}
		if ports.IsTransient(err) {
			metrics.APIRetries.Inc()
			g.logger.Warn(ctx, "transient exchange error, will retry", map[string]interface{}{
				"operation": opClass, "error": err.Error(),
			})
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(policy, g.cfg.RetryMaxAttempts-1), ctx))
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown or caller deadline, not a venue fault. Checked on the
			// parent context, not the error chain: adapter timeout errors wrap
			// context.DeadlineExceeded and must still count against the venue.
			g.breaker.CancelTrial()
			return fmt.Errorf("%s canceled: %w", opClass, err)
		}
		if ports.IsTransient(err) {
			// Retries exhausted on a transient failure: start the
			// operation-class cooldown and count it against the breaker.
			g.setCooldown(opClass)
			g.breaker.Failure()
			metrics.APICalls.WithLabelValues(p.String(), "exhausted").Inc()
			return fmt.Errorf("%s: %w: %w", opClass, ports.ErrRetriesExhausted, err)
		}
		g.breaker.Failure()
		metrics.APICalls.WithLabelValues(p.String(), "error").Inc()
		return fmt.Errorf("%s failed: %w", opClass, err)
	}

	g.breaker.Success()
	metrics.APICalls.WithLabelValues(p.String(), "ok").Inc()
	return nil
}

func (g *Gateway) cooldownActive(opClass string) (time.Time, bool) {
	g.cooldownMu.Lock()
	defer g.cooldownMu.Unlock()
	expiry, ok := g.cooldowns[opClass]
	if !ok {
		return time.Time{}, false
	}
	if time.Now().After(expiry) {
		delete(g.cooldowns, opClass)
		return time.Time{}, false
	}
	return expiry, true
}

func (g *Gateway) setCooldown(opClass string) {
	g.cooldownMu.Lock()
	g.cooldowns[opClass] = time.Now().Add(g.cfg.RetryCooldown)
	g.cooldownMu.Unlock()
}

// MarkPrice fetches the current mark price for a symbol.
func (g *Gateway) MarkPrice(ctx context.Context, symbol string, p admission.Priority) (float64, error) {
	var price float64
	err := g.call(ctx, "mark_price", p, func(ctx context.Context) error {
		var err error
		price, err = g.client.GetMarkPrice(ctx, symbol)
		return err
	})
	return price, err
}

// Balance fetches the available balance for an asset.
func (g *Gateway) Balance(ctx context.Context, asset string, p admission.Priority) (float64, error) {
	var bal float64
	err := g.call(ctx, "balance", p, func(ctx context.Context) error {
		var err error
		bal, err = g.client.GetAccountBalance(ctx, asset)
		return err
	})
	return bal, err
}

// Klines fetches recent candles for a symbol.
func (g *Gateway) Klines(ctx context.Context, symbol, interval string, limit int, p admission.Priority) ([]*domain.Kline, error) {
	var klines []*domain.Kline
	err := g.call(ctx, "klines", p, func(ctx context.Context) error {
		var err error
		klines, err = g.client.GetKlines(ctx, symbol, interval, limit)
		return err
	})
	return klines, err
}

// SetLeverage applies the leverage for a symbol. Always critical: it directly
// precedes order placement.
func (g *Gateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return g.call(ctx, "set_leverage", admission.Critical, func(ctx context.Context) error {
		return g.client.SetLeverage(ctx, symbol, leverage)
	})
}

// SymbolFilters returns the venue constraints for a symbol, cached after the
// first fetch for the process lifetime.
func (g *Gateway) SymbolFilters(ctx context.Context, symbol string, p admission.Priority) (*ports.SymbolFilters, error) {
	g.filterMu.Lock()
	if f, ok := g.filters[symbol]; ok {
		g.filterMu.Unlock()
		return f, nil
	}
	g.filterMu.Unlock()

	var f *ports.SymbolFilters
	err := g.call(ctx, "symbol_filters", p, func(ctx context.Context) error {
		var err error
		f, err = g.client.GetSymbolFilters(ctx, symbol)
		return err
	})
	if err != nil {
		return nil, err
	}

	g.filterMu.Lock()
	g.filters[symbol] = f
	g.filterMu.Unlock()
	return f, nil
}

// CloseStatus tags the result of a close/reduce call.
type CloseStatus string

const (
	// CloseFilled: the reduce-only order executed.
	CloseFilled CloseStatus = "filled"
	// CloseAlreadyClosed: the venue reported nothing left to close; the
	// desired end state already holds, so this is a success.
	CloseAlreadyClosed CloseStatus = "already_closed"
)

// CloseResult is the tagged result of ClosePosition/ReducePosition.
type CloseResult struct {
	Status      CloseStatus
	AvgPrice    float64
	ExecutedQty float64
}

// ReducePosition places a reduce-only market order against an open position.
// Always critical. An "already flat" venue response is translated to a
// success result, not an error.
func (g *Gateway) ReducePosition(ctx context.Context, symbol string, side domain.Side, quantity string) (*CloseResult, error) {
	var resp *ports.OrderResponse
	err := g.call(ctx, "reduce_position", admission.Critical, func(ctx context.Context) error {
		var err error
		resp, err = g.client.PlaceMarketOrder(ctx, symbol, side.CloseSide(), quantity, newClientOrderID(), true)
		return err
	})
	if err != nil {
		if errors.Is(err, ports.ErrAlreadyClosed) || errors.Is(err, ports.ErrPositionNotFound) {
			g.logger.Info(ctx, "close found position already settled", map[string]interface{}{"symbol": symbol})
			return &CloseResult{Status: CloseAlreadyClosed}, nil
		}
		return nil, err
	}
	return &CloseResult{Status: CloseFilled, AvgPrice: resp.AvgPrice, ExecutedQty: resp.ExecutedQty}, nil
}

func newClientOrderID() string {
	return "lb-" + uuid.NewString()[:18]
}
