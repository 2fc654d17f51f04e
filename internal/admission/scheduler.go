package admission

import (
	"context"
	"sync"
	"time"

	"leverbot/internal/metrics"
	"leverbot/internal/ports"
)

// Priority classifies an exchange call for admission control.
type Priority int

const (
	// Normal is background work (scanning). It waits while critical work is
	// pending, up to a bounded ceiling.
	Normal Priority = iota
	// Critical is position-protecting work (closes, stop adjustments). It is
	// admitted immediately.
	Critical
)

// String returns the label used in logs and metrics.
func (p Priority) String() string {
	if p == Critical {
		return "critical"
	}
	return "normal"
}

const (
	defaultMaxWait      = 5 * time.Second
	defaultPollInterval = 10 * time.Millisecond
)

// Scheduler is a priority gate in front of the exchange gateway. Critical
// callers bracket their work with Begin/End; Normal callers Acquire and are
// held while any critical call is outstanding. The wait is fail-open: after
// the ceiling a Normal caller proceeds anyway, so scanning is delayed but
// never starved.
type Scheduler struct {
	logger       ports.Logger
	maxWait      time.Duration
	pollInterval time.Duration

	mu              sync.Mutex
	pendingCritical int
}

// Config holds tuning for the scheduler. Zero values fall back to defaults.
type Config struct {
	Logger       ports.Logger
	MaxWait      time.Duration
	PollInterval time.Duration
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = defaultMaxWait
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Scheduler{
		logger:       cfg.Logger,
		maxWait:      maxWait,
		pollInterval: poll,
	}
}

// Begin registers an outstanding critical call. Callers must pair it with End
// on every exit path, normally via defer.
func (s *Scheduler) Begin() {
	s.mu.Lock()
	s.pendingCritical++
	s.mu.Unlock()
}

// End retires a critical call registered with Begin. The pending count never
// goes negative even on a misplaced End.
func (s *Scheduler) End() {
	s.mu.Lock()
	if s.pendingCritical > 0 {
		s.pendingCritical--
	}
	s.mu.Unlock()
}

// PendingCritical returns the number of outstanding critical calls.
func (s *Scheduler) PendingCritical() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingCritical
}

// Acquire admits a caller at the given priority. Critical callers return
// immediately. Normal callers return immediately when no critical call is
// pending (fast path, single lock check); otherwise they poll until the
// critical count drains, the context is canceled, or the fail-open ceiling is
// reached.
func (s *Scheduler) Acquire(ctx context.Context, p Priority) error {
	if p == Critical {
		return nil
	}

	// Fast path: no critical work in flight.
	if s.PendingCritical() == 0 {
		return nil
	}

	deadline := time.Now().Add(s.maxWait)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.PendingCritical() == 0 {
				return nil
			}
			if time.Now().After(deadline) {
				metrics.AdmissionFailOpen.Inc()
				if s.logger != nil {
					s.logger.Warn(ctx, "admission wait ceiling reached, proceeding fail-open", map[string]interface{}{
						"maxWait":         s.maxWait.String(),
						"pendingCritical": s.PendingCritical(),
					})
				}
				return nil
			}
		}
	}
}
