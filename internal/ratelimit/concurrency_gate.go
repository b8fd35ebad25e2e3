package ratelimit

import (
	"context"
	"sync"

	"github.com/vivo-us/request-handler/internal/recordtypes"
)

// ConcurrencyGate admits while Σcost(inProgress) + cost <= maxConcurrency
// (§3 invariant). It has no ticker; admission is re-evaluated every time
// OnRequestDone observes a completion.
type ConcurrencyGate struct {
	mu             sync.Mutex
	cond           *sync.Cond
	maxConcurrency int
	inUse          int
	frozen         bool
}

// NewConcurrencyGate constructs a gate with the given capacity.
func NewConcurrencyGate(maxConcurrency int) *ConcurrencyGate {
	g := &ConcurrencyGate{maxConcurrency: maxConcurrency}
	g.cond = sync.NewCond(&g.mu)

	return g
}

func (g *ConcurrencyGate) Kind() recordtypes.RateLimitKind { return recordtypes.KindConcurrencyGate }

// Admit blocks until there is room for cost more in-flight units.
func (g *ConcurrencyGate) Admit(ctx context.Context, cost int) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			g.mu.Lock()
			g.cond.Broadcast()
			g.mu.Unlock()
		case <-done:
		}
	}()

	g.mu.Lock()
	defer g.mu.Unlock()

	for g.inUse+cost > g.maxConcurrency && !g.frozen {
		if err := ctx.Err(); err != nil {
			return err
		}

		g.cond.Wait()
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if g.frozen {
		return ErrFrozen
	}

	g.inUse += cost

	return nil
}

// OnRequestDone releases cost back to the gate and wakes waiters.
func (g *ConcurrencyGate) OnRequestDone(cost int) {
	g.mu.Lock()
	g.inUse -= cost
	if g.inUse < 0 {
		g.inUse = 0
	}
	g.cond.Broadcast()
	g.mu.Unlock()
}

// SetFrozen pauses or resumes admission.
func (g *ConcurrencyGate) SetFrozen(frozen bool) {
	g.mu.Lock()
	g.frozen = frozen
	g.cond.Broadcast()
	g.mu.Unlock()
}

// Reset is a no-op for concurrency gates: freeze has nothing to zero
// beyond the frozen flag itself, since in-flight cost reflects real
// outstanding requests rather than a replenishable counter.
func (g *ConcurrencyGate) Reset() {}

// Snapshot returns the gate's in-flight cost and capacity, as reported by
// getClientStats (only token-bucket snapshots go out on
// clientTokensUpdated).
func (g *ConcurrencyGate) Snapshot(clientName string) recordtypes.RateLimitSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	return recordtypes.RateLimitSnapshot{
		ClientName:     clientName,
		Kind:           recordtypes.KindConcurrencyGate,
		InUseCost:      g.inUse,
		MaxConcurrency: g.maxConcurrency,
	}
}
