package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/vivo-us/request-handler/internal/recordtypes"
)

// TokenBucket refills `tokensToAdd` every `interval`, capped at
// `maxTokens`. Invariant (§3): 0 <= tokens <= maxTokens outside the brief
// moment of admission. Tokens are not added while frozen, and an external
// rate-limit signal zeroes them (§9 open question, standardized here).
type TokenBucket struct {
	mu          sync.Mutex
	cond        *sync.Cond
	interval    time.Duration
	tokensToAdd int
	maxTokens   int
	tokens      int
	frozen      bool
	running     bool
	stopTicker  context.CancelFunc
}

// NewTokenBucket constructs a bucket starting full, matching the
// teacher's constructor style (plain struct literal, no hidden state).
func NewTokenBucket(interval time.Duration, tokensToAdd, maxTokens int) *TokenBucket {
	b := &TokenBucket{
		interval:    interval,
		tokensToAdd: tokensToAdd,
		maxTokens:   maxTokens,
		tokens:      maxTokens,
	}
	b.cond = sync.NewCond(&b.mu)

	return b
}

func (b *TokenBucket) Kind() recordtypes.RateLimitKind { return recordtypes.KindTokenBucket }

// Start runs the refill ticker until ctx is cancelled or Stop is called.
// The health check (§5, 10s default) restarts this if the ticker ever
// stops unexpectedly.
func (b *TokenBucket) Start(ctx context.Context) {
	tickerCtx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	b.stopTicker = cancel
	b.running = true
	b.mu.Unlock()

	go func() {
		defer func() {
			b.mu.Lock()
			b.running = false
			b.mu.Unlock()
		}()

		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-tickerCtx.Done():
				return
			case <-ticker.C:
				b.refill()
			}
		}
	}()
}

// Stop halts the refill ticker. Safe to call even if Start was never
// called.
func (b *TokenBucket) Stop() {
	if b.stopTicker != nil {
		b.stopTicker()
	}
}

// EnsureRunning restarts the refill ticker if it has stopped, matching
// SPEC_FULL §5's health check: "restarts token ticker if dropped". A
// no-op while the ticker is already running.
func (b *TokenBucket) EnsureRunning(ctx context.Context) {
	b.mu.Lock()
	running := b.running
	b.mu.Unlock()

	if !running {
		b.Start(ctx)
	}
}

func (b *TokenBucket) refill() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen {
		return
	}

	b.tokens += b.tokensToAdd
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}

	b.cond.Broadcast()
}

// Admit blocks until tokens >= cost, then decrements. It wakes on every
// refill tick and on ctx cancellation (checked via a watcher goroutine
// since sync.Cond has no native context support).
func (b *TokenBucket) Admit(ctx context.Context, cost int) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		case <-done:
		}
	}()

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.tokens < cost && !b.frozen {
		if err := ctx.Err(); err != nil {
			return err
		}

		b.cond.Wait()
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if b.frozen {
		return ErrFrozen
	}

	b.tokens -= cost

	return nil
}

// OnRequestDone is a no-op for token bucket: tokens are consumed at
// admission time, not released on completion (unlike ConcurrencyGate).
func (b *TokenBucket) OnRequestDone(int) {}

// SetFrozen pauses or resumes refills and wakes any blocked Admit so it
// can observe the new state.
func (b *TokenBucket) SetFrozen(frozen bool) {
	b.mu.Lock()
	b.frozen = frozen
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Reset zeroes the bucket (§4.5: "token bucket sets tokens := 0 on
// freeze").
func (b *TokenBucket) Reset() {
	b.mu.Lock()
	b.tokens = 0
	b.mu.Unlock()
}

// Snapshot returns the advisory state published on clientTokensUpdated.
func (b *TokenBucket) Snapshot(clientName string) recordtypes.RateLimitSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return recordtypes.RateLimitSnapshot{
		ClientName: clientName,
		Kind:       recordtypes.KindTokenBucket,
		Tokens:     b.tokens,
		MaxTokens:  b.maxTokens,
	}
}

// Interval exposes the refill interval; the retry backoff base time for
// token-bucket clients is pinned to it (§4.5).
func (b *TokenBucket) Interval() time.Duration {
	return b.interval
}
