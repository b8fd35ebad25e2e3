// Package bus implements the local, in-process event bus an originating
// instance waits on while its controller (possibly a different process)
// decides admission. Design note: "event emitter keyed by string becomes
// a map from request id to a one-shot completion handle; completion is
// idempotent."
package bus

import (
	"sync"

	"github.com/vivo-us/request-handler/internal/recordtypes"
)

// Waiter is a one-shot handle for a single request id. Only the first
// Ready call delivers a record; subsequent calls are no-ops.
type Waiter struct {
	ready chan *recordtypes.RequestRecord
	once  sync.Once
}

func newWaiter() *Waiter {
	return &Waiter{ready: make(chan *recordtypes.RequestRecord, 1)}
}

// Ready unblocks a pending Wait with the admitted record. Idempotent.
func (w *Waiter) Ready(record *recordtypes.RequestRecord) {
	w.once.Do(func() {
		w.ready <- record
	})
}

// Channel exposes the underlying channel for select statements (e.g.
// racing against a heartbeat ticker or ctx.Done()).
func (w *Waiter) Channel() <-chan *recordtypes.RequestRecord {
	return w.ready
}

// Bus maps request ids to their Waiter. One Bus exists per instance; it
// is never shared across processes — cross-instance notification happens
// over Redis pub/sub, which calls Resolve on the receiving instance.
type Bus struct {
	mu      sync.Mutex
	waiters map[string]*Waiter
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{waiters: make(map[string]*Waiter)}
}

// Register creates (or returns the existing) waiter for a request id.
// Call this before publishing requestAdded so a requestReady that arrives
// immediately is never missed.
func (b *Bus) Register(requestID string) *Waiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	if w, ok := b.waiters[requestID]; ok {
		return w
	}

	w := newWaiter()
	b.waiters[requestID] = w

	return w
}

// Resolve delivers a ready record to the waiter for requestID, if one is
// registered on this instance. Unknown ids (the controller is on a
// different instance than the original register, or the waiter already
// fired and was forgotten) are silently ignored — this is expected
// fan-out behaviour since requestReady is broadcast to every instance.
func (b *Bus) Resolve(record *recordtypes.RequestRecord) {
	b.mu.Lock()
	w, ok := b.waiters[record.RequestID]
	b.mu.Unlock()

	if !ok {
		return
	}

	w.Ready(record)
}

// Forget removes a waiter once its originator has consumed the result.
// Safe to call even if nothing is registered.
func (b *Bus) Forget(requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.waiters, requestID)
}
