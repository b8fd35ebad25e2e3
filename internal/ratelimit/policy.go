// Package ratelimit implements the controller-side admission policies:
// token bucket, concurrency gate, no-limit, and shared (forwarding).
// The controller is the single authority for admission (§4.3). Every
// instance builds a Policy for each of its clients; Admit and
// OnRequestDone are called only by a client that is controller on this
// instance (directly, or through a Shared policy forwarding to its
// target's Policy), and worker clients only read it (Kind, Snapshot, the
// token bucket's Interval).
package ratelimit

import (
	"context"

	"github.com/vivo-us/request-handler/internal/recordtypes"
)

// Policy is the admission contract every variant implements. Admit blocks
// (cooperatively, via ctx cancellation) until cost units are available.
// OnRequestDone releases cost back to the policy when a request finishes,
// successfully or not.
type Policy interface {
	Kind() recordtypes.RateLimitKind
	Admit(ctx context.Context, cost int) error
	OnRequestDone(cost int)
	Snapshot(clientName string) recordtypes.RateLimitSnapshot
}

// Freezable is implemented by policies whose admission must pause during
// a controller freeze (§4.5): TokenBucket and ConcurrencyGate. NoLimit and
// Shared do not implement it; for them only the admission loop's own
// frozen check pauses admission.
type Freezable interface {
	SetFrozen(frozen bool)
	Reset()
}
