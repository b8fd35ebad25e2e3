package ratelimit

import (
	"context"

	"github.com/vivo-us/request-handler/internal/recordtypes"
)

// Resolver looks up a client's current policy by name. The client
// package implements this over its registry; ratelimit never imports
// client to avoid a cycle (§9: message-passing over cyclic references).
type Resolver func(clientName string) (Policy, bool)

// Shared forwards Admit and OnRequestDone to the named target client's
// Policy on the same instance. The client holding a Shared policy still
// takes part in the ownership election like any other client, and its
// controller runs its own admission loop against the target's Policy
// object; requests are not routed to the target client's controller.
// Sub-clients created via the composition rule in §3 typically reference
// their parent this way.
type Shared struct {
	targetClientName string
	resolve          Resolver
}

// NewShared constructs a forwarding policy. resolve is called lazily on
// every Admit/OnRequestDone so it always sees the target's current
// policy, even across a regenerateClients swap.
func NewShared(targetClientName string, resolve Resolver) *Shared {
	return &Shared{targetClientName: targetClientName, resolve: resolve}
}

func (Shared) Kind() recordtypes.RateLimitKind { return recordtypes.KindShared }

func (s *Shared) Admit(ctx context.Context, cost int) error {
	target, ok := s.resolve(s.targetClientName)
	if !ok {
		return ErrUnknownTarget
	}

	return target.Admit(ctx, cost)
}

func (s *Shared) OnRequestDone(cost int) {
	if target, ok := s.resolve(s.targetClientName); ok {
		target.OnRequestDone(cost)
	}
}

func (s *Shared) Snapshot(clientName string) recordtypes.RateLimitSnapshot {
	if target, ok := s.resolve(s.targetClientName); ok {
		snap := target.Snapshot(clientName)
		snap.Kind = recordtypes.KindShared

		return snap
	}

	return recordtypes.RateLimitSnapshot{ClientName: clientName, Kind: recordtypes.KindShared}
}

// TargetClientName returns the name of the client this policy forwards to.
func (s *Shared) TargetClientName() string {
	return s.targetClientName
}
