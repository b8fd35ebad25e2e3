package ratelimit

import (
	"context"

	"github.com/vivo-us/request-handler/internal/recordtypes"
)

// NoLimit always admits immediately and never enqueues (§3, §4.3). The
// request pipeline short-circuits steps 2-3 for this variant and calls
// HTTP directly; this type exists mainly so the Client can hold a single
// Policy field regardless of variant (§9: "collapses into a single
// Client that holds a RateLimitPolicy variant").
type NoLimit struct{}

// NewNoLimit constructs the sentinel no-limit policy.
func NewNoLimit() *NoLimit { return &NoLimit{} }

func (NoLimit) Kind() recordtypes.RateLimitKind { return recordtypes.KindNoLimit }

func (NoLimit) Admit(_ context.Context, _ int) error { return nil }

func (NoLimit) OnRequestDone(int) {}

func (NoLimit) Snapshot(clientName string) recordtypes.RateLimitSnapshot {
	return recordtypes.RateLimitSnapshot{ClientName: clientName, Kind: recordtypes.KindNoLimit}
}
