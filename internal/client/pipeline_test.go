package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vivo-us/request-handler/internal/ratelimit"
	"github.com/vivo-us/request-handler/internal/recordtypes"
)

// TestRunHealthCheckReleasesStaleInProgressCost exercises §4.4's request
// liveness recovery: a crashed originator whose in-progress request never
// publishes requestDone must not hold its policy cost forever, or a
// ConcurrencyGate slot is lost and admission deadlocks for that client.
func TestRunHealthCheckReleasesStaleInProgressCost(t *testing.T) {
	gate := ratelimit.NewConcurrencyGate(1)
	require.NoError(t, gate.Admit(context.Background(), 1))

	c := &Client{
		name:   "api",
		spec:   Spec{Name: "api"},
		logger: zap.NewNop(),
		policy: gate,
		queue:  newQueue(),
	}
	c.role.Store(roleControllerValue)

	record := &recordtypes.RequestRecord{RequestID: "r1", Status: recordtypes.StatusInProgress, Cost: 1}
	c.queue.add(record)
	c.queue.heartbeats["r1"] = time.Now().Add(-2 * requestLivenessTTL)

	c.runHealthCheck()

	require.Equal(t, 0, c.queue.len())

	// The gate's slot must be back: an immediate Admit for its full
	// capacity should not block.
	admitted := make(chan error, 1)
	go func() { admitted <- gate.Admit(context.Background(), 1) }()

	select {
	case err := <-admitted:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("gate did not release the stale in-progress request's cost")
	}
}

// TestRunHealthCheckIgnoresNonControllers ensures the per-client ticker
// doesn't mutate queue state on workers, which never hold a queue.
func TestRunHealthCheckIgnoresNonControllers(t *testing.T) {
	c := &Client{
		name:   "api",
		spec:   Spec{Name: "api"},
		logger: zap.NewNop(),
		policy: ratelimit.NewConcurrencyGate(1),
		queue:  newQueue(),
	}
	c.role.Store(roleWorkerValue)

	c.queue.add(&recordtypes.RequestRecord{RequestID: "r1", Status: recordtypes.StatusInProgress, Cost: 1})
	c.queue.heartbeats["r1"] = time.Now().Add(-2 * requestLivenessTTL)

	c.runHealthCheck()

	require.Equal(t, 1, c.queue.len())
}

// TestStartStopHealthCheckIsIdempotent guards against double-starting or
// double-stopping the per-client ticker across repeated role flips.
func TestStartStopHealthCheckIsIdempotent(t *testing.T) {
	c := &Client{
		name:   "api",
		spec:   Spec{Name: "api", HealthCheckIntervalMs: 5},
		logger: zap.NewNop(),
		policy: ratelimit.NewConcurrencyGate(1),
		queue:  newQueue(),
	}

	c.startHealthCheck()
	c.startHealthCheck()
	require.NotNil(t, c.healthCancel)

	c.stopHealthCheck()
	c.stopHealthCheck()
	require.Nil(t, c.healthCancel)
}
