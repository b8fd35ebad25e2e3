package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vivo-us/request-handler/internal/ratelimit"
)

func TestConcurrencyGateAdmitsWithinCapacity(t *testing.T) {
	gate := ratelimit.NewConcurrencyGate(2)
	ctx := context.Background()

	require.NoError(t, gate.Admit(ctx, 1))
	require.NoError(t, gate.Admit(ctx, 1))

	snap := gate.Snapshot("c")
	assert.Equal(t, 2, snap.InUseCost)
	assert.Equal(t, 2, snap.MaxConcurrency)
}

// TestConcurrencyGateScenarioS2 reproduces §8 S2: A (cost 1), B (cost 1)
// start immediately; C (cost 2) starts only after both A and B finish.
func TestConcurrencyGateScenarioS2(t *testing.T) {
	gate := ratelimit.NewConcurrencyGate(2)
	ctx := context.Background()

	require.NoError(t, gate.Admit(ctx, 1)) // A
	require.NoError(t, gate.Admit(ctx, 1)) // B

	cAdmitted := make(chan struct{})

	go func() {
		_ = gate.Admit(ctx, 2) // C
		close(cAdmitted)
	}()

	select {
	case <-cAdmitted:
		t.Fatal("C must not be admitted before A and B complete")
	case <-time.After(50 * time.Millisecond):
	}

	gate.OnRequestDone(1) // A done
	gate.OnRequestDone(1) // B done

	select {
	case <-cAdmitted:
	case <-time.After(time.Second):
		t.Fatal("C should be admitted once A and B released capacity")
	}
}

func TestConcurrencyGateFreeze(t *testing.T) {
	gate := ratelimit.NewConcurrencyGate(5)
	gate.SetFrozen(true)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := gate.Admit(ctx, 1)
	assert.ErrorIs(t, err, ratelimit.ErrFrozen)
}

func TestConcurrencyGateOnRequestDoneNeverGoesNegative(t *testing.T) {
	gate := ratelimit.NewConcurrencyGate(2)
	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		gate.OnRequestDone(5)
	}()

	wg.Wait()
	assert.Equal(t, 0, gate.Snapshot("c").InUseCost)
}
