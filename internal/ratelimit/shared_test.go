package ratelimit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vivo-us/request-handler/internal/ratelimit"
)

func TestSharedForwardsToTarget(t *testing.T) {
	target := ratelimit.NewConcurrencyGate(1)
	resolve := func(name string) (ratelimit.Policy, bool) {
		if name == "parent" {
			return target, true
		}

		return nil, false
	}

	shared := ratelimit.NewShared("parent", resolve)

	require.NoError(t, shared.Admit(context.Background(), 1))
	assert.Equal(t, 1, target.Snapshot("parent").InUseCost)

	shared.OnRequestDone(1)
	assert.Equal(t, 0, target.Snapshot("parent").InUseCost)
}

func TestSharedUnknownTargetErrors(t *testing.T) {
	shared := ratelimit.NewShared("missing", func(string) (ratelimit.Policy, bool) { return nil, false })

	err := shared.Admit(context.Background(), 1)
	assert.ErrorIs(t, err, ratelimit.ErrUnknownTarget)
}
