package ratelimit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vivo-us/request-handler/internal/ratelimit"
	"github.com/vivo-us/request-handler/internal/recordtypes"
)

func TestNoLimitAlwaysAdmitsImmediately(t *testing.T) {
	policy := ratelimit.NewNoLimit()

	assert.NoError(t, policy.Admit(context.Background(), 100))
	assert.Equal(t, recordtypes.KindNoLimit, policy.Snapshot("c").Kind)
}
