package health_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vivo-us/request-handler/internal/health"
	"github.com/vivo-us/request-handler/internal/instance"
)

type mockChecker struct {
	err error
}

func (m *mockChecker) Ping(_ context.Context) error {
	return m.err
}

type fakeFleetReporter struct {
	summary instance.FleetSummary
}

func (f *fakeFleetReporter) FleetSummary() instance.FleetSummary {
	return f.summary
}

func TestNewHandler(t *testing.T) {
	checker := &mockChecker{}
	handler := health.NewHandler(checker, &fakeFleetReporter{})

	assert.NotNil(t, handler)
}

func TestHandler_Check(t *testing.T) {
	t.Run("returns ok when redis is healthy", func(t *testing.T) {
		checker := &mockChecker{err: nil}
		fleet := &fakeFleetReporter{summary: instance.FleetSummary{InstanceID: "inst-1", FleetSize: 2, ControlledClients: 1, TotalClients: 3}}
		handler := health.NewHandler(checker, fleet)

		resp, err := handler.Check(context.Background(), nil)

		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Body.Status)
		assert.Equal(t, "healthy", resp.Body.Redis)
		assert.Equal(t, "inst-1", resp.Body.InstanceID)
		assert.Equal(t, 2, resp.Body.FleetSize)
		assert.Equal(t, 1, resp.Body.ControlledClients)
		assert.Equal(t, 3, resp.Body.TotalClients)
	})

	t.Run("returns degraded when redis is unhealthy", func(t *testing.T) {
		checker := &mockChecker{err: errors.New("connection refused")}
		handler := health.NewHandler(checker, &fakeFleetReporter{})

		resp, err := handler.Check(context.Background(), nil)

		require.NoError(t, err)
		assert.Equal(t, "degraded", resp.Body.Status)
		assert.Equal(t, "unhealthy", resp.Body.Redis)
	})
}

func TestRedisChecker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", addr, err)
	}

	t.Run("NewRedisChecker creates checker", func(t *testing.T) {
		checker := health.NewRedisChecker(client)

		assert.NotNil(t, checker)
	})

	t.Run("Ping returns nil when redis is available", func(t *testing.T) {
		checker := health.NewRedisChecker(client)

		err := checker.Ping(context.Background())

		assert.NoError(t, err)
	})
}
