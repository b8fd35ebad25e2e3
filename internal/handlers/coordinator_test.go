package handlers_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vivo-us/request-handler/internal/bus"
	"github.com/vivo-us/request-handler/internal/client"
	"github.com/vivo-us/request-handler/internal/handlers"
	"github.com/vivo-us/request-handler/internal/instance"
	"github.com/vivo-us/request-handler/internal/recordtypes"
	"github.com/vivo-us/request-handler/internal/rtransport"
)

func newTestHandler(t *testing.T) *instance.RequestHandler {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	transport := rtransport.New(redisClient, "test:")

	fleet, err := bus.NewFleetBus(redisClient, "inst-1", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = fleet.Shutdown() })

	h := instance.New(instance.Options{ID: "inst-1", Priority: 1}, transport, fleet, zap.NewNop())
	h.Register("api-gen", func() []client.Spec {
		return []client.Spec{{Name: "api", RetryOptions: client.DefaultRetryOptions()}}
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, h.Start(ctx))

	// Ownership election settles asynchronously; a single-instance fleet
	// always elects itself controller, usually within one recompute tick.
	require.Eventually(t, func() bool {
		_, role, err := h.GetClientStats("api")
		return err == nil && role == recordtypes.RoleController
	}, time.Second, 10*time.Millisecond)

	return h
}

func TestGetClientStatsReturnsSnapshotAndRole(t *testing.T) {
	h := newTestHandler(t)
	ch := handlers.NewCoordinatorHandler(h)

	resp, err := ch.GetClientStats(context.Background(), &handlers.ClientStatsRequest{Client: "api"})
	require.NoError(t, err)
	require.Equal(t, "api", resp.Body.Client)
	require.Equal(t, string(recordtypes.RoleController), resp.Body.Role)
}

func TestGetClientStatsUnknownClientReturns404(t *testing.T) {
	h := newTestHandler(t)
	ch := handlers.NewCoordinatorHandler(h)

	_, err := ch.GetClientStats(context.Background(), &handlers.ClientStatsRequest{Client: "missing"})
	require.Error(t, err)
}

func TestDestroyClientRemovesIt(t *testing.T) {
	h := newTestHandler(t)
	ch := handlers.NewCoordinatorHandler(h)

	_, err := ch.DestroyClient(context.Background(), &handlers.DestroyClientRequest{Client: "api"})
	require.NoError(t, err)

	_, err = ch.GetClientStats(context.Background(), &handlers.ClientStatsRequest{Client: "api"})
	require.Error(t, err)
}
