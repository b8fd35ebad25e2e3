package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vivo-us/request-handler/internal/bus"
	"github.com/vivo-us/request-handler/internal/client"
	"github.com/vivo-us/request-handler/internal/ratelimit"
	"github.com/vivo-us/request-handler/internal/recordtypes"
	"github.com/vivo-us/request-handler/internal/rtransport"
)

func newTestDeps(t *testing.T) (client.Deps, *bus.FleetBus) {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	transport := rtransport.New(redisClient, "test:")

	fleet, err := bus.NewFleetBus(redisClient, "inst-1", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = fleet.Shutdown() })

	return client.Deps{
		InstanceID: "inst-1",
		Transport:  transport,
		Fleet:      fleet,
		LocalBus:   bus.New(),
		HTTPClient: http.DefaultClient,
		Logger:     zap.NewNop(),
	}, fleet
}

func TestClientHandleRequestNoLimitFastPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	deps, _ := newTestDeps(t)
	deps.Policy = ratelimit.NewNoLimit()

	c := client.New(client.Spec{Name: "api", RetryOptions: client.DefaultRetryOptions()}, deps)

	resp, err := c.HandleRequest(context.Background(), client.RequestConfig{Method: http.MethodGet, URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(resp.Body))
}

// TestClientControllerAdmitsAndRetriesOn5xx wires a single instance as
// both controller and originator (self-loop via the fleet bus) using a
// concurrency gate, and exercises the §4.5 retry path: the server fails
// once with a 503 then succeeds.
func TestClientControllerAdmitsAndRetriesOn5xx(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	deps, fleet := newTestDeps(t)
	deps.Policy = ratelimit.NewConcurrencyGate(2)

	c := client.New(client.Spec{
		Name: "api",
		RetryOptions: client.RetryOptions{
			MaxRetries: 3, RetryBackoffBaseTimeMs: 1, RetryBackoffMethod: "linear", Retry5xxs: true, ThawRequestCount: 3,
		},
	}, deps)
	c.SetRole(recordtypes.RoleController)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx, fleet, rtransport.ChannelRequestAdded, func(_ context.Context, p *recordtypes.RequestRecord) error {
		c.OnRequestAdded(p)
		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx, fleet, rtransport.ChannelRequestReady, func(_ context.Context, p *recordtypes.RequestRecord) error {
		c.OnRequestReady(p)
		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx, fleet, rtransport.ChannelRequestDone, func(_ context.Context, p *recordtypes.RequestOutcome) error {
		c.OnRequestDone(p)
		return nil
	}))

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer reqCancel()

	resp, err := c.HandleRequest(reqCtx, client.RequestConfig{Method: http.MethodGet, URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, attempts)
}
