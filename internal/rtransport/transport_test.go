package rtransport_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/vivo-us/request-handler/internal/rtransport"
)

func newTestTransport(t *testing.T) *rtransport.Transport {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	return rtransport.New(client, "test:")
}

func TestRegisterAndDeregisterInstance(t *testing.T) {
	transport := newTestTransport(t)
	ctx := context.Background()

	require.NoError(t, transport.RegisterInstance(ctx, "inst-1", []byte(`{"id":"inst-1"}`), 3*time.Second))

	ids, err := transport.KnownInstanceIDs(ctx)
	require.NoError(t, err)
	require.Contains(t, ids, "inst-1")

	payload, err := transport.GetInstance(ctx, "inst-1")
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"inst-1"}`, string(payload))

	require.NoError(t, transport.DeregisterInstance(ctx, "inst-1"))

	ids, err = transport.KnownInstanceIDs(ctx)
	require.NoError(t, err)
	require.NotContains(t, ids, "inst-1")
}

func TestRefreshInstanceRearmsTTL(t *testing.T) {
	transport := newTestTransport(t)
	ctx := context.Background()

	require.NoError(t, transport.RegisterInstance(ctx, "inst-1", []byte("v1"), time.Second))
	require.NoError(t, transport.RefreshInstance(ctx, "inst-1", []byte("v2"), 3*time.Second))

	payload, err := transport.GetInstance(ctx, "inst-1")
	require.NoError(t, err)
	require.Equal(t, "v2", string(payload))

	ttl, err := transport.Raw().TTL(ctx, transport.InstanceKey("inst-1")).Result()
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, ttl)
}

func TestEncryptedHashRoundTrip(t *testing.T) {
	transport := newTestTransport(t)
	ctx := context.Background()

	key := transport.OAuth2Key("api")
	require.NoError(t, transport.HSetEncrypted(ctx, key, map[string]string{
		"accessToken": "ciphertext",
		"expiresAt":   "123456",
	}))

	fields, err := transport.HGetAllEncrypted(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "ciphertext", fields["accessToken"])
	require.Equal(t, "123456", fields["expiresAt"])
}
