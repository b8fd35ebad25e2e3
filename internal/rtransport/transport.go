package rtransport

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Transport is the thin wrapper the domain packages use for Redis state
// instead of issuing go-redis commands themselves. It owns key namespacing
// (§4.1: "<prefix>requestHandler:") and pipelines multi-key writes. It
// knows the instance-registration and OAuth2-cache key layout, but treats
// every payload as opaque bytes or strings and never decodes it.
type Transport struct {
	client *redis.Client
	prefix string
}

// New wraps an already-constructed *redis.Client. Connection lifecycle is
// an application concern (a Non-goal per spec.md §1); Transport never
// dials or closes it.
func New(client *redis.Client, redisKeyPrefix string) *Transport {
	return &Transport{
		client: client,
		prefix: redisKeyPrefix + "requestHandler:",
	}
}

// Key namespaces a logical key under the fleet prefix.
func (t *Transport) Key(suffix string) string {
	return t.prefix + suffix
}

// InstancesSetKey is the Redis set of all live instance ids.
func (t *Transport) InstancesSetKey() string {
	return t.Key("instances")
}

// InstanceKey is the JSON-with-TTL key for one instance's metadata.
func (t *Transport) InstanceKey(instanceID string) string {
	return t.Key("instance:" + instanceID)
}

// OAuth2Key is the hash key storing a client's encrypted OAuth2 cache.
func (t *Transport) OAuth2Key(clientName string) string {
	return t.Key(clientName + ":oauth2")
}

// Publish sends a JSON payload on a channel. Best-effort: Redis pub/sub
// guarantees nothing beyond at-most-once delivery to currently-subscribed
// peers, which is why heartbeats and the reconciliation tick exist.
func (t *Transport) Publish(ctx context.Context, channel string, payload []byte) error {
	return t.client.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a dedicated subscriber connection for the given
// channels. Callers own the returned *redis.PubSub and must Close it.
func (t *Transport) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return t.client.Subscribe(ctx, channels...)
}

// RegisterInstance pipelines the add-to-set + set-with-TTL that makes an
// instance visible to the fleet (§4.2 startup sequence).
func (t *Transport) RegisterInstance(ctx context.Context, instanceID string, payload []byte, ttl time.Duration) error {
	pipe := t.client.Pipeline()
	pipe.SAdd(ctx, t.InstancesSetKey(), instanceID)
	pipe.Set(ctx, t.InstanceKey(instanceID), payload, ttl)
	_, err := pipe.Exec(ctx)

	return err
}

// RefreshInstance re-arms the TTL and rewrites the instance payload
// (heartbeat cadence, §4.2: 1s publish / 3s TTL).
func (t *Transport) RefreshInstance(ctx context.Context, instanceID string, payload []byte, ttl time.Duration) error {
	return t.client.Set(ctx, t.InstanceKey(instanceID), payload, ttl).Err()
}

// DeregisterInstance removes an instance from the fleet set and deletes
// its registration key (called from stop()).
func (t *Transport) DeregisterInstance(ctx context.Context, instanceID string) error {
	pipe := t.client.Pipeline()
	pipe.SRem(ctx, t.InstancesSetKey(), instanceID)
	pipe.Del(ctx, t.InstanceKey(instanceID))
	_, err := pipe.Exec(ctx)

	return err
}

// KnownInstanceIDs lists the fleet's instance set membership.
func (t *Transport) KnownInstanceIDs(ctx context.Context) ([]string, error) {
	return t.client.SMembers(ctx, t.InstancesSetKey()).Result()
}

// GetInstance fetches one instance's raw registration payload. Returns
// redis.Nil (wrapped by the caller) if the key has expired — the
// StaleInstance case in §7.
func (t *Transport) GetInstance(ctx context.Context, instanceID string) ([]byte, error) {
	return t.client.Get(ctx, t.InstanceKey(instanceID)).Bytes()
}

// RemoveStaleInstance drops an id from the fleet set whose registration
// key has already expired (§7 StaleInstance recovery).
func (t *Transport) RemoveStaleInstance(ctx context.Context, instanceID string) error {
	return t.client.SRem(ctx, t.InstancesSetKey(), instanceID).Err()
}

// HSetEncrypted writes an OAuth2 cache hash in one round trip.
func (t *Transport) HSetEncrypted(ctx context.Context, key string, fields map[string]string) error {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	return t.client.HSet(ctx, key, values).Err()
}

// HGetAllEncrypted reads back an OAuth2 cache hash.
func (t *Transport) HGetAllEncrypted(ctx context.Context, key string) (map[string]string, error) {
	return t.client.HGetAll(ctx, key).Result()
}

// Raw exposes the underlying client for operations that don't warrant
// their own wrapper method (kept narrow deliberately; most domain code
// should never need this).
func (t *Transport) Raw() *redis.Client {
	return t.client
}
