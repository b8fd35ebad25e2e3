// Package container wires the coordinator's dependencies using
// samber/do, mirroring the teacher's Package-per-concern registration
// style (internal/container in the reference pack).
package container

import (
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor" // CBOR format support for huma
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"go.uber.org/zap"

	"github.com/vivo-us/request-handler/internal/authn"
	"github.com/vivo-us/request-handler/internal/bus"
	"github.com/vivo-us/request-handler/internal/client"
	"github.com/vivo-us/request-handler/internal/handlers"
	"github.com/vivo-us/request-handler/internal/health"
	"github.com/vivo-us/request-handler/internal/instance"
	"github.com/vivo-us/request-handler/internal/metrics"
	"github.com/vivo-us/request-handler/internal/recordtypes"
	"github.com/vivo-us/request-handler/internal/rtransport"
)

// Options configures one coordinator process. cmd/coordinator fills
// every field through humacli's CLI/env parser; cmd/worker sets only
// RedisAddr and LogFormat (from REDIS_ADDR and LOG_FORMAT), so there the
// other fields keep their Go zero values and the struct-tag defaults do
// not apply.
type Options struct {
	Port                int    `default:"8888"            help:"Port to listen on"                short:"p"`
	RedisAddr           string `default:"localhost:6379"  env:"REDIS_ADDR"            help:"Redis address" short:"r"`
	RedisKeyPrefix      string `default:"requesthandler:" env:"REDIS_KEY_PREFIX"       help:"Key prefix for transport state"`
	LogFormat           string `default:"console"         env:"LOG_FORMAT"            help:"console or json"`
	InstanceID          string `env:"INSTANCE_ID"          help:"Stable instance ID (derived from the start time if empty)"`
	InstancePriority    int    `default:"0"                env:"INSTANCE_PRIORITY"    help:"Tiebreaker for controller election, higher wins"`
	CredentialCipherKey string `env:"CREDENTIAL_CIPHER_KEY" help:"Key for encrypting cached OAuth2 tokens; its raw bytes are zero-padded or truncated to 32"`
}

// LoggerPackage provides the zap logger, matching the teacher's
// console/json switch in internal/container.
func LoggerPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*zap.Logger, error) {
		opts := do.MustInvoke[*Options](i)

		if opts.LogFormat == "json" {
			return zap.NewProduction()
		}

		return zap.NewDevelopment()
	})
}

// RedisClient wraps redis.Client to implement do.Shutdownable.
type RedisClient struct {
	*redis.Client
}

// Shutdown implements do.Shutdownable.
func (r *RedisClient) Shutdown() error {
	if r.Client != nil {
		return r.Close()
	}
	return nil
}

// RedisPackage provides the shared Redis client backing transport state,
// the fleet bus, and the OAuth2 token cache.
func RedisPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*RedisClient, error) {
		opts := do.MustInvoke[*Options](i)

		return &RedisClient{
			Client: redis.NewClient(&redis.Options{
				Addr: opts.RedisAddr,
			}),
		}, nil
	})
}

// TransportPackage provides the Redis-backed registration/cache
// transport shared by instance and authn.
func TransportPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*rtransport.Transport, error) {
		opts := do.MustInvoke[*Options](i)
		redisClient := do.MustInvoke[*RedisClient](i)

		return rtransport.New(redisClient.Client, opts.RedisKeyPrefix), nil
	})
}

// InstanceID is the stable identifier this process registers under; a
// single value is provided so every package that needs it (the fleet
// bus's consumer group, the RequestHandler façade) agrees on it.
type InstanceID string

// InstanceIDPackage resolves the configured or generated instance ID
// once, so the fleet bus's consumer group name matches the instance
// façade's registration ID.
func InstanceIDPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (InstanceID, error) {
		opts := do.MustInvoke[*Options](i)
		return InstanceID(instanceID(opts)), nil
	})
}

// FleetBusPackage provides the Watermill/Redis-Streams fleet bus
// (do.Shutdownable via Shutdown()).
func FleetBusPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*bus.FleetBus, error) {
		redisClient := do.MustInvoke[*RedisClient](i)
		logger := do.MustInvoke[*zap.Logger](i)
		id := do.MustInvoke[InstanceID](i)

		return bus.NewFleetBus(redisClient.Client, string(id), logger)
	})
}

// CipherPackage provides the AES-GCM cipher guarding cached OAuth2
// tokens. A cipher is always available; with no configured key it uses
// an all-zero 32-byte key, the same on every start.
func CipherPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (authn.Cipher, error) {
		opts := do.MustInvoke[*Options](i)
		return authn.NewAESGCMCipher(cipherKey(opts.CredentialCipherKey))
	})
}

// InstancePackage provides the process-level RequestHandler façade.
func InstancePackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*instance.RequestHandler, error) {
		opts := do.MustInvoke[*Options](i)
		transport := do.MustInvoke[*rtransport.Transport](i)
		fleet := do.MustInvoke[*bus.FleetBus](i)
		logger := do.MustInvoke[*zap.Logger](i)
		cipher := do.MustInvoke[authn.Cipher](i)
		id := do.MustInvoke[InstanceID](i)

		handler := instance.New(instance.Options{
			ID:       string(id),
			Priority: opts.InstancePriority,
			Cipher:   cipher,
		}, transport, fleet, logger)

		// §6: clientName "default" always exists. Registering its
		// generator is the coordinator's responsibility; the generator's
		// own contents (beyond a no-limit policy) are an application
		// concern — a Non-goal per §1.
		handler.Register("default", defaultClientGenerator)

		return handler, nil
	})
}

func defaultClientGenerator() []client.Spec {
	return []client.Spec{
		{
			Name:         "default",
			RateLimit:    recordtypes.RateLimitSpec{Kind: recordtypes.KindNoLimit},
			RetryOptions: client.DefaultRetryOptions(),
		},
	}
}

// HTTPPackage provides the router, API, and registers the management
// routes (health, client stats, regenerate, destroy) — this is the
// surface carried by cmd/coordinator only, not cmd/worker.
func HTTPPackage(i *do.Injector) {
	do.Provide(i, func(_ *do.Injector) (*chi.Mux, error) {
		return chi.NewMux(), nil
	})

	do.Provide(i, func(i *do.Injector) (huma.API, error) {
		router := do.MustInvoke[*chi.Mux](i)
		redisClient := do.MustInvoke[*RedisClient](i)
		handler := do.MustInvoke[*instance.RequestHandler](i)

		api := humachi.New(router, huma.DefaultConfig("Request Coordinator", "1.0.0"))

		healthHandler := health.NewHandler(health.NewRedisChecker(redisClient.Client), handler)
		health.RegisterRoutes(api, healthHandler)

		coordinatorHandler := handlers.NewCoordinatorHandler(handler)
		handlers.RegisterRoutes(api, coordinatorHandler)

		router.Mount("/metrics", metrics.Handler())

		return api, nil
	})
}

func instanceID(opts *Options) string {
	if opts.InstanceID != "" {
		return opts.InstanceID
	}
	return "instance-" + time.Now().Format("20060102T150405.000000000")
}

func cipherKey(raw string) []byte {
	key := make([]byte, 32)
	copy(key, []byte(raw))
	return key
}
