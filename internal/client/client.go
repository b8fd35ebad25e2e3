package client

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vivo-us/request-handler/internal/authn"
	"github.com/vivo-us/request-handler/internal/bus"
	"github.com/vivo-us/request-handler/internal/metrics"
	"github.com/vivo-us/request-handler/internal/ratelimit"
	"github.com/vivo-us/request-handler/internal/recordtypes"
	"github.com/vivo-us/request-handler/internal/rtransport"
)

// requestHeartbeatInterval and requestLivenessTTL implement §4.4's
// "Request liveness": originators heartbeat in-flight requests every
// second; the controller discards any request whose heartbeat lapses
// for 3s (handles originator crashes).
const (
	requestHeartbeatInterval = time.Second
	requestLivenessTTL       = 3 * time.Second
)

// tickerPolicy is satisfied by *ratelimit.TokenBucket. Named narrowly so
// Client can start/stop the background refill ticker only while it is
// controller, without importing the concrete type here.
type tickerPolicy interface {
	Start(ctx context.Context)
	Stop()
}

// Client is the per-named-target coordinator of §2/§3. One Client exists
// per flattened Spec on every instance; role (controller vs worker) is
// driven entirely by ownership.Engine and toggled via SetRole.
type Client struct {
	name   string
	spec   Spec
	logger *zap.Logger

	instanceID string
	transport  *rtransport.Transport
	fleet      *bus.FleetBus
	localBus   *bus.Bus

	httpClient *http.Client
	authn      *authn.Authenticator

	policy ratelimit.Policy

	role atomic.Int32

	queue *queue

	admissionRunning atomic.Bool

	freezeMu    sync.Mutex
	frozen      bool
	freezeTimer *time.Timer
	thawCount   int
	thawGateID  string

	healthMu     sync.Mutex
	healthCancel context.CancelFunc

	publishRequestAdded        bus.Publish[recordtypes.RequestRecord]
	publishRequestReady        bus.Publish[recordtypes.RequestRecord]
	publishRequestDone         bus.Publish[recordtypes.RequestOutcome]
	publishHeartbeat           bus.Publish[recordtypes.RequestHeartbeat]
	publishClientTokensUpdated bus.Publish[recordtypes.RateLimitSnapshot]
	publishRateLimitUpdated    bus.Publish[recordtypes.RateLimitSnapshot]
}

// Deps bundles a Client's collaborators so New's signature stays
// readable as the coordinator grows more of them.
type Deps struct {
	InstanceID string
	Transport  *rtransport.Transport
	Fleet      *bus.FleetBus
	LocalBus   *bus.Bus
	HTTPClient *http.Client
	Authn      *authn.Authenticator
	Policy     ratelimit.Policy
	Logger     *zap.Logger
}

const (
	roleWorkerValue     = 0
	roleControllerValue = 1
)

// New builds a Client for one flattened Spec. It starts as a worker;
// ownership.Engine promotes it via SetRole once the election settles.
func New(spec Spec, deps Deps) *Client {
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		name:       spec.Name,
		spec:       spec,
		logger:     deps.Logger,
		instanceID: deps.InstanceID,
		transport:  deps.Transport,
		fleet:      deps.Fleet,
		localBus:   deps.LocalBus,
		httpClient: httpClient,
		authn:      deps.Authn,
		policy:     deps.Policy,
		queue:      newQueue(),

		publishRequestAdded:        bus.PublishFunc[recordtypes.RequestRecord](deps.Fleet, rtransport.ChannelRequestAdded),
		publishRequestReady:        bus.PublishFunc[recordtypes.RequestRecord](deps.Fleet, rtransport.ChannelRequestReady),
		publishRequestDone:         bus.PublishFunc[recordtypes.RequestOutcome](deps.Fleet, rtransport.ChannelRequestDone),
		publishHeartbeat:           bus.PublishFunc[recordtypes.RequestHeartbeat](deps.Fleet, rtransport.ChannelRequestHeartbeat),
		publishClientTokensUpdated: bus.PublishFunc[recordtypes.RateLimitSnapshot](deps.Fleet, rtransport.ChannelClientTokensUpdated),
		publishRateLimitUpdated:    bus.PublishFunc[recordtypes.RateLimitSnapshot](deps.Fleet, rtransport.ChannelRateLimitUpdated),
	}
	c.role.Store(roleWorkerValue)

	return c
}

// SetRole is called by the instance façade whenever ownership.Engine
// recomputes roles. Transitioning into controller starts the token
// bucket's background ticker (if any); transitioning out stops it.
func (c *Client) SetRole(role recordtypes.Role) {
	wasController := c.IsController()
	isController := role == recordtypes.RoleController
	c.setRoleValue(isController)

	if tp, ok := c.policy.(tickerPolicy); ok {
		if isController && !wasController {
			tp.Start(context.Background())
		} else if !isController && wasController {
			tp.Stop()
		}
	}

	if isController && !wasController {
		c.startHealthCheck()
	} else if !isController && wasController {
		c.stopHealthCheck()
	}

	if isController != wasController {
		roleLabel := "worker"
		delta := -1.0
		if isController {
			roleLabel = "controller"
			delta = 1.0
		}
		metrics.ControllerTransitions.WithLabelValues(c.name, roleLabel).Inc()
		metrics.ControllerClients.Add(delta)
	}

	if isController && !wasController {
		c.trigger()
	}
}

func (c *Client) setRoleValue(isController bool) {
	if isController {
		c.role.Store(roleControllerValue)
	} else {
		c.role.Store(roleWorkerValue)
	}
}

// IsController reports this instance's current role for this client.
func (c *Client) IsController() bool {
	return c.role.Load() == roleControllerValue
}

// Name returns the effective (possibly "parent:child") client name.
func (c *Client) Name() string { return c.name }

// Policy exposes the underlying rate-limit policy so a Shared policy on
// another client can resolve this one as its forwarding target.
func (c *Client) Policy() ratelimit.Policy { return c.policy }

// Snapshot returns the advisory rate-limit state for stats endpoints.
func (c *Client) Snapshot() recordtypes.RateLimitSnapshot {
	return c.policy.Snapshot(c.name)
}
