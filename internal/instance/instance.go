package instance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vivo-us/request-handler/internal/authn"
	"github.com/vivo-us/request-handler/internal/bus"
	"github.com/vivo-us/request-handler/internal/client"
	"github.com/vivo-us/request-handler/internal/ownership"
	"github.com/vivo-us/request-handler/internal/ratelimit"
	"github.com/vivo-us/request-handler/internal/recordtypes"
	"github.com/vivo-us/request-handler/internal/rtransport"
)

const (
	instanceHeartbeatInterval = time.Second
	instanceRegistrationTTL   = 3 * time.Second
	reconcileTTL              = 3 * time.Second
	reconcilePeriod           = 5 * time.Second
)

// Options configures one RequestHandler instance.
type Options struct {
	ID         string
	Priority   int
	HTTPClient *http.Client
	Cipher     authn.Cipher
}

// RequestHandler is the process-level façade (§2 "Instance") tying
// ownership election, the per-client pipelines, and Redis transport
// together for one process in the fleet.
type RequestHandler struct {
	id       string
	priority int

	transport *rtransport.Transport
	fleet     *bus.FleetBus
	localBus  *bus.Bus
	logger    *zap.Logger

	engine     *ownership.Engine
	reconciler *ownership.Reconciler

	httpClient *http.Client
	cipher     authn.Cipher

	genMu           sync.Mutex
	generators      map[string]ClientGenerator
	generatorOwners map[string]string

	mu      sync.RWMutex
	clients map[string]*client.Client

	cancel context.CancelFunc
	done   chan struct{}

	publishInstanceStarted   bus.Publish[recordtypes.Instance]
	publishInstanceUpdated   bus.Publish[recordtypes.Instance]
	publishInstanceStopped   bus.Publish[recordtypes.Instance]
	publishHeartbeat         bus.Publish[recordtypes.Heartbeat]
	publishDestroyClient     bus.Publish[string]
	publishRegenerateClients bus.Publish[[]string]
}

// New builds a RequestHandler. Call Start to join the fleet.
func New(opts Options, transport *rtransport.Transport, fleet *bus.FleetBus, logger *zap.Logger) *RequestHandler {
	h := &RequestHandler{
		id:              opts.ID,
		priority:        opts.Priority,
		transport:       transport,
		fleet:           fleet,
		localBus:        bus.New(),
		logger:          logger,
		httpClient:      opts.HTTPClient,
		cipher:          opts.Cipher,
		clients:         make(map[string]*client.Client),
		generators:      make(map[string]ClientGenerator),
		generatorOwners: make(map[string]string),
		done:            make(chan struct{}),
	}
	if h.httpClient == nil {
		h.httpClient = http.DefaultClient
	}

	h.engine = ownership.NewEngine(opts.ID, opts.Priority, h.onOwnershipChanged)

	h.publishInstanceStarted = bus.PublishFunc[recordtypes.Instance](fleet, rtransport.ChannelInstanceStarted)
	h.publishInstanceUpdated = bus.PublishFunc[recordtypes.Instance](fleet, rtransport.ChannelInstanceUpdated)
	h.publishInstanceStopped = bus.PublishFunc[recordtypes.Instance](fleet, rtransport.ChannelInstanceStopped)
	h.publishHeartbeat = bus.PublishFunc[recordtypes.Heartbeat](fleet, rtransport.ChannelInstanceHeartbeat)
	h.publishDestroyClient = bus.PublishFunc[string](fleet, rtransport.ChannelDestroyClient)
	h.publishRegenerateClients = bus.PublishFunc[[]string](fleet, rtransport.ChannelRegenerateClients)

	return h
}

// Register names a ClientGenerator. Call before Start; RegenerateClients
// re-invokes registered generators by name afterward. Registering under a
// name already in use replaces that generator.
func (h *RequestHandler) Register(name string, gen ClientGenerator) {
	h.genMu.Lock()
	defer h.genMu.Unlock()
	h.generators[name] = gen
}

// Start persists this instance, subscribes to every fleet channel,
// builds the initial client set, and starts heartbeating (§4.2).
func (h *RequestHandler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	if err := h.subscribeAll(runCtx); err != nil {
		cancel()
		return err
	}

	if err := h.persistSelf(runCtx); err != nil {
		cancel()
		return err
	}

	self := h.engine.Self()
	if err := h.publishInstanceStarted(runCtx, &self); err != nil {
		h.logger.Warn("failed to publish instanceStarted", zap.Error(err))
	}

	h.regenerateLocal(nil)

	h.reconciler = ownership.NewReconciler(h.engine, h.transport, reconcileTTL, reconcilePeriod, h.logger)
	h.reconciler.Start(runCtx)

	go h.heartbeatLoop(runCtx)

	return nil
}

// Stop deregisters this instance, publishes instanceStopped, and halts
// background loops.
func (h *RequestHandler) Stop(ctx context.Context) error {
	if h.reconciler != nil {
		h.reconciler.Stop()
	}
	if h.cancel != nil {
		h.cancel()
	}

	self := h.engine.Self()
	self.Status = recordtypes.InstanceStopped
	if err := h.publishInstanceStopped(ctx, &self); err != nil {
		h.logger.Warn("failed to publish instanceStopped", zap.Error(err))
	}

	return h.transport.DeregisterInstance(ctx, h.id)
}

// HandleRequest is the public operation named in §2/§4.4.
func (h *RequestHandler) HandleRequest(ctx context.Context, clientName string, cfg client.RequestConfig) (*client.Response, error) {
	c, ok := h.client(clientName)
	if !ok {
		return nil, fmt.Errorf("instance: unknown client %q", clientName)
	}
	return c.HandleRequest(ctx, cfg)
}

// DestroyClient removes a client fleet-wide (§3 Client lifecycle).
func (h *RequestHandler) DestroyClient(ctx context.Context, name string) error {
	h.removeClientLocal(name)
	return h.publishDestroyClient(ctx, &name)
}

// RegenerateClients is the fleet-wide operation named in §4.2/§6:
// regenerateClients(names?) — it applies locally, then broadcasts so
// every other instance in the fleet reloads the same generators (all
// registered generators if names is empty).
func (h *RequestHandler) RegenerateClients(names ...string) error {
	h.regenerateLocal(names)
	return h.publishRegenerateClients(context.Background(), &names)
}

// regenerateLocal re-invokes the named ClientGenerators (all of them if
// names is empty), diffs the flattened spec set against what this
// instance currently runs for those generators, and creates/destroys
// clients accordingly. Clients owned by generators not selected this
// call are left untouched.
func (h *RequestHandler) regenerateLocal(names []string) {
	h.genMu.Lock()
	selected := names
	if len(selected) == 0 {
		selected = make([]string, 0, len(h.generators))
		for name := range h.generators {
			selected = append(selected, name)
		}
	}

	wanted := make(map[string]client.Spec)
	for _, genName := range selected {
		gen, ok := h.generators[genName]
		if !ok {
			continue
		}
		for _, s := range client.FlattenSpecs(gen()) {
			wanted[s.Name] = s
			h.generatorOwners[s.Name] = genName
		}
	}
	h.genMu.Unlock()

	h.mu.Lock()
	existing := make(map[string]struct{}, len(h.clients))
	for name := range h.clients {
		existing[name] = struct{}{}
	}
	h.mu.Unlock()

	selectedSet := make(map[string]struct{}, len(selected))
	for _, genName := range selected {
		selectedSet[genName] = struct{}{}
	}

	for name := range existing {
		if _, ok := wanted[name]; ok {
			continue
		}

		h.genMu.Lock()
		owner, owned := h.generatorOwners[name]
		h.genMu.Unlock()

		if !owned {
			continue
		}
		if _, inSelection := selectedSet[owner]; !inSelection {
			continue
		}

		h.removeClientLocal(name)
		h.genMu.Lock()
		delete(h.generatorOwners, name)
		h.genMu.Unlock()
	}

	for name, spec := range wanted {
		if _, ok := existing[name]; !ok {
			h.addClientLocal(spec)
		}
	}
}

// FleetSummary reports this instance's view of fleet size and its share
// of controlled clients, surfaced by the coordinator's health endpoint.
type FleetSummary struct {
	InstanceID        string
	FleetSize         int
	ControlledClients int
	TotalClients      int
}

// FleetSummary builds a FleetSummary from this instance's current
// ownership table and client set.
func (h *RequestHandler) FleetSummary() FleetSummary {
	h.mu.RLock()
	total := len(h.clients)
	controlled := 0
	for _, c := range h.clients {
		if c.IsController() {
			controlled++
		}
	}
	h.mu.RUnlock()

	return FleetSummary{
		InstanceID:        h.id,
		FleetSize:         len(h.engine.KnownPeerIDs()),
		ControlledClients: controlled,
		TotalClients:      total,
	}
}

// GetClientStats returns the rate-limit snapshot and current role for
// one client, as seen from this instance.
func (h *RequestHandler) GetClientStats(clientName string) (recordtypes.RateLimitSnapshot, recordtypes.Role, error) {
	c, ok := h.client(clientName)
	if !ok {
		return recordtypes.RateLimitSnapshot{}, "", fmt.Errorf("instance: unknown client %q", clientName)
	}

	role := recordtypes.RoleWorker
	if c.IsController() {
		role = recordtypes.RoleController
	}

	return c.Snapshot(), role, nil
}

func (h *RequestHandler) client(name string) (*client.Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[name]
	return c, ok
}

func (h *RequestHandler) addClientLocal(spec client.Spec) {
	policy, err := h.buildPolicy(spec)
	if err != nil {
		h.logger.Error("failed to build rate limit policy", zap.String("client", spec.Name), zap.Error(err))
		return
	}

	var authenticator *authn.Authenticator
	if spec.Authentication != nil {
		var cache *authn.TokenCache
		if isOAuth2(spec.Authentication.Kind) {
			cache = authn.NewTokenCache(h.transport, h.cipher, h.httpClient)
		}
		authenticator = authn.New(*spec.Authentication, cache)
	}

	c := client.New(spec, client.Deps{
		InstanceID: h.id,
		Transport:  h.transport,
		Fleet:      h.fleet,
		LocalBus:   h.localBus,
		HTTPClient: h.httpClient,
		Authn:      authenticator,
		Policy:     policy,
		Logger:     h.logger,
	})

	h.mu.Lock()
	h.clients[spec.Name] = c
	h.mu.Unlock()

	h.engine.RegisterClient(spec.Name)
}

func (h *RequestHandler) removeClientLocal(name string) {
	h.mu.Lock()
	delete(h.clients, name)
	h.mu.Unlock()

	h.engine.DeregisterClient(name)
}

func (h *RequestHandler) buildPolicy(spec client.Spec) (ratelimit.Policy, error) {
	return ratelimit.FromSpec(spec.RateLimit, h.resolveSharedTarget)
}

func (h *RequestHandler) resolveSharedTarget(name string) (ratelimit.Policy, bool) {
	c, ok := h.client(name)
	if !ok {
		return nil, false
	}
	return c.Policy(), true
}

func isOAuth2(kind authn.Kind) bool {
	return kind == authn.KindOAuth2ClientCreds || kind == authn.KindOAuth2GrantType
}

func (h *RequestHandler) persistSelf(ctx context.Context) error {
	payload, err := json.Marshal(h.engine.Self())
	if err != nil {
		return err
	}
	return h.transport.RegisterInstance(ctx, h.id, payload, instanceRegistrationTTL)
}

// refreshSelf re-arms this instance's registration TTL without re-adding
// it to the fleet set (it's already a member); used by the 1s heartbeat
// cadence so the common case is a single Redis SET, not a pipelined
// SADD+SET every tick.
func (h *RequestHandler) refreshSelf(ctx context.Context) error {
	payload, err := json.Marshal(h.engine.Self())
	if err != nil {
		return err
	}
	return h.transport.RefreshInstance(ctx, h.id, payload, instanceRegistrationTTL)
}

func (h *RequestHandler) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(instanceHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.refreshSelf(ctx); err != nil {
				h.logger.Warn("failed to refresh instance registration", zap.Error(err))
				continue
			}
			hb := recordtypes.Heartbeat{InstanceID: h.id, At: time.Now()}
			if err := h.publishHeartbeat(ctx, &hb); err != nil {
				h.logger.Warn("failed to publish instanceHeartbeat", zap.Error(err))
			}
		}
	}
}

// subscribeAll wires the §4.1 channels to the ownership engine or the
// matching client.Client. clientTokensUpdated and rateLimitUpdated are not
// subscribed: clients publish them, but no instance consumes them.
func (h *RequestHandler) subscribeAll(ctx context.Context) error {
	subs := []func() error{
		func() error {
			return bus.Subscribe(ctx, h.fleet, rtransport.ChannelInstanceStarted, func(_ context.Context, p *recordtypes.Instance) error {
				h.engine.ObservePeer(*p)
				return nil
			})
		},
		func() error {
			return bus.Subscribe(ctx, h.fleet, rtransport.ChannelInstanceUpdated, func(_ context.Context, p *recordtypes.Instance) error {
				h.engine.ObservePeer(*p)
				return nil
			})
		},
		func() error {
			return bus.Subscribe(ctx, h.fleet, rtransport.ChannelInstanceHeartbeat, func(_ context.Context, p *recordtypes.Heartbeat) error {
				h.engine.ObserveHeartbeat(p.InstanceID)
				return nil
			})
		},
		func() error {
			return bus.Subscribe(ctx, h.fleet, rtransport.ChannelInstanceStopped, func(_ context.Context, p *recordtypes.Instance) error {
				h.engine.ObserveStopped(p.ID)
				return nil
			})
		},
		func() error {
			return bus.Subscribe(ctx, h.fleet, rtransport.ChannelRegenerateClients, func(_ context.Context, names *[]string) error {
				h.regenerateLocal(*names)
				return nil
			})
		},
		func() error {
			return bus.Subscribe(ctx, h.fleet, rtransport.ChannelDestroyClient, func(_ context.Context, name *string) error {
				h.removeClientLocal(*name)
				return nil
			})
		},
		func() error {
			return bus.Subscribe(ctx, h.fleet, rtransport.ChannelRequestAdded, func(_ context.Context, r *recordtypes.RequestRecord) error {
				if c, ok := h.client(r.ClientName); ok {
					c.OnRequestAdded(r)
				}
				return nil
			})
		},
		func() error {
			return bus.Subscribe(ctx, h.fleet, rtransport.ChannelRequestHeartbeat, func(_ context.Context, hb *recordtypes.RequestHeartbeat) error {
				if c, ok := h.client(hb.ClientName); ok {
					c.OnRequestHeartbeat(hb)
				}
				return nil
			})
		},
		func() error {
			return bus.Subscribe(ctx, h.fleet, rtransport.ChannelRequestReady, func(_ context.Context, r *recordtypes.RequestRecord) error {
				if c, ok := h.client(r.ClientName); ok {
					c.OnRequestReady(r)
				}
				return nil
			})
		},
		func() error {
			return bus.Subscribe(ctx, h.fleet, rtransport.ChannelRequestDone, func(_ context.Context, o *recordtypes.RequestOutcome) error {
				if c, ok := h.client(o.ClientName); ok {
					c.OnRequestDone(o)
				}
				return nil
			})
		},
	}

	for _, sub := range subs {
		if err := sub(); err != nil {
			return err
		}
	}
	return nil
}

// onOwnershipChanged is the ownership.Engine callback: persist and
// broadcast the new registration/role snapshot, and push SetRole to
// every client whose role actually changed.
func (h *RequestHandler) onOwnershipChanged(snapshot recordtypes.Instance) {
	ctx := context.Background()

	if err := h.persistSelf(ctx); err != nil {
		h.logger.Warn("failed to persist instance after ownership change", zap.Error(err))
	}

	if err := h.publishInstanceUpdated(ctx, &snapshot); err != nil {
		h.logger.Warn("failed to publish instanceUpdated", zap.Error(err))
	}

	for name, role := range snapshot.Roles {
		if c, ok := h.client(name); ok {
			c.SetRole(role)
		}
	}
}
