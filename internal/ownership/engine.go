package ownership

import (
	"reflect"
	"sync"
	"time"

	"github.com/vivo-us/request-handler/internal/recordtypes"
	"golang.org/x/sync/singleflight"
)

// Engine wraps a Table with this instance's own registration state and
// the recomputation triggers named in §4.2. Multiple pub/sub handlers can
// call Recompute concurrently (instanceStarted, instanceUpdated,
// heartbeat-expiry, local client mutations all fire it); singleflight
// collapses overlapping calls into one pass so ownership is never
// computed against a half-applied table update.
type Engine struct {
	table *Table
	group singleflight.Group

	mu                sync.Mutex
	selfID            string
	selfPriority      int
	registeredClients []string
	roles             map[string]recordtypes.Role

	// onChanged is invoked with the instance's fresh snapshot whenever
	// registeredClients or any role changed since the last persist
	// (§4.2: "the instance updates its registration and publishes
	// instanceUpdated"). The caller owns actually persisting/publishing.
	onChanged func(recordtypes.Instance)
}

// NewEngine constructs an ownership engine for one instance.
func NewEngine(selfID string, priority int, onChanged func(recordtypes.Instance)) *Engine {
	e := &Engine{
		table:        NewTable(selfID),
		selfID:       selfID,
		selfPriority: priority,
		roles:        make(map[string]recordtypes.Role),
		onChanged:    onChanged,
	}

	e.table.Upsert(e.selfSnapshotLocked())

	return e
}

func (e *Engine) selfSnapshotLocked() recordtypes.Instance {
	clients := make([]string, len(e.registeredClients))
	copy(clients, e.registeredClients)

	return recordtypes.Instance{
		ID:                e.selfID,
		Priority:          e.selfPriority,
		Status:            recordtypes.InstanceStarted,
		RegisteredClients: clients,
	}
}

// ObservePeer records a peer's announced state (instanceStarted or
// instanceUpdated) and triggers recomputation.
func (e *Engine) ObservePeer(instance recordtypes.Instance) {
	if instance.ID == e.selfID {
		return
	}

	e.table.Upsert(instance)
	e.Recompute()
}

// ObserveHeartbeat refreshes a peer's liveness timer (instanceHeartbeat).
func (e *Engine) ObserveHeartbeat(instanceID string) {
	if instanceID == e.selfID {
		return
	}

	e.table.Touch(instanceID)
}

// ObserveStopped removes a peer (instanceStopped) and recomputes.
func (e *Engine) ObserveStopped(instanceID string) {
	if instanceID == e.selfID {
		return
	}

	e.table.Remove(instanceID)
	e.Recompute()
}

// ExpireStalePeers evicts peers whose heartbeat is older than ttl and
// recomputes if any were evicted. Returns the evicted ids for logging.
func (e *Engine) ExpireStalePeers(ttl time.Duration) []string {
	expired := e.table.ExpirePeers(ttl)
	if len(expired) > 0 {
		e.Recompute()
	}

	return expired
}

// RegisterClient adds a client name to this instance's registered set
// and recomputes ownership.
func (e *Engine) RegisterClient(name string) {
	e.mu.Lock()
	for _, existing := range e.registeredClients {
		if existing == name {
			e.mu.Unlock()

			return
		}
	}

	e.registeredClients = append(e.registeredClients, name)
	e.mu.Unlock()

	e.Recompute()
}

// DeregisterClient removes a client name (destroyClient) and recomputes.
func (e *Engine) DeregisterClient(name string) {
	e.mu.Lock()
	filtered := e.registeredClients[:0]

	for _, existing := range e.registeredClients {
		if existing != name {
			filtered = append(filtered, existing)
		}
	}

	e.registeredClients = filtered
	delete(e.roles, name)
	e.mu.Unlock()

	e.Recompute()
}

// Recompute re-derives this instance's role for every registered client
// and fires onChanged if registration or any role changed. Safe to call
// from multiple goroutines; concurrent calls collapse via singleflight.
func (e *Engine) Recompute() {
	_, _, _ = e.group.Do("recompute", func() (interface{}, error) {
		e.doRecompute()

		return nil, nil
	})
}

func (e *Engine) doRecompute() {
	e.mu.Lock()
	clients := make([]string, len(e.registeredClients))
	copy(clients, e.registeredClients)
	e.mu.Unlock()

	newRoles := e.table.Roles(clients)

	e.mu.Lock()
	changed := !reflect.DeepEqual(newRoles, e.roles)
	e.roles = newRoles
	snapshot := e.selfSnapshotLocked()
	snapshot.Roles = cloneRoles(newRoles)
	e.mu.Unlock()

	e.table.Upsert(snapshot)

	if changed && e.onChanged != nil {
		e.onChanged(snapshot)
	}
}

func cloneRoles(roles map[string]recordtypes.Role) map[string]recordtypes.Role {
	out := make(map[string]recordtypes.Role, len(roles))
	for k, v := range roles {
		out[k] = v
	}

	return out
}

// RoleFor returns this instance's current role for a client name.
// Defaults to worker if the client isn't registered locally at all.
func (e *Engine) RoleFor(clientName string) recordtypes.Role {
	e.mu.Lock()
	defer e.mu.Unlock()

	if role, ok := e.roles[clientName]; ok {
		return role
	}

	return recordtypes.RoleWorker
}

// Self returns a snapshot of this instance's current registration state.
func (e *Engine) Self() recordtypes.Instance {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.selfSnapshotLocked()
	snap.Roles = cloneRoles(e.roles)

	return snap
}

// Controller returns the fleet-wide controller instance id for a client,
// as seen from this instance's table.
func (e *Engine) Controller(clientName string) (string, bool) {
	return e.table.Controller(clientName)
}

// SelfID returns this instance's own id.
func (e *Engine) SelfID() string {
	return e.selfID
}

// KnownPeerIDs returns every instance id currently in this instance's
// table, including self.
func (e *Engine) KnownPeerIDs() []string {
	return e.table.KnownPeerIDs()
}
