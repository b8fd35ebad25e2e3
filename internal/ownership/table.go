package ownership

import (
	"sync"
	"time"

	"github.com/vivo-us/request-handler/internal/recordtypes"
)

// Table is the in-memory ownership table one instance keeps of the whole
// fleet, kept in sync via pub/sub (§3 "Ownership table").
type Table struct {
	mu            sync.RWMutex
	selfID        string
	peers         map[string]*peer
	lastHeartbeat map[string]time.Time
}

// NewTable creates an empty table for the given self instance id. Self is
// not added here; callers Upsert it like any other peer (Engine does so on
// construction) so the ordering function treats it uniformly.
func NewTable(selfID string) *Table {
	return &Table{
		selfID:        selfID,
		peers:         make(map[string]*peer),
		lastHeartbeat: make(map[string]time.Time),
	}
}

// Upsert records or replaces a peer's registration state (from
// instanceStarted/instanceUpdated, or the local self-instance after a
// registeredClients mutation).
func (t *Table) Upsert(instance recordtypes.Instance) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.peers[instance.ID] = &peer{instance: instance}
	t.lastHeartbeat[instance.ID] = time.Now()
}

// Touch refreshes a peer's heartbeat timestamp without changing its
// registration state (from instanceHeartbeat).
func (t *Table) Touch(instanceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.peers[instanceID]; ok {
		t.lastHeartbeat[instanceID] = time.Now()
	}
}

// Remove drops a peer from the table (instanceStopped, or heartbeat
// expiry).
func (t *Table) Remove(instanceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.peers, instanceID)
	delete(t.lastHeartbeat, instanceID)
}

// ExpirePeers removes every peer (other than self) whose heartbeat is
// older than ttl and returns their ids, so the caller can re-run
// ownership and log the eviction.
func (t *Table) ExpirePeers(ttl time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []string
	now := time.Now()

	for id, at := range t.lastHeartbeat {
		if id == t.selfID {
			continue
		}

		if now.Sub(at) > ttl {
			expired = append(expired, id)
		}
	}

	for _, id := range expired {
		delete(t.peers, id)
		delete(t.lastHeartbeat, id)
	}

	return expired
}

// snapshot returns a stable copy of all known peer instances for use by
// the ordering function, safe to read without holding the lock.
func (t *Table) snapshot() []*recordtypes.Instance {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*recordtypes.Instance, 0, len(t.peers))
	for _, p := range t.peers {
		inst := p.instance
		out = append(out, &inst)
	}

	return out
}

// Controller returns the instance id that is authoritative for
// clientName, per the ordering function: the highest-ordered instance
// among those that register it.
func (t *Table) Controller(clientName string) (string, bool) {
	candidates := make([]*recordtypes.Instance, 0)

	for _, inst := range t.snapshot() {
		if registers(inst, clientName) {
			candidates = append(candidates, inst)
		}
	}

	if len(candidates) == 0 {
		return "", false
	}

	return sortInstances(candidates)[0].ID, true
}

// Roles computes this instance's role for every client in
// registeredClients, per §4.2: for each client, if any instance
// preceding self in the sort also registers it, self is worker;
// otherwise self is controller.
func (t *Table) Roles(registeredClients []string) map[string]recordtypes.Role {
	roles := make(map[string]recordtypes.Role, len(registeredClients))

	for _, name := range registeredClients {
		controllerID, ok := t.Controller(name)
		if ok && controllerID == t.selfID {
			roles[name] = recordtypes.RoleController
		} else {
			roles[name] = recordtypes.RoleWorker
		}
	}

	return roles
}

// KnownPeerIDs returns every instance id currently in the table,
// including self.
func (t *Table) KnownPeerIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.peers))
	for id := range t.peers {
		ids = append(ids, id)
	}

	return ids
}
