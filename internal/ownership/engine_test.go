package ownership_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vivo-us/request-handler/internal/ownership"
	"github.com/vivo-us/request-handler/internal/recordtypes"
)

func TestEngineBecomesControllerWhenNoPeerPrecedesIt(t *testing.T) {
	var changes []recordtypes.Instance
	var mu sync.Mutex

	engine := ownership.NewEngine("self", 5, func(inst recordtypes.Instance) {
		mu.Lock()
		changes = append(changes, inst)
		mu.Unlock()
	})

	engine.RegisterClient("api")

	assert.Equal(t, recordtypes.RoleController, engine.RoleFor("api"))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, changes)
}

func TestEngineBecomesWorkerWhenHigherPriorityPeerRegisters(t *testing.T) {
	engine := ownership.NewEngine("self", 1, func(recordtypes.Instance) {})
	engine.RegisterClient("api")
	require.Equal(t, recordtypes.RoleController, engine.RoleFor("api"))

	engine.ObservePeer(recordtypes.Instance{ID: "peer-high", Priority: 2, RegisteredClients: []string{"api"}})

	assert.Equal(t, recordtypes.RoleWorker, engine.RoleFor("api"))
}

// TestEngineFailoverScenarioS4 reproduces §8 S4: once the top-priority
// peer stops heartbeating and is evicted, the next-highest instance
// takes over as controller, and only one instance holds the role at
// quiescence (invariant 1).
func TestEngineFailoverScenarioS4(t *testing.T) {
	engine := ownership.NewEngine("self", 2, func(recordtypes.Instance) {})
	engine.RegisterClient("api")
	engine.ObservePeer(recordtypes.Instance{ID: "top", Priority: 3, RegisteredClients: []string{"api"}})

	require.Equal(t, recordtypes.RoleWorker, engine.RoleFor("api"))

	engine.ObserveStopped("top")

	assert.Equal(t, recordtypes.RoleController, engine.RoleFor("api"))
}

func TestEngineDeregisterClientDropsRole(t *testing.T) {
	engine := ownership.NewEngine("self", 1, func(recordtypes.Instance) {})
	engine.RegisterClient("api")
	require.Equal(t, recordtypes.RoleController, engine.RoleFor("api"))

	engine.DeregisterClient("api")

	assert.Equal(t, recordtypes.RoleWorker, engine.RoleFor("api"))
	assert.NotContains(t, engine.Self().RegisteredClients, "api")
}

func TestEngineExpireStalePeersTriggersRecompute(t *testing.T) {
	engine := ownership.NewEngine("self", 1, func(recordtypes.Instance) {})
	engine.RegisterClient("api")
	engine.ObservePeer(recordtypes.Instance{ID: "peer-high", Priority: 5, RegisteredClients: []string{"api"}})
	require.Equal(t, recordtypes.RoleWorker, engine.RoleFor("api"))

	expired := engine.ExpireStalePeers(-time.Nanosecond)
	require.Contains(t, expired, "peer-high")

	assert.Equal(t, recordtypes.RoleController, engine.RoleFor("api"))
}

func TestEngineConcurrentRecomputeIsSafe(t *testing.T) {
	engine := ownership.NewEngine("self", 1, func(recordtypes.Instance) {})
	engine.RegisterClient("api")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			engine.Recompute()
		}()
	}

	wg.Wait()
	assert.Equal(t, recordtypes.RoleController, engine.RoleFor("api"))
}
