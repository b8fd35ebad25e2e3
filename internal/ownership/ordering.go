// Package ownership implements the leader-election / client-ownership
// protocol (§4.2): every named client is assigned to exactly one
// controller instance, with all other registrants acting as workers.
package ownership

import "github.com/vivo-us/request-handler/internal/recordtypes"

// peer is one known instance's registration state as this process last
// saw it. Heartbeat times are kept separately, in Table.lastHeartbeat.
type peer struct {
	instance recordtypes.Instance
}

// less implements the ordering function (§4.2): higher priority wins;
// ties break by id, lexicographically greater id wins.
func less(a, b *recordtypes.Instance) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}

	return a.ID > b.ID
}

// sortInstances returns instances ordered per the ordering function,
// highest-ranked first.
func sortInstances(instances []*recordtypes.Instance) []*recordtypes.Instance {
	sorted := make([]*recordtypes.Instance, len(instances))
	copy(sorted, instances)

	// Simple insertion sort: fleets are small (tens of instances at most)
	// and this keeps the ordering function (above) the single source of
	// truth for comparisons, rather than reaching for sort.Slice with an
	// inline less func duplicated at every call site.
	for i := 1; i < len(sorted); i++ {
		j := i
		for j > 0 && less(sorted[j], sorted[j-1]) {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
			j--
		}
	}

	return sorted
}

// registers reports whether instance has clientName in its registered set.
func registers(instance *recordtypes.Instance, clientName string) bool {
	for _, name := range instance.RegisteredClients {
		if name == clientName {
			return true
		}
	}

	return false
}
