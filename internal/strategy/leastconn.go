package strategy

import (
	"sync"

	"github.com/angeloszaimis/mesh-gateway/internal/registry"
)

// LeastConnections picks the instance with the lowest connection count. The
// counts are driven by the caller through IncrementConnections and
// DecrementConnections; selecting an instance does not change them.
type LeastConnections struct {
	mutex       sync.Mutex
	connections map[string]int
}

func NewLeastConnections() *LeastConnections {
	return &LeastConnections{
		connections: make(map[string]int),
	}
}

// SelectInstance returns the first instance holding the minimum count.
func (lc *LeastConnections) SelectInstance(instances []registry.Instance) (registry.Instance, bool) {
	if len(instances) == 0 {
		return registry.Instance{}, false
	}

	lc.mutex.Lock()
	defer lc.mutex.Unlock()

	best := 0
	bestConns := lc.connections[instances[0].ID]
	for i := 1; i < len(instances); i++ {
		if conns := lc.connections[instances[i].ID]; conns < bestConns {
			best, bestConns = i, conns
		}
	}

	return instances[best], true
}

func (lc *LeastConnections) IncrementConnections(instanceID string) {
	lc.mutex.Lock()
	lc.connections[instanceID]++
	lc.mutex.Unlock()
}

// DecrementConnections never lets a count drop below zero.
func (lc *LeastConnections) DecrementConnections(instanceID string) {
	lc.mutex.Lock()
	defer lc.mutex.Unlock()

	if lc.connections[instanceID] <= 1 {
		delete(lc.connections, instanceID)
		return
	}
	lc.connections[instanceID]--
}

func (lc *LeastConnections) Connections(instanceID string) int {
	lc.mutex.Lock()
	defer lc.mutex.Unlock()
	return lc.connections[instanceID]
}
