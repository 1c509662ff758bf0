package strategy

import (
	"sync"

	"github.com/angeloszaimis/mesh-gateway/internal/registry"
)

// RoundRobin keeps one ever-increasing counter per service name. Counters are
// never reset, so when membership changes the rotation simply continues from
// the current position modulo the new list length.
type RoundRobin struct {
	mutex    sync.Mutex
	counters map[string]uint64
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{
		counters: make(map[string]uint64),
	}
}

func (rr *RoundRobin) SelectInstance(instances []registry.Instance) (registry.Instance, bool) {
	if len(instances) == 0 {
		return registry.Instance{}, false
	}

	name := instances[0].Name

	rr.mutex.Lock()
	n := rr.counters[name]
	rr.counters[name] = n + 1
	rr.mutex.Unlock()

	return instances[n%uint64(len(instances))], true
}
