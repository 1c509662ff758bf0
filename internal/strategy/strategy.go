package strategy

import (
	"fmt"

	"github.com/angeloszaimis/mesh-gateway/internal/registry"
)

const (
	TypeRoundRobin       = "round-robin"
	TypeWeighted         = "weighted"
	TypeLeastConnections = "least-connections"
	TypeRandom           = "random"
)

// LoadBalancer picks one instance out of a candidate list. ok is false only
// when instances is empty.
type LoadBalancer interface {
	SelectInstance(instances []registry.Instance) (instance registry.Instance, ok bool)
}

// ConnectionTracker is implemented by balancers that need to be told when a
// call to an instance starts and ends.
type ConnectionTracker interface {
	IncrementConnections(instanceID string)
	DecrementConnections(instanceID string)
}

// Types lists the names accepted by New.
func Types() []string {
	return []string{TypeRoundRobin, TypeWeighted, TypeLeastConnections, TypeRandom}
}

// New builds the balancer registered under strategyType.
func New(strategyType string) (LoadBalancer, error) {
	switch strategyType {
	case TypeRoundRobin:
		return NewRoundRobin(), nil
	case TypeWeighted:
		return NewWeighted(), nil
	case TypeLeastConnections:
		return NewLeastConnections(), nil
	case TypeRandom:
		return NewRandom(), nil
	default:
		return nil, fmt.Errorf("unknown load balancing strategy %q", strategyType)
	}
}
