package strategy

import (
	"math/rand/v2"

	"github.com/angeloszaimis/mesh-gateway/internal/registry"
)

type Random struct{}

func NewRandom() *Random {
	return &Random{}
}

func (r *Random) SelectInstance(instances []registry.Instance) (registry.Instance, bool) {
	if len(instances) == 0 {
		return registry.Instance{}, false
	}

	return instances[rand.IntN(len(instances))], true
}
