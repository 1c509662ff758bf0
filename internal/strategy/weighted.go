package strategy

import (
	"math/rand/v2"

	"github.com/angeloszaimis/mesh-gateway/internal/registry"
)

// Weighted draws an instance at random with probability proportional to its
// weight (registry.Instance.Weight, default 1).
type Weighted struct {
	rnd func() float64
}

func NewWeighted() *Weighted {
	return &Weighted{rnd: rand.Float64}
}

// NewWeightedWithSource uses rnd, which must return values in [0, 1), instead
// of the global random source.
func NewWeightedWithSource(rnd func() float64) *Weighted {
	return &Weighted{rnd: rnd}
}

func (w *Weighted) SelectInstance(instances []registry.Instance) (registry.Instance, bool) {
	if len(instances) == 0 {
		return registry.Instance{}, false
	}

	weights := make([]float64, len(instances))
	total := 0.0
	for i, instance := range instances {
		weights[i] = instance.Weight()
		total += weights[i]
	}

	remaining := w.rnd() * total
	for i, instance := range instances {
		remaining -= weights[i]
		if remaining <= 0 {
			return instance, true
		}
	}

	// Floating point rounding can leave a sliver above zero.
	return instances[len(instances)-1], true
}
