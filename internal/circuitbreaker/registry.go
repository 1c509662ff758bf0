package circuitbreaker

import (
	"sort"
	"sync"
)

// Registry is the directory of named breakers. One Registry is constructed per
// process and injected into the components that need it.
type Registry struct {
	mutex    sync.RWMutex
	breakers map[string]*CircuitBreaker
	opts     []Option
}

// NewRegistry creates an empty registry. The options are applied to every
// breaker the registry creates.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		opts:     opts,
	}
}

// Create builds a breaker and stores it under name, replacing any breaker
// previously registered with that name.
func (r *Registry) Create(name string, config Config) *CircuitBreaker {
	cb := New(name, config, r.opts...)

	r.mutex.Lock()
	r.breakers[name] = cb
	r.mutex.Unlock()

	return cb
}

// Get returns the breaker registered under name.
func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	cb, ok := r.breakers[name]
	return cb, ok
}

// GetOrCreate returns the existing breaker for name or registers a new one
// built from config.
func (r *Registry) GetOrCreate(name string, config Config) *CircuitBreaker {
	if cb, ok := r.Get(name); ok {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	cb := New(name, config, r.opts...)
	r.breakers[name] = cb
	return cb
}

// Names returns the registered breaker names in sorted order.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	r.mutex.RUnlock()

	sort.Strings(names)
	return names
}

func (r *Registry) AllMetrics() map[string]Metrics {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	metrics := make(map[string]Metrics, len(r.breakers))
	for name, cb := range r.breakers {
		metrics[name] = cb.Metrics()
	}
	return metrics
}

// ResetAll resets every registered breaker. The breakers stay registered.
func (r *Registry) ResetAll() {
	r.mutex.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mutex.RUnlock()

	for _, cb := range breakers {
		cb.Reset()
	}
}
