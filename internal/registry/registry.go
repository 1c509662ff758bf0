package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInstanceNotFound = errors.New("service instance not found")
	ErrInvalidInstance  = errors.New("invalid service instance")
)

// Config tunes the background health sweep.
type Config struct {
	SweepInterval    time.Duration
	HeartbeatTimeout time.Duration
	ProbeTimeout     time.Duration
	SweepConcurrency int
}

func DefaultConfig() Config {
	return Config{
		SweepInterval:    30 * time.Second,
		HeartbeatTimeout: 60 * time.Second,
		ProbeTimeout:     5 * time.Second,
		SweepConcurrency: 8,
	}
}

// Prober checks an instance's health endpoint. A nil error means healthy.
type Prober interface {
	Probe(ctx context.Context, instance Instance) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, instance Instance) error

func (f ProberFunc) Probe(ctx context.Context, instance Instance) error {
	return f(ctx, instance)
}

// StatusChangeFunc observes instance status changes made by heartbeats or
// the sweep.
type StatusChangeFunc func(instance Instance, from, to Status)

// DeregisterFunc observes instances leaving the registry, or leaving a
// service name when re-registered under another one.
type DeregisterFunc func(instance Instance)

type Option func(*InMemory)

func WithStatusChangeListener(fn StatusChangeFunc) Option {
	return func(r *InMemory) {
		r.onStatusChange = fn
	}
}

func WithDeregisterListener(fn DeregisterFunc) Option {
	return func(r *InMemory) {
		r.onDeregister = fn
	}
}

// InMemory is a process-local service registry. Instances are indexed by id
// and by service name; every read returns copies.
type InMemory struct {
	mutex     sync.RWMutex
	instances map[string]*Instance
	byName    map[string]map[string]struct{}

	config         Config
	prober         Prober
	logger         *slog.Logger
	onStatusChange StatusChangeFunc
	onDeregister   DeregisterFunc

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a registry. prober may be nil, in which case the sweep only
// expires instances whose heartbeat is stale.
func New(config Config, prober Prober, logger *slog.Logger, opts ...Option) *InMemory {
	def := DefaultConfig()
	if config.SweepInterval <= 0 {
		config.SweepInterval = def.SweepInterval
	}
	if config.HeartbeatTimeout <= 0 {
		config.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = def.ProbeTimeout
	}
	if config.SweepConcurrency <= 0 {
		config.SweepConcurrency = def.SweepConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &InMemory{
		instances: make(map[string]*Instance),
		byName:    make(map[string]map[string]struct{}),
		config:    config,
		prober:    prober,
		logger:    logger,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register inserts or replaces the instance with the same id. A missing id is
// generated; missing timestamps default to now and a missing status to healthy.
func (r *InMemory) Register(instance Instance) (Instance, error) {
	if err := instance.Validate(); err != nil {
		return Instance{}, fmt.Errorf("%w: %v", ErrInvalidInstance, err)
	}

	now := time.Now()
	if instance.ID == "" {
		instance.ID = uuid.NewString()
	}
	if instance.RegisteredAt.IsZero() {
		instance.RegisteredAt = now
	}
	if instance.LastHeartbeat.IsZero() {
		instance.LastHeartbeat = now
	}
	if instance.Status == "" {
		instance.Status = StatusHealthy
	}

	stored := instance.clone()

	var moved *Instance
	r.mutex.Lock()
	if previous, ok := r.instances[stored.ID]; ok && previous.Name != stored.Name {
		r.unindex(previous.Name, previous.ID)
		old := previous.clone()
		moved = &old
	}
	r.instances[stored.ID] = &stored
	ids, ok := r.byName[stored.Name]
	if !ok {
		ids = make(map[string]struct{})
		r.byName[stored.Name] = ids
	}
	ids[stored.ID] = struct{}{}
	r.mutex.Unlock()

	if moved != nil && r.onDeregister != nil {
		r.onDeregister(*moved)
	}

	r.logger.Info("Service registered",
		slog.String("service", stored.Name),
		slog.String("id", stored.ID),
		slog.String("address", stored.Address()))

	return stored.clone(), nil
}

// Deregister removes the instance from both indexes.
func (r *InMemory) Deregister(id string) error {
	r.mutex.Lock()
	instance, ok := r.instances[id]
	if !ok {
		r.mutex.Unlock()
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	delete(r.instances, id)
	r.unindex(instance.Name, id)
	removed := instance.clone()
	r.mutex.Unlock()

	r.logger.Info("Service deregistered",
		slog.String("service", removed.Name),
		slog.String("id", id))

	if r.onDeregister != nil {
		r.onDeregister(removed)
	}

	return nil
}

// unindex must be called with the mutex held.
func (r *InMemory) unindex(name, id string) {
	ids := r.byName[name]
	delete(ids, id)
	if len(ids) == 0 {
		delete(r.byName, name)
	}
}

// Discover returns every instance registered under name, ordered by id.
func (r *InMemory) Discover(name string) []Instance {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ids := r.byName[name]
	instances := make([]Instance, 0, len(ids))
	for id := range ids {
		if instance, ok := r.instances[id]; ok {
			instances = append(instances, instance.clone())
		}
	}

	sortByID(instances)
	return instances
}

// HealthyInstances returns the instances of name whose status is healthy.
func (r *InMemory) HealthyInstances(name string) []Instance {
	all := r.Discover(name)

	healthy := all[:0]
	for _, instance := range all {
		if instance.IsHealthy() {
			healthy = append(healthy, instance)
		}
	}

	return healthy
}

// Get returns one instance by id.
func (r *InMemory) Get(id string) (Instance, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	instance, ok := r.instances[id]
	if !ok {
		return Instance{}, false
	}
	return instance.clone(), true
}

// AllServices returns every registered instance, ordered by service name then id.
func (r *InMemory) AllServices() []Instance {
	r.mutex.RLock()
	instances := make([]Instance, 0, len(r.instances))
	for _, instance := range r.instances {
		instances = append(instances, instance.clone())
	}
	r.mutex.RUnlock()

	sort.Slice(instances, func(i, j int) bool {
		if instances[i].Name != instances[j].Name {
			return instances[i].Name < instances[j].Name
		}
		return instances[i].ID < instances[j].ID
	})

	return instances
}

// UpdateHeartbeat records a heartbeat and marks the instance healthy without
// probing it. The sweep may overwrite the status later.
func (r *InMemory) UpdateHeartbeat(id string) error {
	r.mutex.Lock()
	instance, ok := r.instances[id]
	if !ok {
		r.mutex.Unlock()
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}

	instance.LastHeartbeat = time.Now()
	from := instance.Status
	instance.Status = StatusHealthy
	snapshot := instance.clone()
	r.mutex.Unlock()

	r.statusChanged(snapshot, from, "heartbeat received")
	return nil
}

// setStatus applies a sweep result. Instances deregistered meanwhile are skipped.
func (r *InMemory) setStatus(id string, status Status, reason string) {
	r.mutex.Lock()
	instance, ok := r.instances[id]
	if !ok {
		r.mutex.Unlock()
		return
	}

	from := instance.Status
	instance.Status = status
	snapshot := instance.clone()
	r.mutex.Unlock()

	r.statusChanged(snapshot, from, reason)
}

func (r *InMemory) statusChanged(instance Instance, from Status, reason string) {
	if from == instance.Status {
		return
	}

	attrs := []any{
		slog.String("service", instance.Name),
		slog.String("id", instance.ID),
		slog.String("from", string(from)),
		slog.String("to", string(instance.Status)),
		slog.String("reason", reason),
	}
	if instance.IsHealthy() {
		r.logger.Info("Service instance is back up", attrs...)
	} else {
		r.logger.Warn("Service instance is down", attrs...)
	}

	if r.onStatusChange != nil {
		r.onStatusChange(instance, from, instance.Status)
	}
}

func sortByID(instances []Instance) {
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].ID < instances[j].ID
	})
}
