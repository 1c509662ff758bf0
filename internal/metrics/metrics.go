package metrics

import (
	"sort"
	"sync"
	"time"
)

// maxSamples bounds the duration window kept per service.
const maxSamples = 1000

type serviceStats struct {
	calls      int64
	attempts   int64
	outcomes   map[string]int64
	selections map[string]int64
	durations  []time.Duration
	instances  map[string]bool
}

func newServiceStats() *serviceStats {
	return &serviceStats{
		outcomes:   make(map[string]int64),
		selections: make(map[string]int64),
		instances:  make(map[string]bool),
	}
}

type breakerStats struct {
	state       string
	transitions int64
}

type Metrics struct {
	mutex     sync.RWMutex
	services  map[string]*serviceStats
	breakers  map[string]*breakerStats
	startTime time.Time
}

type Snapshot struct {
	TotalCalls int64                     `json:"total_calls"`
	Uptime     time.Duration             `json:"uptime"`
	Strategy   string                    `json:"strategy"`
	Services   map[string]ServiceMetrics `json:"services"`
	Breakers   map[string]BreakerMetrics `json:"breakers"`
}

type ServiceMetrics struct {
	Calls       int64            `json:"calls"`
	Retries     int64            `json:"retries"`
	Outcomes    map[string]int64 `json:"outcomes"`
	Selections  map[string]int64 `json:"selections"`
	Instances   map[string]bool  `json:"instances"`
	AvgDuration time.Duration    `json:"avg_duration"`
	P50Duration time.Duration    `json:"p50_duration"`
	P95Duration time.Duration    `json:"p95_duration"`
	P99Duration time.Duration    `json:"p99_duration"`
}

type BreakerMetrics struct {
	State       string `json:"state"`
	Transitions int64  `json:"transitions"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		services:  make(map[string]*serviceStats),
		breakers:  make(map[string]*breakerStats),
		startTime: time.Now(),
	}
}

// service must be called with the mutex held.
func (m *Metrics) service(name string) *serviceStats {
	s, ok := m.services[name]
	if !ok {
		s = newServiceStats()
		m.services[name] = s
	}
	return s
}

func (m *Metrics) RecordCall(service, instance, outcome string, attempts int, duration time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	s := m.service(service)
	s.calls++
	s.outcomes[outcome]++
	if attempts > 1 {
		s.attempts += int64(attempts - 1)
	}
	if instance != "" {
		s.selections[instance]++
	}

	s.durations = append(s.durations, duration)
	if len(s.durations) > maxSamples {
		s.durations = s.durations[1:]
	}
}

func (m *Metrics) RecordTransition(breaker, to string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	b, ok := m.breakers[breaker]
	if !ok {
		b = &breakerStats{}
		m.breakers[breaker] = b
	}
	b.state = to
	b.transitions++
}

func (m *Metrics) UpdateInstanceHealth(service, instance string, healthy bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.service(service).instances[instance] = healthy
}

func (m *Metrics) RemoveInstance(service, instance string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if s, ok := m.services[service]; ok {
		delete(s.instances, instance)
	}
}

func (m *Metrics) Snapshot(strategy string) Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:   time.Since(m.startTime),
		Strategy: strategy,
		Services: make(map[string]ServiceMetrics, len(m.services)),
		Breakers: make(map[string]BreakerMetrics, len(m.breakers)),
	}

	for name, s := range m.services {
		snap.TotalCalls += s.calls

		sm := ServiceMetrics{
			Calls:      s.calls,
			Retries:    s.attempts,
			Outcomes:   copyMap(s.outcomes),
			Selections: copyMap(s.selections),
			Instances:  copyMap(s.instances),
		}

		if len(s.durations) > 0 {
			sorted := make([]time.Duration, len(s.durations))
			copy(sorted, s.durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			sm.AvgDuration = average(sorted)
			sm.P50Duration = percentile(sorted, 0.50)
			sm.P95Duration = percentile(sorted, 0.95)
			sm.P99Duration = percentile(sorted, 0.99)
		}

		snap.Services[name] = sm
	}

	for name, b := range m.breakers {
		snap.Breakers[name] = BreakerMetrics{State: b.state, Transitions: b.transitions}
	}

	return snap
}

func copyMap[V any](src map[string]V) map[string]V {
	dst := make(map[string]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
