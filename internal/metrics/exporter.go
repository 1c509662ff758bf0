package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angeloszaimis/mesh-gateway/internal/circuitbreaker"
)

// Exporter mirrors collector events into Prometheus metrics on its own
// registry so several exporters can coexist in one process.
type Exporter struct {
	registry *prometheus.Registry

	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
	Calls              *prometheus.CounterVec
	CallDuration       *prometheus.HistogramVec
	CallAttempts       *prometheus.HistogramVec
	InstanceHealthy    *prometheus.GaugeVec
}

func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),

		// Values: 0=closed, 1=half-open, 2=open
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "circuit_breaker_state_transitions_total",
				Help: "Total number of circuit breaker state transitions",
			},
			[]string{"name", "from", "to"},
		),
		Calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_calls_total",
				Help: "Gateway calls by service and outcome",
			},
			[]string{"service", "outcome"},
		),
		CallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_call_duration_seconds",
				Help:    "Duration of gateway calls including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		CallAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_call_attempts",
				Help:    "Attempts made per gateway call",
				Buckets: []float64{1, 2, 3, 4, 5, 8},
			},
			[]string{"service"},
		),
		InstanceHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "registry_instance_healthy",
				Help: "Whether a registered instance is healthy (1) or not (0)",
			},
			[]string{"service", "instance"},
		),
	}

	e.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		e.BreakerState,
		e.BreakerTransitions,
		e.Calls,
		e.CallDuration,
		e.CallAttempts,
		e.InstanceHealthy,
	)

	return e
}

// Record applies one event to the Prometheus collectors.
func (e *Exporter) Record(event MetricEvent) {
	switch event.Type {
	case EventCallCompleted:
		e.Calls.WithLabelValues(event.Service, event.Outcome).Inc()
		e.CallDuration.WithLabelValues(event.Service).Observe(event.Duration.Seconds())
		if event.Attempts > 0 {
			e.CallAttempts.WithLabelValues(event.Service).Observe(float64(event.Attempts))
		}

	case EventBreakerTransition:
		e.BreakerTransitions.WithLabelValues(event.Service, event.From, event.To).Inc()
		e.SetBreakerState(event.Service, event.To)

	case EventInstanceStatus:
		value := 0.0
		if event.Healthy {
			value = 1
		}
		e.InstanceHealthy.WithLabelValues(event.Service, event.Instance).Set(value)

	case EventInstanceRemoved:
		e.InstanceHealthy.DeleteLabelValues(event.Service, event.Instance)
	}
}

// SetBreakerState publishes a breaker's state by name, e.g. at startup
// before any transition happened.
func (e *Exporter) SetBreakerState(name, state string) {
	e.BreakerState.WithLabelValues(name).Set(stateValue(state))
}

func stateValue(state string) float64 {
	switch state {
	case circuitbreaker.StateHalfOpen.String():
		return 1
	case circuitbreaker.StateOpen.String():
		return 2
	default:
		return 0
	}
}

// Handler serves the registry in the Prometheus text format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry.
func (e *Exporter) Gatherer() prometheus.Gatherer {
	return e.registry
}
