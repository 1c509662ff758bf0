package metrics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/mesh-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/mesh-gateway/internal/gateway"
	"github.com/angeloszaimis/mesh-gateway/internal/registry"
)

type EventType string

const (
	EventCallCompleted     EventType = "call_completed"
	EventBreakerTransition EventType = "breaker_transition"
	EventInstanceStatus    EventType = "instance_status"
	EventInstanceRemoved   EventType = "instance_removed"
)

type MetricEvent struct {
	Type      EventType
	Timestamp time.Time
	Service   string
	Instance  string
	Outcome   string
	Attempts  int
	Duration  time.Duration
	From      string
	To        string
	Healthy   bool
}

type Collector struct {
	eventCh  chan MetricEvent
	metrics  *Metrics
	exporter *Exporter
	logger   *slog.Logger
	dropped  atomic.Int64
}

// NewCollector creates a collector. exporter may be nil.
func NewCollector(bufferSize int, exporter *Exporter, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}

	return &Collector{
		eventCh:  make(chan MetricEvent, bufferSize),
		metrics:  NewMetrics(),
		exporter: exporter,
		logger:   logger,
	}
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventCallCompleted:
		c.metrics.RecordCall(event.Service, event.Instance, event.Outcome, event.Attempts, event.Duration)

	case EventBreakerTransition:
		c.metrics.RecordTransition(event.Service, event.To)

	case EventInstanceStatus:
		c.metrics.UpdateInstanceHealth(event.Service, event.Instance, event.Healthy)

	case EventInstanceRemoved:
		c.metrics.RemoveInstance(event.Service, event.Instance)
	}

	if c.exporter != nil {
		c.exporter.Record(event)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

// emit never blocks; events that do not fit into the buffer are dropped.
func (c *Collector) emit(event MetricEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
		if c.dropped.Add(1) == 1 {
			c.logger.Warn("Metrics buffer full, dropping events", slog.String("type", string(event.Type)))
		}
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (c *Collector) Dropped() int64 {
	return c.dropped.Load()
}

// ObserveCall is a gateway.Observer.
func (c *Collector) ObserveCall(event gateway.CallEvent) {
	c.emit(MetricEvent{
		Type:     EventCallCompleted,
		Service:  event.Service,
		Instance: event.InstanceID,
		Outcome:  string(event.Outcome),
		Attempts: event.Attempts,
		Duration: event.Duration,
	})
}

// ObserveBreaker is a circuitbreaker.StateChangeFunc.
func (c *Collector) ObserveBreaker(name string, from, to circuitbreaker.State) {
	c.emit(MetricEvent{
		Type:    EventBreakerTransition,
		Service: name,
		From:    from.String(),
		To:      to.String(),
	})
}

// ObserveInstance is a registry.StatusChangeFunc.
func (c *Collector) ObserveInstance(instance registry.Instance, _, to registry.Status) {
	c.emit(MetricEvent{
		Type:     EventInstanceStatus,
		Service:  instance.Name,
		Instance: instance.ID,
		To:       string(to),
		Healthy:  to == registry.StatusHealthy,
	})
}

// ObserveDeregistered is a registry.DeregisterFunc.
func (c *Collector) ObserveDeregistered(instance registry.Instance) {
	c.emit(MetricEvent{
		Type:     EventInstanceRemoved,
		Service:  instance.Name,
		Instance: instance.ID,
	})
}

func (c *Collector) Snapshot(strategy string) Snapshot {
	return c.metrics.Snapshot(strategy)
}
