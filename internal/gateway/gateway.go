package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/angeloszaimis/mesh-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/mesh-gateway/internal/registry"
	"github.com/angeloszaimis/mesh-gateway/internal/strategy"
)

var (
	ErrNoHealthyInstances = errors.New("no healthy instances available")
	ErrSelectionFailed    = errors.New("load balancer failed to select an instance")
	ErrOperationTimeout   = errors.New("operation timeout")
)

// Discovery is the part of the service registry the gateway reads.
type Discovery interface {
	HealthyInstances(name string) []registry.Instance
}

// Operation performs the remote call against the base URL of the selected
// instance.
type Operation func(ctx context.Context, serviceURL string) error

type Gateway struct {
	config    Config
	discovery Discovery
	balancer  strategy.LoadBalancer
	breakers  *circuitbreaker.Registry
	logger    *slog.Logger
	observer  Observer

	mutex    sync.RWMutex
	policies map[string]RetryPolicy
	timeouts map[string]time.Duration
}

// New creates a gateway. breakers may be nil, in which case calls run
// without breaker protection.
func New(
	config Config,
	discovery Discovery,
	balancer strategy.LoadBalancer,
	breakers *circuitbreaker.Registry,
	logger *slog.Logger,
	opts ...Option,
) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		config:    config.normalize(),
		discovery: discovery,
		balancer:  balancer,
		breakers:  breakers,
		logger:    logger,
		policies:  make(map[string]RetryPolicy),
		timeouts:  make(map[string]time.Duration),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// SetRetryPolicy replaces the retry policy used for calls to name.
func (g *Gateway) SetRetryPolicy(name string, policy RetryPolicy) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.policies[name] = policy
}

// SetTimeout sets the default per-attempt timeout for calls to name.
func (g *Gateway) SetTimeout(name string, d time.Duration) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.timeouts[name] = d
}

// Call runs op against one healthy instance of the named service.
//
// With no healthy instance the fallback runs if given, otherwise
// ErrNoHealthyInstances is returned. When a breaker is registered under name
// the retry loop runs inside it and an open breaker triggers the fallback.
// Errors from op are returned unchanged once retries are exhausted.
func (g *Gateway) Call(ctx context.Context, name string, op Operation, opts ...CallOption) (err error) {
	start := time.Now()
	p := g.resolve(name, opts)
	event := CallEvent{Service: name}

	defer func() {
		event.Duration = time.Since(start)
		event.Err = err
		if event.Outcome == "" {
			if err == nil {
				event.Outcome = OutcomeSuccess
			} else {
				event.Outcome = OutcomeFailure
			}
		}
		g.observe(event)
	}()

	instances := g.discovery.HealthyInstances(name)
	if len(instances) == 0 {
		if p.fallback != nil {
			g.logger.Warn("No healthy instances, using fallback", slog.String("service", name))
			event.Outcome = OutcomeFallback
			return p.fallback(ctx)
		}
		event.Outcome = OutcomeNoInstances
		return fmt.Errorf("%w for service %s", ErrNoHealthyInstances, name)
	}

	instance, ok := g.balancer.SelectInstance(instances)
	if !ok {
		event.Outcome = OutcomeNotSelected
		return fmt.Errorf("%w for service %s", ErrSelectionFailed, name)
	}
	event.InstanceID = instance.ID

	if tracker, ok := g.balancer.(strategy.ConnectionTracker); ok {
		tracker.IncrementConnections(instance.ID)
		defer tracker.DecrementConnections(instance.ID)
	}

	attempt := func(ctx context.Context) error {
		attempts, err := g.executeWithRetry(ctx, p, instance, op)
		event.Attempts = attempts
		return err
	}

	breaker, ok := g.breaker(name)
	if !ok {
		return attempt(ctx)
	}

	if p.fallback == nil {
		err = breaker.Execute(ctx, attempt)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			event.Outcome = OutcomeRejected
		}
		return err
	}

	fallback := func(ctx context.Context) error {
		g.logger.Warn("Circuit open, using fallback", slog.String("service", name))
		event.Outcome = OutcomeFallback
		return p.fallback(ctx)
	}

	return breaker.ExecuteWithFallback(ctx, attempt, fallback)
}

func (g *Gateway) breaker(name string) (*circuitbreaker.CircuitBreaker, bool) {
	if g.breakers == nil {
		return nil, false
	}
	return g.breakers.Get(name)
}

// resolve merges per-call options over the service policy over the gateway
// defaults.
func (g *Gateway) resolve(name string, opts []CallOption) policy {
	p := policy{
		maxRetries: g.config.MaxRetries,
		baseDelay:  g.config.BaseDelay,
		maxDelay:   g.config.MaxDelay,
		multiplier: g.config.Multiplier,
		timeout:    g.config.Timeout,
	}

	g.mutex.RLock()
	rp, hasPolicy := g.policies[name]
	timeout, hasTimeout := g.timeouts[name]
	g.mutex.RUnlock()

	if hasPolicy {
		p.maxRetries = max(rp.MaxRetries, 0)
		if rp.BaseDelay > 0 {
			p.baseDelay = rp.BaseDelay
		}
		if rp.MaxDelay > 0 {
			p.maxDelay = rp.MaxDelay
		}
		if rp.Multiplier >= 1 {
			p.multiplier = rp.Multiplier
		}
		p.retryableErrors = rp.RetryableErrors
	}
	if hasTimeout {
		p.timeout = timeout
	}

	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxRetries != nil {
		p.maxRetries = max(*o.maxRetries, 0)
	}
	if o.timeout != nil {
		p.timeout = *o.timeout
	}
	p.fallback = o.fallback

	return p
}

func (g *Gateway) observe(event CallEvent) {
	if g.observer != nil {
		g.observer(event)
	}
}
