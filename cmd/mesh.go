package main

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/mesh-gateway/config"
	"github.com/angeloszaimis/mesh-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/mesh-gateway/internal/gateway"
	"github.com/angeloszaimis/mesh-gateway/internal/healthcheck"
	"github.com/angeloszaimis/mesh-gateway/internal/metrics"
	"github.com/angeloszaimis/mesh-gateway/internal/registry"
	"github.com/angeloszaimis/mesh-gateway/internal/strategy"
	"github.com/angeloszaimis/mesh-gateway/pkg/logger"
)

// mesh holds the wired components of one gateway process.
type mesh struct {
	log          *slog.Logger
	strategy     string
	services     *registry.InMemory
	breakers     *circuitbreaker.Registry
	gateway      *gateway.Gateway
	aggregator   *healthcheck.Aggregator
	collector    *metrics.Collector
	exporter     *metrics.Exporter
	heartbeaters []*registry.Heartbeater

	background *errgroup.Group
}

func newMesh(cfg *config.Config, log *slog.Logger) *mesh {
	exporter := metrics.NewExporter()
	collector := metrics.NewCollector(cfg.Metrics.BufferSize, exporter, logger.Component(log, "metrics"))

	breakerLog := logger.Component(log, "circuitbreaker")
	breakers := circuitbreaker.NewRegistry(circuitbreaker.WithStateChangeListener(
		func(name string, from, to circuitbreaker.State) {
			breakerLog.Warn("Circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			collector.ObserveBreaker(name, from, to)
		}))
	initializeBreakers(breakers, cfg.Breakers, exporter, breakerLog)

	services := registry.New(registry.Config{
		SweepInterval:    cfg.Registry.SweepInterval,
		HeartbeatTimeout: cfg.Registry.HeartbeatTimeout,
		ProbeTimeout:     cfg.Registry.ProbeTimeout,
		SweepConcurrency: cfg.Registry.SweepConcurrency,
	}, healthcheck.NewHTTPProber(cfg.Registry.ProbeTimeout), logger.Component(log, "registry"),
		registry.WithStatusChangeListener(collector.ObserveInstance),
		registry.WithDeregisterListener(collector.ObserveDeregistered))

	strategyType, balancer := createStrategy(log, cfg.Strategy.Type)

	gw := gateway.New(gateway.Config{
		MaxRetries: cfg.Gateway.MaxRetries,
		BaseDelay:  cfg.Gateway.BaseDelay,
		MaxDelay:   cfg.Gateway.MaxDelay,
		Multiplier: cfg.Gateway.Multiplier,
		Timeout:    cfg.Gateway.Timeout,
	}, services, balancer, breakers, logger.Component(log, "gateway"),
		gateway.WithObserver(collector.ObserveCall))
	applyPolicies(gw, cfg.Gateway.Policies)

	heartbeatLog := logger.Component(log, "heartbeat")
	heartbeaters := make([]*registry.Heartbeater, 0, len(cfg.Services))
	for _, instance := range cfg.Services {
		heartbeaters = append(heartbeaters,
			registry.NewHeartbeater(services, instance, cfg.Registry.HeartbeatInterval, heartbeatLog))
	}

	return &mesh{
		log:          log,
		strategy:     strategyType,
		services:     services,
		breakers:     breakers,
		gateway:      gw,
		aggregator:   healthcheck.NewAggregator(services),
		collector:    collector,
		exporter:     exporter,
		heartbeaters: heartbeaters,
	}
}

// start launches the metrics pipeline, the health sweep and one heartbeat
// loop per static instance. Everything stops when ctx ends.
func (m *mesh) start(ctx context.Context) {
	m.collector.Start(ctx)
	m.services.Start(ctx)

	m.background = &errgroup.Group{}
	for _, hb := range m.heartbeaters {
		m.background.Go(func() error {
			if err := hb.Run(ctx); err != nil {
				m.log.Error("Heartbeat stopped", slog.String("id", hb.ID()), slog.Any("err", err))
				return err
			}
			return nil
		})
	}
}

// wait blocks until the background work started by start has exited. ctx
// passed to start must be done.
func (m *mesh) wait() {
	m.services.Stop()
	if m.background != nil {
		_ = m.background.Wait()
	}
}

// createStrategy builds the configured balancer. Unknown names fall back to
// round-robin with a warning.
func createStrategy(log *slog.Logger, strategyType string) (string, strategy.LoadBalancer) {
	balancer, err := strategy.New(strategyType)
	if err != nil {
		log.Warn("Unknown strategy, defaulting to round-robin", slog.String("requested", strategyType))
		return strategy.TypeRoundRobin, strategy.NewRoundRobin()
	}
	return strategyType, balancer
}

func initializeBreakers(breakers *circuitbreaker.Registry, configs map[string]config.BreakerConfig, exporter *metrics.Exporter, log *slog.Logger) {
	for name, bc := range configs {
		cb := breakers.Create(name, bc.Resolve())
		exporter.SetBreakerState(name, cb.State().String())

		cfg := cb.Config()
		log.Info("Circuit breaker configured",
			slog.String("breaker", name),
			slog.Int("failure_threshold", cfg.FailureThreshold),
			slog.Int("success_threshold", cfg.SuccessThreshold),
			slog.Duration("timeout", cfg.Timeout))
	}
}

func applyPolicies(gw *gateway.Gateway, policies map[string]config.PolicyConfig) {
	for name, pc := range policies {
		gw.SetRetryPolicy(name, gateway.RetryPolicy{
			MaxRetries:      pc.MaxRetries,
			BaseDelay:       pc.BaseDelay,
			MaxDelay:        pc.MaxDelay,
			Multiplier:      pc.Multiplier,
			RetryableErrors: pc.RetryableErrors,
		})
		if pc.Timeout > 0 {
			gw.SetTimeout(name, pc.Timeout)
		}
	}
}
