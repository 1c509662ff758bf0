// Package metrics records what the gateway does.
//
// Components report through a channel-based event pipeline: gateway calls,
// circuit breaker transitions and instance status changes are turned into
// MetricEvents and processed on a dedicated goroutine, so the request path
// never waits on bookkeeping. The collector keeps an in-memory summary served
// as JSON and, when given an Exporter, mirrors every event into Prometheus
// collectors.
//
// Example usage:
//
//	exporter := metrics.NewExporter()
//	collector := metrics.NewCollector(1000, exporter, logger)
//	collector.Start(ctx)
//
//	breakers := circuitbreaker.NewRegistry(
//		circuitbreaker.WithStateChangeListener(collector.ObserveBreaker))
//	gw := gateway.New(cfg, services, balancer, breakers, logger,
//		gateway.WithObserver(collector.ObserveCall))
//
//	mux.Handle("GET /metrics", exporter.Handler())
//	mux.Handle("GET /metrics/gateway", collector.Handler("round-robin"))
//
// Events that do not fit into the buffer are dropped and counted rather than
// blocking the caller.
package metrics
