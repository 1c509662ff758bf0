// Package circuitbreaker implements the circuit breaker pattern for remote
// service dependencies.
//
// A breaker guards calls to one named dependency and moves between three
// states:
//
//   - CLOSED: normal operation, calls pass through and failures are counted
//   - OPEN: the dependency is failing, calls fail fast with ErrOpen
//   - HALF_OPEN: the cool-down elapsed, calls probe whether the dependency recovered
//
// Errors listed in Config.ExpectedErrors (matched against the error's type
// name or message) are returned to the caller but never counted.
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry()
//	cb := registry.Create("appointment-service", circuitbreaker.DefaultConfig())
//	err := cb.Execute(ctx, func(ctx context.Context) error {
//	    return client.Book(ctx, req)
//	})
//	if errors.Is(err, circuitbreaker.ErrOpen) {
//	    // serve a degraded response
//	}
package circuitbreaker
