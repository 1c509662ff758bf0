// Package gateway composes discovery, load balancing, circuit breaking and
// retries around a call to a named service.
//
// A call resolves the healthy instances of the service, lets the configured
// LoadBalancer pick one and runs the operation against that instance's URL.
// When a breaker is registered under the service name the whole retry loop
// runs inside it, so the breaker records one outcome per call no matter how
// many attempts were made.
//
// Usage:
//
//	gw := gateway.New(gateway.DefaultConfig(), services, strategy.NewRoundRobin(), breakers, logger)
//	err := gw.Call(ctx, "appointment-service", func(ctx context.Context, url string) error {
//	    return client.Get(ctx, url+"/appointments")
//	}, gateway.WithMaxRetries(2), gateway.WithTimeout(500*time.Millisecond))
package gateway
