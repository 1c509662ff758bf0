// Package config loads the gateway configuration from a YAML file and
// environment variables and validates it. It covers the HTTP server, logging,
// the service registry and its health sweep, load balancing, gateway retry
// policies, circuit breakers and statically configured service instances.
package config
