// Package strategy defines the load balancing interface used by the gateway
// and implements the selection algorithms:
//
//   - Round Robin: cycles through instances with a counter per service name
//   - Weighted: random draw proportional to each instance's metadata weight
//   - Least Connections: picks the instance with the fewest tracked connections
//   - Random: uniform random choice
//
// Strategies only choose among the instances they are given; filtering on
// health happens in the registry.
package strategy
