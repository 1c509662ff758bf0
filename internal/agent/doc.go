// Package agent registers a service instance with a remote gateway over its
// admin API and keeps it alive with periodic heartbeats.
package agent
