// Package handler exposes the gateway over HTTP: an admin API for the
// service registry, breakers and health, a proxy that forwards requests to a
// named service through the gateway, and request tracing middleware.
package handler
