// Package healthcheck probes instance health endpoints over HTTP and rolls
// the registry's view of instance health up into per-service and overall
// status.
package healthcheck
