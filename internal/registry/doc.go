// Package registry keeps the directory of live service instances.
//
// Instances are registered with a heartbeat timestamp and an advisory status.
// A background sweep expires instances whose heartbeat is stale and probes the
// rest through a pluggable Prober. Heartbeats and the sweep both write the
// status field and the last write wins, so status is eventually consistent.
package registry
