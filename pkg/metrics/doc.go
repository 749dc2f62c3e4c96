/*
Package metrics provides Prometheus metrics collection and exposition
for BRindeX.

Package-level collectors cover the index (entries per volume, state
gauges), the write path (events applied, batch commit and enumeration
durations), the change journal (poll ticks, wraps/recreates), the
reconciler, and the query path. A periodic Collector republishes the
per-volume gauges from the store every 15 seconds.

The metrics listener is optional (metrics_addr, loopback recommended)
and entirely outside the IPC surface the search UI consumes.
*/
package metrics
