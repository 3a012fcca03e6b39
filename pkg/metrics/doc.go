// Package metrics exports Prometheus gauges, counters and histograms for
// the scheduler, pool builders, pool agents and the reconciliation
// engine, plus a small /health, /ready and /live HTTP surface used by
// every long-running genesis-compute service.
package metrics
