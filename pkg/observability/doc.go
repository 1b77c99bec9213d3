/*
Package observability provides Prometheus instrumentation for the palette
engine: node acceptance/rejection counters per provider, provider failure
counters, and batch latency histograms. Collectors register against a caller
supplied registry so tests can use isolated registries.
*/
package observability
