// Package metrics defines the Prometheus instrumentation for the decoder service.
package metrics
