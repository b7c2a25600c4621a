// Package metrics exposes Prometheus instrumentation for the alarm engine.
//
// Recorder counts handled events by kind and outcome, errors by reason,
// purged alarms and handling latency, and publishes the number of active
// alarms as a gauge read from the store on every scrape.
package metrics
