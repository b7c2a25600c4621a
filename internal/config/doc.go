// Package config defines the settings used by the alarm-sink binaries and
// provides helpers to load, validate and save them in YAML format.
//
// Besides the gRPC address it selects the inventory storage backend, the
// optional Kafka event stream and the Prometheus metrics listener.
package config
