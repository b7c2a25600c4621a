// Package common holds helpers shared by several services.
//
// It provides a lightweight gRPC client wrapper with timeouts over the alarm
// service and detection of the local device name used as the default alarm source.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
