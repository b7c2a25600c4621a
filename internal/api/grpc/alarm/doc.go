// Package alarm implements the gRPC transport for the alarm inventory.
//
// The contract lives in api/alarmsink/v1/alarm_service.proto. Every message
// is a google.protobuf.Struct, so the descriptor below is declared in Go and
// a test keeps it in step with the proto file. The server adapts
// the create-alarm, update-alarm, clear-alarm, purge-alarms and show-alarms
// operations onto a provided business-service interface.
package alarm
