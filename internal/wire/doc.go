// Package wire converts between domain alarm types and google.protobuf.Struct
// messages.
//
// The same representation is used by the gRPC API, the Kafka event stream and
// the file and Redis repositories, so a JSON document produced by one of them
// can be read by any other.
package wire
