// Package consumer feeds alarm events from a Kafka topic into the lifecycle engine.
//
// Messages are protojson-encoded Struct events carrying a kind field. Events
// are handed to the worker pool in fetch order and handled concurrently across
// keys. Offsets are committed per partition only up to the first message whose
// event is still pending, and a message counts as done once its event was
// applied or rejected as undecodable or invalid. This gives at-least-once delivery.
package consumer
