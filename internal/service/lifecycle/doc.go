// Package lifecycle implements the alarm lifecycle engine.
//
// Store holds one Alarm per Key in a sharded map; every read-modify-write for a
// key runs under that key's shard lock, so unrelated alarms are handled in
// parallel. Engine resolves, classifies, persists and commits each event, and
// Pool routes events to workers by key hash so a stream of events for one key
// is processed in arrival order.
package lifecycle
