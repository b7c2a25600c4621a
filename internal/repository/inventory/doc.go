// Package inventory implements durable backings for the alarm store.
//
// Every backend satisfies Repository: FileRepository keeps a JSON snapshot on
// disk, PostgresRepository stores alarms and their append-only history in two
// tables, and RedisRepository keeps one JSON document per alarm in a hash.
package inventory
