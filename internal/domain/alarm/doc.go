// Package alarm contains core domain types for the alarm inventory.
//
// It defines the alarm identity (Key), the Alarm aggregate with its
// append-only history of StatusChange entries, and the pure classification
// and history rules that decide how an incoming Event changes an Alarm.
package alarm
