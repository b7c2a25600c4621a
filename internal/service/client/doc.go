// Package client implements the alarm-sink command-line operations.
//
// Each operation loads settings, connects to the alarm server, performs one
// RPC and prints the result as a table or as JSON. Event submissions are
// optionally retried while the server reports itself unavailable.
package client
