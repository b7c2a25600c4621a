package main

import "github.com/oshokin/alarm-sink/cmd/alarm-sink-server/cmd"

func main() {
	cmd.Execute()
}
