package main

import "github.com/oshokin/alarm-sink/cmd/alarm-sink/cmd"

func main() {
	cmd.Execute()
}
