package main

import "github.com/oshokin/timed-devices/cmd/timerctl/cmd"

func main() {
	cmd.Execute()
}
