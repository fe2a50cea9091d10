package main

import "github.com/oshokin/timed-devices/cmd/timed-devices/cmd"

func main() {
	cmd.Execute()
}
