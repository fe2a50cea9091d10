// Package client implements the timerctl commands.
//
// Each command loads the settings, connects to the timed-devices daemon,
// runs one call and prints the result as YAML.
package client
