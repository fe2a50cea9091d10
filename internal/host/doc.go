// Package host is a small in-process stand-in for the home automation server
// the timers run inside: a registry of devices and variables that notifies
// listeners on every update, and the durable store of instance records.
package host
