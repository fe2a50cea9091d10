// Package timers implements the gRPC transport of the timer control API.
//
// The timers.v1.TimerService is described by hand on top of the protobuf
// well-known types (Empty, Int64Value, Struct), so neither side needs
// generated code. The package provides the service descriptor, a typed
// client, and a server that adapts requests to a business-service interface.
package timers
