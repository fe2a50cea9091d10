// Package supervisor owns the set of running timer actors. It fans the
// heartbeat out to every actor, routes source change notifications to the
// actors that track the source and keeps the running set in line with the
// configured instances.
package supervisor
