// Package timer contains the core domain types shared by the timer runtime.
//
// It defines the immutable Instance configuration (policy kind, boolean
// logic, durations, tracked sources), the Snapshot of a tracked source as the
// host reports it, and Fields, the flat record an instance publishes.
package timer
