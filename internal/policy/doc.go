// Package policy implements the six timer state machines: activity,
// threshold, persistence, lockout, alive and running.
//
// A Policy owns one explicit state struct and is driven by its actor with a
// single "now" per task. Transition methods report what happened through an
// Effect; Derive renders the state into the flat record published to the host
// and Restore reads it back. Policies never block and never touch I/O.
package policy
