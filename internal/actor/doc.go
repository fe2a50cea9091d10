// Package actor runs one timer instance as a single goroutine fed by an
// unbounded FIFO mailbox.
//
// The dispatch loop pops one task at a time, reads the clock once, hands the
// task to the instance's policy and publishes the resulting changes to the
// host. Shadow state is only ever touched by that goroutine, so it needs no
// locks. A panicking or failing task is logged and dropped; the loop goes on.
package actor
