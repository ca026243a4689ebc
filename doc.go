// Package ratchet implements a single-threaded cooperative concurrency
// runtime: a scheduler that multiplexes many tasks onto one goroutine by
// suspending them on I/O readiness, signals, timeouts, and sibling
// completion, and resuming them when the event demultiplexer reports the
// awaited condition.
//
// A task is created with Spawn and runs as its own goroutine, but only one
// of {the scheduler, any one task} is ever runnable at a time: a task
// suspends by handing the scheduler a yield payload over an unbuffered
// channel and blocking for its resume value, so scheduler-private state
// never needs a lock.
package ratchet
