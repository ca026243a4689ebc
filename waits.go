package ratchet

import "time"

// waitID is an opaque handle into the scheduler's arena of live wait
// records. Referring to wait records by id (rather than by pointer or by
// embedding them in Task) is how the cyclic task<->record<->scheduler
// reference graph is broken, per the "cyclic references" design note: the
// scheduler's arena is the sole owner, everyone else holds an id that is
// rejected once dead.
type waitID uint64

type waitRecordKind int

const (
	recFDRead waitRecordKind = iota
	recFDWrite
	recSignal
	recTimeout
)

// waitRecord is a single pending condition registered with the
// demultiplexer, per §3 of the spec. Records belonging to the same yield
// (e.g. Signal+Timeout, or the N arms of a MultiRW) are tied together not
// by a pointer on the record itself but by Task.waitIDs, the owning
// task's list of everything currently armed on its behalf: the scheduler
// cancels every id in that list before ever resuming the task, satisfying
// "every wait record tied to its current yield must be cancelled first"
// without each record needing to know about its siblings.
type waitRecord struct {
	id       waitID
	kind     waitRecordKind
	fd       int
	signum   int
	deadline time.Time // zero Time means no deadline
	owner    *Task

	// for recFDRead/recFDWrite arms of a MultiRW: which IOObject this
	// record represents, so resumption can report back which one fired.
	io IOObject
}

// firedRecord is what the demultiplexer's tick() returns: the id of a
// record that is now ready, and whether it fired due to readiness/signal
// delivery (timedOut=false) or its deadline elapsing (timedOut=true).
type firedRecord struct {
	id       waitID
	timedOut bool
}

// demux is the L1 event-demultiplexer contract: arm/cancel/tick exactly as
// specified in §4.1. It is implemented once, by demuxCore, over a rawPoller
// selected by build tag: epoll on Linux, kqueue elsewhere.
type demux interface {
	// arm registers rec and returns nothing further to learn — rec.id is
	// already set by the caller (the scheduler's arena mints ids).
	arm(rec *waitRecord) error
	// cancel removes a previously armed record. Must be idempotent: safe
	// to call on an id that has already fired or was never armed.
	cancel(id waitID)
	// tick blocks until at least one record fires or timeout elapses,
	// returning the batch of fired records in kernel-delivery order.
	// maxEvents bounds how many readiness events are drained from the
	// kernel in one call; it does not bound timeouts, which are always
	// delivered when due.
	tick(timeout time.Duration, maxEvents int) ([]firedRecord, error)
	// close releases all kernel resources held by the demultiplexer.
	close() error
}
