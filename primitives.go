package ratchet

import (
	"context"
	"time"
)

// Spawn creates a new task running fn, scheduling it on the same
// Scheduler as the calling task, and returns immediately with its handle
// without suspending the caller — per §4.2, a spawned task joins the
// ready queue and starts on the scheduler's current tick, not the
// caller's next yield.
func Spawn(ctx context.Context, fn EntryFunc) *Task {
	t := Self(ctx)
	nt := t.sched.newTask(fn)
	t.sched.enqueueReady(nt, resumeValue{})
	return nt
}

// Kill cancels task's wait records and forgets it, without running its
// continuation again. Killing the calling task itself is not supported —
// a task can only kill others.
func Kill(ctx context.Context, task *Task) {
	Self(ctx).sched.Kill(task)
}

// KillAll is the bulk form of Kill.
func KillAll(ctx context.Context, tasks []*Task) {
	Self(ctx).sched.KillAll(tasks)
}

// BlockOn yields MultiRW: it suspends until any fd among reads/writes
// becomes ready, or deadline elapses (a zero Time means no deadline). The
// result is the IOObject whose fd fired, or nil on timeout.
func BlockOn(ctx context.Context, reads, writes []IOObject, deadline time.Time) (IOObject, error) {
	t := Self(ctx)
	rv := t.yield(yieldPayload{kind: yieldMultiRW, reads: reads, writes: writes, dead: deadline, hasDl: !deadline.IsZero()})
	if rv.err != nil {
		return nil, rv.err
	}
	if rv.timedOut {
		return nil, nil
	}
	return rv.io, nil
}

// Sigwait suspends the calling task until signum is delivered to the
// process, with no deadline.
func Sigwait(ctx context.Context, signum int) error {
	t := Self(ctx)
	rv := t.yield(yieldPayload{kind: yieldSignal, signum: signum})
	return rv.err
}

// SigwaitDeadline is Sigwait with an explicit deadline: it returns
// timedOut=true if deadline elapses before signum is delivered, per
// §4.2's Signal(sig, deadline) — first to fire wins, the other is
// cancelled.
func SigwaitDeadline(ctx context.Context, signum int, deadline time.Time) (timedOut bool, err error) {
	t := Self(ctx)
	rv := t.yield(yieldPayload{kind: yieldSignal, signum: signum, sigDead: deadline, hasSig: !deadline.IsZero()})
	return rv.timedOut, rv.err
}

// WaitAll suspends the calling task until every task in tasks has reached
// Done, Failed, or been killed — whichever came first, and never earlier.
func WaitAll(ctx context.Context, tasks []*Task) error {
	t := Self(ctx)
	rv := t.yield(yieldPayload{kind: yieldWaitAll, tasks: tasks})
	return rv.err
}

// Timer suspends the calling task unconditionally for d.
func Timer(ctx context.Context, d time.Duration) error {
	t := Self(ctx)
	rv := t.yield(yieldPayload{kind: yieldTimeout, dur: d})
	return rv.err
}

// Pause suspends the calling task until some other task calls Unpause on
// it; the values passed to Unpause become Pause's return. A non-nil error
// return means the task was resumed by something other than Unpause — an
// alarm firing while Paused, per §4.2's alarm semantics.
func Pause(ctx context.Context) ([]any, error) {
	t := Self(ctx)
	rv := t.yield(yieldPayload{kind: yieldPause})
	return rv.values, rv.err
}

// Unpause resumes a Paused task, delivering values as the return of its
// Pause call. Calling it on a task that is not currently Paused is a
// no-op, mirroring Kill's idempotence.
func Unpause(ctx context.Context, task *Task, values ...any) {
	Self(ctx).sched.Unpause(task, values...)
}

// WaitRead yields Read against obj: the lowest-level primitive every L4
// async operation in package aio builds its retry loop on. Returns
// ready=false on timeout (per §4.3's block-on contract, timeout is not an
// error on its own).
func WaitRead(ctx context.Context, obj IOObject) (ready bool, err error) {
	t := Self(ctx)
	rv := t.yield(yieldPayload{kind: yieldRead, io: obj})
	return !rv.timedOut, rv.err
}

// WaitWrite is WaitRead's write-direction twin.
func WaitWrite(ctx context.Context, obj IOObject) (ready bool, err error) {
	t := Self(ctx)
	rv := t.yield(yieldPayload{kind: yieldWrite, io: obj})
	return !rv.timedOut, rv.err
}
