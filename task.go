package ratchet

import (
	"context"
	"fmt"
)

// TaskID uniquely identifies a Task for the lifetime of its Scheduler.
type TaskID uint64

// Status is a Task's position in its lifecycle, per §3 of the spec.
type Status int

const (
	NotStarted Status = iota
	Ready
	Running
	Waiting
	Done
	Failed
)

func (s Status) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Waiting:
		return "Waiting"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// EntryFunc is the body of a task. It receives a context.Context carrying
// this Task and its Scheduler — the idiomatic Go substitute for "the
// running coroutine" implicit global the source relies on (see
// SPEC_FULL.md §1 EXPANSION).
type EntryFunc func(ctx context.Context) (any, error)

// Task is a suspendable unit of user code, realized as a goroutine that
// never runs concurrently with the scheduler or any other task: it
// suspends by handing a yieldPayload to the scheduler over an unbuffered
// channel and blocking on its resume channel, reproducing "exactly one
// task Running at a time" without locks.
type Task struct {
	id      TaskID
	sched   *Scheduler
	status  Status
	entry   EntryFunc
	ctx     context.Context

	resumeCh chan resumeValue // scheduler -> task
	yieldCh  chan yieldMsg    // task -> scheduler

	started bool
	killed  bool

	waitIDs []waitID // live wait records, for the invariant in §8
	alarm   *alarmRecord

	// pending* describe the yield currently in flight, so the scheduler can
	// interpret a firedRecord and the task's own waitIDs without a
	// per-record back-pointer to its yieldKind.
	pendingKind    yieldKind
	pendingRecords []*waitRecord
	pendingSignum  int

	space map[string]any

	result any
	err    error
}

func newTask(s *Scheduler, id TaskID, entry EntryFunc) *Task {
	t := &Task{
		id:       id,
		sched:    s,
		status:   NotStarted,
		entry:    entry,
		resumeCh: make(chan resumeValue),
		yieldCh:  make(chan yieldMsg),
	}
	t.ctx = context.WithValue(context.WithValue(context.Background(), taskCtxKey{}, t), schedCtxKey{}, s)
	return t
}

// ID returns the task's identity.
func (t *Task) ID() TaskID { return t.id }

// Status returns the task's current lifecycle status.
func (t *Task) Status() Status { return t.status }

// Result returns the task's return value and error once it has reached
// Done or Failed; the zero value and nil otherwise.
func (t *Task) Result() (any, error) { return t.result, t.err }

// start launches the task's goroutine. Called by the scheduler exactly
// once, the first time the task is drained from the ready queue.
func (t *Task) start() {
	t.started = true
	go t.run()
}

func (t *Task) run() {
	defer func() {
		if r := recover(); r != nil {
			t.yieldCh <- yieldMsg{done: true, panicked: true, err: fmt.Errorf("task panic: %v", r)}
		}
	}()
	res, err := t.entry(t.ctx)
	t.yieldCh <- yieldMsg{done: true, result: res, err: err}
}

// yield is called by every L3 primitive from inside the task's own
// goroutine: it hands the scheduler a payload describing the suspension
// and blocks until resumed.
func (t *Task) yield(p yieldPayload) resumeValue {
	t.yieldCh <- yieldMsg{payload: p}
	return <-t.resumeCh
}

// resume delivers a value to a Waiting task and unblocks its goroutine.
// Must only be called by the scheduler, which owns the guarantee that the
// task's wait records were already cancelled first.
func (t *Task) resume(rv resumeValue) {
	t.resumeCh <- rv
}

type taskCtxKey struct{}
type schedCtxKey struct{}

// Self returns the Task running on this goroutine, as carried by ctx. It
// panics if called outside a task's context — calling an L3 primitive from
// the main (non-task) goroutine is a programming error the spec requires
// we reject (§4.3).
func Self(ctx context.Context) *Task {
	t, ok := ctx.Value(taskCtxKey{}).(*Task)
	if !ok {
		panic("ratchet: Self called outside a task context")
	}
	return t
}

// SchedulerFrom returns the Scheduler carried by ctx. This is the direct,
// non-yielding realization of the source's GetScheduler yield tag — see
// SPEC_FULL.md §1 EXPANSION for why no round-trip through the scheduler is
// needed once identity travels through context.Context.
func SchedulerFrom(ctx context.Context) *Scheduler {
	s, ok := ctx.Value(schedCtxKey{}).(*Scheduler)
	if !ok {
		panic("ratchet: SchedulerFrom called outside a task context")
	}
	return s
}

// Space returns the task's private scratch table, creating it on first
// use. It is never shared with any other task.
func Space(ctx context.Context) map[string]any {
	t := Self(ctx)
	if t.space == nil {
		t.space = make(map[string]any)
	}
	return t.space
}
