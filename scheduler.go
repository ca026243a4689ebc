package ratchet

import (
	"time"

	"github.com/icgood/ratchet-sub000/rerr"
	"github.com/rs/zerolog"
)

// readyItem is one entry on the ready queue: a task and the value it
// should be resumed with (ignored for a NotStarted task).
type readyItem struct {
	task *Task
	rv   resumeValue
}

// Scheduler is the singleton coordinator described in §3: it owns the
// demultiplexer, the task registry, the ready queue, and the waiting-on
// map, and drives every task to completion one tick at a time.
type Scheduler struct {
	demux demux

	tasks map[TaskID]*Task
	ready []readyItem

	// waitingOn[joiner] is the set of task ids the joiner is blocked on via
	// WaitAll; it shrinks as awaited tasks finish and is deleted once empty
	// (at which point the joiner moves to the ready queue).
	waitingOn map[TaskID]map[TaskID]bool

	alarms map[waitID]*Task

	nextTaskID TaskID
	nextWait   waitID

	logger     zerolog.Logger
	errHandler ErrorHandler
	maxEvents  int

	closed bool
}

// New constructs a Scheduler with entry as its first task, in NotStarted
// status, on the ready queue.
func New(entry EntryFunc, opts ...Option) (*Scheduler, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	d, err := newDemux()
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		demux:      d,
		tasks:      make(map[TaskID]*Task),
		waitingOn:  make(map[TaskID]map[TaskID]bool),
		alarms:     make(map[waitID]*Task),
		logger:     cfg.logger,
		errHandler: cfg.errHandler,
		maxEvents:  cfg.maxEvents,
	}

	t := s.newTask(entry)
	s.enqueueReady(t, resumeValue{})
	return s, nil
}

func (s *Scheduler) newTask(entry EntryFunc) *Task {
	s.nextTaskID++
	t := newTask(s, s.nextTaskID, entry)
	s.tasks[t.id] = t
	return t
}

func (s *Scheduler) nextWaitID() waitID {
	s.nextWait++
	return s.nextWait
}

func (s *Scheduler) enqueueReady(t *Task, rv resumeValue) {
	if t.started {
		t.status = Ready // a queued task that never ran stays NotStarted
	}
	s.ready = append(s.ready, readyItem{task: t, rv: rv})
}

// CurrentTaskCount reports how many tasks are still registered (any status
// other than Done/Failed/killed).
func (s *Scheduler) CurrentTaskCount() int { return len(s.tasks) }

// Logger returns the zerolog.Logger this scheduler was constructed with
// (zerolog.Nop() by default), so L4 wrappers can trace retry-loop
// iterations through the same ambient logger the scheduler itself uses.
func (s *Scheduler) Logger() zerolog.Logger { return s.logger }

// RunOnceTick executes one scheduling iteration, per §4.2: it drains the
// ready queue (and any joiners that become ready as a side effect), then —
// if tasks remain — blocks once on the demultiplexer and resumes whatever
// fired. It returns false once no tasks remain.
func (s *Scheduler) RunOnceTick(timeout time.Duration) (bool, error) {
	if err := s.drainReady(); err != nil {
		return false, err
	}
	if len(s.tasks) == 0 {
		return false, nil
	}

	fired, err := s.demux.tick(timeout, s.maxEvents)
	if err != nil {
		return true, err
	}

	if len(fired) == 0 {
		return true, rerr.New(rerr.DEADLOCK, "RunOnceTick", "no task is ready and nothing is armed to wake any task")
	}

	for _, f := range fired {
		s.resumeFromFired(f)
	}

	if err := s.drainReady(); err != nil {
		return false, err
	}
	return len(s.tasks) > 0, nil
}

// RunUntilDone iterates RunOnceTick until no tasks remain.
func (s *Scheduler) RunUntilDone() error {
	for {
		more, err := s.RunOnceTick(-1)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// RunUntil iterates RunOnceTick (with the given per-tick timeout) until
// predicate returns true or no tasks remain.
func (s *Scheduler) RunUntil(timeout time.Duration, predicate func() bool) error {
	for !predicate() {
		more, err := s.RunOnceTick(timeout)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

// Close releases the demultiplexer's kernel resources. Call once the
// scheduler's run loop has exited.
func (s *Scheduler) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.demux.close()
}

// drainReady runs every Ready task to its next suspension point (or
// completion), looping until the ready queue is empty — new tasks spawned
// or joiners unblocked mid-drain are picked up by the same loop, per step 1
// of §4.2's algorithm.
func (s *Scheduler) drainReady() error {
	for len(s.ready) > 0 {
		item := s.ready[0]
		s.ready = s.ready[1:]
		t := item.task

		t.status = Running
		s.logger.Debug().Uint64("task", uint64(t.id)).Msg("task running")
		if !t.started {
			t.start()
		} else {
			t.resume(item.rv)
		}

		msg := <-t.yieldCh
		if msg.done {
			if err := s.finishTask(t, msg); err != nil {
				return err
			}
			continue
		}
		if err := s.processYield(t, msg.payload); err != nil {
			return err
		}
	}
	return nil
}

// resumeTask is the single path by which any Waiting task is ever resumed,
// for any reason. It enforces the task resumption contract: every wait
// record tied to the task's current yield is cancelled first.
func (s *Scheduler) resumeTask(t *Task, rv resumeValue) {
	for _, id := range t.waitIDs {
		s.demux.cancel(id)
	}
	t.waitIDs = nil
	s.enqueueReady(t, rv)
}

func (s *Scheduler) resumeFromFired(f firedRecord) {
	if at, ok := s.alarms[f.id]; ok {
		s.fireAlarm(at)
		return
	}

	// Find the owning task by scanning its current wait ids — cheap
	// because a task has at most a handful of live records at once.
	var owner *Task
	for _, t := range s.tasks {
		for _, id := range t.waitIDs {
			if id == f.id {
				owner = t
				break
			}
		}
		if owner != nil {
			break
		}
	}
	if owner == nil {
		return // record belonged to a task that was already killed/finished
	}

	rv := s.resumeValueFor(owner, f)
	s.resumeTask(owner, rv)
}

// resumeValueFor computes what a task sees as the return of its yield,
// per the dispatch table in §4.2.
func (s *Scheduler) resumeValueFor(t *Task, f firedRecord) resumeValue {
	switch t.pendingKind {
	case yieldRead, yieldWrite:
		return resumeValue{timedOut: f.timedOut}
	case yieldMultiRW:
		if f.timedOut {
			return resumeValue{timedOut: true}
		}
		io, isSig, signum := s.findMultiRWResult(t, f.id)
		return resumeValue{io: io, isSignal: isSig, signum: signum}
	case yieldSignal:
		return resumeValue{timedOut: f.timedOut, isSignal: !f.timedOut, signum: t.pendingSignum}
	case yieldTimeout:
		return resumeValue{timedOut: true}
	default:
		return resumeValue{timedOut: f.timedOut}
	}
}

func (s *Scheduler) findMultiRWResult(t *Task, id waitID) (IOObject, bool, int) {
	for _, rec := range t.pendingRecords {
		if rec.id == id {
			if rec.kind == recSignal {
				return nil, true, rec.signum
			}
			return rec.io, false, 0
		}
	}
	return nil, false, 0
}

func (s *Scheduler) fireAlarm(t *Task) {
	delete(s.alarms, t.alarm.waitID)
	cb := t.alarm.callback
	t.alarm = nil

	err := error(rerr.New(rerr.ALARM, "alarm", "alarm deadline reached"))
	if cb != nil {
		if cbErr := cb(t.ctx); cbErr != nil {
			err = cbErr
		}
	}

	s.logger.Debug().Uint64("task", uint64(t.id)).Msg("alarm fired")
	s.resumeTask(t, resumeValue{err: err})
}

// processYield interprets a suspending task's payload, arms whatever wait
// records it implies, and (for WaitAll/Pause) updates scheduler-side
// bookkeeping directly without involving the demultiplexer at all.
func (s *Scheduler) processYield(t *Task, p yieldPayload) error {
	t.pendingKind = p.kind
	switch p.kind {
	case yieldRead, yieldWrite:
		return s.armSingle(t, p)
	case yieldMultiRW:
		return s.armMulti(t, p)
	case yieldSignal:
		return s.armSignalWait(t, p)
	case yieldTimeout:
		return s.armTimeout(t, p)
	case yieldWaitAll:
		s.armWaitAll(t, p)
		return nil
	case yieldPause:
		t.status = Waiting
		return nil
	}
	return nil
}

func (s *Scheduler) armSingle(t *Task, p yieldPayload) error {
	kind := recFDRead
	if p.kind == yieldWrite {
		kind = recFDWrite
	}
	rec := &waitRecord{id: s.nextWaitID(), kind: kind, fd: p.io.Fd(), owner: t, io: p.io}
	if dl, ok := deadlineOf(p.io); ok {
		rec.deadline = dl
	}
	if err := s.demux.arm(rec); err != nil {
		s.resumeTask(t, resumeValue{err: err})
		return nil
	}
	t.waitIDs = []waitID{rec.id}
	t.pendingRecords = []*waitRecord{rec}
	t.status = Waiting
	return nil
}

func (s *Scheduler) armMulti(t *Task, p yieldPayload) error {
	var ids []waitID
	var recs []*waitRecord
	for _, io := range p.reads {
		rec := &waitRecord{id: s.nextWaitID(), kind: recFDRead, fd: io.Fd(), owner: t, io: io}
		if p.hasDl {
			rec.deadline = p.dead
		}
		if err := s.demux.arm(rec); err != nil {
			s.cancelAll(ids)
			s.resumeTask(t, resumeValue{err: err})
			return nil
		}
		ids = append(ids, rec.id)
		recs = append(recs, rec)
	}
	for _, io := range p.writes {
		rec := &waitRecord{id: s.nextWaitID(), kind: recFDWrite, fd: io.Fd(), owner: t, io: io}
		if p.hasDl {
			rec.deadline = p.dead
		}
		if err := s.demux.arm(rec); err != nil {
			s.cancelAll(ids)
			s.resumeTask(t, resumeValue{err: err})
			return nil
		}
		ids = append(ids, rec.id)
		recs = append(recs, rec)
	}
	if p.hasDl && len(ids) == 0 {
		// with fds, the deadline is serviced by the wheel entry each arm
		// above registered (rec.deadline set); with none, it is a bare
		// Timeout record.
		rec := &waitRecord{id: s.nextWaitID(), kind: recTimeout, deadline: p.dead, owner: t}
		if err := s.demux.arm(rec); err != nil {
			s.resumeTask(t, resumeValue{err: err})
			return nil
		}
		ids = append(ids, rec.id)
		recs = append(recs, rec)
	}
	t.waitIDs = ids
	t.pendingRecords = recs
	t.status = Waiting
	return nil
}

func (s *Scheduler) cancelAll(ids []waitID) {
	for _, id := range ids {
		s.demux.cancel(id)
	}
}

func (s *Scheduler) armSignalWait(t *Task, p yieldPayload) error {
	rec := &waitRecord{id: s.nextWaitID(), kind: recSignal, signum: p.signum, owner: t}
	if p.hasSig {
		rec.deadline = p.sigDead
	}
	if err := s.demux.arm(rec); err != nil {
		s.resumeTask(t, resumeValue{err: err})
		return nil
	}
	t.waitIDs = []waitID{rec.id}
	t.pendingRecords = []*waitRecord{rec}
	t.pendingSignum = p.signum
	t.status = Waiting
	return nil
}

func (s *Scheduler) armTimeout(t *Task, p yieldPayload) error {
	rec := &waitRecord{id: s.nextWaitID(), kind: recTimeout, deadline: time.Now().Add(p.dur), owner: t}
	if err := s.demux.arm(rec); err != nil {
		s.resumeTask(t, resumeValue{err: err})
		return nil
	}
	t.waitIDs = []waitID{rec.id}
	t.status = Waiting
	return nil
}

func (s *Scheduler) armWaitAll(t *Task, p yieldPayload) {
	blocking := make(map[TaskID]bool)
	for _, other := range p.tasks {
		if _, alive := s.tasks[other.id]; alive && other.status != Done && other.status != Failed {
			blocking[other.id] = true
		}
	}
	if len(blocking) == 0 {
		s.enqueueReady(t, resumeValue{})
		return
	}
	s.waitingOn[t.id] = blocking
	t.status = Waiting
}

// finishTask handles a task that returned or panicked: it updates status,
// removes the task from the registry, cancels any leftover wait records
// and its alarm, notifies WaitAll joiners, and — for an uncaught error —
// invokes the top-level error handler (or, absent one, propagates).
func (s *Scheduler) finishTask(t *Task, msg yieldMsg) error {
	for _, id := range t.waitIDs {
		s.demux.cancel(id)
	}
	t.waitIDs = nil
	s.clearAlarm(t)

	t.result, t.err = msg.result, msg.err
	if msg.err != nil {
		t.status = Failed
	} else {
		t.status = Done
	}

	delete(s.tasks, t.id)
	s.notifyJoiners(t.id)

	if t.status == Failed {
		s.logger.Error().Uint64("task", uint64(t.id)).Err(t.err).Msg("task failed")
		if s.errHandler != nil {
			return s.errHandler(s, t)
		}
		return t.err
	}
	s.logger.Debug().Uint64("task", uint64(t.id)).Msg("task done")
	return nil
}

func (s *Scheduler) clearAlarm(t *Task) {
	if t.alarm == nil {
		return
	}
	s.demux.cancel(t.alarm.waitID)
	delete(s.alarms, t.alarm.waitID)
	t.alarm = nil
}

// notifyJoiners removes finishedID from every WaitAll blocking set; a
// joiner whose set becomes empty moves to the ready queue. Per spec, a
// killed task counts as finished for this purpose — kill() and
// finishTask() share this same call.
func (s *Scheduler) notifyJoiners(finishedID TaskID) {
	for joinerID, blocking := range s.waitingOn {
		if !blocking[finishedID] {
			continue
		}
		delete(blocking, finishedID)
		if len(blocking) == 0 {
			delete(s.waitingOn, joinerID)
			if joiner, ok := s.tasks[joinerID]; ok {
				s.enqueueReady(joiner, resumeValue{})
			}
		}
	}
}

// Kill immediately cancels every wait record belonging to t, removes it
// from every scheduler data structure, and forgets it. Idempotent: killing
// an already-dead task is a no-op.
func (s *Scheduler) Kill(t *Task) {
	if _, alive := s.tasks[t.id]; !alive {
		return
	}
	for _, id := range t.waitIDs {
		s.demux.cancel(id)
	}
	t.waitIDs = nil
	s.clearAlarm(t)
	t.killed = true
	t.status = Done
	delete(s.tasks, t.id)
	delete(s.waitingOn, t.id)
	s.removeFromReady(t.id)
	s.notifyJoiners(t.id)
}

// Unpause moves a Paused task to the ready queue, to resume with values as
// the return of its pause() call. Valid only on a task currently Waiting
// from Pause; on any other task it is a no-op. Apart from an alarm firing,
// this is the only way a Paused task resumes.
func (s *Scheduler) Unpause(t *Task, values ...any) {
	if _, alive := s.tasks[t.id]; !alive {
		return
	}
	if t.status != Waiting || t.pendingKind != yieldPause {
		return
	}
	s.enqueueReady(t, resumeValue{values: values})
}

// KillAll is the bulk form of Kill.
func (s *Scheduler) KillAll(tasks []*Task) {
	for _, t := range tasks {
		s.Kill(t)
	}
}

func (s *Scheduler) removeFromReady(id TaskID) {
	out := s.ready[:0]
	for _, item := range s.ready {
		if item.task.id != id {
			out = append(out, item)
		}
	}
	s.ready = out
}
