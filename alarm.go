package ratchet

import (
	"context"
	"time"
)

// AlarmCallback runs with the owning task's context when its alarm fires,
// before the task is resumed with an error. That error is rerr.ALARM, or,
// if the callback returns a non-nil error, the callback's error instead.
// The callback's error is delivered only to the task: it does not itself
// propagate out of the scheduler loop.
type AlarmCallback func(ctx context.Context) error

// alarmRecord is the per-task alarm described in §3: an absolute deadline,
// backed by a waitRecord in the same demultiplexer as everything else, so
// it shares the cancel-on-resume machinery for free.
type alarmRecord struct {
	deadline time.Time
	callback AlarmCallback
	waitID   waitID
}

// Alarm sets (replacing any prior) alarm for the calling task. It does not
// suspend the caller — the alarm fires asynchronously, racing whatever the
// task waits on next, per §3/§4.2.
func Alarm(ctx context.Context, d time.Duration, cb AlarmCallback) {
	t := Self(ctx)
	s := t.sched
	s.clearAlarm(t)

	rec := &waitRecord{
		id:       s.nextWaitID(),
		kind:     recTimeout,
		deadline: time.Now().Add(d),
		owner:    t,
	}
	t.alarm = &alarmRecord{deadline: rec.deadline, callback: cb, waitID: rec.id}
	s.alarms[rec.id] = t
	_ = s.demux.arm(rec)
}
