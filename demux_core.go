package ratchet

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/icgood/ratchet-sub000/rerr"
)

// maxPollEvents bounds how many readiness events are drained from the
// kernel in a single epoll_wait/kevent call — the teacher's maxEvents.
const maxPollEvents = 1024

// platEvent is the platform-independent readiness notification handed up
// from rawPoller to demuxCore: the teacher's event{ident, r, w}.
type platEvent struct {
	ident int
	r, w  bool
}

// fdState tracks, for one fd, every waitRecord currently interested in it
// and whether the fd is registered with the kernel poller at all — the
// teacher's fdDesc, minus the read/write status bitmask (we re-check
// readiness from the kernel's event directly rather than caching it,
// since unlike the teacher we don't retry the syscall inline here; that
// happens one layer up, in package aio).
type fdState struct {
	readers []*waitRecord
	writers []*waitRecord
}

func (s *fdState) empty() bool { return len(s.readers) == 0 && len(s.writers) == 0 }

// demuxCore implements the demux interface on top of a rawPoller (epoll or
// kqueue) plus a shared deadline heap and signal-delivery channel. This is
// the part of L1 common to every platform; only fd registration mechanics
// live in the platform-specific rawPoller.
type demuxCore struct {
	raw   *rawPoller
	descs map[int]*fdState
	byID  map[waitID]*waitRecord
	wheel *timeoutWheel

	signals  map[int][]*waitID
	sigOnce  map[int]bool
	sigFired chan int
	sigStop  chan struct{}

	mu     sync.Mutex // guards nothing concurrent in normal operation; see note below
	closed bool
}

// Concurrency note: every method here is, in normal operation, called
// exclusively from the scheduler's single goroutine between task
// resumptions — the same "only one logical runner at a time" discipline
// that lets Task and Scheduler skip locking. mu is held around every access
// to the signals map; the signal-forwarding goroutines (necessarily
// asynchronous, since signal.Notify delivery is OS-driven) touch only the
// sigFired and sigStop channels, never the maps.
func newDemux() (demux, error) {
	raw, err := newRawPoller()
	if err != nil {
		return nil, err
	}
	return &demuxCore{
		raw:      raw,
		descs:    make(map[int]*fdState),
		byID:     make(map[waitID]*waitRecord),
		wheel:    newTimeoutWheel(),
		signals:  make(map[int][]*waitID),
		sigOnce:  make(map[int]bool),
		sigFired: make(chan int, 16),
		sigStop:  make(chan struct{}),
	}, nil
}

func (d *demuxCore) arm(rec *waitRecord) error {
	d.byID[rec.id] = rec
	if !rec.deadline.IsZero() {
		d.wheel.add(rec.id, rec.deadline)
	}
	switch rec.kind {
	case recFDRead, recFDWrite:
		st, ok := d.descs[rec.fd]
		if !ok {
			st = &fdState{}
			d.descs[rec.fd] = st
			if err := d.raw.watch(rec.fd); err != nil {
				delete(d.descs, rec.fd)
				delete(d.byID, rec.id)
				d.wheel.remove(rec.id)
				return rerr.FromErrno("arm", "epoll_ctl", toErrno(err))
			}
		}
		if rec.kind == recFDRead {
			st.readers = append(st.readers, rec)
		} else {
			st.writers = append(st.writers, rec)
		}
	case recSignal:
		d.armSignal(rec)
	case recTimeout:
		// wheel entry above is the entirety of a bare Timeout wait.
	}
	return nil
}

func (d *demuxCore) armSignal(rec *waitRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.signals[rec.signum] = append(d.signals[rec.signum], &rec.id)
	if !d.sigOnce[rec.signum] {
		d.sigOnce[rec.signum] = true
		ch := make(chan os.Signal, 4)
		signal.Notify(ch, syscall.Signal(rec.signum))
		go d.pumpSignal(rec.signum, ch)
	}
}

// pumpSignal forwards OS signal delivery into sigFired. It runs for the
// lifetime of the demux once a given signum has ever been waited on;
// signal.Notify is additive in Go, so this never displaces a handler the
// embedding application installed itself.
func (d *demuxCore) pumpSignal(signum int, ch chan os.Signal) {
	for {
		select {
		case <-ch:
			select {
			case d.sigFired <- signum:
			case <-d.sigStop:
				return
			}
		case <-d.sigStop:
			return
		}
	}
}

func (d *demuxCore) cancel(id waitID) {
	rec, ok := d.byID[id]
	if !ok {
		return // idempotent: already fired or never armed
	}
	delete(d.byID, id)
	d.wheel.remove(id)

	switch rec.kind {
	case recFDRead:
		st := d.descs[rec.fd]
		if st != nil {
			st.readers = removeRecord(st.readers, id)
			d.maybeUnwatch(rec.fd, st)
		}
	case recFDWrite:
		st := d.descs[rec.fd]
		if st != nil {
			st.writers = removeRecord(st.writers, id)
			d.maybeUnwatch(rec.fd, st)
		}
	case recSignal:
		d.mu.Lock()
		lst := d.signals[rec.signum]
		for i, pid := range lst {
			if *pid == id {
				d.signals[rec.signum] = append(lst[:i], lst[i+1:]...)
				break
			}
		}
		d.mu.Unlock()
	}
}

func (d *demuxCore) maybeUnwatch(fd int, st *fdState) {
	if st.empty() {
		delete(d.descs, fd)
		_ = d.raw.unwatch(fd)
	}
}

func removeRecord(list []*waitRecord, id waitID) []*waitRecord {
	for i, r := range list {
		if r.id == id {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func (d *demuxCore) tick(timeout time.Duration, maxEvents int) ([]firedRecord, error) {
	if d.closed {
		return nil, rerr.New(rerr.EBADF, "tick", "demultiplexer closed")
	}
	if maxEvents <= 0 {
		maxEvents = maxPollEvents
	}

	// Nothing armed at all: blocking here would hang forever since no
	// channel in the select below could ever fire. Report an empty batch
	// immediately so the scheduler can raise DEADLOCK instead of stalling.
	if len(d.byID) == 0 {
		return nil, nil
	}

	now := time.Now()
	budget := timeout
	if _, deadline, ok := d.wheel.next(); ok {
		untilDeadline := deadline.Sub(now)
		if untilDeadline < 0 {
			untilDeadline = 0 // already due: fire on the next timer tick
		}
		if timeout < 0 || untilDeadline < timeout {
			budget = untilDeadline
		}
	}

	var timer *time.Timer
	var timerCh <-chan time.Time
	if budget >= 0 {
		timer = time.NewTimer(budget)
		timerCh = timer.C
		defer timer.Stop()
	}

	// Readiness for a direction nobody waits on, or a signal nobody waits
	// for, fires no record; keep waiting rather than report an empty batch.
	for {
		select {
		case events := <-d.raw.eventCh:
			if fired := d.handleEvents(events, maxEvents); len(fired) > 0 {
				return fired, nil
			}
		case signum := <-d.sigFired:
			if fired := d.handleSignal(signum); len(fired) > 0 {
				return fired, nil
			}
		case <-timerCh:
			return d.handleTimeout(), nil
		}
	}
}

func (d *demuxCore) handleEvents(events []platEvent, maxEvents int) []firedRecord {
	var fired []firedRecord
	for _, e := range events {
		if len(fired) >= maxEvents {
			break
		}
		st, ok := d.descs[e.ident]
		if !ok {
			continue
		}
		if e.r {
			for _, rec := range append([]*waitRecord(nil), st.readers...) {
				d.retireRecord(rec)
				fired = append(fired, firedRecord{id: rec.id})
			}
			st.readers = nil
		}
		if e.w {
			for _, rec := range append([]*waitRecord(nil), st.writers...) {
				d.retireRecord(rec)
				fired = append(fired, firedRecord{id: rec.id})
			}
			st.writers = nil
		}
		d.maybeUnwatch(e.ident, st)
	}
	return fired
}

func (d *demuxCore) handleSignal(signum int) []firedRecord {
	d.mu.Lock()
	ids := d.signals[signum]
	d.signals[signum] = nil
	d.mu.Unlock()

	fired := make([]firedRecord, 0, len(ids))
	for _, pid := range ids {
		id := *pid
		if rec, ok := d.byID[id]; ok {
			d.wheel.remove(id)
			delete(d.byID, id)
			fired = append(fired, firedRecord{id: rec.id})
		}
	}
	return fired
}

func (d *demuxCore) handleTimeout() []firedRecord {
	now := time.Now()
	ids := d.wheel.popExpired(now)
	fired := make([]firedRecord, 0, len(ids))
	for _, id := range ids {
		rec, ok := d.byID[id]
		if !ok {
			continue
		}
		delete(d.byID, id)
		switch rec.kind {
		case recFDRead:
			if st := d.descs[rec.fd]; st != nil {
				st.readers = removeRecord(st.readers, id)
				d.maybeUnwatch(rec.fd, st)
			}
		case recFDWrite:
			if st := d.descs[rec.fd]; st != nil {
				st.writers = removeRecord(st.writers, id)
				d.maybeUnwatch(rec.fd, st)
			}
		case recSignal:
			d.mu.Lock()
			lst := d.signals[rec.signum]
			for i, pid := range lst {
				if *pid == id {
					d.signals[rec.signum] = append(lst[:i], lst[i+1:]...)
					break
				}
			}
			d.mu.Unlock()
		}
		fired = append(fired, firedRecord{id: id, timedOut: true})
	}
	return fired
}

func (d *demuxCore) retireRecord(rec *waitRecord) {
	delete(d.byID, rec.id)
	d.wheel.remove(rec.id)
}

func (d *demuxCore) close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	close(d.sigStop)
	return d.raw.close()
}

func toErrno(err error) syscall.Errno {
	if errno, ok := err.(syscall.Errno); ok {
		return errno
	}
	return 0
}
