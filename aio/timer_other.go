//go:build !linux

package aio

import (
	"context"
	"sync"
	"syscall"
	"time"

	"github.com/icgood/ratchet-sub000"
	"github.com/icgood/ratchet-sub000/rerr"
)

// Timerfd on non-Linux platforms (no timerfd(7)) is emulated with a
// self-pipe: a background goroutine sleeps until the deadline then writes
// a byte, so it still presents as an ordinary readable IOObject to the
// scheduler exactly like the Linux version.
type Timerfd struct {
	r, w     int
	mu       sync.Mutex
	timer    *time.Timer
	interval time.Duration
	stop     chan struct{}
}

// NewTimerfd creates a disarmed timer.
func NewTimerfd() (*Timerfd, error) {
	fds := make([]int, 2)
	if err := syscall.Pipe(fds); err != nil {
		return nil, rerr.FromErrno("NewTimerfd", "pipe", err.(syscall.Errno))
	}
	syscall.SetNonblock(fds[0], true)
	syscall.SetNonblock(fds[1], true)
	return &Timerfd{r: fds[0], w: fds[1], stop: make(chan struct{})}, nil
}

// Fd implements ratchet.IOObject.
func (t *Timerfd) Fd() int { return t.r }

// Set arms the timer to fire once after d, optionally rearming every
// interval thereafter.
func (t *Timerfd) Set(d, interval time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.interval = interval
	t.timer = time.AfterFunc(d, t.fire)
	return nil
}

func (t *Timerfd) fire() {
	var b [1]byte
	syscall.Write(t.w, b[:])
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.interval > 0 {
		t.timer = time.AfterFunc(t.interval, t.fire)
	}
}

// Wait suspends until the timer fires, draining exactly one expiration.
func (t *Timerfd) Wait(ctx context.Context) (uint64, error) {
	var buf [1]byte
	for {
		ready, err := ratchet.WaitRead(ctx, t)
		if err != nil {
			return 0, err
		}
		if !ready {
			return 0, rerr.Sentinel(rerr.ETIMEDOUT)
		}
		n, rerrno := syscall.Read(t.r, buf[:])
		if rerrno == syscall.EAGAIN {
			continue
		}
		if rerrno != nil {
			return 0, rerr.FromErrno("Wait", "read", rerrno.(syscall.Errno))
		}
		if n != 1 {
			continue
		}
		return 1, nil
	}
}

// Close stops the timer and releases both pipe ends.
func (t *Timerfd) Close() error {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()
	syscall.Close(t.w)
	return syscall.Close(t.r)
}
