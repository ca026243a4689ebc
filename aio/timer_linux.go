//go:build linux

package aio

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	"github.com/icgood/ratchet-sub000"
	"github.com/icgood/ratchet-sub000/rerr"
)

// Timerfd is a non-blocking timerfd(7) wrapper, the L4 realization of
// §4 "timerfd wrapper": an IOObject whose readiness fires once per
// expiration, read through the ordinary Read wait primitive rather than a
// bespoke mechanism.
type Timerfd struct {
	fd int
}

// NewTimerfd creates a disarmed timerfd using CLOCK_MONOTONIC.
func NewTimerfd() (*Timerfd, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, rerr.FromErrno("NewTimerfd", "timerfd_create", err.(unix.Errno))
	}
	return &Timerfd{fd: fd}, nil
}

// Fd implements ratchet.IOObject.
func (t *Timerfd) Fd() int { return t.fd }

// Set arms the timer to fire once after d (a zero interval makes it
// one-shot; a non-zero interval rearms it periodically).
func (t *Timerfd) Set(d, interval time.Duration) error {
	spec := unix.ItimerSpec{
		Value:    unix.NsecToTimespec(d.Nanoseconds()),
		Interval: unix.NsecToTimespec(interval.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(t.fd, 0, &spec, nil); err != nil {
		return rerr.FromErrno("Set", "timerfd_settime", err.(unix.Errno))
	}
	return nil
}

// Wait suspends until the timer fires, returning the number of
// expirations observed since the last Wait.
func (t *Timerfd) Wait(ctx context.Context) (uint64, error) {
	var buf [8]byte
	for {
		ready, err := ratchet.WaitRead(ctx, t)
		if err != nil {
			return 0, err
		}
		if !ready {
			return 0, rerr.Sentinel(rerr.ETIMEDOUT)
		}
		n, rerrno := unix.Read(t.fd, buf[:])
		if rerrno == unix.EAGAIN {
			continue
		}
		if rerrno != nil {
			return 0, rerr.FromErrno("Wait", "read", rerrno.(unix.Errno))
		}
		if n != 8 {
			continue
		}
		return hostEndianUint64(buf), nil
	}
}

// Close releases the timerfd.
func (t *Timerfd) Close() error { return unix.Close(t.fd) }

func hostEndianUint64(b [8]byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}
