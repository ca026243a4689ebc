//go:build !linux

package ratchet

import (
	"golang.org/x/sys/unix"
)

// rawPoller on non-Linux unix platforms (darwin, *bsd) uses kqueue, the
// direct kqueue analogue of poller_linux.go's epoll driver — the split
// mirrored from joeycumines-go-utilpkg/eventloop's own poller_linux.go /
// poller_darwin.go pair.
type rawPoller struct {
	kq      int32
	eventCh chan []platEvent
	dieCh   chan struct{}
}

func newRawPoller() (*rawPoller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	p := &rawPoller{
		kq:      int32(kq),
		eventCh: make(chan []platEvent),
		dieCh:   make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

func (p *rawPoller) watch(fd int) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_CLEAR},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_CLEAR},
	}
	_, err := unix.Kevent(int(p.kq), changes, nil, nil)
	return err
}

func (p *rawPoller) unwatch(fd int) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	// best-effort: a closed fd has already dropped its kqueue interest.
	_, _ = unix.Kevent(int(p.kq), changes, nil, nil)
	return nil
}

func (p *rawPoller) close() error {
	select {
	case <-p.dieCh:
	default:
		close(p.dieCh)
	}
	return unix.Close(int(p.kq))
}

func (p *rawPoller) wait() {
	var buf [maxPollEvents]unix.Kevent_t
	for {
		n, err := unix.Kevent(int(p.kq), nil, buf[:], nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n == 0 {
			continue
		}
		byFD := make(map[int]*platEvent, n)
		for i := 0; i < n; i++ {
			e := buf[i]
			fd := int(e.Ident)
			pe, ok := byFD[fd]
			if !ok {
				pe = &platEvent{ident: fd}
				byFD[fd] = pe
			}
			switch e.Filter {
			case unix.EVFILT_READ:
				pe.r = true
			case unix.EVFILT_WRITE:
				pe.w = true
			}
			if e.Flags&(unix.EV_EOF|unix.EV_ERROR) != 0 {
				pe.r = true
				pe.w = true
			}
		}
		out := make([]platEvent, 0, len(byFD))
		for _, pe := range byFD {
			out = append(out, *pe)
		}
		select {
		case p.eventCh <- out:
		case <-p.dieCh:
			return
		}
	}
}
