//go:build linux

package ratchet

import (
	"golang.org/x/sys/unix"
)

// rawPoller is the thin per-platform sliver of L1: register/unregister a
// fd for combined read+write interest, and deliver batches of readiness
// events on a channel fed by a dedicated background goroutine — exactly
// the split the teacher (gaio) uses between its generic event/pollerEvents
// types and its platform-specific epoll driver.
type rawPoller struct {
	epfd    int32
	eventCh chan []platEvent
	dieCh   chan struct{}
}

func newRawPoller() (*rawPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	p := &rawPoller{
		epfd:    int32(epfd),
		eventCh: make(chan []platEvent),
		dieCh:   make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

// watch registers fd for both readable and writable notifications. Like
// the teacher, one registration per fd covers both directions: the demux
// core routes each event to the readers/writers lists of its fdState, so
// arming a second direction on an already-watched fd needs no
// EPOLL_CTL_MOD. The demux core unwatches the fd once no waiter remains.
func (p *rawPoller) watch(fd int) error {
	ev := &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	}
	return unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_ADD, fd, ev)
}

func (p *rawPoller) unwatch(fd int) error {
	err := unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_DEL, fd, nil)
	// the kernel silently drops interest when the fd itself is closed;
	// ENOENT here just means we lost the race with that close.
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *rawPoller) close() error {
	select {
	case <-p.dieCh:
	default:
		close(p.dieCh)
	}
	return unix.Close(int(p.epfd))
}

func (p *rawPoller) wait() {
	var buf [maxPollEvents]unix.EpollEvent
	for {
		n, err := unix.EpollWait(int(p.epfd), buf[:], -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n == 0 {
			continue
		}
		out := make([]platEvent, 0, n)
		for i := 0; i < n; i++ {
			e := buf[i]
			out = append(out, platEvent{
				ident: int(e.Fd),
				r:     e.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0,
				w:     e.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			})
		}
		select {
		case p.eventCh <- out:
		case <-p.dieCh:
			return
		}
	}
}
