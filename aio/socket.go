// Package aio implements the L4 async operations: non-blocking sockets,
// TLS sessions, a timerfd-backed timer, and DNS-resolving dial helpers,
// all built on the L3 wait primitives exported by the root ratchet
// package.
package aio

import (
	"context"
	"net"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/icgood/ratchet-sub000"
	"github.com/icgood/ratchet-sub000/rerr"
)

// Socket is a non-blocking L4 socket driven through the scheduler instead
// of a blocking read/write. Connect and Accept create it from a raw
// non-blocking socket fd; NewSocket builds it by duplicating the fd out of
// a standard net.Conn the same way the teacher's dupconn helper does; and
// NewSocketFD wraps any existing fd.
type Socket struct {
	fd       int
	deadline time.Time
	closed   bool
}

// Fd implements ratchet.IOObject.
func (s *Socket) Fd() int { return s.fd }

// Deadline implements ratchet.Deadliner.
func (s *Socket) Deadline() (time.Time, bool) { return s.deadline, !s.deadline.IsZero() }

// SetDeadline attaches a per-socket deadline consulted by Connect/Send/
// Recv when no explicit deadline is passed.
func (s *Socket) SetDeadline(d time.Time) { s.deadline = d }

// dupFd extracts a non-blocking, close-on-exec raw fd duplicated from
// conn, exactly as the teacher's dupconn does for net.Conn.
func dupFd(sc syscallConner) (int, error) {
	rc, err := sc.SyscallConn()
	if err != nil {
		return -1, rerr.New(rerr.ENOTSUP, "dupFd", "not a raw-capable conn")
	}
	var newfd int
	var ctrlErr error
	err = rc.Control(func(fd uintptr) {
		newfd, ctrlErr = syscall.Dup(int(fd))
		if ctrlErr == nil {
			syscall.CloseOnExec(newfd)
		}
	})
	if err != nil {
		return -1, err
	}
	if ctrlErr != nil {
		return -1, ctrlErr
	}
	if err := syscall.SetNonblock(newfd, true); err != nil {
		syscall.Close(newfd)
		return -1, err
	}
	return newfd, nil
}

type syscallConner interface {
	SyscallConn() (syscall.RawConn, error)
}

// NewSocket wraps an already-connected net.Conn (e.g. one Go's net
// package resolved and dialed synchronously) as a non-blocking Socket.
// The original conn is closed; only the duplicated fd survives.
func NewSocket(conn net.Conn) (*Socket, error) {
	fd, err := dupFd(conn.(syscallConner))
	if err != nil {
		return nil, err
	}
	conn.Close()
	return &Socket{fd: fd}, nil
}

// NewSocketFD wraps a raw fd directly (a socket or, for example, a pipe
// end), switching it to non-blocking mode.
func NewSocketFD(fd int) *Socket {
	syscall.SetNonblock(fd, true)
	return &Socket{fd: fd}
}

// Close releases the socket's fd. Idempotent.
func (s *Socket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return syscall.Close(s.fd)
}

// retryLoop is the common async-operation contract of §4.4: attempt op
// non-blockingly; on EAGAIN/EWOULDBLOCK/EINPROGRESS/EALREADY, suspend on
// readiness of dir (read or write) and retry; any other errno maps
// straight to a *rerr.Error.
func retryLoop(ctx context.Context, s *Socket, write bool, op func() (int, error)) (int, error) {
	for {
		n, err := op()
		if err == nil {
			return n, nil
		}
		errno, ok := err.(syscall.Errno)
		if !ok {
			return 0, err
		}
		if !wouldBlock(errno) {
			return 0, rerr.FromErrno("retryLoop", "syscall", errno)
		}

		ratchet.SchedulerFrom(ctx).Logger().Trace().
			Int("fd", s.fd).Bool("write", write).Str("errno", errno.Error()).
			Msg("retry loop would block, suspending")

		var ready bool
		var werr error
		if write {
			ready, werr = ratchet.WaitWrite(ctx, s)
		} else {
			ready, werr = ratchet.WaitRead(ctx, s)
		}
		if werr != nil {
			return 0, werr
		}
		if !ready {
			return 0, rerr.Sentinel(rerr.ETIMEDOUT)
		}
	}
}

func wouldBlock(errno syscall.Errno) bool {
	switch errno {
	case syscall.EAGAIN, syscall.EWOULDBLOCK, syscall.EINPROGRESS, syscall.EALREADY:
		return true
	default:
		return false
	}
}

// Send writes all of buf non-blockingly, suspending the calling task on
// writability as needed, per §4.4. On error it returns how many bytes were
// written before the failure.
func (s *Socket) Send(ctx context.Context, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := retryLoop(ctx, s, true, func() (int, error) {
			return syscall.Write(s.fd, buf[total:])
		})
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Recv reads into buf non-blockingly, suspending the calling task on
// readability as needed. A zero-length, nil-error return signals EOF.
func (s *Socket) Recv(ctx context.Context, buf []byte) (int, error) {
	return retryLoop(ctx, s, false, func() (int, error) {
		return syscall.Read(s.fd, buf)
	})
}

// TrySend is Send's partial-write sibling: it completes exactly one
// successful write(2), suspending on writability for as long as the kernel
// reports would-block, and returns whatever tail of buf that write did not
// accept rather than retrying until buf is exhausted. Callers that want to
// drive the loop themselves (e.g. to interleave with other work between
// attempts) use this instead of Send.
func (s *Socket) TrySend(ctx context.Context, buf []byte) (unsent []byte, err error) {
	n, err := retryLoop(ctx, s, true, func() (int, error) {
		return syscall.Write(s.fd, buf)
	})
	if err != nil {
		return buf, err
	}
	return buf[n:], nil
}

// SendMany writes bufs with vectored writev(2) calls
// (golang.org/x/sys/unix.Writev), suspending on writability as needed and
// repeating until every buffer has been written, per §4.4's SendMany. It
// returns how many of bufs were fully consumed: len(bufs) on success, and
// on error the count written before the failure (a partially written
// buffer is not counted).
func (s *Socket) SendMany(ctx context.Context, bufs [][]byte) (consumed int, err error) {
	for len(bufs) > 0 {
		n, werr := retryLoop(ctx, s, true, func() (int, error) {
			return unix.Writev(s.fd, bufs)
		})
		if werr != nil {
			return consumed, werr
		}

		for n > 0 && len(bufs) > 0 {
			if n < len(bufs[0]) {
				bufs[0] = bufs[0][n:]
				n = 0
				break
			}
			n -= len(bufs[0])
			bufs = bufs[1:]
			consumed++
		}
	}
	return consumed, nil
}

// Connect dials addr non-blockingly. Per §4.4, success from the retry
// loop additionally requires checking SO_ERROR before declaring victory.
func Connect(ctx context.Context, network, addr string, deadline time.Time) (*Socket, error) {
	raddr, err := net.ResolveTCPAddr(network, addr)
	if err != nil {
		return nil, rerr.New(rerr.EINVAL, "Connect", err.Error())
	}
	family := syscall.AF_INET
	ip4 := raddr.IP.To4()
	if ip4 == nil {
		family = syscall.AF_INET6
	}
	fd, err := syscall.Socket(family, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, rerr.FromErrno("Connect", "socket", err.(syscall.Errno))
	}
	if err := syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	s := &Socket{fd: fd, deadline: deadline}

	var sa syscall.Sockaddr
	if ip4 != nil {
		sa4 := &syscall.SockaddrInet4{Port: raddr.Port}
		copy(sa4.Addr[:], ip4)
		sa = sa4
	} else {
		sa6 := &syscall.SockaddrInet6{Port: raddr.Port}
		copy(sa6.Addr[:], raddr.IP.To16())
		sa = sa6
	}

	_, err = retryLoop(ctx, s, true, func() (int, error) {
		cerr := syscall.Connect(fd, sa)
		if cerr == nil || cerr == syscall.EISCONN {
			return 0, nil
		}
		return 0, cerr
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	soErr, gerr := syscall.GetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_ERROR)
	if gerr != nil {
		s.Close()
		return nil, gerr
	}
	if soErr != 0 {
		s.Close()
		return nil, rerr.FromErrno("Connect", "connect", syscall.Errno(soErr))
	}
	return s, nil
}

// Listener is a non-blocking listening socket.
type Listener struct {
	fd int
}

// Listen binds and listens on addr, returning a non-blocking Listener.
func Listen(network, addr string) (*Listener, error) {
	laddr, err := net.ResolveTCPAddr(network, addr)
	if err != nil {
		return nil, rerr.New(rerr.EINVAL, "Listen", err.Error())
	}
	family := syscall.AF_INET
	ip4 := laddr.IP.To4()
	if laddr.IP != nil && ip4 == nil {
		family = syscall.AF_INET6
	}
	fd, err := syscall.Socket(family, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, rerr.FromErrno("Listen", "socket", err.(syscall.Errno))
	}
	_ = syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	var sa syscall.Sockaddr
	if family == syscall.AF_INET {
		sa4 := &syscall.SockaddrInet4{Port: laddr.Port}
		if ip4 != nil {
			copy(sa4.Addr[:], ip4)
		}
		sa = sa4
	} else {
		sa6 := &syscall.SockaddrInet6{Port: laddr.Port}
		copy(sa6.Addr[:], laddr.IP.To16())
		sa = sa6
	}
	if err := syscall.Bind(fd, sa); err != nil {
		syscall.Close(fd)
		return nil, rerr.FromErrno("Listen", "bind", err.(syscall.Errno))
	}
	if err := syscall.Listen(fd, syscall.SOMAXCONN); err != nil {
		syscall.Close(fd)
		return nil, rerr.FromErrno("Listen", "listen", err.(syscall.Errno))
	}
	if err := syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	return &Listener{fd: fd}, nil
}

// Fd implements ratchet.IOObject so a Listener can itself be waited on.
func (l *Listener) Fd() int { return l.fd }

// Addr returns the bound local address.
func (l *Listener) Addr() (*net.TCPAddr, error) {
	sa, err := syscall.Getsockname(l.fd)
	if err != nil {
		return nil, err
	}
	switch a := sa.(type) {
	case *syscall.SockaddrInet4:
		return &net.TCPAddr{IP: append([]byte(nil), a.Addr[:]...), Port: a.Port}, nil
	case *syscall.SockaddrInet6:
		return &net.TCPAddr{IP: append([]byte(nil), a.Addr[:]...), Port: a.Port}, nil
	default:
		return nil, rerr.New(rerr.EAFNOSUPPORT, "Addr", "unsupported sockaddr family")
	}
}

// Close releases the listener's fd.
func (l *Listener) Close() error { return syscall.Close(l.fd) }

// Accept suspends until a connection is pending, then constructs a new
// non-blocking Socket from the accepted descriptor and the peer's
// printable address, per §4.4.
func Accept(ctx context.Context, l *Listener) (*Socket, string, error) {
	for {
		nfd, sa, err := syscall.Accept(l.fd)
		if err == nil {
			syscall.SetNonblock(nfd, true)
			return &Socket{fd: nfd}, peerString(sa), nil
		}
		errno, ok := err.(syscall.Errno)
		if !ok || !wouldBlock(errno) {
			return nil, "", rerr.FromErrno("Accept", "accept", errno)
		}
		ready, werr := ratchet.WaitRead(ctx, l)
		if werr != nil {
			return nil, "", werr
		}
		if !ready {
			return nil, "", rerr.Sentinel(rerr.ETIMEDOUT)
		}
	}
}

func peerString(sa syscall.Sockaddr) string {
	switch a := sa.(type) {
	case *syscall.SockaddrInet4:
		ip := net.IP(a.Addr[:])
		return net.JoinHostPort(ip.String(), strconv.Itoa(a.Port))
	case *syscall.SockaddrInet6:
		ip := net.IP(a.Addr[:])
		return net.JoinHostPort(ip.String(), strconv.Itoa(a.Port))
	default:
		return ""
	}
}
