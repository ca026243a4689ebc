package resolver

import (
	"context"
	"encoding/binary"
	"net"
	"syscall"
	"time"

	"github.com/miekg/dns"

	"github.com/icgood/ratchet-sub000"
	"github.com/icgood/ratchet-sub000/rerr"
)

// tcpSock is a minimal non-blocking TCP connection used only for the
// truncation fallback of §4.5 — kept local for the same reason udpSock is:
// avoiding a cyclic import with package aio.
type tcpSock struct {
	fd       int
	deadline time.Time
}

// Fd implements ratchet.IOObject.
func (s *tcpSock) Fd() int { return s.fd }

// Deadline implements ratchet.Deadliner.
func (s *tcpSock) Deadline() (time.Time, bool) { return s.deadline, !s.deadline.IsZero() }

func dialTCPSock(ctx context.Context, server string, port int, deadline time.Time) (*tcpSock, error) {
	ip := net.ParseIP(server)
	if ip == nil {
		return nil, rerr.New(rerr.EINVAL, "dialTCPSock", "not a literal server address")
	}
	family := syscall.AF_INET
	if ip.To4() == nil {
		family = syscall.AF_INET6
	}
	fd, err := syscall.Socket(family, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, rerr.FromErrno("dialTCPSock", "socket", err.(syscall.Errno))
	}
	if err := syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return nil, err
	}

	var sa syscall.Sockaddr
	if family == syscall.AF_INET {
		a := &syscall.SockaddrInet4{Port: port}
		copy(a.Addr[:], ip.To4())
		sa = a
	} else {
		a := &syscall.SockaddrInet6{Port: port}
		copy(a.Addr[:], ip.To16())
		sa = a
	}

	s := &tcpSock{fd: fd, deadline: deadline}
	cerr := syscall.Connect(fd, sa)
	if cerr != nil && cerr != syscall.EINPROGRESS && cerr != syscall.EISCONN {
		syscall.Close(fd)
		return nil, rerr.FromErrno("dialTCPSock", "connect", cerr.(syscall.Errno))
	}

	ready, werr := ratchet.WaitWrite(ctx, s)
	if werr != nil {
		s.close()
		return nil, werr
	}
	if !ready {
		s.close()
		return nil, rerr.Sentinel(rerr.ETIMEDOUT)
	}
	soErr, gerr := syscall.GetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_ERROR)
	if gerr != nil {
		s.close()
		return nil, gerr
	}
	if soErr != 0 {
		s.close()
		return nil, rerr.FromErrno("dialTCPSock", "connect", syscall.Errno(soErr))
	}
	return s, nil
}

func (s *tcpSock) close() error { return syscall.Close(s.fd) }

func (s *tcpSock) readFull(ctx context.Context, buf []byte) error {
	got := 0
	for got < len(buf) {
		n, err := syscall.Read(s.fd, buf[got:])
		if err == nil {
			if n == 0 {
				return rerr.New(rerr.PROTOCOL, "readFull", "connection closed before full message read")
			}
			got += n
			continue
		}
		errno, ok := err.(syscall.Errno)
		if !ok || !wouldBlockErrno(errno) {
			return rerr.FromErrno("readFull", "read", errno)
		}
		ratchet.SchedulerFrom(ctx).Logger().Trace().Int("fd", s.fd).Int("got", got).Msg("tcp read would block, suspending")
		ready, werr := ratchet.WaitRead(ctx, s)
		if werr != nil {
			return werr
		}
		if !ready {
			return rerr.Sentinel(rerr.ETIMEDOUT)
		}
	}
	return nil
}

func (s *tcpSock) writeFull(ctx context.Context, buf []byte) error {
	sent := 0
	for sent < len(buf) {
		n, err := syscall.Write(s.fd, buf[sent:])
		if err == nil {
			sent += n
			continue
		}
		errno, ok := err.(syscall.Errno)
		if !ok || !wouldBlockErrno(errno) {
			return rerr.FromErrno("writeFull", "write", errno)
		}
		ratchet.SchedulerFrom(ctx).Logger().Trace().Int("fd", s.fd).Int("sent", sent).Msg("tcp write would block, suspending")
		ready, werr := ratchet.WaitWrite(ctx, s)
		if werr != nil {
			return werr
		}
		if !ready {
			return rerr.Sentinel(rerr.ETIMEDOUT)
		}
	}
	return nil
}

// queryTCP resends msg over a fresh TCP connection to server:port, per
// §4.5's truncation fallback. DNS-over-TCP frames each message with a
// 2-byte big-endian length prefix (RFC 1035 §4.2.2).
func queryTCP(ctx context.Context, server string, port int, msg *dns.Msg, deadline time.Time) ([]Answer, error) {
	s, err := dialTCPSock(ctx, server, port, deadline)
	if err != nil {
		return nil, err
	}
	defer s.close()

	packed, err := msg.Pack()
	if err != nil {
		return nil, rerr.New(rerr.BADQUERY, "queryTCP", err.Error())
	}
	framed := make([]byte, 2+len(packed))
	binary.BigEndian.PutUint16(framed, uint16(len(packed)))
	copy(framed[2:], packed)
	if err := s.writeFull(ctx, framed); err != nil {
		return nil, err
	}

	var lenBuf [2]byte
	if err := s.readFull(ctx, lenBuf[:]); err != nil {
		return nil, err
	}
	respBuf := make([]byte, binary.BigEndian.Uint16(lenBuf[:]))
	if err := s.readFull(ctx, respBuf); err != nil {
		return nil, err
	}

	resp := new(dns.Msg)
	if err := resp.Unpack(respBuf); err != nil {
		return nil, rerr.New(rerr.PROTOCOL, "queryTCP", err.Error())
	}
	return interpretResponse(resp)
}
