package aio

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"time"

	"github.com/icgood/ratchet-sub000/rerr"
)

// taskConn adapts a Socket into a standard net.Conn whose blocking-style
// Read/Write calls transparently suspend the calling task instead of
// blocking an OS thread. crypto/tls has no WANT_READ/WANT_WRITE-style
// non-blocking API the way OpenSSL does; wrapping the fd as an ordinary
// (but scheduler-suspending) net.Conn lets the standard library's own
// handshake/record code drive it exactly as it would a real blocking
// socket, without reimplementing TLS state machines here.
type taskConn struct {
	ctx context.Context
	s   *Socket
}

// Read returns io.EOF (not a *rerr.Error) on a clean close, since
// crypto/tls's handshake and record-layer code specifically checks for
// io.EOF from the underlying net.Conn to recognize a graceful close —
// anything else surfaces as a hard error. TLSSession.Recv is where this
// gets translated into a zero-length, nil-error return.
func (c *taskConn) Read(b []byte) (int, error) {
	n, err := c.s.Recv(c.ctx, b)
	if err != nil {
		return 0, mapConnErr(err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (c *taskConn) Write(b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := c.s.Send(c.ctx, b[total:])
		if err != nil {
			return total, mapConnErr(err)
		}
		total += n
	}
	return total, nil
}

func mapConnErr(err error) error {
	if rerrErr, ok := err.(*rerr.Error); ok && rerrErr.Code == rerr.ETIMEDOUT {
		return &rerr.Error{Code: rerr.SSLERROR, Func: "taskConn", Message: "i/o timeout"}
	}
	return err
}

func (c *taskConn) Close() error                       { return c.s.Close() }
func (c *taskConn) LocalAddr() net.Addr                { return nil }
func (c *taskConn) RemoteAddr() net.Addr                { return nil }
func (c *taskConn) SetDeadline(t time.Time) error      { c.s.SetDeadline(t); return nil }
func (c *taskConn) SetReadDeadline(t time.Time) error  { c.s.SetDeadline(t); return nil }
func (c *taskConn) SetWriteDeadline(t time.Time) error { c.s.SetDeadline(t); return nil }

// TLSSession wraps a Socket with crypto/tls, realizing §4.4's "richer
// branching" for TLS purely by delegating to the standard library's
// *tls.Conn over a task-suspending net.Conn.
type TLSSession struct {
	conn *tls.Conn
}

// Client starts a TLS client handshake over sock.
func Client(ctx context.Context, sock *Socket, cfg *tls.Config) (*TLSSession, error) {
	tc := tls.Client(&taskConn{ctx: ctx, s: sock}, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		return nil, wrapTLSErr(err)
	}
	return &TLSSession{conn: tc}, nil
}

// Server starts a TLS server handshake over sock.
func Server(ctx context.Context, sock *Socket, cfg *tls.Config) (*TLSSession, error) {
	tc := tls.Server(&taskConn{ctx: ctx, s: sock}, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		return nil, wrapTLSErr(err)
	}
	return &TLSSession{conn: tc}, nil
}

func wrapTLSErr(err error) error {
	if rerrErr, ok := err.(*rerr.Error); ok {
		return rerrErr
	}
	return &rerr.Error{Code: rerr.SSLERROR, Func: "Handshake", Message: err.Error()}
}

// Send writes plaintext, encrypting as it goes.
func (s *TLSSession) Send(ctx context.Context, buf []byte) (int, error) {
	n, err := s.conn.Write(buf)
	if err != nil {
		return n, wrapTLSErr(err)
	}
	return n, nil
}

// Recv reads and decrypts into buf. A zero-length, nil-error return
// signals a clean TLS close (mapped from the source's SSL_ERROR_SYSCALL-
// with-ret=0 case onto Go's io.EOF convention).
func (s *TLSSession) Recv(ctx context.Context, buf []byte) (int, error) {
	n, err := s.conn.Read(buf)
	if err != nil {
		if err == io.EOF {
			return 0, nil
		}
		return n, wrapTLSErr(err)
	}
	return n, nil
}

// Close sends the TLS close-notify and releases the underlying socket.
func (s *TLSSession) Close() error { return s.conn.Close() }
