package aio_test

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icgood/ratchet-sub000"
	"github.com/icgood/ratchet-sub000/aio"
	"github.com/icgood/ratchet-sub000/rerr"
)

func pipePair(t *testing.T) (r, w int) {
	t.Helper()
	fds := make([]int, 2)
	require.NoError(t, syscall.Pipe(fds))
	t.Cleanup(func() {
		syscall.Close(fds[0])
		syscall.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestSocketSendRecvThroughScheduler(t *testing.T) {
	r, w := pipePair(t)
	readSock := aio.NewSocketFD(r)
	writeSock := aio.NewSocketFD(w)

	var got []byte
	s, err := ratchet.New(func(ctx context.Context) (any, error) {
		writer := ratchet.Spawn(ctx, func(ctx context.Context) (any, error) {
			_, werr := writeSock.Send(ctx, []byte("hello\nworld\n\n"))
			return nil, werr
		})
		buf := make([]byte, 64)
		n, rerr := readSock.Recv(ctx, buf)
		require.NoError(t, rerr)
		got = append(got, buf[:n]...)
		require.NoError(t, ratchet.WaitAll(ctx, []*ratchet.Task{writer}))
		return nil, nil
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.RunUntilDone())
	assert.Equal(t, []byte("hello\nworld\n\n"), got)
}

// runEchoLoopback drives spec.md's concrete scenario 1 (echo server) end
// to end over a real loopback socket: Listen -> Accept -> Connect ->
// Send/Recv, through the scheduler rather than a pipe pair, so the
// Connect/Listen family-selection logic is actually exercised. The server
// task sends back every chunk it receives until EOF; the client shuts down
// its write side and reads the echo until EOF.
func runEchoLoopback(t *testing.T, network, bindAddr string) {
	t.Helper()

	l, err := aio.Listen(network, bindAddr)
	require.NoError(t, err)
	defer l.Close()

	laddr, err := l.Addr()
	require.NoError(t, err)

	const msg = "hello\nworld\n\n"
	var got []byte

	s, err := ratchet.New(func(ctx context.Context) (any, error) {
		server := ratchet.Spawn(ctx, func(ctx context.Context) (any, error) {
			conn, _, aerr := aio.Accept(ctx, l)
			if aerr != nil {
				return nil, aerr
			}
			for {
				buf := make([]byte, 64)
				n, rerr := conn.Recv(ctx, buf)
				if rerr != nil {
					return nil, rerr
				}
				if n == 0 {
					return nil, conn.Close()
				}
				if _, werr := conn.Send(ctx, buf[:n]); werr != nil {
					return nil, werr
				}
			}
		})

		client, cerr := aio.Connect(ctx, network, laddr.String(), time.Time{})
		if cerr != nil {
			return nil, cerr
		}
		if _, werr := client.Send(ctx, []byte(msg)); werr != nil {
			return nil, werr
		}
		if werr := syscall.Shutdown(client.Fd(), syscall.SHUT_WR); werr != nil {
			return nil, werr
		}
		for {
			buf := make([]byte, 64)
			n, rerr := client.Recv(ctx, buf)
			if rerr != nil {
				return nil, rerr
			}
			if n == 0 {
				break
			}
			got = append(got, buf[:n]...)
		}
		if werr := client.Close(); werr != nil {
			return nil, werr
		}

		return nil, ratchet.WaitAll(ctx, []*ratchet.Task{server})
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.RunUntilDone())
	assert.Equal(t, []byte(msg), got)
}

func TestEchoServerLoopbackIPv4(t *testing.T) {
	runEchoLoopback(t, "tcp4", "127.0.0.1:0")
}

func TestEchoServerLoopbackIPv6(t *testing.T) {
	runEchoLoopback(t, "tcp6", "[::1]:0")
}

// TestConnectTimeout reproduces spec.md's concrete scenario 2: connecting
// to an address that silently drops SYNs must fail with ETIMEDOUT inside
// the requested deadline, not hang or return some other errno.
func TestConnectTimeout(t *testing.T) {
	var connErr error

	s, err := ratchet.New(func(ctx context.Context) (any, error) {
		deadline := time.Now().Add(250 * time.Millisecond)
		_, connErr = aio.Connect(ctx, "tcp", "10.255.255.1:1", deadline)
		return nil, nil
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.RunUntilDone())
	require.Error(t, connErr)
	assert.True(t, errors.Is(connErr, rerr.TimedOut))
}
