package resolver

import (
	"context"
	"math"
	"net"
	"syscall"
	"time"

	"github.com/miekg/dns"

	"github.com/icgood/ratchet-sub000"
	"github.com/icgood/ratchet-sub000/rerr"
)

// udpSock is resolver's own minimal non-blocking UDP socket — kept local
// rather than imported from package aio to avoid a cyclic import (aio's
// dial helpers call into resolver, not the other way around).
type udpSock struct {
	fd int
}

func newUDPSock(server string, port int) (*udpSock, error) {
	ip := net.ParseIP(server)
	if ip == nil {
		return nil, rerr.New(rerr.EINVAL, "newUDPSock", "not a literal server address")
	}
	family := syscall.AF_INET
	if ip.To4() == nil {
		family = syscall.AF_INET6
	}
	fd, err := syscall.Socket(family, syscall.SOCK_DGRAM, syscall.IPPROTO_UDP)
	if err != nil {
		return nil, rerr.FromErrno("newUDPSock", "socket", err.(syscall.Errno))
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
	if err := syscall.Connect(fd, sa); err != nil {
		syscall.Close(fd)
		return nil, rerr.FromErrno("newUDPSock", "connect", err.(syscall.Errno))
	}
	return &udpSock{fd: fd}, nil
}

// Fd implements ratchet.IOObject.
func (u *udpSock) Fd() int { return u.fd }

func (u *udpSock) send(b []byte) error {
	_, err := syscall.Write(u.fd, b)
	return err
}

func (u *udpSock) recv(b []byte) (int, error) {
	return syscall.Read(u.fd, b)
}

func (u *udpSock) close() error { return syscall.Close(u.fd) }

// Resolver sends each query to the first configured server, over a socket
// of the query's own; QueryAll runs one such query per requested type in
// parallel tasks sharing one Resolver.
type Resolver struct {
	cfg *Config
}

// NewResolver builds a Resolver from a loaded Config.
func NewResolver(cfg *Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Query implements §4.5's single-query contract: specials short-circuit,
// PTR input is normalized, otherwise a UDP query is sent to the first
// configured server with the retry loop in query.go.
func (r *Resolver) Query(ctx context.Context, name string, qtype RRType, expire time.Duration) ([]Answer, error) {
	if qtype == TypeSSHFP {
		return nil, rerr.New(rerr.ENOTSUP, "Query", "SSHFP parsing not implemented, matching original_source's parse_rr gap")
	}
	if ans, ok := specialCase(name, qtype); ok {
		return ans, nil
	}
	qname := name
	if qtype == TypePTR {
		qname = normalizePTRName(name)
	}

	if len(r.cfg.Servers) == 0 {
		return nil, rerr.New(rerr.BADQUERY, "Query", "no nameservers configured")
	}
	server, port := r.cfg.Servers[0], r.cfg.Port
	sock, err := newUDPSock(server, port)
	if err != nil {
		return nil, rerr.New(rerr.BADQUERY, "Query", err.Error())
	}
	defer sock.close()

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(qname), qtype)
	msg.RecursionDesired = true

	resp, err := runQuery(ctx, sock, msg, expire)
	if err != nil {
		return nil, err
	}
	if resp.Truncated {
		// §4.5's truncation fallback: UDP answers truncated at 512 bytes
		// are refetched over TCP, which has no such size limit.
		return queryTCP(ctx, server, port, msg, time.Now().Add(expire))
	}
	return interpretResponse(resp)
}

// QueryMX is a convenience wrapper over Query for MX lookups, returning
// an MXResult so callers walk priority order via GetI(n) (spec.md
// concrete scenario 4) instead of re-deriving it from the flat []Answer.
func (r *Resolver) QueryMX(ctx context.Context, name string, expire time.Duration) (MXResult, error) {
	answers, err := r.Query(ctx, name, TypeMX, expire)
	if err != nil {
		return MXResult{}, err
	}
	return NewMXResult(answers), nil
}

// QueryResult is one entry of QueryAll's result set.
type QueryResult struct {
	Type    RRType
	Answers []Answer
	Err     error
}

// QueryAll implements §4.5's parallel-query contract: one resolver
// instance per requested type, run concurrently as sibling tasks joined
// with ratchet.WaitAll, each bounded by its own expire deadline.
func QueryAll(ctx context.Context, r *Resolver, name string, types []RRType, expire time.Duration) map[RRType]QueryResult {
	results := make(map[RRType]QueryResult, len(types))
	var tasks []*ratchet.Task
	var order []RRType

	for _, qt := range types {
		qt := qt
		t := ratchet.Spawn(ctx, func(tctx context.Context) (any, error) {
			ans, err := r.Query(tctx, name, qt, expire)
			return QueryResult{Type: qt, Answers: ans, Err: err}, nil
		})
		tasks = append(tasks, t)
		order = append(order, qt)
	}

	ratchet.WaitAll(ctx, tasks)

	for i, t := range tasks {
		res, _ := t.Result()
		if qr, ok := res.(QueryResult); ok {
			results[order[i]] = qr
		} else {
			results[order[i]] = QueryResult{Type: order[i], Err: rerr.New(rerr.TEMPFAIL, "QueryAll", "sub-query produced no result")}
		}
	}
	return results
}

// backoffSeconds computes 2^t, the per-attempt kernel-wait timeout that
// races (but never exceeds) the overall expire deadline, per §4.5.
func backoffSeconds(t int) time.Duration {
	return time.Duration(math.Pow(2, float64(t))) * time.Second
}
