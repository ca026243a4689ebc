package aio

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/icgood/ratchet-sub000/resolver"
	"github.com/icgood/ratchet-sub000/rerr"
)

// ResolveEndpoint implements §4.4's TCP/UDP endpoint preparation helper:
// given a hostname and port, query the async DNS resolver for the
// caller-specified address families in order, and return the first
// non-empty answer's address as a dial-ready "host:port" string.
//
// A literal IP address in host is returned unchanged (checked with
// net.ParseIP before any query) without consuming any of families.
func ResolveEndpoint(ctx context.Context, r *resolver.Resolver, host string, port int, families []resolver.RRType) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return net.JoinHostPort(host, strconv.Itoa(port)), nil
	}
	if len(families) == 0 {
		families = []resolver.RRType{resolver.TypeAAAA, resolver.TypeA}
	}

	for _, fam := range families {
		ans, err := r.Query(ctx, host, fam, 5*time.Second)
		if err != nil || len(ans) == 0 {
			continue
		}
		for _, a := range ans {
			if a.Addr != nil {
				return net.JoinHostPort(a.Addr.String(), strconv.Itoa(port)), nil
			}
		}
	}
	return "", rerr.Sentinel(rerr.NODATA)
}

// DialTCP resolves host:port via r and connects, composing
// ResolveEndpoint with Connect so callers never need net.Dial directly.
func DialTCP(ctx context.Context, r *resolver.Resolver, host string, port int, deadline time.Time) (*Socket, error) {
	addr, err := ResolveEndpoint(ctx, r, host, port, nil)
	if err != nil {
		return nil, err
	}
	return Connect(ctx, "tcp", addr, deadline)
}
