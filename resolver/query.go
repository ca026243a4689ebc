package resolver

import (
	"context"
	"syscall"
	"time"

	"github.com/miekg/dns"

	"github.com/icgood/ratchet-sub000"
	"github.com/icgood/ratchet-sub000/rerr"
)

// runQuery implements §4.5's per-query retry loop: send once, then on
// each iteration either the read completes (unpacked and returned for the
// caller to interpret — truncation is the caller's decision, not this
// loop's), the expire deadline has passed (TEMPFAIL), or neither — in
// which case increment the try count and yield Read with a 2^t-second
// timeout, racing the kernel wait against (never past) the overall expire.
func runQuery(ctx context.Context, sock *udpSock, msg *dns.Msg, expire time.Duration) (*dns.Msg, error) {
	packed, err := msg.Pack()
	if err != nil {
		return nil, rerr.New(rerr.BADQUERY, "runQuery", err.Error())
	}
	if err := sock.send(packed); err != nil {
		return nil, mapSendErr(err)
	}

	const maxUDPMsgSize = 4096 // generous bound for a plain (non-EDNS) UDP reply

	start := time.Now()
	buf := make([]byte, maxUDPMsgSize)
	t := 0
	for {
		if expire > 0 && time.Since(start) >= expire {
			return nil, rerr.New(rerr.TEMPFAIL, "runQuery", "expire deadline exceeded")
		}

		n, rerrno := sock.recv(buf)
		if rerrno == nil {
			resp := new(dns.Msg)
			if err := resp.Unpack(buf[:n]); err != nil {
				return nil, rerr.New(rerr.PROTOCOL, "runQuery", err.Error())
			}
			return resp, nil
		}

		errno, ok := rerrno.(syscall.Errno)
		if !ok || !wouldBlockErrno(errno) {
			return nil, rerr.FromErrno("runQuery", "recv", errno)
		}

		t++
		backoff := backoffSeconds(t)
		if backoff > 30*time.Second {
			// guard against unbounded 2^t growth outliving any sane expire
			backoff = 30 * time.Second
		}
		ratchet.SchedulerFrom(ctx).Logger().Trace().
			Int("attempt", t).Dur("backoff", backoff).Msg("dns query retry, backing off")
		waitUntil := time.Now().Add(backoff)
		if limit := start.Add(expire); expire > 0 && limit.Before(waitUntil) {
			waitUntil = limit
		}
		_, werr := ratchet.BlockOn(ctx, []ratchet.IOObject{sock}, nil, waitUntil)
		if werr != nil {
			return nil, werr
		}
		// a nil io result (backoff elapsed) just means "try again" — the
		// expire check above, not this wait, is what eventually fails the
		// query.
	}
}

func wouldBlockErrno(e syscall.Errno) bool {
	return e == syscall.EAGAIN || e == syscall.EWOULDBLOCK
}

func mapSendErr(err error) error {
	if errno, ok := err.(syscall.Errno); ok {
		return rerr.FromErrno("runQuery", "send", errno)
	}
	return rerr.New(rerr.BADQUERY, "runQuery", err.Error())
}

func interpretResponse(resp *dns.Msg) ([]Answer, error) {
	switch resp.Rcode {
	case dns.RcodeSuccess:
		if len(resp.Answer) == 0 {
			return nil, rerr.Sentinel(rerr.NODATA)
		}
		return parseAnswers(resp), nil
	case dns.RcodeNameError:
		return nil, rerr.Sentinel(rerr.NXDOMAIN)
	case dns.RcodeServerFailure, dns.RcodeRefused:
		return nil, rerr.New(rerr.TEMPFAIL, "runQuery", "server returned "+dns.RcodeToString[resp.Rcode])
	default:
		return nil, rerr.New(rerr.PROTOCOL, "runQuery", "unexpected rcode "+dns.RcodeToString[resp.Rcode])
	}
}
