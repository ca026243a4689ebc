package resolver

import (
	"net"
	"sort"

	"github.com/miekg/dns"
)

// RRType mirrors the subset of DNS record types the client understands,
// named rather than re-exporting miekg/dns's numeric constants so caller
// code reads as the spec's vocabulary (A, AAAA, MX, CNAME, TXT, PTR).
type RRType = uint16

const (
	TypeA     RRType = dns.TypeA
	TypeAAAA  RRType = dns.TypeAAAA
	TypeMX    RRType = dns.TypeMX
	TypeCNAME RRType = dns.TypeCNAME
	TypeTXT   RRType = dns.TypeTXT
	TypePTR   RRType = dns.TypePTR

	// [EXPANSION] carried over from original_source's query-type table
	// beyond the address/MX examples spec.md itself walks through.
	TypeNS  RRType = dns.TypeNS
	TypeSOA RRType = dns.TypeSOA
	TypeSRV RRType = dns.TypeSRV
	// TypeSPF aliases TXT parsing, matching the original's own aliasing —
	// an SPF record is wire-identical to a TXT record.
	TypeSPF RRType = dns.TypeSPF
	// TypeSSHFP is named but left unparsed, exactly as original_source's
	// parse_rr has no SSHFP case; querying it returns rerr.ENOTSUP.
	TypeSSHFP RRType = dns.TypeSSHFP
)

// Answer is one parsed resource record, flattened across record types
// into a single struct the way the source's answer-table duck-types it —
// only the fields relevant to the record's type are populated.
type Answer struct {
	Name string
	Type RRType
	TTL  uint32

	Addr         net.IP   // A/AAAA
	MXHost       string   // MX
	MXPreference uint16   // MX
	CNAME        string   // CNAME
	Text         []string // TXT/SPF
	PTR          string   // PTR

	NSHost string // NS
	SOA    string // SOA, rendered via dns.SOA.String()

	SRVTarget   string // SRV
	SRVPort     uint16 // SRV
	SRVWeight   uint16 // SRV
	SRVPriority uint16 // SRV
}

// parseAnswers converts a *dns.Msg's answer section into our Answer
// slice, then — for MX specifically — buckets by priority ascending while
// preserving source order within a bucket, per §4.5's MX result shape.
func parseAnswers(msg *dns.Msg) []Answer {
	var out []Answer
	var mx []Answer

	for _, rr := range msg.Answer {
		hdr := rr.Header()
		switch v := rr.(type) {
		case *dns.A:
			out = append(out, Answer{Name: hdr.Name, Type: TypeA, TTL: hdr.Ttl, Addr: v.A})
		case *dns.AAAA:
			out = append(out, Answer{Name: hdr.Name, Type: TypeAAAA, TTL: hdr.Ttl, Addr: v.AAAA})
		case *dns.MX:
			mx = append(mx, Answer{Name: hdr.Name, Type: TypeMX, TTL: hdr.Ttl, MXHost: v.Mx, MXPreference: v.Preference})
		case *dns.CNAME:
			out = append(out, Answer{Name: hdr.Name, Type: TypeCNAME, TTL: hdr.Ttl, CNAME: v.Target})
		case *dns.TXT:
			out = append(out, Answer{Name: hdr.Name, Type: TypeTXT, TTL: hdr.Ttl, Text: v.Txt})
		case *dns.PTR:
			out = append(out, Answer{Name: hdr.Name, Type: TypePTR, TTL: hdr.Ttl, PTR: v.Ptr})
		case *dns.NS:
			out = append(out, Answer{Name: hdr.Name, Type: TypeNS, TTL: hdr.Ttl, NSHost: v.Ns})
		case *dns.SOA:
			out = append(out, Answer{Name: hdr.Name, Type: TypeSOA, TTL: hdr.Ttl, SOA: v.String()})
		case *dns.SRV:
			out = append(out, Answer{
				Name: hdr.Name, Type: TypeSRV, TTL: hdr.Ttl,
				SRVTarget: v.Target, SRVPort: v.Port, SRVWeight: v.Weight, SRVPriority: v.Priority,
			})
		case *dns.SPF:
			out = append(out, Answer{Name: hdr.Name, Type: TypeSPF, TTL: hdr.Ttl, Text: v.Txt})
		}
	}

	if len(mx) > 0 {
		sort.SliceStable(mx, func(i, j int) bool { return mx[i].MXPreference < mx[j].MXPreference })
		out = append(out, mx...)
	}
	return out
}

// MXResult is the MX-specific accessor named in spec.md's concrete
// scenario 4, matching mydns_mx_get_i's 1-indexed, priority-then-
// insertion-order walk over an answer set.
type MXResult struct {
	hosts []string
}

// NewMXResult builds an MXResult from an Answer slice already ordered by
// parseAnswers (priority ascending, insertion order within a priority).
// Non-MX answers are ignored.
func NewMXResult(answers []Answer) MXResult {
	hosts := make([]string, 0, len(answers))
	for _, a := range answers {
		if a.Type == TypeMX {
			hosts = append(hosts, a.MXHost)
		}
	}
	return MXResult{hosts: hosts}
}

// GetI returns the n'th (1-indexed) MX host in priority order; ok is
// false once n exceeds the number of MX records, matching
// mydns_mx_get_i's "get_i(4) returns none" contract.
func (r MXResult) GetI(n int) (string, bool) {
	if n < 1 || n > len(r.hosts) {
		return "", false
	}
	return r.hosts[n-1], true
}
