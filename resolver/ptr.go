package resolver

import (
	"strings"

	"github.com/miekg/dns"
)

// normalizePTRName implements §4.5's PTR input normalization: when the
// query data is a literal address, transform it into the reverse-DNS
// name before submission. Per the Open Question in SPEC_FULL.md (carried
// from the source), an already-arpa'd name is passed through unchanged —
// the source's normalization applies to literal addresses only, and its
// behavior on an already-arpa'd name is ambiguous, so we do not guess
// further than "leave it alone".
func normalizePTRName(name string) string {
	if strings.HasSuffix(name, ".in-addr.arpa.") || strings.HasSuffix(name, ".ip6.arpa.") {
		return name
	}
	if arpa, err := dns.ReverseAddr(name); err == nil {
		return arpa
	}
	return name
}
