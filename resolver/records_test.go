package resolver

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
)

func mxRR(name, host string, pref uint16) *dns.MX {
	return &dns.MX{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeMX, Class: dns.ClassINET},
		Mx:  host, Preference: pref,
	}
}

func TestParseAnswersMXOrdering(t *testing.T) {
	msg := new(dns.Msg)
	msg.Answer = []dns.RR{
		mxRR("example.com.", "mx-c.example.com.", 20),
		mxRR("example.com.", "mx-a.example.com.", 10),
		mxRR("example.com.", "mx-b.example.com.", 10),
	}

	out := parseAnswers(msg)
	assert.Len(t, out, 3)
	// priority-then-source-order: the two priority-10 entries keep their
	// relative order (mx-a before mx-b), then the priority-20 entry.
	assert.Equal(t, "mx-a.example.com.", out[0].MXHost)
	assert.Equal(t, "mx-b.example.com.", out[1].MXHost)
	assert.Equal(t, "mx-c.example.com.", out[2].MXHost)
}

// TestMXResultGetI reproduces spec.md's concrete scenario 4 verbatim:
// pairs (20, "mx2.example"), (10, "mx1.example"), (10, "mx1b.example"),
// walked via get_i(1..4).
func TestMXResultGetI(t *testing.T) {
	msg := new(dns.Msg)
	msg.Answer = []dns.RR{
		mxRR("example.com.", "mx2.example.", 20),
		mxRR("example.com.", "mx1.example.", 10),
		mxRR("example.com.", "mx1b.example.", 10),
	}

	result := NewMXResult(parseAnswers(msg))

	host, ok := result.GetI(1)
	assert.True(t, ok)
	assert.Equal(t, "mx1.example.", host)

	host, ok = result.GetI(2)
	assert.True(t, ok)
	assert.Equal(t, "mx1b.example.", host)

	host, ok = result.GetI(3)
	assert.True(t, ok)
	assert.Equal(t, "mx2.example.", host)

	_, ok = result.GetI(4)
	assert.False(t, ok)
}

func TestParseAnswersSRVAndNS(t *testing.T) {
	msg := new(dns.Msg)
	msg.Answer = []dns.RR{
		&dns.SRV{
			Hdr:      dns.RR_Header{Name: "_sip._tcp.example.com.", Rrtype: dns.TypeSRV, Class: dns.ClassINET},
			Target:   "sipserver.example.com.",
			Port:     5060,
			Weight:   10,
			Priority: 20,
		},
		&dns.NS{
			Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeNS, Class: dns.ClassINET},
			Ns:  "ns1.example.com.",
		},
	}

	out := parseAnswers(msg)
	assert.Len(t, out, 2)
	assert.Equal(t, "sipserver.example.com.", out[0].SRVTarget)
	assert.EqualValues(t, 5060, out[0].SRVPort)
	assert.Equal(t, "ns1.example.com.", out[1].NSHost)
}

func TestSpecialCaseWildcard(t *testing.T) {
	ans, ok := specialCase("*", TypeA)
	assert.True(t, ok)
	assert.Len(t, ans, 1)
	assert.Equal(t, "0.0.0.0", ans[0].Addr.String())
}

func TestSpecialCaseLiteralAddress(t *testing.T) {
	ans, ok := specialCase("192.0.2.7", TypeA)
	assert.True(t, ok)
	assert.Equal(t, "192.0.2.7", ans[0].Addr.String())

	_, ok = specialCase("192.0.2.7", TypeAAAA)
	assert.False(t, ok)
}

func TestNormalizePTRName(t *testing.T) {
	arpa, err := normalizePTRNameForTest("192.0.2.7")
	assert.NoError(t, err)
	assert.Contains(t, arpa, "in-addr.arpa.")

	already := "7.2.0.192.in-addr.arpa."
	assert.Equal(t, already, normalizePTRName(already))
}

// normalizePTRNameForTest exercises normalizePTRName while also checking
// dns.ReverseAddr itself succeeds for a literal, since normalizePTRName
// swallows that error by design (falling back to the input unchanged).
func normalizePTRNameForTest(literal string) (string, error) {
	if _, err := dns.ReverseAddr(literal); err != nil {
		return "", err
	}
	return normalizePTRName(literal), nil
}
