package rule

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeConventions(t *testing.T) {
	assert.Equal(t, Response{Rcode: RcodeNOERROR}, Normalize(nil))

	rr := &dns.A{Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeA}}
	assert.Equal(t, Response{Rcode: RcodeNOERROR, Answers: []dns.RR{rr}}, Normalize(rr))

	many := []dns.RR{rr, rr}
	assert.Equal(t, Response{Rcode: RcodeNOERROR, Answers: many}, Normalize(many))

	resp := Response{Rcode: RcodeNXDOMAIN}
	assert.Equal(t, resp, Normalize(resp))
}

func TestNormalizePanicsOnUnsupportedType(t *testing.T) {
	assert.Panics(t, func() { Normalize(42) })
}
