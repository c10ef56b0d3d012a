// Package wire adapts github.com/miekg/dns into the WireCodec
// collaborator: decoding a raw datagram/frame into the *dns.Msg a
// RawRecord carries, extracting the matcher-facing Query, and
// constructing replies.
package wire

import (
	"net"

	"github.com/miekg/dns"

	"github.com/nhairs/nserver/pkg/name"
	"github.com/nhairs/nserver/pkg/rule"
)

// RawRecord is the opaque-to-the-core request/reply pair the raw
// middleware stack operates on by reference: the whole wire message
// (not a single dns.RR), so raw middleware can inspect or rewrite any
// part of the request before it is picked apart.
type RawRecord struct {
	Request  *dns.Msg
	Reply    *dns.Msg
	Addr     net.Addr
	Protocol string // "udp" or "tcp"
}

// NewRawRecord builds a RawRecord with an empty, uninitialized reply.
func NewRawRecord(req *dns.Msg, addr net.Addr, protocol string) *RawRecord {
	return &RawRecord{Request: req, Addr: addr, Protocol: protocol}
}

// ClientIP extracts the client's IP address from Addr, for logging and
// telemetry labels; returns the empty string if Addr is nil, and
// Addr's whole string form if it has no port to split off.
func (r *RawRecord) ClientIP() string {
	if r.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(r.Addr.String())
	if err != nil {
		return r.Addr.String()
	}
	return host
}

// Codec decodes wire bytes into DNS messages and extracts the
// normalized Query the rule matcher dispatches on.
type Codec struct{}

// New returns a Codec. miekg/dns's unmarshal/marshal functions are
// stateless, so one Codec value is shared across all connections.
func New() *Codec { return &Codec{} }

// Decode unpacks raw wire bytes into a *dns.Msg.
func (c *Codec) Decode(raw []byte) (*dns.Msg, error) {
	msg := new(dns.Msg)
	if err := msg.Unpack(raw); err != nil {
		return nil, err
	}
	return msg, nil
}

// Encode packs msg back into wire bytes.
func (c *Codec) Encode(msg *dns.Msg) ([]byte, error) {
	return msg.Pack()
}

// ExtractQuery builds the matcher-facing Query from the first question
// in req. OPCODE other than QUERY is the caller's responsibility to
// reject before calling this.
func (c *Codec) ExtractQuery(req *dns.Msg) (rule.Query, error) {
	if len(req.Question) == 0 {
		return rule.Query{}, errEmptyQuestion
	}
	q := req.Question[0]
	n, err := name.Parse(q.Name)
	if err != nil {
		return rule.Query{}, err
	}
	return rule.Query{Name: n, Type: q.Qtype}, nil
}

// NewReply builds an empty, authoritative reply message for req with
// the given rcode, ready to have Answer/Ns/Extra sections appended.
func (c *Codec) NewReply(req *dns.Msg, rcode rule.Rcode) *dns.Msg {
	reply := new(dns.Msg)
	reply.SetReply(req)
	reply.Authoritative = true
	reply.Rcode = rcode
	return reply
}

// ApplyResponse copies a rule.Response's sections onto a reply message
// already built by NewReply, overwriting its rcode.
func (c *Codec) ApplyResponse(reply *dns.Msg, resp rule.Response) {
	reply.Rcode = resp.Rcode
	reply.Answer = resp.Answers
	reply.Ns = resp.Authority
	reply.Extra = resp.Additional
}

// errEmptyQuestion is returned by ExtractQuery for a request with no
// question section (rejected upstream with FORMERR).
var errEmptyQuestion = &emptyQuestionError{}

type emptyQuestionError struct{}

func (*emptyQuestionError) Error() string { return "wire: request has no question section" }
