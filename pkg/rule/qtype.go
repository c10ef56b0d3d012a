package rule

import "github.com/miekg/dns"

// QType is a DNS query/record type, reusing miekg/dns's type
// enumeration so the wire codec and the matcher share one set of
// constants instead of each inventing their own.
type QType = uint16

// QTypeANY is the pseudo-type meaning "any record type".
const QTypeANY QType = dns.TypeANY

// Rcode is a DNS response code.
type Rcode = int

// Standard rcodes used by the default exception handlers.
const (
	RcodeNOERROR  Rcode = dns.RcodeSuccess
	RcodeNXDOMAIN Rcode = dns.RcodeNameError
	RcodeSERVFAIL Rcode = dns.RcodeServerFailure
	RcodeNOTIMPL  Rcode = dns.RcodeNotImplemented
	RcodeREFUSED  Rcode = dns.RcodeRefused
	RcodeFORMERR  Rcode = dns.RcodeFormatError
)

// TypeSet is the membership test for a rule's declared query types: a
// query type T is a member iff T is listed explicitly or the set is
// AllTypes(). Listing QTypeANY makes the rule answer qtype-ANY
// queries; it does not widen the set to every type — only AllTypes()
// does that.
type TypeSet struct {
	all   bool
	types map[QType]struct{}
}

// NewTypeSet builds a TypeSet containing exactly the given types.
func NewTypeSet(types ...QType) TypeSet {
	s := TypeSet{types: make(map[QType]struct{}, len(types))}
	for _, t := range types {
		s.types[t] = struct{}{}
	}
	return s
}

// AllTypes returns the sentinel set matching every query type.
func AllTypes() TypeSet {
	return TypeSet{all: true}
}

// Contains reports whether t is a member of s.
func (s TypeSet) Contains(t QType) bool {
	if s.all {
		return true
	}
	_, ok := s.types[t]
	return ok
}
