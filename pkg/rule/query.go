package rule

import (
	"github.com/miekg/dns"

	"github.com/nhairs/nserver/pkg/name"
)

// Query is an immutable (name, type) pair decoded from an incoming
// request.
type Query struct {
	Name name.Name
	Type QType
}

// Response is the normalized reply a rule tree produces for a Query:
// an rcode plus the three wire sections. A Response with rcode
// NOERROR and an empty Answers slice is an explicit empty answer,
// distinct from NXDOMAIN.
type Response struct {
	Rcode      Rcode
	Answers    []dns.RR
	Authority  []dns.RR
	Additional []dns.RR
}

// Handler produces a result for a matched Query. Its return value
// follows the normalization conventions (nil, a single
// dns.RR, a []dns.RR, or a Response) and is converted by
// Normalize; returning a non-nil error raises a
// HandlerError for the query-stack exception handler to dispatch.
type Handler func(Query) (any, error)

// Resolver is satisfied by a rule container ("Scaffold"): it resolves
// a Query against its own rule list and reports whether anything
// matched, letting the Container rule variant fall through to sibling
// rules in its parent when the child returns no match.
// Declared here (rather than imported from pkg/scaffold) so rule has
// no dependency on the container package, avoiding an import cycle.
type Resolver interface {
	Resolve(Query) (resp Response, matched bool, err error)
}
