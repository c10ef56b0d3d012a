package rule

import "github.com/miekg/dns"

// Normalize converts a handler's return value into a Response:
// nil -> empty NOERROR Response; a single dns.RR -> one-answer
// Response; a []dns.RR -> many-answer Response; a Response -> used
// as-is. Anything else panics — a programmer error in a handler's
// return type, not a recoverable request-time error.
func Normalize(v any) Response {
	switch r := v.(type) {
	case nil:
		return Response{Rcode: RcodeNOERROR}
	case Response:
		return r
	case dns.RR:
		return Response{Rcode: RcodeNOERROR, Answers: []dns.RR{r}}
	case []dns.RR:
		return Response{Rcode: RcodeNOERROR, Answers: r}
	default:
		panic("rule: handler returned an unsupported type; expected nil, dns.RR, []dns.RR, or Response")
	}
}
