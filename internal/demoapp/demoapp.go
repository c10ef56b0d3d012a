// Package demoapp builds the example Server cmd/nserverd runs: a
// static A record, a zone delegating every name under it to a
// handler, a glob matching a single-label wildcard, a regex matching
// numbered hosts, and a mounted sub-container for a staging sub-zone
// that falls through to the parent when it has no match of its own.
package demoapp

import (
	"fmt"
	"net"
	"regexp"

	"github.com/miekg/dns"

	"github.com/nhairs/nserver/pkg/name"
	"github.com/nhairs/nserver/pkg/rule"
	"github.com/nhairs/nserver/pkg/scaffold"
	"github.com/nhairs/nserver/pkg/server"
	"github.com/nhairs/nserver/pkg/suffix"
)

// New constructs a Server with the example rule tree described above.
func New(serverName string, settings server.Settings) (*server.Server, error) {
	s := server.New(serverName, settings, suffix.New())

	if _, err := s.Rule("example.com.", rule.NewTypeSet(dns.TypeA), func(rule.Query) (any, error) {
		return &dns.A{
			Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
			A:   net.ParseIP("192.0.2.1"),
		}, nil
	}); err != nil {
		return nil, fmt.Errorf("demoapp: register example.com rule: %w", err)
	}

	zoneApex := name.MustParse("svc.example.com.")
	zoneRule := rule.NewZone(zoneApex, rule.AllTypes(), func(q rule.Query) (any, error) {
		if q.Type != dns.TypeA {
			return rule.Response{Rcode: rule.RcodeNOERROR}, nil
		}
		return &dns.A{
			Hdr: dns.RR_Header{Name: q.Name.String(), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
			A:   net.ParseIP("192.0.2.10"),
		}, nil
	}, false)
	if err := s.RegisterRule(zoneRule); err != nil {
		return nil, fmt.Errorf("demoapp: register svc zone rule: %w", err)
	}

	if _, err := s.Rule("*.hosts.example.com.", rule.NewTypeSet(dns.TypeA), func(q rule.Query) (any, error) {
		return &dns.A{
			Hdr: dns.RR_Header{Name: q.Name.String(), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
			A:   net.ParseIP("192.0.2.20"),
		}, nil
	}); err != nil {
		return nil, fmt.Errorf("demoapp: register host glob rule: %w", err)
	}

	hostRegex := regexp.MustCompile(`^host-\d+\.example\.com\.$`)
	if _, err := s.Rule(hostRegex, rule.NewTypeSet(dns.TypeA), func(q rule.Query) (any, error) {
		return &dns.A{
			Hdr: dns.RR_Header{Name: q.Name.String(), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
			A:   net.ParseIP("192.0.2.30"),
		}, nil
	}); err != nil {
		return nil, fmt.Errorf("demoapp: register host regex rule: %w", err)
	}

	staging := scaffold.New(serverName + ":staging")
	stagingApex := name.MustParse("staging.example.com.")
	if _, err := staging.Rule("staging.example.com.", rule.NewTypeSet(dns.TypeA), func(rule.Query) (any, error) {
		return &dns.A{
			Hdr: dns.RR_Header{Name: "staging.example.com.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 30},
			A:   net.ParseIP("192.0.2.40"),
		}, nil
	}, false); err != nil {
		return nil, fmt.Errorf("demoapp: register staging rule: %w", err)
	}

	mountPoint := rule.NewZone(stagingApex, rule.AllTypes(), nil, false)
	if err := s.Root().Mount(mountPoint, staging); err != nil {
		return nil, fmt.Errorf("demoapp: mount staging container: %w", err)
	}

	return s, nil
}
