// Package suffix resolves the registrable base domain of a name
// using the public suffix list.
package suffix

import (
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/nhairs/nserver/pkg/name"
)

// Resolver implements name.Resolver on top of
// golang.org/x/net/publicsuffix.
type Resolver struct{}

// New returns the default public-suffix-backed resolver.
func New() *Resolver {
	return &Resolver{}
}

// BaseDomain returns the registrable domain (public suffix plus one
// label) of n. For names under a suffix the list does not recognize
// as public (e.g. "myhost.local"), it falls back to the last label.
func (r *Resolver) BaseDomain(n name.Name) (name.Name, bool) {
	if len(n) == 0 {
		return nil, false
	}

	fqdn := strings.Join([]string(n), ".")
	_, icann := publicsuffix.PublicSuffix(fqdn)

	if !icann {
		// Not a recognized public suffix (includes "unknown" suffixes
		// such as .local/.internal): fall back to the last label.
		return name.Name{n[len(n)-1]}, true
	}

	eTLDPlusOne, err := publicsuffix.EffectiveTLDPlusOne(fqdn)
	if err != nil {
		// fqdn is itself exactly the public suffix (e.g. "com"): no
		// label can be added on top of it.
		return name.Name{n[len(n)-1]}, true
	}

	parsed, err := name.Parse(eTLDPlusOne)
	if err != nil {
		return nil, false
	}
	return parsed, true
}

var _ name.Resolver = (*Resolver)(nil)
