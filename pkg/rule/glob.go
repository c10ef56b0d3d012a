package rule

import (
	"fmt"
	"strings"

	"github.com/nhairs/nserver/pkg/name"
)

// tokenKind enumerates the WildcardString grammar's per-label tokens.
type tokenKind int

const (
	tokenLiteral tokenKind = iota
	tokenStar        // "*": exactly one label
	tokenDoubleStar  // "**": one or more labels, greedy with backtracking
	tokenBaseDomain  // "{base_domain}": the label run base_domain(query.name) expands to
)

type globToken struct {
	kind    tokenKind
	literal string
}

// Glob is a compiled WildcardString pattern.
type Glob struct {
	raw    string
	tokens []globToken
}

// CompileGlob parses and validates a WildcardString pattern: "**" may
// not appear adjacent to another "**"; "{base_domain}" may appear at
// most once; the pattern may not be empty.
func CompileGlob(pattern string) (*Glob, error) {
	if pattern == "" {
		return nil, fmt.Errorf("rule: empty glob pattern")
	}

	labels := strings.Split(pattern, ".")
	if labels[len(labels)-1] == "" {
		labels = labels[:len(labels)-1]
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("rule: empty glob pattern")
	}

	tokens := make([]globToken, 0, len(labels))
	baseDomainCount := 0

	for i, l := range labels {
		var tok globToken
		switch l {
		case "*":
			tok = globToken{kind: tokenStar}
		case "**":
			tok = globToken{kind: tokenDoubleStar}
			if i > 0 && tokens[i-1].kind == tokenDoubleStar {
				return nil, fmt.Errorf("rule: glob %q has adjacent ** tokens", pattern)
			}
		case "{base_domain}":
			tok = globToken{kind: tokenBaseDomain}
			baseDomainCount++
			if baseDomainCount > 1 {
				return nil, fmt.Errorf("rule: glob %q uses {base_domain} more than once", pattern)
			}
		case "":
			return nil, fmt.Errorf("rule: glob %q has an empty label", pattern)
		default:
			tok = globToken{kind: tokenLiteral, literal: l}
		}
		tokens = append(tokens, tok)
	}

	return &Glob{raw: pattern, tokens: tokens}, nil
}

// String returns the original pattern text.
func (g *Glob) String() string { return g.raw }

// usesBaseDomain reports whether the pattern contains a {base_domain}
// token.
func (g *Glob) usesBaseDomain() bool {
	for _, t := range g.tokens {
		if t.kind == tokenBaseDomain {
			return true
		}
	}
	return false
}

// Match reports whether n satisfies the compiled pattern. resolver is
// consulted only if the pattern contains {base_domain}; a resolver
// failure (or a nil resolver, when the pattern needs one) makes the
// rule non-matching rather than an error.
func (g *Glob) Match(n name.Name, caseSensitive bool, resolver name.Resolver) bool {
	var baseDomain name.Name
	if g.usesBaseDomain() {
		bd, ok := name.BaseDomain(resolver, n)
		if !ok {
			return false
		}
		baseDomain = bd
	}
	return matchTokens(g.tokens, []string(n), caseSensitive, baseDomain)
}

func matchTokens(tokens []globToken, labels []string, caseSensitive bool, baseDomain name.Name) bool {
	if len(tokens) == 0 {
		return len(labels) == 0
	}

	tok := tokens[0]
	rest := tokens[1:]

	switch tok.kind {
	case tokenLiteral:
		if len(labels) == 0 || !labelsEqual(labels[0], tok.literal, caseSensitive) {
			return false
		}
		return matchTokens(rest, labels[1:], caseSensitive, baseDomain)

	case tokenStar:
		if len(labels) == 0 {
			return false
		}
		return matchTokens(rest, labels[1:], caseSensitive, baseDomain)

	case tokenDoubleStar:
		// Greedy: try consuming the most labels first, backtracking
		// down to exactly one, never zero.
		for consume := len(labels); consume >= 1; consume-- {
			if matchTokens(rest, labels[consume:], caseSensitive, baseDomain) {
				return true
			}
		}
		return false

	case tokenBaseDomain:
		n := len(baseDomain)
		if n == 0 || len(labels) < n {
			return false
		}
		for i := 0; i < n; i++ {
			if !labelsEqual(labels[i], baseDomain[i], caseSensitive) {
				return false
			}
		}
		return matchTokens(rest, labels[n:], caseSensitive, baseDomain)
	}

	return false
}

func labelsEqual(a, b string, caseSensitive bool) bool {
	if caseSensitive {
		return a == b
	}
	return strings.EqualFold(a, b)
}
