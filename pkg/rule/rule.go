// Package rule implements the rule-matching engine: the four matcher
// variants (static, zone, glob, regex) and the type-set membership
// test that gates all of them. Rules are a closed, tagged variant
// dispatched by the matcher, not an open interface hierarchy.
package rule

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nhairs/nserver/pkg/name"
)

// Kind identifies which of the five tagged variants a Rule is.
type Kind int

const (
	KindStatic Kind = iota
	KindZone
	KindGlob
	KindRegex
	KindContainer
)

func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindZone:
		return "zone"
	case KindGlob:
		return "glob"
	case KindRegex:
		return "regex"
	case KindContainer:
		return "container"
	default:
		return "unknown"
	}
}

// Rule is a single entry in a Scaffold's ordered rule list: a
// (matcher, type-set, handler) triple, or a Container delegation to a
// nested Scaffold.
type Rule struct {
	Kind          Kind
	Source        string // original pattern/apex text, for diagnostics
	CaseSensitive bool
	Types         TypeSet
	Handler       Handler // nil for KindContainer

	staticName name.Name
	apex       name.Name
	glob       *Glob
	regex      *regexp.Regexp

	// outerKind is the matcher shape to evaluate: equal to Kind, except
	// for KindContainer rules where it records which of the other four
	// shapes backs the outer match condition.
	outerKind Kind

	delegate Resolver // KindContainer only
}

// NewStatic builds a Static rule: matches when the query name equals
// n exactly (per the case-sensitivity flag) and the query type is a
// member of types.
func NewStatic(n name.Name, types TypeSet, handler Handler, caseSensitive bool) *Rule {
	return &Rule{
		Kind:          KindStatic,
		outerKind:     KindStatic,
		Source:        n.String(),
		CaseSensitive: caseSensitive,
		Types:         types,
		Handler:       handler,
		staticName:    n,
	}
}

// NewZone builds a Zone rule: matches when the query name equals apex
// or is a proper label-boundary suffix of it.
func NewZone(apex name.Name, types TypeSet, handler Handler, caseSensitive bool) *Rule {
	return &Rule{
		Kind:          KindZone,
		outerKind:     KindZone,
		Source:        apex.String(),
		CaseSensitive: caseSensitive,
		Types:         types,
		Handler:       handler,
		apex:          apex,
	}
}

// NewGlob builds a Glob rule from an already-compiled pattern; see
// CompileGlob for the WildcardString grammar.
func NewGlob(g *Glob, types TypeSet, handler Handler, caseSensitive bool) *Rule {
	return &Rule{
		Kind:          KindGlob,
		outerKind:     KindGlob,
		Source:        g.String(),
		CaseSensitive: caseSensitive,
		Types:         types,
		Handler:       handler,
		glob:          g,
	}
}

// NewRegex builds a Regex rule: matches when the compiled pattern
// matches the full canonical name string.
func NewRegex(re *regexp.Regexp, types TypeSet, handler Handler, caseSensitive bool) *Rule {
	return &Rule{
		Kind:          KindRegex,
		outerKind:     KindRegex,
		Source:        re.String(),
		CaseSensitive: caseSensitive,
		Types:         types,
		Handler:       handler,
		regex:         re,
	}
}

// NewContainer builds a Container rule: outer describes the outer
// match condition (a Static/Zone/Glob/Regex rule whose Handler is
// ignored), and delegate is the nested Scaffold to recurse into when
// outer matches.
func NewContainer(outer *Rule, delegate Resolver) *Rule {
	return &Rule{
		Kind:      KindContainer,
		outerKind: outer.outerKind,
		Source:    outer.Source,
		delegate:  delegate,
		Types:     outer.Types,

		CaseSensitive: outer.CaseSensitive,
		staticName:    outer.staticName,
		apex:          outer.apex,
		glob:          outer.glob,
		regex:         outer.regex,
	}
}

// Delegate returns the nested Scaffold for a Container rule.
func (r *Rule) Delegate() Resolver { return r.delegate }

// Matches reports whether the rule's matcher condition, including its
// type-set, is satisfied by q. For a Container rule, it tests only the
// outer condition — the caller is responsible for then recursing into
// Delegate() and falling through when the child reports no match.
func (r *Rule) Matches(q Query, resolver name.Resolver) bool {
	if !r.Types.Contains(q.Type) {
		return false
	}

	switch r.outerKind {
	case KindStatic:
		return name.Equal(r.staticName, q.Name, r.CaseSensitive)
	case KindZone:
		return name.IsSubdomainOf(q.Name, r.apex, r.CaseSensitive)
	case KindGlob:
		return r.glob.Match(q.Name, r.CaseSensitive, resolver)
	case KindRegex:
		return r.regex.MatchString(canonicalString(q.Name, r.CaseSensitive))
	}
	return false
}

func canonicalString(n name.Name, caseSensitive bool) string {
	s := n.String()
	if !caseSensitive {
		s = strings.ToLower(s)
	}
	return s
}

// MakeRule builds a rule from the pattern's shape: a compiled
// *regexp.Regexp becomes a Regex rule; a string with no wildcard
// tokens becomes Static; a string containing any of "*", "**",
// "{base_domain}" becomes Glob. Zone rules and Container rules
// are never produced by the heuristic — callers build them explicitly
// with NewZone/NewContainer, since "matches a suffix" and "delegates
// to a container" are not distinguishable from pattern text alone.
func MakeRule(pattern any, types TypeSet, handler Handler, caseSensitive bool) (*Rule, error) {
	switch p := pattern.(type) {
	case *regexp.Regexp:
		return NewRegex(p, types, handler, caseSensitive), nil
	case string:
		if p == "" {
			return nil, fmt.Errorf("rule: empty pattern")
		}
		if strings.Contains(p, "*") || strings.Contains(p, "{base_domain}") {
			g, err := CompileGlob(p)
			if err != nil {
				return nil, err
			}
			return NewGlob(g, types, handler, caseSensitive), nil
		}
		n, err := name.Parse(p)
		if err != nil {
			return nil, err
		}
		return NewStatic(n, types, handler, caseSensitive), nil
	default:
		return nil, fmt.Errorf("rule: unsupported pattern type %T", pattern)
	}
}
