// Package policy supplies an optional request-gating RawMiddleware:
// a set of expr-lang boolean rules evaluated once per request against
// a small Context (domain, query type, client IP, time-of-day), the
// first match short-circuiting the raw stack with a fixed rcode. The
// action space is the two rcodes a request-gating policy can produce
// without a resolver or cache behind it: REFUSED and NXDOMAIN.
package policy

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/miekg/dns"

	"github.com/nhairs/nserver/pkg/middleware"
	"github.com/nhairs/nserver/pkg/wire"
)

// Engine evaluates an ordered set of compiled policy rules against
// each request's Context.
type Engine struct {
	rules []*Rule
	mu    sync.RWMutex
}

// Rule is a single policy rule: a boolean expr-lang expression and the
// rcode to return when it evaluates true.
type Rule struct {
	Name    string // human-readable name
	Logic   string // e.g. "Hour >= 22 && DomainEndsWith(Domain, 'ads.example.')"
	Action  string // ActionRefuse or ActionBlock
	Enabled bool
	program *vm.Program
}

// Action constants name the rcode a matching rule returns.
const (
	ActionRefuse = "REFUSE" // rule.RcodeREFUSED
	ActionBlock  = "BLOCK"  // rule.RcodeNXDOMAIN
)

// Context is the evaluation environment exposed to rule expressions.
type Context struct {
	Domain    string
	ClientIP  string
	QueryType string
	Hour      int
	Minute    int
	Day       int
	Month     int
	Weekday   int
	Time      time.Time
}

// NewEngine returns an empty Engine.
func NewEngine() *Engine {
	return &Engine{rules: make([]*Rule, 0)}
}

// exprFuncs names the helpers an expression can call, keyed by the
// name expr-lang sees. sig is nil for a variadic helper (QueryTypeIn),
// which expr-lang then type-checks dynamically instead of statically.
var exprFuncs = map[string]struct {
	call func(params ...any) (any, error)
	sig  any
}{
	"DomainMatches": {
		call: func(p ...any) (any, error) { return DomainMatches(p[0].(string), p[1].(string)), nil },
		sig:  new(func(string, string) bool),
	},
	"DomainEndsWith": {
		call: func(p ...any) (any, error) { return DomainEndsWith(p[0].(string), p[1].(string)), nil },
		sig:  new(func(string, string) bool),
	},
	"DomainStartsWith": {
		call: func(p ...any) (any, error) { return DomainStartsWith(p[0].(string), p[1].(string)), nil },
		sig:  new(func(string, string) bool),
	},
	"IsWeekend": {
		call: func(p ...any) (any, error) { return IsWeekend(p[0].(int)), nil },
		sig:  new(func(int) bool),
	},
	"InTimeRange": {
		call: func(p ...any) (any, error) {
			return InTimeRange(p[0].(int), p[1].(int), p[2].(int), p[3].(int), p[4].(int), p[5].(int)), nil
		},
		sig: new(func(int, int, int, int, int, int) bool),
	},
	"QueryTypeIn": {
		call: func(p ...any) (any, error) {
			queryType := p[0].(string)
			types := make([]string, len(p)-1)
			for i := 1; i < len(p); i++ {
				types[i-1] = p[i].(string)
			}
			return QueryTypeIn(queryType, types...), nil
		},
	},
}

// exprOptions builds the expr-lang compile options: the Context
// environment plus one expr.Function per entry in exprFuncs. AddRule
// builds a fresh set on each call.
func exprOptions() []expr.Option {
	opts := make([]expr.Option, 0, len(exprFuncs)+1)
	opts = append(opts, expr.Env(Context{}))
	for name, f := range exprFuncs {
		if f.sig == nil {
			opts = append(opts, expr.Function(name, f.call))
			continue
		}
		opts = append(opts, expr.Function(name, f.call, f.sig))
	}
	return opts
}

// AddRule compiles rule.Logic against Context and appends it.
func (e *Engine) AddRule(r *Rule) error {
	if r == nil {
		return fmt.Errorf("policy: rule cannot be nil")
	}

	program, err := expr.Compile(r.Logic, exprOptions()...)
	if err != nil {
		return fmt.Errorf("policy: failed to compile rule %q: %w", r.Name, err)
	}
	r.program = program

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, r)
	return nil
}

// Evaluate runs every enabled rule against ctx in registration order
// and returns the first match.
func (e *Engine) Evaluate(ctx Context) (bool, *Rule) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, r := range e.rules {
		if !r.Enabled {
			continue
		}
		result, err := vm.Run(r.program, ctx)
		if err != nil {
			continue
		}
		if matched, ok := result.(bool); ok && matched {
			return true, r
		}
	}
	return false, nil
}

// Count returns the number of registered rules.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// AsRawMiddleware returns the RawMiddleware a Server registers via
// RegisterRawMiddleware: it builds a Context from the request, and on
// the first matching rule builds the reply itself and short-circuits
// the stack rather than calling next.
func (e *Engine) AsRawMiddleware() middleware.RawMiddleware {
	return func(next middleware.RawFunc) middleware.RawFunc {
		return func(rec *wire.RawRecord) error {
			if rec.Request == nil || len(rec.Request.Question) == 0 {
				return next(rec)
			}

			q := rec.Request.Question[0]
			matched, r := e.Evaluate(NewContext(q.Name, rec.ClientIP(), dns.TypeToString[q.Qtype]))
			if !matched {
				return next(rec)
			}

			reply := new(dns.Msg)
			reply.SetReply(rec.Request)
			reply.Authoritative = true
			switch r.Action {
			case ActionRefuse:
				reply.Rcode = dns.RcodeRefused
			default: // ActionBlock
				reply.Rcode = dns.RcodeNameError
			}
			rec.Reply = reply
			return nil
		}
	}
}

// Helper functions usable from rule expressions. Each one mirrors a
// comparison an operator would otherwise write by hand in YAML-level
// rule logic; kept to the set AsRawMiddleware and its tests actually
// exercise rather than the full domain/IP toolkit a recursive resolver
// would want.

// DomainMatches reports whether domain contains pattern, or (for a
// leading-dot pattern) whether domain is or ends with the suffix.
func DomainMatches(domain, pattern string) bool {
	domain = strings.ToLower(domain)
	pattern = strings.ToLower(pattern)

	if strings.Contains(domain, pattern) {
		return true
	}

	if strings.HasPrefix(pattern, ".") {
		suffix := pattern[1:]
		return strings.HasSuffix(domain, pattern) || domain == suffix
	}
	return false
}

// DomainEndsWith reports whether domain ends with suffix, case-insensitively.
func DomainEndsWith(domain, suffix string) bool {
	return strings.HasSuffix(strings.ToLower(domain), strings.ToLower(suffix))
}

// DomainStartsWith reports whether domain starts with prefix, case-insensitively.
func DomainStartsWith(domain, prefix string) bool {
	return strings.HasPrefix(strings.ToLower(domain), strings.ToLower(prefix))
}

// QueryTypeIn reports whether queryType is one of types, case-insensitively.
func QueryTypeIn(queryType string, types ...string) bool {
	queryType = strings.ToUpper(queryType)
	for _, t := range types {
		if strings.ToUpper(t) == queryType {
			return true
		}
	}
	return false
}

// IsWeekend reports whether weekday (0=Sunday..6=Saturday) falls on a weekend.
func IsWeekend(weekday int) bool {
	return weekday == 0 || weekday == 6
}

// InTimeRange reports whether hour:minute falls within [startHour:startMinute,
// endHour:endMinute], handling ranges that cross midnight.
func InTimeRange(hour, minute, startHour, startMinute, endHour, endMinute int) bool {
	current := hour*60 + minute
	start := startHour*60 + startMinute
	end := endHour*60 + endMinute

	if start <= end {
		return current >= start && current <= end
	}
	return current >= start || current <= end
}

// NewContext builds the evaluation Context for one request.
func NewContext(domain, clientIP, queryType string) Context {
	now := time.Now()
	return Context{
		Domain:    domain,
		ClientIP:  clientIP,
		QueryType: queryType,
		Hour:      now.Hour(),
		Minute:    now.Minute(),
		Day:       now.Day(),
		Month:     int(now.Month()),
		Weekday:   int(now.Weekday()),
		Time:      now,
	}
}
