// Package scaffold implements the rule container ("Scaffold"): an
// ordered, nestable list of rules with its own middleware stack,
// frozen at server start.
package scaffold

import (
	"fmt"

	"github.com/nhairs/nserver/pkg/middleware"
	"github.com/nhairs/nserver/pkg/name"
	"github.com/nhairs/nserver/pkg/nserr"
	"github.com/nhairs/nserver/pkg/rule"
)

// Scaffold is a rule container: an ordered rule list with its own
// middleware stack, hooks, and exception-handler registry. It
// implements rule.Resolver so it
// can be mounted as a Container rule inside another Scaffold.
type Scaffold struct {
	name string

	rules       []*rule.Rule
	middlewares []middleware.QueryMiddleware
	hooks       *middleware.Hooks
	exceptions  *middleware.QueryExceptionRegistry

	suffixResolver name.Resolver // for glob rules using {base_domain}; may be nil

	frozen  bool
	chain   middleware.QueryFunc
	mounted map[*Scaffold]struct{} // children mounted directly under this scaffold
}

// New builds an empty, mutable Scaffold. name is used only for
// diagnostics (cycle-detection error messages).
func New(name string) *Scaffold {
	return &Scaffold{
		name:       name,
		hooks:      middleware.NewHooks(),
		exceptions: middleware.NewQueryExceptionRegistry(defaultQueryExceptionHandler),
		mounted:    make(map[*Scaffold]struct{}),
	}
}

func defaultQueryExceptionHandler(err error, q rule.Query) (rule.Response, error) {
	return rule.Response{Rcode: rule.RcodeSERVFAIL}, nil
}

// SetSuffixResolver injects the SuffixResolver collaborator used to
// evaluate {base_domain} tokens in this scaffold's glob rules. Mount
// propagates the resolver to a child that has none of its own, so
// setting it once on the root scaffold before building the tree is
// usually enough.
func (s *Scaffold) SetSuffixResolver(r name.Resolver) { s.suffixResolver = r }

// AddRule appends an already-built rule.Rule. Forbidden once frozen.
func (s *Scaffold) AddRule(r *rule.Rule) error {
	if s.frozen {
		return nserr.NewConfigurationError(fmt.Sprintf("scaffold %q: cannot add rule after freeze", s.name), nil)
	}
	s.rules = append(s.rules, r)
	return nil
}

// Rule builds a rule via rule.MakeRule's smart-pattern heuristic,
// registers it, and returns the handler unchanged so that multiple
// registrations of one handler read naturally.
func (s *Scaffold) Rule(pattern any, types rule.TypeSet, handler rule.Handler, caseSensitive bool) (rule.Handler, error) {
	r, err := rule.MakeRule(pattern, types, handler, caseSensitive)
	if err != nil {
		return nil, nserr.NewConfigurationError(fmt.Sprintf("scaffold %q: invalid rule pattern", s.name), err)
	}
	if err := s.AddRule(r); err != nil {
		return nil, err
	}
	return handler, nil
}

// Mount wraps child as a Container rule whose outer match condition is
// outer (a Static/Zone/Glob/Regex rule built with NewStatic/NewZone/
// NewGlob/NewRegex; outer's own Handler is ignored). Rejects with
// ConfigurationError if mounting child would introduce a cycle — child
// is s itself, or s is already transitively reachable from child.
// child inherits s's suffix resolver if it has none of its own, so the
// common "mount the same child under multiple zones" pattern only
// needs the resolver set once.
func (s *Scaffold) Mount(outer *rule.Rule, child *Scaffold) error {
	if s.frozen {
		return nserr.NewConfigurationError(fmt.Sprintf("scaffold %q: cannot mount after freeze", s.name), nil)
	}
	if err := detectCycle(s, child, make(map[*Scaffold]struct{})); err != nil {
		return err
	}
	if child.suffixResolver == nil {
		child.suffixResolver = s.suffixResolver
	}
	s.mounted[child] = struct{}{}
	return s.AddRule(rule.NewContainer(outer, child))
}

// detectCycle walks the mount graph starting at child, failing if root
// is reachable from child (which would make root transitively contain
// itself once the mount completes).
func detectCycle(root, child *Scaffold, visited map[*Scaffold]struct{}) error {
	if child == root {
		return nserr.NewConfigurationError(fmt.Sprintf("scaffold %q: mount would introduce a cycle (self-mount)", root.name), nil)
	}
	if _, ok := visited[child]; ok {
		return nil
	}
	visited[child] = struct{}{}
	for grandchild := range child.mounted {
		if err := detectCycle(root, grandchild, visited); err != nil {
			return err
		}
	}
	return nil
}

// RegisterMiddleware appends a QueryMiddleware. Forbidden once frozen.
func (s *Scaffold) RegisterMiddleware(m middleware.QueryMiddleware) error {
	if s.frozen {
		return nserr.NewConfigurationError(fmt.Sprintf("scaffold %q: cannot register middleware after freeze", s.name), nil)
	}
	s.middlewares = append(s.middlewares, m)
	return nil
}

// RegisterHook appends a hook for the given phase. Forbidden once
// frozen.
func (s *Scaffold) RegisterHook(phase middleware.HookPhase, h middleware.QueryHook) error {
	if s.frozen {
		return nserr.NewConfigurationError(fmt.Sprintf("scaffold %q: cannot register hook after freeze", s.name), nil)
	}
	s.hooks.Register(phase, h)
	return nil
}

// ExceptionHandler registers a handler for the taxonomy class
// identified by E. Forbidden once frozen.
func ExceptionHandler[E error](s *Scaffold, specificity int, h middleware.QueryExceptionHandler) error {
	if s.frozen {
		return nserr.NewConfigurationError(fmt.Sprintf("scaffold %q: cannot register exception handler after freeze", s.name), nil)
	}
	return middleware.RegisterClass[E](s.exceptions, specificity, h)
}

// Freeze snapshots the middleware stack, hooks, and exception registry
// into a single composed chain: ExceptionHandler → BeforeFirstHook →
// <user middlewares> → DispatchWrapper(rule dispatch). Idempotent.
// Recurses into mounted children so the whole tree freezes together.
func (s *Scaffold) Freeze() {
	if s.frozen {
		return
	}
	for child := range s.mounted {
		child.Freeze()
	}

	s.hooks.Freeze()
	s.exceptions.Freeze()

	sink := s.hooks.AsDispatchWrapper(s.dispatch)
	chain := middleware.ChainQuery(sink, s.middlewares...)
	chain = s.hooks.AsBeforeFirstMiddleware()(chain)
	chain = s.exceptions.AsMiddleware()(chain)

	s.chain = chain
	s.frozen = true
}

// Resolve implements rule.Resolver: runs the frozen middleware chain,
// which bottoms out at dispatch. Panics if called before Freeze — a
// programmer error, not a recoverable taxonomy error, since
// Server.Run always freezes before serving.
func (s *Scaffold) Resolve(q rule.Query) (rule.Response, bool, error) {
	if !s.frozen {
		panic(fmt.Sprintf("scaffold %q: Resolve called before Freeze", s.name))
	}
	return s.chain(q)
}

// dispatch is the innermost sink: iterate rules in registration order;
// recurse into Container children with fall-through on no match;
// otherwise invoke the handler and normalize its result. Returns
// matched=false when no rule matches.
func (s *Scaffold) dispatch(q rule.Query) (rule.Response, bool, error) {
	for _, r := range s.rules {
		if !r.Matches(q, s.suffixResolver) {
			continue
		}
		if r.Kind == rule.KindContainer {
			resp, matched, err := r.Delegate().Resolve(q)
			if err != nil {
				return rule.Response{}, false, err
			}
			if !matched {
				continue // fall through to the next sibling rule
			}
			return resp, true, nil
		}

		result, err := r.Handler(q)
		if err != nil {
			return rule.Response{}, false, nserr.NewHandlerError(err)
		}
		return rule.Normalize(result), true, nil
	}
	return rule.Response{}, false, nil
}
