package middleware

import "github.com/nhairs/nserver/pkg/rule"

// HookPhase identifies one of the three points in the query stack a
// hook may run at.
type HookPhase int

const (
	// PhaseBeforeFirstMiddleware runs once, outside every user
	// QueryMiddleware (just inside the exception handler).
	PhaseBeforeFirstMiddleware HookPhase = iota
	// PhaseBeforeDispatch runs immediately before rule dispatch, after
	// all user middlewares have run.
	PhaseBeforeDispatch
	// PhaseAfterDispatch runs immediately after rule dispatch returns,
	// before the response unwinds back through user middlewares.
	PhaseAfterDispatch
)

// QueryHook may replace the Query it is given (returning the new
// Query) for PhaseBeforeFirstMiddleware/PhaseBeforeDispatch, or
// inspect/replace the Response for PhaseAfterDispatch; exactly one of
// the two non-nil depending on phase.
type QueryHook func(phase HookPhase, q rule.Query, resp *rule.Response) rule.Query

// Hooks is the built-in hook middleware: a per-phase ordered list of
// registered hooks, inserted just above the rule-dispatch sink —
// innermost of the user middlewares, outermost of the sink itself.
type Hooks struct {
	beforeFirst []QueryHook
	beforeDisp  []QueryHook
	afterDisp   []QueryHook
	frozen      bool
}

// NewHooks returns an empty Hooks.
func NewHooks() *Hooks { return &Hooks{} }

// Register appends hook to the given phase's list. No-op validation of
// "after freeze" is handler-level in Scaffold/Server, matching how the
// rest of the stack freezes.
func (h *Hooks) Register(phase HookPhase, hook QueryHook) {
	switch phase {
	case PhaseBeforeFirstMiddleware:
		h.beforeFirst = append(h.beforeFirst, hook)
	case PhaseBeforeDispatch:
		h.beforeDisp = append(h.beforeDisp, hook)
	case PhaseAfterDispatch:
		h.afterDisp = append(h.afterDisp, hook)
	}
}

func (h *Hooks) Freeze() { h.frozen = true }

func (h *Hooks) run(phase HookPhase, hooks []QueryHook, q rule.Query, resp *rule.Response) rule.Query {
	for _, hook := range hooks {
		q = hook(phase, q, resp)
	}
	return q
}

// AsBeforeFirstMiddleware returns the before_first_middleware phase as
// a QueryMiddleware, meant to sit directly inside the exception
// handler (outermost of the user middlewares).
func (h *Hooks) AsBeforeFirstMiddleware() QueryMiddleware {
	return func(next QueryFunc) QueryFunc {
		return func(q rule.Query) (rule.Response, bool, error) {
			q = h.run(PhaseBeforeFirstMiddleware, h.beforeFirst, q, nil)
			return next(q)
		}
	}
}

// AsDispatchWrapper wraps the rule-dispatch sink with the
// before_dispatch/after_dispatch phases. after_dispatch only runs when
// the sink produced a matched Response — there is nothing to inspect
// or replace when nothing matched.
func (h *Hooks) AsDispatchWrapper(sink QueryFunc) QueryFunc {
	return func(q rule.Query) (rule.Response, bool, error) {
		q = h.run(PhaseBeforeDispatch, h.beforeDisp, q, nil)
		resp, matched, err := sink(q)
		if err != nil || !matched {
			return resp, matched, err
		}
		h.run(PhaseAfterDispatch, h.afterDisp, q, &resp)
		return resp, true, nil
	}
}
