package middleware

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhairs/nserver/pkg/name"
	"github.com/nhairs/nserver/pkg/nserr"
	"github.com/nhairs/nserver/pkg/rule"
)

func TestChainQueryOrdersOutermostFirst(t *testing.T) {
	var order []string
	mk := func(label string) QueryMiddleware {
		return func(next QueryFunc) QueryFunc {
			return func(q rule.Query) (rule.Response, bool, error) {
				order = append(order, label+":in")
				resp, matched, err := next(q)
				order = append(order, label+":out")
				return resp, matched, err
			}
		}
	}

	sink := func(rule.Query) (rule.Response, bool, error) { return rule.Response{}, true, nil }
	chain := ChainQuery(sink, mk("a"), mk("b"))

	_, matched, err := chain(rule.Query{})
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, []string{"a:in", "b:in", "b:out", "a:out"}, order)
}

func TestChainQueryShortCircuits(t *testing.T) {
	calledSink := false
	shortCircuit := func(next QueryFunc) QueryFunc {
		return func(rule.Query) (rule.Response, bool, error) {
			return rule.Response{Rcode: rule.RcodeREFUSED}, true, nil
		}
	}
	sink := func(rule.Query) (rule.Response, bool, error) {
		calledSink = true
		return rule.Response{}, true, nil
	}

	chain := ChainQuery(sink, shortCircuit)
	resp, matched, err := chain(rule.Query{})
	require.NoError(t, err)
	assert.True(t, matched)
	assert.False(t, calledSink)
	assert.Equal(t, rule.RcodeREFUSED, resp.Rcode)
}

func TestQueryExceptionRegistryDispatchesMostSpecificFirst(t *testing.T) {
	reg := NewQueryExceptionRegistry(func(err error, q rule.Query) (rule.Response, error) {
		return rule.Response{Rcode: rule.RcodeSERVFAIL}, nil
	})

	require.NoError(t, RegisterClass[*nserr.RequestCancelledError](reg, SpecificityConcrete, func(err error, q rule.Query) (rule.Response, error) {
		return rule.Response{Rcode: rule.RcodeSERVFAIL}, nil
	}))
	require.NoError(t, reg.Register(func(err error) bool {
		return errors.Is(err, nserr.Base)
	}, SpecificityRoot, func(err error, q rule.Query) (rule.Response, error) {
		return rule.Response{Rcode: rule.RcodeNOTIMPL}, nil
	}))
	reg.Freeze()

	resp, err := reg.Handle(nserr.NewHandlerError(errors.New("boom")), rule.Query{})
	require.NoError(t, err)
	assert.Equal(t, rule.RcodeNOTIMPL, resp.Rcode, "falls through to the root handler")

	resp, err = reg.Handle(nserr.NewRequestCancelled("closed"), rule.Query{})
	require.NoError(t, err)
	assert.Equal(t, rule.RcodeSERVFAIL, resp.Rcode, "the concrete class handler wins over root")
}

func TestQueryExceptionRegistryPropagatesFatalErrors(t *testing.T) {
	reg := NewQueryExceptionRegistry(func(err error, q rule.Query) (rule.Response, error) {
		t.Fatal("default handler must not run for a fatal error")
		return rule.Response{}, nil
	})
	reg.Freeze()

	fatal := errors.New("context canceled")
	_, err := reg.Handle(fatal, rule.Query{})
	assert.Same(t, fatal, err)
}

func TestQueryExceptionRegistryRejectsRegistrationAfterFreeze(t *testing.T) {
	reg := NewQueryExceptionRegistry(func(error, rule.Query) (rule.Response, error) {
		return rule.Response{}, nil
	})
	reg.Freeze()

	err := reg.Register(func(error) bool { return true }, SpecificityConcrete, nil)
	assert.Error(t, err)
	var cfgErr *nserr.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestAsMiddlewareRecoversErrorIntoMatchedResponse(t *testing.T) {
	reg := NewQueryExceptionRegistry(func(err error, q rule.Query) (rule.Response, error) {
		return rule.Response{Rcode: rule.RcodeSERVFAIL}, nil
	})
	reg.Freeze()

	failing := func(rule.Query) (rule.Response, bool, error) {
		return rule.Response{}, false, nserr.NewHandlerError(errors.New("boom"))
	}
	chain := reg.AsMiddleware()(failing)

	resp, matched, err := chain(rule.Query{})
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, rule.RcodeSERVFAIL, resp.Rcode)
}

func TestHooksPhaseOrdering(t *testing.T) {
	h := NewHooks()
	var seen []HookPhase
	record := func(phase HookPhase, q rule.Query, resp *rule.Response) rule.Query {
		seen = append(seen, phase)
		return q
	}
	h.Register(PhaseBeforeFirstMiddleware, record)
	h.Register(PhaseBeforeDispatch, record)
	h.Register(PhaseAfterDispatch, record)
	h.Freeze()

	chain := h.AsBeforeFirstMiddleware()(h.AsDispatchWrapper(func(rule.Query) (rule.Response, bool, error) {
		return rule.Response{}, true, nil
	}))

	_, matched, err := chain(rule.Query{Name: name.MustParse("example.com")})
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, []HookPhase{PhaseBeforeFirstMiddleware, PhaseBeforeDispatch, PhaseAfterDispatch}, seen)
}

func TestHooksSkipAfterDispatchOnNotMatched(t *testing.T) {
	h := NewHooks()
	ran := false
	h.Register(PhaseAfterDispatch, func(phase HookPhase, q rule.Query, resp *rule.Response) rule.Query {
		ran = true
		return q
	})
	h.Freeze()

	chain := h.AsDispatchWrapper(func(rule.Query) (rule.Response, bool, error) {
		return rule.Response{}, false, nil
	})
	_, matched, err := chain(rule.Query{})
	require.NoError(t, err)
	assert.False(t, matched)
	assert.False(t, ran)
}
