// Package middleware implements the two composable stacks:
// RawMiddleware over RawRecord and QueryMiddleware over
// Query/Response, plus the built-in exception-handler middleware
// (most-specific-ancestor dispatch) and the built-in hook middleware.
package middleware

import (
	"github.com/nhairs/nserver/pkg/rule"
	"github.com/nhairs/nserver/pkg/wire"
)

// QueryFunc resolves a Query to a Response; it is the (value) side of
// the query stack's `(value, call_next) -> value` signature. The bool
// result mirrors rule.Resolver's matched flag: a Scaffold's whole
// composed chain must still be able to report "no match" so a parent
// container's dispatch can fall through to the next sibling rule,
// even after the child's own middleware stack has run.
type QueryFunc func(rule.Query) (rule.Response, bool, error)

// QueryMiddleware wraps a QueryFunc with before/after behavior. A
// middleware that does not call next short-circuits the stack.
type QueryMiddleware func(next QueryFunc) QueryFunc

// ChainQuery composes middlewares around sink, outermost first:
// mw[0] wraps mw[1] wraps ... wraps sink. Middlewares are applied in
// reverse so the first registered ends up outermost.
func ChainQuery(sink QueryFunc, middlewares ...QueryMiddleware) QueryFunc {
	h := sink
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RawFunc resolves a raw wire record to a reply; it is the raw
// stack's equivalent of QueryFunc.
type RawFunc func(*wire.RawRecord) error

// RawMiddleware wraps a RawFunc.
type RawMiddleware func(next RawFunc) RawFunc

// ChainRaw composes raw middlewares the same way ChainQuery does.
func ChainRaw(sink RawFunc, middlewares ...RawMiddleware) RawFunc {
	h := sink
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
