package middleware

import (
	"errors"

	"github.com/nhairs/nserver/pkg/nserr"
	"github.com/nhairs/nserver/pkg/rule"
	"github.com/nhairs/nserver/pkg/wire"
)

// QueryExceptionHandler produces a Response for an error raised
// anywhere downstream in the query stack, given the original query.
type QueryExceptionHandler func(err error, q rule.Query) (rule.Response, error)

// queryExceptionEntry pairs a type predicate with its handler and a
// specificity rank; higher ranks are tried first.
type queryExceptionEntry struct {
	matches     func(error) bool
	handler     QueryExceptionHandler
	specificity int
}

// QueryExceptionRegistry is the built-in exception-handler middleware
// for the query stack: an ordered `(predicate, handler)` table
// evaluated most-specific-first.
type QueryExceptionRegistry struct {
	entries []queryExceptionEntry
	dflt    QueryExceptionHandler
	frozen  bool
}

// NewQueryExceptionRegistry builds a registry whose terminal fallback
// is def; def runs when an error is in the recoverable taxonomy
// (wraps nserr.Base) but no more specific handler was registered for
// it. Callers replace the default by calling Register with a
// predicate of errors.Is(err, nserr.Base) and the lowest specificity.
func NewQueryExceptionRegistry(def QueryExceptionHandler) *QueryExceptionRegistry {
	return &QueryExceptionRegistry{dflt: def}
}

// Register adds a handler for errors matched by predicate, at the
// given specificity (higher runs first). ConfigurationError if called
// after Freeze.
func (r *QueryExceptionRegistry) Register(predicate func(error) bool, specificity int, h QueryExceptionHandler) error {
	if r.frozen {
		return nserr.NewConfigurationError("cannot register exception handler after freeze", nil)
	}
	r.entries = append(r.entries, queryExceptionEntry{matches: predicate, handler: h, specificity: specificity})
	return nil
}

// RegisterClass registers a handler for the taxonomy error class
// identified by the type parameter E: matching is via errors.As
// against a target of type E. Concrete classes (ConfigurationError,
// HandlerError, ...) are more specific than the root class, so pass a
// larger specificity value for narrower classes.
func RegisterClass[E error](r *QueryExceptionRegistry, specificity int, h QueryExceptionHandler) error {
	predicate := func(err error) bool {
		var target E
		return errors.As(err, &target)
	}
	return r.Register(predicate, specificity, h)
}

// Freeze snapshots registration order into specificity-descending
// order (stable, so same-specificity handlers keep registration
// order).
func (r *QueryExceptionRegistry) Freeze() {
	if r.frozen {
		return
	}
	r.frozen = true
	stableSortBySpecificityDesc(r.entries)
}

// Handle walks the frozen table for the first predicate matching err
// and invokes its handler. If none match but err is recoverable, the
// default handler runs. If err is fatal (not part of the taxonomy),
// Handle returns it unchanged for the caller to propagate; shutdown
// signals and programmer-assertion failures are never caught here.
func (r *QueryExceptionRegistry) Handle(err error, q rule.Query) (rule.Response, error) {
	for _, e := range r.entries {
		if e.matches(err) {
			return e.handler(err, q)
		}
	}
	if nserr.IsFatal(err) {
		return rule.Response{}, err
	}
	return r.dflt(err, q)
}

// AsMiddleware wraps the registry as the outermost QueryMiddleware:
// any error returned by next is dispatched through Handle instead of
// propagating to the caller (except fatal errors, which still
// propagate, per Handle's contract). A recovered error always yields a
// definite (matched) Response — "no match" is a rule-dispatch outcome,
// never an error outcome.
func (r *QueryExceptionRegistry) AsMiddleware() QueryMiddleware {
	return func(next QueryFunc) QueryFunc {
		return func(q rule.Query) (rule.Response, bool, error) {
			resp, matched, err := next(q)
			if err == nil {
				return resp, matched, nil
			}
			resp, err = r.Handle(err, q)
			if err != nil {
				return rule.Response{}, false, err
			}
			return resp, true, nil
		}
	}
}

// RawExceptionHandler produces a reply for an error raised anywhere
// downstream in the raw stack, given the raw record being processed.
type RawExceptionHandler func(err error, rec *wire.RawRecord) error

type rawExceptionEntry struct {
	matches     func(error) bool
	handler     RawExceptionHandler
	specificity int
}

// RawExceptionRegistry is the raw stack's equivalent of
// QueryExceptionRegistry.
type RawExceptionRegistry struct {
	entries []rawExceptionEntry
	dflt    RawExceptionHandler
	frozen  bool
}

func NewRawExceptionRegistry(def RawExceptionHandler) *RawExceptionRegistry {
	return &RawExceptionRegistry{dflt: def}
}

func (r *RawExceptionRegistry) Register(predicate func(error) bool, specificity int, h RawExceptionHandler) error {
	if r.frozen {
		return nserr.NewConfigurationError("cannot register raw exception handler after freeze", nil)
	}
	r.entries = append(r.entries, rawExceptionEntry{matches: predicate, handler: h, specificity: specificity})
	return nil
}

func RegisterRawClass[E error](r *RawExceptionRegistry, specificity int, h RawExceptionHandler) error {
	predicate := func(err error) bool {
		var target E
		return errors.As(err, &target)
	}
	return r.Register(predicate, specificity, h)
}

func (r *RawExceptionRegistry) Freeze() {
	if r.frozen {
		return
	}
	r.frozen = true
	stableSortRawBySpecificityDesc(r.entries)
}

func (r *RawExceptionRegistry) Handle(err error, rec *wire.RawRecord) error {
	for _, e := range r.entries {
		if e.matches(err) {
			return e.handler(err, rec)
		}
	}
	if nserr.IsFatal(err) {
		return err
	}
	return r.dflt(err, rec)
}

func (r *RawExceptionRegistry) AsMiddleware() RawMiddleware {
	return func(next RawFunc) RawFunc {
		return func(rec *wire.RawRecord) error {
			err := next(rec)
			if err == nil {
				return nil
			}
			return r.Handle(err, rec)
		}
	}
}

// Specificity constants for the built-in taxonomy classes; callers
// registering handlers for application-defined error types
// should generally use SpecificityConcrete or higher.
const (
	SpecificityRoot     = 0
	SpecificityConcrete = 100
)

func stableSortBySpecificityDesc(entries []queryExceptionEntry) {
	// insertion sort: entries lists are short (a handful of registered
	// classes), and stability matters more than asymptotics here.
	for i := 1; i < len(entries); i++ {
		j := i
		for j > 0 && entries[j-1].specificity < entries[j].specificity {
			entries[j-1], entries[j] = entries[j], entries[j-1]
			j--
		}
	}
}

func stableSortRawBySpecificityDesc(entries []rawExceptionEntry) {
	for i := 1; i < len(entries); i++ {
		j := i
		for j > 0 && entries[j-1].specificity < entries[j].specificity {
			entries[j-1], entries[j] = entries[j], entries[j-1]
			j--
		}
	}
}
