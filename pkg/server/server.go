// Package server implements the outer orchestrator: assembling the
// raw middleware stack, the decode/encode boundary, and the root rule
// container into one pipeline; constructing wire replies from
// rule.Response; and owning the freeze boundary transports bind
// against.
package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/miekg/dns"

	"github.com/nhairs/nserver/pkg/middleware"
	"github.com/nhairs/nserver/pkg/name"
	"github.com/nhairs/nserver/pkg/nserr"
	"github.com/nhairs/nserver/pkg/nslog"
	"github.com/nhairs/nserver/pkg/rule"
	"github.com/nhairs/nserver/pkg/scaffold"
	"github.com/nhairs/nserver/pkg/wire"
)

// Server is the outer orchestrator: the raw middleware stack and its
// exception handlers, the root query container, and the listener
// settings. It owns its root container, middleware stacks, and transports
// exclusively; handlers are referenced closures supplied by the
// application.
type Server struct {
	Name     string
	Settings Settings
	Logger   *nslog.Logger

	root           *scaffold.Scaffold
	codec          *wire.Codec
	suffixResolver name.Resolver

	rawMiddlewares []middleware.RawMiddleware
	rawExceptions  *middleware.RawExceptionRegistry

	frozen   bool
	rawChain middleware.RawFunc
}

// New constructs a Server with an empty root container and the given
// settings. A zero Settings value is filled in with DefaultSettings().
func New(name string, settings Settings, suffixResolver name.Resolver) *Server {
	if settings == (Settings{}) {
		settings = DefaultSettings()
	}
	s := &Server{
		Name:           name,
		Settings:       settings,
		Logger:         nslog.NewDefault(),
		root:           scaffold.New(name + ":root"),
		codec:          wire.New(),
		suffixResolver: suffixResolver,
	}
	s.root.SetSuffixResolver(suffixResolver)
	s.rawExceptions = middleware.NewRawExceptionRegistry(s.defaultRawExceptionHandler)
	return s
}

// Root returns the server's root Scaffold for rule/middleware/hook/
// exception-handler registration.
func (s *Server) Root() *scaffold.Scaffold { return s.root }

// Rule registers a handler on the root container via rule.MakeRule's
// smart-pattern heuristic, using the configured default
// case-sensitivity, and returns the handler unchanged so the same
// handler can be registered under several patterns.
func (s *Server) Rule(pattern any, types rule.TypeSet, handler rule.Handler) (rule.Handler, error) {
	return s.root.Rule(pattern, types, handler, s.Settings.CaseSensitiveDefault)
}

// RegisterRule appends an already-built Rule (or a mounted
// sub-container wrapped via rule.NewContainer) to the root container.
func (s *Server) RegisterRule(r *rule.Rule) error { return s.root.AddRule(r) }

// RegisterMiddleware appends a QueryMiddleware to the root container's
// stack. Forbidden once frozen.
func (s *Server) RegisterMiddleware(m middleware.QueryMiddleware) error {
	return s.root.RegisterMiddleware(m)
}

// ExceptionHandler registers a query-stack handler on the root
// container for the taxonomy class identified by E. Forbidden once
// frozen.
func ExceptionHandler[E error](s *Server, specificity int, h middleware.QueryExceptionHandler) error {
	return scaffold.ExceptionHandler[E](s.root, specificity, h)
}

// RegisterRawMiddleware appends a RawMiddleware. Forbidden once
// frozen.
func (s *Server) RegisterRawMiddleware(m middleware.RawMiddleware) error {
	if s.frozen {
		return nserr.NewConfigurationError("server: cannot register raw middleware after freeze", nil)
	}
	s.rawMiddlewares = append(s.rawMiddlewares, m)
	return nil
}

// RawExceptionHandler registers a raw-stack handler for the taxonomy
// class identified by E. Forbidden once frozen.
func RawExceptionHandler[E error](s *Server, specificity int, h middleware.RawExceptionHandler) error {
	if s.frozen {
		return nserr.NewConfigurationError("server: cannot register raw exception handler after freeze", nil)
	}
	return middleware.RegisterRawClass[E](s.rawExceptions, specificity, h)
}

// Freeze snapshots the root container and the raw stack. Idempotent;
// Run calls it automatically.
func (s *Server) Freeze() {
	if s.frozen {
		return
	}
	s.root.Freeze()
	s.rawExceptions.Freeze()

	sink := middleware.RawFunc(s.queryAdapter)
	chain := middleware.ChainRaw(sink, s.rawMiddlewares...)
	s.rawChain = s.rawExceptions.AsMiddleware()(chain)
	s.frozen = true
}

// Serve runs a single raw wire message through the assembled pipeline:
// RawExceptionHandler → <raw middlewares> → QueryAdapter (decode →
// query stack → encode).
// Transports call this once per received datagram/frame. A nil,nil
// result means the transport must not write a reply (e.g. the request
// was cancelled, or decoding failed so badly no reply can be built).
func (s *Server) Serve(ctx context.Context, raw []byte, rec *wire.RawRecord) ([]byte, error) {
	if !s.frozen {
		panic("server: Serve called before Freeze")
	}

	req, decodeErr := s.codec.Decode(raw)
	if decodeErr != nil {
		s.Logger.Debug("discarding malformed datagram", "error", decodeErr, "protocol", rec.Protocol)
		return nil, nil
	}
	rec.Request = req

	var err error
	if cerr := ctx.Err(); cerr != nil {
		// The connection dropped or the request timed out before
		// dispatch. Deliver the cancellation to the exception registry
		// like any other error class, so a registered handler can
		// override the default drop-the-reply behavior.
		err = s.rawExceptions.Handle(nserr.NewRequestCancelled(cerr.Error()), rec)
	} else {
		err = s.rawChain(rec)
	}

	if err != nil {
		if nserr.IsFatal(err) {
			return nil, err
		}
		// The raw exception registry's default/concrete handlers already
		// populate rec.Reply when they run; an error surviving past
		// AsMiddleware means no handler claimed it, which should not
		// happen since Freeze always installs a default. Fail safe.
		s.Logger.Error("unhandled raw stack error", "error", err)
		rec.Reply = s.codec.NewReply(rec.Request, rule.RcodeSERVFAIL)
	}

	if rec.Reply == nil {
		return nil, nil
	}
	return s.codec.Encode(rec.Reply)
}

// queryAdapter is the raw stack's terminal sink: reject non-QUERY
// opcodes with NOTIMPL, decode the query, run the root container, and
// build the wire reply from its Response (or NXDOMAIN on no match).
func (s *Server) queryAdapter(rec *wire.RawRecord) error {
	req := rec.Request

	if req.Opcode != dns.OpcodeQuery {
		rec.Reply = s.codec.NewReply(req, rule.RcodeNOTIMPL)
		return nil
	}

	q, err := s.codec.ExtractQuery(req)
	if err != nil {
		s.Logger.Debug("decode error", "error", nserr.NewDecodeError(err))
		rec.Reply = s.codec.NewReply(req, rule.RcodeFORMERR)
		return nil
	}

	resp, matched, err := s.root.Resolve(q)
	if err != nil {
		return nserr.NewRawHandlerError(err)
	}

	reply := s.codec.NewReply(req, rule.RcodeNOERROR)
	if !matched {
		reply.Rcode = rule.RcodeNXDOMAIN
	} else {
		s.codec.ApplyResponse(reply, resp)
	}
	rec.Reply = reply
	return nil
}

// defaultRawExceptionHandler is the raw stack's terminal fallback:
// build a SERVFAIL reply from the original record if possible, else
// discard. It also special-cases RequestCancelledError — drop the
// reply, log at debug — since writing to a dead connection helps
// nobody; an application wanting a different rcode for a concrete
// error type still registers its own handler via RawExceptionHandler,
// which runs before this default is reached.
func (s *Server) defaultRawExceptionHandler(err error, rec *wire.RawRecord) error {
	var cancelled *nserr.RequestCancelledError
	if errors.As(err, &cancelled) {
		s.Logger.Debug("request cancelled", "reason", cancelled.Reason)
		rec.Reply = nil
		return nil
	}

	s.Logger.Error("raw stack error", "error", err)
	if rec.Request != nil {
		rec.Reply = s.codec.NewReply(rec.Request, rule.RcodeSERVFAIL)
		return nil
	}
	rec.Reply = nil
	return nil
}

// Transport binds an address and drives Server.Serve for every
// received request until ctx is cancelled. Implemented by
// pkg/transport/udp and pkg/transport/tcp; Server depends on this
// interface rather than on either transport package directly, so a
// UDP-only deployment never pulls in the TCP listener and vice versa.
type Transport interface {
	ListenAndServe(ctx context.Context, s *Server, addr string) error
}

// Run freezes the server, binds t, and serves until ctx is cancelled
// or t returns.
func (s *Server) Run(ctx context.Context, t Transport) error {
	s.Freeze()
	addr := fmt.Sprintf("%s:%d", s.Settings.Address, s.Settings.Port)
	return t.ListenAndServe(ctx, s, addr)
}
