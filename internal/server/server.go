// Package server is the Server HTTP Handlers (component F): CSRF/origin/
// authorization preflight, the Ajax POST send handler, and the Ajax GET /
// WebSocket handshake handler, wiring the registry and fanout engine
// behind the adapter abstraction so neither ever sees gin or gorilla.
package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/chskio/chsk/internal/adapter"
	"github.com/chskio/chsk/internal/apperrors"
	"github.com/chskio/chsk/internal/config"
	"github.com/chskio/chsk/internal/event"
	"github.com/chskio/chsk/internal/fanout"
	"github.com/chskio/chsk/internal/logger"
	"github.com/chskio/chsk/internal/packer"
	"github.com/chskio/chsk/internal/registry"
)

// UserIDFunc resolves the application uid for an incoming request.
type UserIDFunc func(r *http.Request) string

// CSRFTokenFunc computes the reference CSRF token for a request (e.g. from
// a session or a signed anti-forgery field). A nil CSRFTokenFunc disables
// the CSRF check entirely.
type CSRFTokenFunc func(r *http.Request) string

// AuthorizedFunc reports whether a request may proceed.
type AuthorizedFunc func(r *http.Request) bool

// UnauthorizedFunc writes a custom rejection response. If nil, a 401 with
// the UNAUTHORIZED JSON error body is written.
type UnauthorizedFunc func(w http.ResponseWriter, r *http.Request)

// HandshakeDataFunc supplies the application payload attached to the
// chsk/handshake event.
type HandshakeDataFunc func(r *http.Request, uid string) interface{}

// Sanitizer scrubs a raw, un-unpackable payload before it is logged or
// echoed back in a chsk/bad-package event.
type Sanitizer func(raw string) string

// PresenceMirror is the observer hook for component N
// (internal/distregistry): notified whenever a uid transitions into or out
// of the connected-any view, without this package importing Redis
// directly. A *distregistry.Mirror satisfies this interface as-is.
type PresenceMirror interface {
	OnUIDOpen(uid string)
	OnUIDClose(uid string)
}

// connCtx is the per-connection state threaded through adapter.Hooks via
// its opaque ctx parameter.
type connCtx struct {
	UID      string
	CID      string
	Attached bool // whether OnOpen registered this connection in the registry
}

// Server implements component F over a Registry, a fanout Engine, and an
// Adapter.
type Server struct {
	cfg      config.Server
	ad       adapter.Adapter
	reg      *registry.Registry
	fan      *fanout.Engine
	envelope packer.Envelope

	UserID        UserIDFunc
	CSRFToken     CSRFTokenFunc
	Authorized    AuthorizedFunc
	Unauthorized  UnauthorizedFunc
	HandshakeData HandshakeDataFunc
	Sanitize      Sanitizer
	Mirror        PresenceMirror // nil disables distributed presence mirroring

	recvMu sync.Mutex
	recv   chan event.Msg
}

// New builds a Server. reg and fan must already be wired to each other's
// concerns (fan sends through reg's channels); New only wires the HTTP
// boundary on top.
func New(cfg config.Server, ad adapter.Adapter, reg *registry.Registry, fan *fanout.Engine, envelope packer.Envelope) *Server {
	s := &Server{
		cfg:      cfg,
		ad:       ad,
		reg:      reg,
		fan:      fan,
		envelope: envelope,
		recv:     make(chan event.Msg, cfg.RecvBufOrN),
	}
	s.UserID = func(r *http.Request) string { return registry.NilUID }
	s.Sanitize = func(raw string) string { return raw }
	return s
}

// Recv is the receive channel consumed by the Router Loop (component J).
func (s *Server) Recv() <-chan event.Msg { return s.recv }

// Registry exposes the underlying registry, e.g. for TakeSnapshot().
func (s *Server) Registry() *registry.Registry { return s.reg }

// Fanout exposes the underlying send/buffer engine for application sends.
func (s *Server) Fanout() *fanout.Engine { return s.fan }

// Register hands this server's hooks to registerFn (for example a closure
// over GinAdapter.Register). Requests served this way skip preflight.
func (s *Server) Register(registerFn func(adapter.Hooks)) {
	registerFn(adapter.Hooks{
		OnOpen:    s.onOpen,
		OnMessage: s.onMessage,
		OnClose:   s.onClose,
		OnError:   s.onError,
	})
}

// ServeHTTP-style entry points for callers that want to drive the adapter
// themselves rather than through Register's callback indirection.
func (s *Server) HandleSend(w http.ResponseWriter, r *http.Request) {
	if !s.preflight(w, r) {
		return
	}
	s.ad.HandleSend(w, r, adapter.Hooks{OnOpen: s.onOpen, OnMessage: s.onMessage, OnClose: s.onClose, OnError: s.onError})
}

func (s *Server) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if !s.preflight(w, r) {
		return
	}
	if r.URL.Query().Get("client-id") == "" {
		writeAppError(w, apperrors.MissingClientID())
		return
	}
	s.ad.HandleConnect(w, r, adapter.Hooks{OnOpen: s.onOpen, OnMessage: s.onMessage, OnClose: s.onClose, OnError: s.onError})
}

func (s *Server) dispatch(msg event.Msg) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	select {
	case s.recv <- msg:
		return
	default:
	}
	// Sliding-buffer fallback: drop the oldest queued message to make room,
	// matching spec.md §6's recv-buf-or-n sliding semantics.
	select {
	case <-s.recv:
	default:
	}
	select {
	case s.recv <- msg:
	default:
	}
}

func writeAppError(w http.ResponseWriter, err *apperrors.AppError) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(err.StatusCode)
	json.NewEncoder(w).Encode(err.ToResponse())
}
