// Package adapter is the Server Adapter Interface: the only boundary
// between the registry/fanout/server packages and a concrete HTTP/WebSocket
// library. None of the registry, fanout or server packages imports gin or
// gorilla/websocket.
//
// Every accepted HTTP request — POST or GET, WebSocket or Ajax — produces a
// ServerChannel and a sequence of lifecycle callbacks: OnOpen, zero or more
// OnMessage, then always exactly one OnClose (the registry cleanup point),
// optionally preceded by an OnError when the close was due to an
// unexpected read/write failure rather than a clean disconnect. The
// registry and fanout engine only ever hold a ServerChannel; they never
// see *gin.Context or *websocket.Conn.
package adapter

import "net/http"

// ServerChannel is one underlying HTTP or WebSocket connection, as exposed
// by a concrete Adapter implementation.
type ServerChannel interface {
	// Send writes a packed payload on the channel and reports apparent
	// success. It never panics or blocks the caller's goroutine on a dead
	// peer; for Ajax it also implicitly closes the channel (the HTTP
	// response can only be written once).
	Send(packed string, isWebSocket bool) bool
	// Close is idempotent.
	Close()
	// IsWebSocket reports which transport backs this channel.
	IsWebSocket() bool
}

// Hooks are the lifecycle callbacks a caller of Register supplies. They are
// invoked from the adapter's own goroutines (one per connection for
// WebSocket, one per request for Ajax) and must not block indefinitely.
//
// OnOpen receives the originating *http.Request (for client-id/csrf/origin
// extraction) and returns an opaque per-connection context value that the
// adapter threads through the remaining calls for the same channel, so a
// caller never has to maintain its own sch-to-connection lookup table.
type Hooks struct {
	OnOpen    func(sch ServerChannel, isWebSocket bool, r *http.Request) (ctx interface{})
	OnMessage func(sch ServerChannel, isWebSocket bool, packed string, ctx interface{})
	OnClose   func(sch ServerChannel, isWebSocket bool, status int, ctx interface{})
	OnError   func(sch ServerChannel, isWebSocket bool, err error, ctx interface{})
}

// Adapter accepts HTTP requests and turns them into ServerChannel lifecycle
// events. A concrete implementation owns exactly the two routes named in
// spec.md §4.F: Ajax POST (send) and Ajax GET / WebSocket handshake.
type Adapter interface {
	// HandleSend serves the Ajax POST entry point: a single packed event in
	// the request body, with the HTTP response held open until the
	// resulting ServerChannel is sent to or closed.
	HandleSend(w http.ResponseWriter, r *http.Request, hooks Hooks)
	// HandleConnect serves the Ajax GET / WebSocket handshake entry point.
	// The caller inspects the request (e.g. an Upgrade header) to decide,
	// but the adapter itself performs the protocol switch.
	HandleConnect(w http.ResponseWriter, r *http.Request, hooks Hooks)
}
