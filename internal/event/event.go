// Package event defines the shape of a chsk event and the reserved
// control-event namespaces that the transport layer fabricates for
// handshakes, pings, and error reporting.
//
// An event is an ordered pair [event-id, data]. event-id is a namespaced
// symbolic identifier such as "chsk/handshake" or "my-app/echo" — it must
// carry a non-empty namespace segment before the slash. Anything that does
// not fit this shape is replaced on receive with [chsk/bad-event, original]
// rather than propagated to application code.
package event

import (
	"fmt"
	"net/http"
	"strings"
)

// Namespace prefixes reserved for the transport itself. User code must
// never fabricate an id in these namespaces.
const (
	NamespaceChsk  = "chsk"
	NamespaceSente = "sente"
)

// Reserved event ids, server -> client.
const (
	Handshake  = "chsk/handshake"
	WSPing     = "chsk/ws-ping"
	State      = "chsk/state"
	Recv       = "chsk/recv"
	Close      = "chsk/close"
	Timeout    = "chsk/timeout"
	BadPackage = "chsk/bad-package"
	BadEvent   = "chsk/bad-event"
)

// Reserved event ids, client -> server (observed at the application level).
const (
	UIDPortOpen  = "chsk/uidport-open"
	UIDPortClose = "chsk/uidport-close"
)

// Reserved callback reply sentinels: the value a waiting callback receives
// in place of a real reply. CbTimeout is the same string as Timeout, and
// the server writes CbDummyOK in the [id] event shape as the body of an
// Ajax POST that expects no reply.
const (
	CbClosed  = "chsk/closed"
	CbTimeout = "chsk/timeout"
	CbError   = "chsk/error"
	CbDummyOK = "chsk/dummy-cb-200"
	CbPong    = "pong"
)

// Event is the ordered pair [event-id, optional-data]. Data may be nil for
// a fire-and-forget event that carries no payload.
type Event struct {
	ID   string
	Data interface{}
}

// New builds an Event, returning an error if id does not have the required
// namespaced shape. Use this on the SEND path, where a malformed event is a
// programmer error that should fail loudly rather than be silently rewritten.
func New(id string, data interface{}) (Event, error) {
	if !Valid(id) {
		return Event{}, fmt.Errorf("chsk: invalid event id %q: must be namespaced as ns/name", id)
	}
	return Event{ID: id, Data: data}, nil
}

// Valid reports whether id has a non-empty namespace segment before a "/".
func Valid(id string) bool {
	if id == "" {
		return false
	}
	idx := strings.IndexByte(id, '/')
	if idx <= 0 || idx == len(id)-1 {
		return false
	}
	return true
}

// Namespace returns the segment of id before the first "/", or "" if id is
// not a validly namespaced identifier.
func Namespace(id string) string {
	idx := strings.IndexByte(id, '/')
	if idx <= 0 {
		return ""
	}
	return id[:idx]
}

// Reserved reports whether id falls in a namespace user code must not
// fabricate (chsk/* or sente/*).
func Reserved(id string) bool {
	ns := Namespace(id)
	return ns == NamespaceChsk || ns == NamespaceSente
}

// FromReceived validates a value arriving off the wire (already unpacked
// into an [id, data] or [id] shape) and, if it is not a well-formed event,
// substitutes the protocol fallback event [chsk/bad-event, original]. This
// is the RECEIVE-path twin of New: the receive path never errors, it
// degrades.
func FromReceived(raw interface{}) Event {
	id, data, ok := shape(raw)
	if !ok || !Valid(id) {
		return Event{ID: BadEvent, Data: raw}
	}
	return Event{ID: id, Data: data}
}

// shape extracts an (id, data, ok) triple from a generic envelope value of
// length 1 or 2, as produced by a Packer's Unpack. Packers built on
// encoding/json represent this as []interface{}.
func shape(raw interface{}) (string, interface{}, bool) {
	arr, ok := raw.([]interface{})
	if !ok || len(arr) == 0 || len(arr) > 2 {
		return "", nil, false
	}
	id, ok := arr[0].(string)
	if !ok {
		return "", nil, false
	}
	var data interface{}
	if len(arr) == 2 {
		data = arr[1]
	}
	return id, data, true
}

// AsWire returns the event in the [id] / [id, data] wire shape the Packer
// expects, omitting data entirely when nil so fire-and-forget events pack
// to their minimal form.
func (e Event) AsWire() []interface{} {
	if e.Data == nil {
		return []interface{}{e.ID}
	}
	return []interface{}{e.ID, e.Data}
}

// ReplyFunc is handed to a message handler when the sender expects a
// response. It is single-shot: only the first call has any effect.
type ReplyFunc func(value interface{}) bool

// Msg is one event-msg dispatched to the application: the originating
// request, the resolved client/user identity, the event itself, and an
// optional reply capability.
type Msg struct {
	Request  *http.Request
	ClientID string
	UID      string
	Event    Event
	Reply    ReplyFunc // nil if the sender expected no reply
}
