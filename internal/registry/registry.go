// Package registry is the Server Connection Registry (component D): a
// per-transport, per-user, per-client table of live connections, CAS'd as
// whole entries under one lock per spec.md §9 ("may choose sharded locks or
// per-uid actors so long as the external invariants hold") — a single
// sync.RWMutex over the whole table is the simplest implementation that
// satisfies the invariant, grounded in the teacher's own preference for a
// single sync.RWMutex over a map of connections (api/internal/websocket/hub.go's
// Hub.mu guarding Hub.clients).
package registry

import (
	"sync"
	"time"

	"github.com/chskio/chsk/internal/adapter"
)

// Transport identifies which half of the registry an entry lives in.
type Transport string

const (
	WS   Transport = "ws"
	Ajax Transport = "ajax"
)

// NilUID is the sentinel uid for "authenticated but unidentified", and
// AllUsersWithoutUID is rewritten to it on send per spec.md §3.
const (
	NilUID             = "chsk/nil-uid"
	AllUsersWithoutUID = "chsk/all-users-without-uid"
)

// entry is one (transport, uid, cid) registry row.
type entry struct {
	sch adapter.ServerChannel // nil while detached/awaiting reconnect
	udt int64                 // ms CAS token / activity marker
}

// Snapshot is a read-only summary of the connected-users view, used for
// health/metrics endpoints (SPEC_FULL.md §5).
type Snapshot struct {
	WS    []string
	Ajax  []string
	Any   []string
}

// Registry holds the live connection table and the derived connected-users
// view described in spec.md §4.D.
type Registry struct {
	mu    sync.RWMutex
	conns map[Transport]map[string]map[string]entry

	connectedWS   map[string]int // uid -> count of live ws conns
	connectedAjax map[string]int
	connectedAny  map[string]int
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		conns: map[Transport]map[string]map[string]entry{
			WS:   {},
			Ajax: {},
		},
		connectedWS:   map[string]int{},
		connectedAjax: map[string]int{},
		connectedAny:  map[string]int{},
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// Touch refreshes the activity marker (udt) for an existing entry,
// preserving its current sch. A no-op if no such entry exists.
func (r *Registry) Touch(transport Transport, uid, cid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byUID, ok := r.conns[transport][uid]
	if !ok {
		return
	}
	e, ok := byUID[cid]
	if !ok {
		return
	}
	e.udt = nowMillis()
	byUID[cid] = e
}

// Any is the sentinel "accept whatever sch is currently present" value for
// Attach's expectedOldSch parameter.
var Any adapter.ServerChannel = anySentinel{}

type anySentinel struct{}

func (anySentinel) Send(string, bool) bool { return false }
func (anySentinel) Close()                 {}
func (anySentinel) IsWebSocket() bool      { return false }

// Attach implements spec.md §4.D attach: if the entry's current sch equals
// expectedOldSch (or expectedOldSch is registry.Any), replace it with
// newSch and bump udt. uidNewlyConnected reports whether uid transitioned
// into the connected.any view as a result (i.e. it had no live connection
// of any transport before this call and now does, assuming newSch is
// non-nil).
func (r *Registry) Attach(transport Transport, uid, cid string, expectedOldSch, newSch adapter.ServerChannel) (uidNewlyConnected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byUID, ok := r.conns[transport][uid]
	if !ok {
		byUID = map[string]entry{}
		r.conns[transport][uid] = byUID
	}

	cur, existed := byUID[cid]
	var curSch adapter.ServerChannel
	if existed {
		curSch = cur.sch
	}
	if expectedOldSch != Any && curSch != expectedOldSch {
		return false
	}

	wasInAny := r.connectedAny[uid] > 0
	if existed && cur.sch != nil {
		r.decrCount(transport, uid)
	}

	udt := nowMillis()
	if existed && udt <= cur.udt {
		udt = cur.udt + 1 // keep the CAS token changing within one millisecond
	}
	byUID[cid] = entry{sch: newSch, udt: udt}

	if newSch != nil {
		r.incrCount(transport, uid)
	}

	nowInAny := r.connectedAny[uid] > 0
	return !wasInAny && nowInAny
}

// Detach implements spec.md §4.D detach: removes the (transport,uid,cid)
// entry only if it still carries the udt snapshot taken when the grace
// timer was scheduled (i.e. no reconnect has touched/reattached it since).
// uidLeftAny reports whether uid transitioned out of connected.any.
func (r *Registry) Detach(transport Transport, uid, cid string, expectedUDT int64) (removed, uidLeftAny bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byUID, ok := r.conns[transport][uid]
	if !ok {
		return false, false
	}
	cur, ok := byUID[cid]
	if !ok || cur.udt != expectedUDT {
		return false, false
	}

	wasInAny := r.connectedAny[uid] > 0
	if cur.sch != nil {
		r.decrCount(transport, uid)
	}
	delete(byUID, cid)
	if len(byUID) == 0 {
		delete(r.conns[transport], uid)
	}
	nowInAny := r.connectedAny[uid] > 0

	return true, wasInAny && !nowInAny
}

// Channels returns the live server-channels currently registered under
// (transport, uid), keyed by cid. Used by the fanout engine's fanout step.
func (r *Registry) Channels(transport Transport, uid string) map[string]adapter.ServerChannel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]adapter.ServerChannel{}
	for cid, e := range r.conns[transport][uid] {
		out[cid] = e.sch // may be nil, meaning "client momentarily reconnecting"
	}
	return out
}

// EntryUDT returns the current udt for (transport,uid,cid) and whether the
// entry exists, used by onClose to capture the CAS snapshot before
// scheduling the grace-close detach.
func (r *Registry) EntryUDT(transport Transport, uid, cid string) (udt int64, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[transport][uid][cid]
	return e.udt, ok
}

// ClearSch sets the entry's sch to nil (without removing it) after a
// successful long-polling send, since the underlying HTTP response is now
// closed; a subsequent repoll reattaches. Returns the udt the entry carries
// immediately afterward, for scheduling a grace timer if needed.
func (r *Registry) ClearSch(transport Transport, uid, cid string, expectedSch adapter.ServerChannel) (udt int64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byUID, exists := r.conns[transport][uid]
	if !exists {
		return 0, false
	}
	e, exists := byUID[cid]
	if !exists || e.sch != expectedSch {
		return e.udt, false
	}
	r.decrCount(transport, uid)
	e.sch = nil
	byUID[cid] = e
	return e.udt, true
}

// ConnectedAny reports whether uid has at least one live connection of any
// transport.
func (r *Registry) ConnectedAny(uid string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connectedAny[uid] > 0
}

// TakeSnapshot produces a race-free copy of the connected-users view.
func (r *Registry) TakeSnapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Snapshot{}
	for uid := range r.connectedWS {
		s.WS = append(s.WS, uid)
	}
	for uid := range r.connectedAjax {
		s.Ajax = append(s.Ajax, uid)
	}
	for uid := range r.connectedAny {
		s.Any = append(s.Any, uid)
	}
	return s
}

// decrCount/incrCount maintain the per-transport and overall connected-uid
// counts that back the connected.{ws,ajax,any} view. Caller must hold mu.
func (r *Registry) incrCount(transport Transport, uid string) {
	r.countsFor(transport)[uid]++
	r.connectedAny[uid]++
}

func (r *Registry) decrCount(transport Transport, uid string) {
	m := r.countsFor(transport)
	m[uid]--
	if m[uid] <= 0 {
		delete(m, uid)
	}
	r.connectedAny[uid]--
	if r.connectedAny[uid] <= 0 {
		delete(r.connectedAny, uid)
	}
}

func (r *Registry) countsFor(transport Transport) map[string]int {
	if transport == WS {
		return r.connectedWS
	}
	return r.connectedAjax
}

// ResolveUID rewrites the all-users-without-uid alias to nil-uid, per
// spec.md §4.E send step 1.
func ResolveUID(uid string) string {
	if uid == AllUsersWithoutUID {
		return NilUID
	}
	return uid
}

// NowMillis exposes the registry's clock source for callers (fanout,
// housekeeping) that need udt-compatible timestamps.
func NowMillis() int64 { return nowMillis() }
