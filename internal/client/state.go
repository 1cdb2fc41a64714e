package client

import (
	"sync"

	"github.com/chskio/chsk/internal/event"
)

// CloseReason is the typed enum behind state.last-close.reason
// (SPEC_FULL.md §5 supplements the bare strings spec.md §4.G lists with a
// named type, matching the teacher's habit of typed EventType/ErrCode
// constants in api/internal/websocket/notifier.go and api/internal/errors/errors.go).
type CloseReason string

const (
	CloseClean                CloseReason = "clean"
	CloseUnexpected           CloseReason = "unexpected"
	CloseRequestedDisconnect  CloseReason = "requested-disconnect"
	CloseRequestedReconnect   CloseReason = "requested-reconnect"
	CloseDowngradingWSToAjax  CloseReason = "downgrading-ws-to-ajax"
	CloseWSPingTimeout        CloseReason = "ws-ping-timeout"
	CloseWSError              CloseReason = "ws-error"
)

// LastClose records the udt at which a close occurred and why.
type LastClose struct {
	UDT    int64
	Reason CloseReason
}

// State is the observable client record described in spec.md §3.
type State struct {
	Type             Type
	Open             bool
	EverOpened       bool
	UID              string
	HandshakeData    interface{}
	LastWSError      error
	LastWSClose      *LastClose
	LastClose        LastClose
	UDTNextReconnect int64
}

// ReplyCB is invoked at most once with either the unpacked reply value or
// one of event.CbClosed / event.CbTimeout / event.CbError.
type ReplyCB func(value interface{})

// hub is the mutable state and channels shared across a connection's
// lifetime, including across an Auto wrapper's permanent ws->ajax swap (so
// a caller's subscriptions to StateCh/RecvCh survive the swap).
type hub struct {
	mu    sync.Mutex
	state State

	stateCh chan event.Event // chsk/state events
	recvCh  chan event.Msg   // pushed events and the handshake, delivered to the app

	cbMu       sync.Mutex
	cbsWaiting map[string]ReplyCB
}

func newHub(recvBufOrN int) *hub {
	return &hub{
		stateCh:    make(chan event.Event, 64),
		recvCh:     make(chan event.Msg, recvBufOrN),
		cbsWaiting: map[string]ReplyCB{},
	}
}

func (h *hub) snapshot() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// publish merges fn's mutations into state and emits chsk/state with the
// old/new/openChanged triple, per spec.md §4.G.
func (h *hub) publish(fn func(*State)) {
	h.mu.Lock()
	old := h.state
	next := h.state
	fn(&next)
	h.state = next
	h.mu.Unlock()

	openChanged := old.Open != next.Open
	h.emitState(event.Event{
		ID:   event.State,
		Data: []interface{}{old, next, openChanged},
	})
}

func (h *hub) emitState(ev event.Event) {
	select {
	case h.stateCh <- ev:
	default:
		// Sliding: drop the oldest state transition rather than block the
		// connection's own goroutines.
		select {
		case <-h.stateCh:
		default:
		}
		select {
		case h.stateCh <- ev:
		default:
		}
	}
}

func (h *hub) deliver(msg event.Msg) {
	select {
	case h.recvCh <- msg:
	default:
		select {
		case <-h.recvCh:
		default:
		}
		select {
		case h.recvCh <- msg:
		default:
		}
	}
}

// registerCB stores cb under uuid so a later reply/timeout can resolve it
// exactly once.
func (h *hub) registerCB(uuid string, cb ReplyCB) {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.cbsWaiting[uuid] = cb
}

// resolveCB invokes and removes the callback for uuid, if still waiting.
// Returns false if no callback was registered (already resolved, or
// unknown uuid).
func (h *hub) resolveCB(uuid string, value interface{}) bool {
	h.cbMu.Lock()
	cb, ok := h.cbsWaiting[uuid]
	if ok {
		delete(h.cbsWaiting, uuid)
	}
	h.cbMu.Unlock()
	if !ok {
		return false
	}
	cb(value)
	return true
}
