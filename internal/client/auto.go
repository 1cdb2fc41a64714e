package client

import (
	"sync"
	"time"

	"github.com/chskio/chsk/internal/event"
)

// Auto is the Client Auto Wrapper (component I): starts over WS and, if a
// connection error is observed before the first successful handshake,
// downgrades permanently to Ajax long-polling on the same hub so a
// caller's StateCh/RecvCh subscriptions see an uninterrupted stream.
type Auto struct {
	cfg Config
	h   *hub

	mu   sync.Mutex
	mode Type
	ws   *WS
	ajax *Ajax

	watchOnce sync.Once
	stopCh    chan struct{}
}

// NewAuto builds an Auto wrapper. Call Connect to start it.
func NewAuto(cfg Config) *Auto {
	return &Auto{cfg: cfg, h: newHub(cfg.RecvBufOrN), mode: TypeWS, stopCh: make(chan struct{})}
}

func (a *Auto) StateCh() <-chan event.Event { return a.h.stateCh }
func (a *Auto) RecvCh() <-chan event.Msg    { return a.h.recvCh }
func (a *Auto) State() State                { return a.h.snapshot() }

// Connect starts the WS delegate and the one-shot downgrade watcher.
func (a *Auto) Connect() {
	a.mu.Lock()
	a.mode = TypeWS
	a.ws = newWSWithHub(a.cfg, a.h)
	ws := a.ws
	a.mu.Unlock()
	ws.Connect()
	a.watchOnce.Do(func() { go a.watchDowngrade() })
}

// watchDowngrade polls for the spec.md §4.I trigger: a WS error observed
// before the connection has ever completed a handshake. It exits for good
// once either the handshake succeeds or the downgrade fires.
func (a *Auto) watchDowngrade() {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s := a.h.snapshot()
			if s.EverOpened {
				return
			}
			if s.LastWSError != nil {
				a.downgrade()
				return
			}
		case <-a.stopCh:
			return
		}
	}
}

func (a *Auto) downgrade() {
	a.mu.Lock()
	if a.mode == TypeAjax {
		a.mu.Unlock()
		return
	}
	a.mode = TypeAjax
	ws := a.ws
	a.mu.Unlock()

	ws.Close()
	a.h.publish(func(s *State) {
		s.LastClose = LastClose{UDT: nowMillis(), Reason: CloseDowngradingWSToAjax}
	})

	ajax := newAjaxWithHub(a.cfg, a.h)
	a.mu.Lock()
	a.ajax = ajax
	a.mu.Unlock()
	ajax.Connect()
}

// Send delegates to whichever transport is currently live.
func (a *Auto) Send(ev event.Event, cb ReplyCB, timeout time.Duration) bool {
	a.mu.Lock()
	mode, ws, ajax := a.mode, a.ws, a.ajax
	a.mu.Unlock()
	if mode == TypeAjax && ajax != nil {
		return ajax.Send(ev, cb, timeout)
	}
	if ws != nil {
		return ws.Send(ev, cb, timeout)
	}
	if cb != nil {
		cb(event.CbClosed)
	}
	return false
}

// Disconnect stops whichever transport is live and the downgrade watcher.
func (a *Auto) Disconnect() {
	a.mu.Lock()
	mode, ws, ajax := a.mode, a.ws, a.ajax
	a.mu.Unlock()
	if mode == TypeAjax && ajax != nil {
		ajax.Disconnect()
	} else if ws != nil {
		ws.Disconnect()
	}
}

// Close stops the delegate and releases the watcher goroutine.
func (a *Auto) Close() {
	a.Disconnect()
	select {
	case <-a.stopCh:
	default:
		close(a.stopCh)
	}
}
