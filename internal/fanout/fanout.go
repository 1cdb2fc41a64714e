// Package fanout is the Server Send/Buffer Engine (component E): per-uid
// send buffers, time-batched flushing, and retrying fanout over ephemeral
// disconnections, grounded in api/internal/websocket/notifier.go's
// buffer-and-deliver pattern and agent_hub.go's stale-connection sweep.
package fanout

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chskio/chsk/internal/event"
	"github.com/chskio/chsk/internal/logger"
	"github.com/chskio/chsk/internal/packer"
	"github.com/chskio/chsk/internal/registry"
)

// Backoff is the fixed retry sequence from spec.md §4.E: each interval is
// randomized in [b, 2b) before use.
var Backoff = []time.Duration{
	90 * time.Millisecond,
	180 * time.Millisecond,
	360 * time.Millisecond,
	720 * time.Millisecond,
	1440 * time.Millisecond,
}

type buffer struct {
	events []interface{}
	uuids  map[string]struct{}
}

// Config holds the two send-buf-ms tunables and the server ws-kalive-ms
// interval (spec.md §6).
type Config struct {
	SendBufMsWS   time.Duration
	SendBufMsAjax time.Duration
	WSKaliveMs    time.Duration
}

// DefaultConfig matches spec.md §6's documented server defaults.
func DefaultConfig() Config {
	return Config{
		SendBufMsWS:   30 * time.Millisecond,
		SendBufMsAjax: 100 * time.Millisecond,
		WSKaliveMs:    25000 * time.Millisecond,
	}
}

// Engine owns the send buffers and drives flush/fanout/keep-alive.
type Engine struct {
	cfg      Config
	reg      *registry.Registry
	envelope packer.Envelope

	mu      sync.Mutex
	buffers map[registry.Transport]map[string]*buffer

	keepAliveOnce sync.Once
	stopKeepAlive chan struct{}
}

// New builds an Engine over reg using envelope for wire packing.
func New(reg *registry.Registry, envelope packer.Envelope, cfg Config) *Engine {
	return &Engine{
		cfg:      cfg,
		reg:      reg,
		envelope: envelope,
		buffers: map[registry.Transport]map[string]*buffer{
			registry.WS:   {},
			registry.Ajax: {},
		},
		stopKeepAlive: make(chan struct{}),
	}
}

// Send implements spec.md §4.E send(uid, event, flush?).
func (e *Engine) Send(uid string, ev event.Event, flush bool) error {
	uid = registry.ResolveUID(uid)
	if uid == "" {
		return fmt.Errorf("chsk: send: nil uid")
	}

	if ev.ID == event.Close {
		for _, sch := range e.reg.Channels(registry.WS, uid) {
			if sch != nil {
				sch.Close()
			}
		}
		for _, sch := range e.reg.Channels(registry.Ajax, uid) {
			if sch != nil {
				sch.Close()
			}
		}
		return nil
	}

	evUUID := uuid.New().String()
	e.append(registry.WS, uid, ev, evUUID)
	e.append(registry.Ajax, uid, ev, evUUID)

	if flush {
		e.flush(registry.WS, uid, evUUID)
		e.flush(registry.Ajax, uid, evUUID)
		return nil
	}
	time.AfterFunc(e.cfg.SendBufMsWS, func() { e.flush(registry.WS, uid, evUUID) })
	time.AfterFunc(e.cfg.SendBufMsAjax, func() { e.flush(registry.Ajax, uid, evUUID) })
	return nil
}

func (e *Engine) append(transport registry.Transport, uid string, ev event.Event, evUUID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	buf, ok := e.buffers[transport][uid]
	if !ok {
		buf = &buffer{uuids: map[string]struct{}{}}
		e.buffers[transport][uid] = buf
	}
	buf.events = append(buf.events, ev.AsWire())
	buf.uuids[evUUID] = struct{}{}
}

// flush implements spec.md §4.E flush(transport): a no-op if evUUID has
// already been coalesced away by an intervening flush.
func (e *Engine) flush(transport registry.Transport, uid, evUUID string) {
	e.mu.Lock()
	buf, ok := e.buffers[transport][uid]
	if !ok {
		e.mu.Unlock()
		return
	}
	if _, present := buf.uuids[evUUID]; !present {
		e.mu.Unlock()
		return
	}
	events := buf.events
	delete(e.buffers[transport], uid)
	e.mu.Unlock()

	packed, err := e.envelope.Write(events, "")
	if err != nil {
		logger.Fanout().Error().Err(err).Str("uid", uid).Msg("chsk: failed to pack batch")
		return
	}
	go e.fanout(transport, uid, packed)
}

// fanout implements spec.md §4.E fanout: send to every registered
// connection, retrying only the unsatisfied ones on the fixed backoff
// schedule, and dropping anything still unsatisfied once it's exhausted.
func (e *Engine) fanout(transport registry.Transport, uid string, packed string) {
	isWS := transport == registry.WS
	satisfied := map[string]bool{}

	attemptOnce := func() (anyUnsatisfied bool) {
		for cid, sch := range e.reg.Channels(transport, uid) {
			if satisfied[cid] {
				continue
			}
			if sch == nil {
				anyUnsatisfied = true
				continue
			}
			if !sch.Send(packed, isWS) {
				anyUnsatisfied = true
				continue
			}
			satisfied[cid] = true
			if !isWS {
				// The Ajax HTTP response is now closed; clear the entry so
				// a subsequent repoll reattaches.
				e.reg.ClearSch(registry.Ajax, uid, cid, sch)
			}
		}
		return anyUnsatisfied
	}

	for attempt := 0; ; attempt++ {
		if !attemptOnce() {
			return
		}
		if attempt >= len(Backoff) {
			logger.Fanout().Debug().Str("uid", uid).Str("transport", string(transport)).
				Msg("chsk: dropping undelivered batch after exhausting retries")
			return
		}
		b := Backoff[attempt]
		jittered := b + time.Duration(rand.Int63n(int64(b)))
		time.Sleep(jittered)
	}
}

// StartKeepAlive launches the WebSocket keep-alive sweep described in
// spec.md §4.E: any ws connection idle longer than ws-kalive-ms gets a
// chsk/ws-ping frame. Safe to call once per connection open; only the
// first call actually starts the sweep goroutine.
func (e *Engine) StartKeepAlive() {
	e.keepAliveOnce.Do(func() {
		interval := e.cfg.WSKaliveMs / 5
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					e.sweepKeepAlive()
				case <-e.stopKeepAlive:
					return
				}
			}
		}()
	})
}

func (e *Engine) sweepKeepAlive() {
	now := registry.NowMillis()
	threshold := int64(e.cfg.WSKaliveMs / time.Millisecond)
	ping, err := e.envelope.Write(event.Event{ID: event.WSPing}.AsWire(), "")
	if err != nil {
		return
	}
	for _, ent := range e.reg.Entries(registry.WS) {
		if ent.Sch == nil || now-ent.UDT < threshold {
			continue
		}
		if ent.Sch.Send(ping, true) {
			e.reg.Touch(registry.WS, ent.UID, ent.CID)
		}
	}
}

// Stop halts the keep-alive sweep.
func (e *Engine) Stop() {
	close(e.stopKeepAlive)
}

// NewReplyFunc builds the single-shot reply-fn described in spec.md §4.E
// "Reply-side replies": calling it packs [value, cb-uuid] and sends on the
// originating channel, guarded so it can fire at most once.
func NewReplyFunc(sch interface {
	Send(packed string, isWebSocket bool) bool
}, isWebSocket bool, cbUUID string, envelope packer.Envelope) func(value interface{}) bool {
	var once sync.Once
	result := false
	return func(value interface{}) bool {
		once.Do(func() {
			packed, err := envelope.Write(value, cbUUID)
			if err != nil {
				logger.Fanout().Error().Err(err).Msg("chsk: failed to pack reply")
				return
			}
			result = sch.Send(packed, isWebSocket)
		})
		return result
	}
}
