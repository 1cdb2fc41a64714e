package client

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chskio/chsk/internal/event"
	"github.com/chskio/chsk/internal/logger"
)

// clientUnloading is the process-wide flag from spec.md §9's "Global
// state" design note: any equivalent mechanism is acceptable, so a single
// atomic bool shared by every WS instance in the process suffices.
var clientUnloading atomic.Bool

// SetUnloading suppresses (true) or re-enables (false) reconnect attempts
// across every client in the process, for use during shutdown.
func SetUnloading(v bool) { clientUnloading.Store(v) }

func nowMillis() int64 { return time.Now().UnixMilli() }

// WS is the Client WebSocket State Machine (component G).
type WS struct {
	cfg Config
	h   *hub

	connID       atomic.Uint64
	disconnected atomic.Bool
	retry        atomic.Int64
	lastActivity atomic.Int64

	mu       sync.Mutex
	conn     *websocket.Conn
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewWS builds a WS state machine. Call Connect to start it.
func NewWS(cfg Config) *WS {
	return newWSWithHub(cfg, newHub(cfg.RecvBufOrN))
}

func newWSWithHub(cfg Config, h *hub) *WS {
	h.state.Type = TypeWS
	return &WS{cfg: cfg.withEnvelope(), h: h, stopCh: make(chan struct{})}
}

func (c *WS) StateCh() <-chan event.Event { return c.h.stateCh }
func (c *WS) RecvCh() <-chan event.Msg    { return c.h.recvCh }
func (c *WS) State() State                { return c.h.snapshot() }

// Connect mints a fresh conn-id and dials, per spec.md §4.G.
func (c *WS) Connect() {
	c.disconnected.Store(false)
	id := c.connID.Add(1)
	go c.dial(id)
	go c.keepAliveLoop()
}

func (c *WS) dial(connID uint64) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(c.cfg.WSURL(), c.cfg.Headers)
	if err != nil {
		c.h.publish(func(s *State) { s.LastWSError = err })
		logger.Client().Warn().Err(err).Msg("chsk: websocket dial failed")
		c.scheduleReconnect(connID, CloseWSError)
		return
	}
	if connID != c.connID.Load() {
		conn.Close() // superseded by a newer Connect()/Disconnect() before the dial finished
		return
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.lastActivity.Store(nowMillis())
	go c.readLoop(connID, conn)
}

func (c *WS) readLoop(connID uint64, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.onSocketClosed(connID, err)
			return
		}
		c.lastActivity.Store(nowMillis())
		c.handleFrame(string(raw))
	}
}

func (c *WS) onSocketClosed(connID uint64, err error) {
	if connID != c.connID.Load() {
		return // a superseded socket; ignore per spec.md §5 cancellation rule
	}
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()

	reason := CloseUnexpected
	c.h.publish(func(s *State) {
		s.Open = false
		s.LastWSClose = &LastClose{UDT: nowMillis(), Reason: reason}
	})
	logger.Client().Debug().Err(err).Msg("chsk: websocket closed")
	c.scheduleReconnect(connID, reason)
}

func (c *WS) scheduleReconnect(connID uint64, reason CloseReason) {
	if c.disconnected.Load() || clientUnloading.Load() {
		return
	}
	retry := c.retry.Add(1)
	backoff := c.cfg.withBackoff()(int(retry))
	c.h.publish(func(s *State) {
		s.LastClose = LastClose{UDT: nowMillis(), Reason: reason}
		s.UDTNextReconnect = nowMillis() + backoff.Milliseconds()
	})
	time.AfterFunc(backoff, func() {
		if connID != c.connID.Load() || c.disconnected.Load() || clientUnloading.Load() {
			return
		}
		c.dial(connID)
	})
}

// handleFrame implements spec.md §4.G Receive.
func (c *WS) handleFrame(raw string) {
	value, cbUUID, ok := c.cfg.Envelope.Read(raw)
	if !ok {
		logger.Client().Warn().Msg("chsk: failed to unpack frame")
		return
	}
	if cbUUID != "" {
		if !c.h.resolveCB(cbUUID, value) {
			logger.Client().Warn().Str("cb", cbUUID).Msg("chsk: reply for unknown callback")
		}
		return
	}

	arr, isArr := value.([]interface{})
	if !isArr || len(arr) == 0 {
		return
	}
	if _, firstIsString := arr[0].(string); firstIsString {
		// A single event, not a batch (its own id is the first element).
		c.handleEvent(event.FromReceived(arr))
		return
	}
	for _, item := range arr {
		c.handleEvent(event.FromReceived(item))
	}
}

func (c *WS) handleEvent(ev event.Event) {
	switch ev.ID {
	case event.Handshake:
		c.receiveHandshake(ev)
	case event.WSPing:
		// Server-initiated liveness probe; no application reply expected.
	default:
		if event.Reserved(ev.ID) {
			return
		}
		c.h.deliver(event.Msg{UID: c.h.snapshot().UID, Event: ev})
	}
}

func (c *WS) receiveHandshake(ev event.Event) {
	data, _ := ev.Data.([]interface{})
	var uid string
	var handshakeData interface{}
	if len(data) >= 1 {
		if s, ok := data[0].(string); ok {
			uid = s
		}
	}
	if len(data) >= 3 {
		handshakeData = data[2]
	}

	firstHandshake := !c.h.snapshot().EverOpened
	c.h.publish(func(s *State) {
		s.UID = uid
		s.HandshakeData = handshakeData
		s.Type = TypeWS
		s.Open = true
		s.EverOpened = true
		s.UDTNextReconnect = 0
	})
	c.retry.Store(0)
	c.h.deliver(event.Msg{UID: uid, Event: event.Event{ID: event.Handshake, Data: []interface{}{uid, handshakeData, firstHandshake}}})
}

// Send implements spec.md §4.G Send.
func (c *WS) Send(ev event.Event, cb ReplyCB, timeout time.Duration) bool {
	if !c.h.snapshot().Open {
		if cb != nil {
			cb(event.CbClosed)
		}
		return false
	}

	var cbUUID string
	if cb != nil {
		cbUUID = newCbUUID()
		c.h.registerCB(cbUUID, cb)
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		time.AfterFunc(timeout, func() { c.h.resolveCB(cbUUID, event.CbTimeout) })
	}

	packed, err := c.cfg.Envelope.Write(ev.AsWire(), cbUUID)
	if err != nil {
		if cb != nil {
			c.h.resolveCB(cbUUID, event.CbError)
		}
		return false
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		if cb != nil {
			c.h.resolveCB(cbUUID, event.CbClosed)
		}
		return false
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(packed)); err != nil {
		if cb != nil {
			c.h.resolveCB(cbUUID, event.CbError)
		}
		c.Reconnect(CloseWSError)
		return false
	}
	c.lastActivity.Store(nowMillis())
	return true
}

func (c *WS) keepAliveLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			idle := time.Duration(nowMillis()-c.lastActivity.Load()) * time.Millisecond
			if c.h.snapshot().Open && idle >= c.cfg.WSKaliveMs {
				c.sendPing()
			}
		case <-c.stopCh:
			return
		}
	}
}

func (c *WS) sendPing() {
	c.lastActivity.Store(nowMillis())
	c.Send(event.Event{ID: event.WSPing}, func(v interface{}) {
		if s, ok := v.(string); !ok || s != event.CbPong {
			c.Reconnect(CloseWSPingTimeout)
		}
	}, c.cfg.WSKalivePingTimeoutMs)
}

// Disconnect is a user-initiated, non-reconnecting close.
func (c *WS) Disconnect() {
	c.disconnected.Store(true)
	c.connID.Add(1)
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	c.h.publish(func(s *State) {
		s.Open = false
		s.LastClose = LastClose{UDT: nowMillis(), Reason: CloseRequestedDisconnect}
	})
}

// Reconnect forces an immediate reconnect cycle with the given reason.
func (c *WS) Reconnect(reason CloseReason) {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	id := c.connID.Load()
	c.h.publish(func(s *State) {
		s.Open = false
		s.LastClose = LastClose{UDT: nowMillis(), Reason: reason}
	})
	c.scheduleReconnect(id, reason)
}

// Close is Disconnect plus releasing the keep-alive goroutine.
func (c *WS) Close() {
	c.Disconnect()
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func newCbUUID() string {
	return uuid.New().String()[:6]
}
