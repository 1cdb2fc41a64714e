package adapter

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chskio/chsk/internal/logger"
)

// WebSocket framing and liveness tunables, grounded in the ping/pong
// handling of api/internal/websocket/hub.go's writePump/readPump.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 1 << 20 // 1 MiB
	sendQueueSize  = 256
)

// upgrader's CheckOrigin always accepts: origin policy is enforced earlier,
// in internal/server's preflight, so the adapter never duplicates it.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsChannel is the WebSocket ServerChannel, grounded in
// api/internal/websocket/hub.go's Client type: a buffered outbound queue
// drained by a dedicated writePump goroutine, and an atomic-ish closed
// guard via sync.Once so Close is safe to call from multiple goroutines.
type wsChannel struct {
	conn *websocket.Conn
	send chan string
	once sync.Once
	done chan struct{}
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	return &wsChannel{
		conn: conn,
		send: make(chan string, sendQueueSize),
		done: make(chan struct{}),
	}
}

func (c *wsChannel) IsWebSocket() bool { return true }

// Send enqueues packed for the writePump. It reports false without
// blocking if the channel is already closed or the outbound queue is full
// (a slow or dead peer), matching spec.md §4.C's "returns falsy, does not
// raise" contract.
func (c *wsChannel) Send(packed string, _ bool) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- packed:
		return true
	default:
		return false
	}
}

func (c *wsChannel) Close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// writePump owns all writes to conn: gorilla/websocket connections are not
// safe for concurrent writers, so every frame — data or ping — funnels
// through this one goroutine, exactly as hub.go's Client.writePump does.
func (c *wsChannel) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump owns all reads from conn and forwards each frame to onMessage.
// Once the connection breaks it calls onError (only for an unexpected
// close code), then onClose, and returns, matching hub.go's
// Client.readPump shape.
func (c *wsChannel) readPump(onMessage func(string), onClose func(status int), onError func(error)) {
	defer c.Close()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			status := websocket.CloseNoStatusReceived
			if ce, ok := err.(*websocket.CloseError); ok {
				status = ce.Code
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				onError(err)
			} else {
				logger.WebSocket().Debug().Err(err).Msg("chsk: websocket read ended")
			}
			onClose(status)
			return
		}
		onMessage(string(raw))
	}
}
