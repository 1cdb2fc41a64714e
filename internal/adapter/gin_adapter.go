package adapter

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chskio/chsk/internal/logger"
)

// GinAdapter is the concrete Adapter (component O): it registers exactly
// the two routes spec.md §4.F names on a *gin.Engine and translates gin's
// request/response cycle into the ServerChannel/Hooks contract, the way
// api/cmd/main.go wires api/internal/websocket's handlers onto its own
// gin router.
type GinAdapter struct {
	// PingInterval is how often writePump sends a WebSocket ping frame,
	// whether or not other frames were written in between. Component F
	// additionally sends its own chsk/ws-ping application-level pings on
	// ws-kalive-ms; this is the transport-level keepalive underneath that.
	PingInterval time.Duration
}

// NewGinAdapter builds a GinAdapter with a sane default ping interval.
func NewGinAdapter() *GinAdapter {
	return &GinAdapter{PingInterval: 30 * time.Second}
}

// Register wires HandleSend onto POST path and HandleConnect onto GET
// path, on the supplied engine.
func (a *GinAdapter) Register(engine *gin.Engine, path string, hooks Hooks) {
	engine.POST(path, func(c *gin.Context) { a.HandleSend(c.Writer, c.Request, hooks) })
	engine.GET(path, func(c *gin.Context) { a.HandleConnect(c.Writer, c.Request, hooks) })
}

func (a *GinAdapter) HandleSend(w http.ResponseWriter, r *http.Request, hooks Hooks) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
	if err != nil {
		if hooks.OnError != nil {
			hooks.OnError(nil, false, err, nil)
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	sch := newAjaxChannel()
	var ctx interface{}
	if hooks.OnOpen != nil {
		ctx = hooks.OnOpen(sch, false, r)
	}
	if hooks.OnMessage != nil {
		hooks.OnMessage(sch, false, string(body), ctx)
	}

	payload, ok := <-sch.result
	if hooks.OnClose != nil {
		hooks.OnClose(sch, false, http.StatusOK, ctx)
	}
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, payload)
}

func (a *GinAdapter) HandleConnect(w http.ResponseWriter, r *http.Request, hooks Hooks) {
	if isWebSocketUpgrade(r) {
		a.handleWebSocket(w, r, hooks)
		return
	}
	a.handleAjaxOpen(w, r, hooks)
}

func (a *GinAdapter) handleWebSocket(w http.ResponseWriter, r *http.Request, hooks Hooks) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WebSocket().Warn().Err(err).Msg("chsk: websocket upgrade failed")
		if hooks.OnError != nil {
			hooks.OnError(nil, true, err, nil)
		}
		return
	}
	sch := newWSChannel(conn)
	var ctx interface{}
	if hooks.OnOpen != nil {
		ctx = hooks.OnOpen(sch, true, r)
	}
	go sch.writePump(a.PingInterval)
	sch.readPump(
		func(packed string) {
			if hooks.OnMessage != nil {
				hooks.OnMessage(sch, true, packed, ctx)
			}
		},
		func(status int) {
			if hooks.OnClose != nil {
				hooks.OnClose(sch, true, status, ctx)
			}
		},
		func(err error) {
			if hooks.OnError != nil {
				hooks.OnError(sch, true, err, ctx)
			}
		},
	)
}

func (a *GinAdapter) handleAjaxOpen(w http.ResponseWriter, r *http.Request, hooks Hooks) {
	sch := newAjaxChannel()
	var ctx interface{}
	if hooks.OnOpen != nil {
		ctx = hooks.OnOpen(sch, false, r)
	}

	payload, ok := <-sch.result
	if hooks.OnClose != nil {
		hooks.OnClose(sch, false, http.StatusOK, ctx)
	}
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, payload)
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}
