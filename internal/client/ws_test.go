package client

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/chskio/chsk/internal/event"
	"github.com/chskio/chsk/internal/packer"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// handshakingEchoServer upgrades every request, immediately sends a
// chsk/handshake frame, then echoes back anything it receives verbatim,
// except ping frames which get a pong reply when a cb-uuid was attached.
func handshakingEchoServer(t *testing.T, env packer.Envelope) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		hs := event.Event{ID: event.Handshake, Data: []interface{}{"srv-uid", nil, nil}}
		packed, err := env.Write(hs.AsWire(), "")
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(packed)))

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			value, cbUUID, ok := env.Read(string(raw))
			if !ok {
				continue
			}
			arr, _ := value.([]interface{})
			if len(arr) > 0 {
				if id, _ := arr[0].(string); id == event.WSPing && cbUUID != "" {
					wire, _ := env.Write(event.CbPong, cbUUID)
					conn.WriteMessage(websocket.TextMessage, []byte(wire))
					continue
				}
			}
			conn.WriteMessage(websocket.TextMessage, raw)
		}
	}))
}

func wsConfigFor(srv *httptest.Server, env packer.Envelope) Config {
	u, _ := url.Parse(srv.URL)
	host, portStr, _ := strings.Cut(u.Host, ":")
	port, _ := strconv.Atoi(portStr)
	return Config{
		Type:                  TypeWS,
		Protocol:              "ws",
		Host:                  host,
		Port:                  port,
		Path:                  "/",
		ClientID:              "c1",
		RecvBufOrN:            16,
		WSKaliveMs:            time.Hour,
		WSKalivePingTimeoutMs: time.Second,
		Envelope:              env,
	}
}

func TestWSConnectReceivesHandshake(t *testing.T) {
	env := packer.NewEnvelope(nil)
	srv := handshakingEchoServer(t, env)
	defer srv.Close()

	c := NewWS(wsConfigFor(srv, env))
	defer c.Close()
	c.Connect()

	select {
	case msg := <-c.RecvCh():
		require.Equal(t, event.Handshake, msg.Event.ID)
		require.Equal(t, "srv-uid", msg.UID)
	case <-time.After(3 * time.Second):
		t.Fatal("handshake was never delivered")
	}
	require.True(t, c.State().Open)
	require.Equal(t, "srv-uid", c.State().UID)
}

func TestWSSendRoundTripsThroughEchoServer(t *testing.T) {
	env := packer.NewEnvelope(nil)
	srv := handshakingEchoServer(t, env)
	defer srv.Close()

	c := NewWS(wsConfigFor(srv, env))
	defer c.Close()
	c.Connect()
	<-c.RecvCh() // handshake

	gotCb := make(chan interface{}, 1)
	ok := c.Send(event.Event{ID: "demo/ping", Data: "hi"}, func(v interface{}) { gotCb <- v }, 3*time.Second)
	require.True(t, ok)

	select {
	case v := <-gotCb:
		require.Equal(t, []interface{}{"demo/ping", "hi"}, v)
	case <-time.After(3 * time.Second):
		t.Fatal("callback was never resolved")
	}
}

func TestWSSendWhenClosedInvokesCbClosed(t *testing.T) {
	c := NewWS(Config{Envelope: packer.NewEnvelope(nil), RecvBufOrN: 4})
	var got interface{}
	ok := c.Send(event.Event{ID: "demo/x"}, func(v interface{}) { got = v }, time.Second)
	require.False(t, ok)
	require.Equal(t, event.CbClosed, got)
}

func TestWSDisconnectMarksStateClosed(t *testing.T) {
	env := packer.NewEnvelope(nil)
	srv := handshakingEchoServer(t, env)
	defer srv.Close()

	c := NewWS(wsConfigFor(srv, env))
	defer c.Close()
	c.Connect()
	<-c.RecvCh()
	require.True(t, c.State().Open)

	c.Disconnect()
	require.Eventually(t, func() bool { return !c.State().Open }, time.Second, 10*time.Millisecond)
	require.Equal(t, CloseRequestedDisconnect, c.State().LastClose.Reason)
}
