package client

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chskio/chsk/internal/event"
	"github.com/chskio/chsk/internal/packer"
)

// ajaxTestServer serves the GET long-poll / POST send pair a single Ajax
// client talks to: the first GET (handshake?=true) returns a handshake
// frame, the second returns one batched application event, every GET after
// that returns the :chsk/timeout sentinel. POST echoes the sent event back
// as the reply.
func ajaxTestServer(t *testing.T, env packer.Envelope) *httptest.Server {
	t.Helper()
	var getCount atomic.Int64
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			n := getCount.Add(1)
			var wire string
			var err error
			switch n {
			case 1:
				hs := event.Event{ID: event.Handshake, Data: []interface{}{"srv-uid", nil, nil}}
				wire, err = env.Write(hs.AsWire(), "")
			case 2:
				ev := event.Event{ID: "demo/push", Data: "hello"}
				wire, err = env.Write([]interface{}{ev.AsWire()}, "")
			default:
				wire, err = env.Write(event.Event{ID: event.Timeout}.AsWire(), "")
			}
			require.NoError(t, err)
			w.Write([]byte(wire))
		case http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			value, _, ok := env.Read(string(body))
			require.True(t, ok)
			arr, _ := value.([]interface{})
			reply, err := env.Write(arr[1], "")
			require.NoError(t, err)
			w.Write([]byte(reply))
		}
	}))
}

func ajaxConfigFor(srv *httptest.Server, env packer.Envelope) Config {
	u, _ := url.Parse(srv.URL)
	host, portStr, _ := strings.Cut(u.Host, ":")
	port, _ := strconv.Atoi(portStr)
	return Config{
		Type:       TypeAjax,
		Protocol:   "http",
		Host:       host,
		Port:       port,
		Path:       "/",
		ClientID:   "c1",
		RecvBufOrN: 16,
		Envelope:   env,
	}
}

func TestAjaxConnectReceivesHandshakeThenEvent(t *testing.T) {
	env := packer.NewEnvelope(nil)
	srv := ajaxTestServer(t, env)
	defer srv.Close()

	c := NewAjax(ajaxConfigFor(srv, env))
	defer c.Close()
	c.Connect()

	select {
	case msg := <-c.RecvCh():
		require.Equal(t, event.Handshake, msg.Event.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("handshake was never delivered")
	}
	require.True(t, c.State().Open)

	select {
	case msg := <-c.RecvCh():
		require.Equal(t, "demo/push", msg.Event.ID)
		require.Equal(t, "hello", msg.Event.Data)
	case <-time.After(3 * time.Second):
		t.Fatal("batched event was never delivered")
	}
}

func TestAjaxSendDeliversPostedEventAndReadsReply(t *testing.T) {
	env := packer.NewEnvelope(nil)
	srv := ajaxTestServer(t, env)
	defer srv.Close()

	c := NewAjax(ajaxConfigFor(srv, env))
	defer c.Close()

	got := make(chan interface{}, 1)
	ok := c.Send(event.Event{ID: "demo/echo", Data: "ping"}, func(v interface{}) { got <- v }, 3*time.Second)
	require.True(t, ok)

	select {
	case v := <-got:
		require.Equal(t, "ping", v)
	case <-time.After(3 * time.Second):
		t.Fatal("reply was never delivered")
	}
}

func TestAjaxSendWithoutCallbackReturnsStatusOnly(t *testing.T) {
	env := packer.NewEnvelope(nil)
	srv := ajaxTestServer(t, env)
	defer srv.Close()

	c := NewAjax(ajaxConfigFor(srv, env))
	defer c.Close()
	ok := c.Send(event.Event{ID: "demo/fire"}, nil, time.Second)
	require.True(t, ok)
}

// requestRecorder records every request a capturingAjaxServer receives,
// guarded by a mutex since the server and test run on different goroutines.
type requestRecorder struct {
	mu   sync.Mutex
	reqs []*http.Request
}

func (r *requestRecorder) add(req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
}

func (r *requestRecorder) all() []*http.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*http.Request(nil), r.reqs...)
}

// capturingAjaxServer records the query params and headers of every
// request it receives, answers every GET with the chsk/timeout sentinel and
// every POST with the dummy-ok reply, so the client's Connect/Send calls
// complete.
func capturingAjaxServer(t *testing.T, env packer.Envelope) (*httptest.Server, *requestRecorder) {
	t.Helper()
	rec := &requestRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r.Clone(r.Context()))
		switch r.Method {
		case http.MethodGet:
			wire, err := env.Write(event.Event{ID: event.Timeout}.AsWire(), "")
			require.NoError(t, err)
			w.Write([]byte(wire))
		case http.MethodPost:
			io.Copy(io.Discard, r.Body)
			wire, err := env.Write(event.Event{ID: event.CbDummyOK}.AsWire(), "")
			require.NoError(t, err)
			w.Write([]byte(wire))
		}
	}))
	return srv, rec
}

func TestAjaxLongPollSendsUDTAndCSRFHeader(t *testing.T) {
	env := packer.NewEnvelope(nil)
	srv, rec := capturingAjaxServer(t, env)
	defer srv.Close()

	cfg := ajaxConfigFor(srv, env)
	cfg.CSRFToken = "tok-1"
	c := NewAjax(cfg)
	defer c.Close()
	c.Connect()

	require.Eventually(t, func() bool { return len(rec.all()) >= 1 }, 3*time.Second, 10*time.Millisecond)
	r := rec.all()[0]
	require.Equal(t, "tok-1", r.Header.Get("X-CSRF-Token"))
	require.NotEmpty(t, r.URL.Query().Get("udt"))
}

func TestAjaxSendSetsCSRFTokenQueryAndHeader(t *testing.T) {
	env := packer.NewEnvelope(nil)
	srv, rec := capturingAjaxServer(t, env)
	defer srv.Close()

	cfg := ajaxConfigFor(srv, env)
	cfg.CSRFToken = "tok-2"
	c := NewAjax(cfg)
	defer c.Close()

	ok := c.Send(event.Event{ID: "demo/fire"}, nil, time.Second)
	require.True(t, ok)

	reqs := rec.all()
	require.Len(t, reqs, 1)
	r := reqs[0]
	require.Equal(t, http.MethodPost, r.Method)
	require.Equal(t, "tok-2", r.URL.Query().Get("csrf-token"))
	require.Equal(t, "tok-2", r.Header.Get("X-CSRF-Token"))
}

func TestAjaxDisconnectMarksStateClosed(t *testing.T) {
	env := packer.NewEnvelope(nil)
	srv := ajaxTestServer(t, env)
	defer srv.Close()

	c := NewAjax(ajaxConfigFor(srv, env))
	defer c.Close()
	c.Connect()
	<-c.RecvCh()

	c.Disconnect()
	require.Eventually(t, func() bool { return !c.State().Open }, time.Second, 10*time.Millisecond)
	require.Equal(t, CloseRequestedDisconnect, c.State().LastClose.Reason)
}
