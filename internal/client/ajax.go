package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chskio/chsk/internal/event"
	"github.com/chskio/chsk/internal/logger"
)

// Ajax is the Client Ajax State Machine (component H): a long-poll GET loop
// paired with POST sends, used either standalone or as the permanent
// fallback behind Auto.
type Ajax struct {
	cfg    Config
	h      *hub
	client *http.Client

	generation   atomic.Uint64
	disconnected atomic.Bool
	retry        atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewAjax builds an Ajax state machine sharing no state with any other
// instance. Auto uses newAjaxWithHub to swap onto an existing one
// without dropping subscribers.
func NewAjax(cfg Config) *Ajax {
	return newAjaxWithHub(cfg, newHub(cfg.RecvBufOrN))
}

func newAjaxWithHub(cfg Config, h *hub) *Ajax {
	h.state.Type = TypeAjax
	return &Ajax{cfg: cfg.withEnvelope(), h: h, client: &http.Client{Timeout: 70 * time.Second}}
}

func (c *Ajax) StateCh() <-chan event.Event { return c.h.stateCh }
func (c *Ajax) RecvCh() <-chan event.Msg    { return c.h.recvCh }
func (c *Ajax) State() State                { return c.h.snapshot() }

// Connect starts the poll loop: an initial handshake request, then
// repeated long-poll GETs for as long as the loop's generation stays
// current.
func (c *Ajax) Connect() {
	c.disconnected.Store(false)
	gen := c.generation.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	go c.pollLoop(ctx, gen, true)
}

// pollLoop runs a single handshake-or-long-poll round and schedules the
// next one; it is re-entered via scheduleRepoll rather than looping itself,
// so a superseded generation or cancelled context simply lets the chain end.
func (c *Ajax) pollLoop(ctx context.Context, gen uint64, handshake bool) {
	if ctx.Err() != nil || gen != c.generation.Load() {
		return
	}
	body, err := c.longPoll(ctx, handshake)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.h.publish(func(s *State) { s.LastWSError = err })
		c.scheduleRepoll(ctx, gen, false, c.cfg.withBackoff()(int(c.retry.Add(1))))
		return
	}
	repollImmediate := c.handleBody(body)
	c.retry.Store(0)
	if c.disconnected.Load() {
		return
	}
	delay := 10 * time.Millisecond
	if repollImmediate {
		delay = 0
	}
	c.scheduleRepoll(ctx, gen, false, delay)
}

func (c *Ajax) scheduleRepoll(ctx context.Context, gen uint64, handshake bool, delay time.Duration) {
	if c.disconnected.Load() || clientUnloading.Load() {
		return
	}
	time.AfterFunc(delay, func() { c.pollLoop(ctx, gen, handshake) })
}

// longPoll issues the GET used both for the initial handshake and every
// subsequent long-poll cycle, per spec.md §6's Ajax GET contract.
func (c *Ajax) longPoll(ctx context.Context, handshake bool) (string, error) {
	u := c.cfg.HTTPURL()
	q := url.Values{}
	for k, vals := range c.cfg.Params {
		for _, v := range vals {
			q.Add(k, v)
		}
	}
	q.Set("client-id", c.cfg.ClientID)
	q.Set("udt", strconv.FormatInt(nowMillis(), 10))
	if handshake {
		q.Set("handshake?", "true")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	if c.cfg.CSRFToken != "" {
		req.Header.Set("X-CSRF-Token", c.cfg.CSRFToken)
	}
	for k, vals := range c.cfg.Headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// handleBody dispatches the GET response body per spec.md §4.H: a
// handshake, the :chsk/timeout sentinel (a no-op, immediate repoll), or a
// batch of buffered events. Returns true if the next poll should fire
// immediately rather than after a short idle delay.
func (c *Ajax) handleBody(raw string) bool {
	value, _, ok := c.cfg.Envelope.Read(raw)
	if !ok {
		logger.Client().Warn().Msg("chsk: failed to unpack ajax response")
		return false
	}
	arr, isArr := value.([]interface{})
	if !isArr || len(arr) == 0 {
		return false
	}
	if _, firstIsString := arr[0].(string); firstIsString {
		ev := event.FromReceived(arr)
		switch ev.ID {
		case event.Handshake:
			c.receiveHandshake(ev)
			return true
		case event.Timeout:
			return true
		default:
			if !event.Reserved(ev.ID) {
				c.h.deliver(event.Msg{UID: c.h.snapshot().UID, Event: ev})
			}
			return true
		}
	}
	for _, item := range arr {
		ev := event.FromReceived(item)
		if event.Reserved(ev.ID) {
			continue
		}
		c.h.deliver(event.Msg{UID: c.h.snapshot().UID, Event: ev})
	}
	return true
}

func (c *Ajax) receiveHandshake(ev event.Event) {
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
	first := !c.h.snapshot().EverOpened
	c.h.publish(func(s *State) {
		s.UID = uid
		s.HandshakeData = handshakeData
		s.Type = TypeAjax
		s.Open = true
		s.EverOpened = true
	})
	c.h.deliver(event.Msg{UID: uid, Event: event.Event{ID: event.Handshake, Data: []interface{}{uid, handshakeData, first}}})
}

// Send issues the POST used by spec.md §4.H: client-id, csrf-token and the
// packed event in the body; the response (if any) is the reply value.
func (c *Ajax) Send(ev event.Event, cb ReplyCB, timeout time.Duration) bool {
	var cbUUID string
	if cb != nil {
		cbUUID = "0" // the Ajax cb sentinel: correlated by the HTTP response, not a uuid
	}
	packed, err := c.cfg.Envelope.Write(ev.AsWire(), cbUUID)
	if err != nil {
		if cb != nil {
			cb(event.CbError)
		}
		return false
	}

	u := c.cfg.HTTPURL()
	q := url.Values{}
	q.Set("client-id", c.cfg.ClientID)
	if c.cfg.CSRFToken != "" {
		q.Set("csrf-token", c.cfg.CSRFToken)
	}

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u+"?"+q.Encode(), bytes.NewBufferString(packed))
	if err != nil {
		if cb != nil {
			cb(event.CbError)
		}
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.CSRFToken != "" {
		req.Header.Set("X-CSRF-Token", c.cfg.CSRFToken)
	}
	for k, vals := range c.cfg.Headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if cb != nil {
			cb(event.CbError)
		}
		return false
	}
	defer resp.Body.Close()
	if cb == nil {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode < 400
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		cb(event.CbError)
		return false
	}
	value, _, ok := c.cfg.Envelope.Read(string(body))
	if !ok {
		cb(event.CbError)
		return false
	}
	cb(value)
	return true
}

// Disconnect stops the poll loop without reconnecting.
func (c *Ajax) Disconnect() {
	c.disconnected.Store(true)
	c.generation.Add(1)
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.h.publish(func(s *State) {
		s.Open = false
		s.LastClose = LastClose{UDT: nowMillis(), Reason: CloseRequestedDisconnect}
	})
}

// Close is an alias of Disconnect kept for symmetry with WS.
func (c *Ajax) Close() { c.Disconnect() }
