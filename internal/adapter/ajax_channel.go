package adapter

import "sync"

// ajaxChannel backs one Ajax HTTP request: a GET long-poll, a GET
// handshake, or a POST send. Because the underlying net/http
// ResponseWriter can only be written to once, Send both delivers the
// payload and implicitly closes the channel, per spec.md §4.C.
type ajaxChannel struct {
	mu     sync.Mutex
	result chan string
	closed bool
}

func newAjaxChannel() *ajaxChannel {
	return &ajaxChannel{result: make(chan string, 1)}
}

func (c *ajaxChannel) IsWebSocket() bool { return false }

// Send hands packed to the blocked HTTP handler goroutine. It returns false
// if the channel was already sent to or closed — an Ajax request only ever
// gets one response.
func (c *ajaxChannel) Send(packed string, _ bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	c.result <- packed
	return true
}

// Close unblocks a waiting handler with no payload, e.g. on client
// disconnect before any send occurred.
func (c *ajaxChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.result)
}
