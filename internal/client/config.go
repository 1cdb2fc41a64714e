// Package client implements the Client WebSocket State Machine (component
// G), the Client Ajax State Machine (component H), and the Client Auto
// Wrapper (component I). It is grounded in other_examples/ec1e09bf_lensesio-lenses-go__ws.go.go's
// LiveConnection: a correlation-id keyed reply dispatch table, an
// idempotent atomic-guarded Close, and a dedicated read-loop goroutine.
package client

import (
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/chskio/chsk/internal/packer"
)

// Type selects which concrete state machine a Conn built by New uses.
type Type string

const (
	TypeAuto Type = "auto"
	TypeWS   Type = "ws"
	TypeAjax Type = "ajax"
)

// BackoffFunc computes the reconnect delay for the given 1-based retry
// count.
type BackoffFunc func(retry int) time.Duration

// DefaultBackoff is exponential with full jitter, capped at 30s, matching
// spec.md §6's "exponential with jitter" default.
func DefaultBackoff(retry int) time.Duration {
	base := 250 * time.Millisecond
	max := 30 * time.Second
	d := base * time.Duration(1<<uint(min(retry, 10)))
	if d > max {
		d = max
	}
	return time.Duration(rand.Int63n(int64(d)))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Config holds everything spec.md §6 names for the client, plus the
// runtime collaborators (envelope, backoff function) that aren't
// serializable config values.
type Config struct {
	Type      Type
	Protocol  string // ws or wss (derived http/https for Ajax)
	Host      string
	Port      int
	Path      string
	ClientID  string
	CSRFToken string
	Params    url.Values
	Headers   http.Header

	RecvBufOrN            int
	WrapRecvEvs           bool
	BackoffMsFn           BackoffFunc
	WSKaliveMs            time.Duration
	WSKalivePingTimeoutMs time.Duration

	Envelope packer.Envelope
}

// WSURL builds the WebSocket connect URL per spec.md §6.
func (c Config) WSURL() string {
	return fmt.Sprintf("%s://%s:%d%s?%s", c.Protocol, c.Host, c.Port, c.Path, c.query())
}

// HTTPURL builds the Ajax base URL, translating ws/wss to http/https.
func (c Config) HTTPURL() string {
	scheme := "http"
	if c.Protocol == "wss" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, c.Host, c.Port, c.Path)
}

func (c Config) query() string {
	v := url.Values{}
	for k, vals := range c.Params {
		for _, val := range vals {
			v.Add(k, val)
		}
	}
	v.Set("client-id", c.ClientID)
	if c.CSRFToken != "" {
		v.Set("csrf-token", c.CSRFToken)
	}
	return v.Encode()
}

func (c Config) withBackoff() BackoffFunc {
	if c.BackoffMsFn != nil {
		return c.BackoffMsFn
	}
	return DefaultBackoff
}

// withEnvelope defaults an unset Envelope to the JSON packer, the same way
// packer.NewEnvelope(nil) defaults a caller's unset Packer.
func (c Config) withEnvelope() Config {
	if c.Envelope.Packer == nil {
		c.Envelope = packer.NewEnvelope(nil)
	}
	return c
}
