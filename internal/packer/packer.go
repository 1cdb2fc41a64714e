// Package packer implements the wire envelope described in spec.md §4.A:
// the core always hands a Packer an ordered pair of length 1 or 2 — [value]
// or [value, cb-uuid] — and never anything else. The Packer itself only
// ever sees that envelope, never event semantics.
//
// A legacy read mode is supported for interop with older deployments: a
// received string may begin with "+" (envelope-wrapped, explicit) or "-"
// (bare payload, no cb possible); the absence of a prefix means
// envelope-wrapped in the current wire format. Writes always emit the
// unprefixed form unless LegacyWrite is set, matching the teacher's own
// habit (see api/internal/errors) of keeping backward-compatible read paths
// while only ever writing the current format.
package packer

import (
	"encoding/json"
	"fmt"

	"github.com/chskio/chsk/internal/logger"
)

// Packer serializes and deserializes arbitrary Go values to and from wire
// strings. The core never calls these directly on event payloads — only on
// the envelope built around them.
type Packer interface {
	Pack(v interface{}) (string, error)
	Unpack(s string) (interface{}, error)
}

// JSONPacker is the default Packer, grounded in the teacher's use of
// encoding/json for every wire payload in api/internal/websocket/*.go.
type JSONPacker struct{}

func (JSONPacker) Pack(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("chsk: pack: %w", err)
	}
	return string(b), nil
}

func (JSONPacker) Unpack(s string) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("chsk: unpack: %w", err)
	}
	return v, nil
}

// LegacyWrite, when true, forces Envelope.Write to emit the "+"-prefixed
// legacy wrapped form instead of the unprefixed current form. This exists
// only for interop with old clients during a migration window; new
// deployments should never set it.
var LegacyWrite = false

// Envelope wraps pack/unpack with the [value] / [value, cb-uuid] contract
// and the legacy prefix handling.
type Envelope struct {
	Packer Packer
}

// NewEnvelope builds an Envelope over the given Packer, defaulting to
// JSONPacker when p is nil.
func NewEnvelope(p Packer) Envelope {
	if p == nil {
		p = JSONPacker{}
	}
	return Envelope{Packer: p}
}

// Write packs value (and, if cbUUID is non-empty, the callback id) into the
// envelope and returns the wire string. cbUUID of "" means "no callback
// expected"; the sentinel string "0" means "Ajax callback" per spec.md §3.
func (e Envelope) Write(value interface{}, cbUUID string) (string, error) {
	var env []interface{}
	if cbUUID == "" {
		env = []interface{}{value}
	} else {
		env = []interface{}{value, cbUUID}
	}
	body, err := e.Packer.Pack(env)
	if err != nil {
		return "", err
	}
	if LegacyWrite {
		return "+" + body, nil
	}
	return body, nil
}

// Read unpacks a wire string into (value, cbUUID, ok). ok is false only
// when the underlying Packer itself fails to unpack — a malformed but
// unpackable envelope (wrong length) still returns ok=true with an empty
// cbUUID, leaving event-shape validation to the event package.
func (e Envelope) Read(wire string) (value interface{}, cbUUID string, ok bool) {
	body := wire
	bare := false
	if len(wire) > 0 {
		switch wire[0] {
		case '+':
			body = wire[1:]
		case '-':
			body = wire[1:]
			bare = true
		}
	}

	raw, err := e.Packer.Unpack(body)
	if err != nil {
		logger.WebSocket().Warn().Err(err).Msg("chsk: failed to unpack wire payload")
		return nil, "", false
	}

	if bare {
		return raw, "", true
	}

	arr, isArr := raw.([]interface{})
	if !isArr || len(arr) == 0 || len(arr) > 2 {
		// Not a valid envelope shape but the packer itself succeeded;
		// treat the whole thing as a bare value with no callback.
		return raw, "", true
	}
	value = arr[0]
	if len(arr) == 2 {
		switch cb := arr[1].(type) {
		case string:
			cbUUID = cb
		case float64:
			// JSON numbers decode as float64; the sentinel Ajax-cb "0"
			// may arrive as a bare 0 rather than the string "0".
			cbUUID = fmt.Sprintf("%d", int64(cb))
		}
	}
	return value, cbUUID, true
}
