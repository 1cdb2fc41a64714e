package client

import (
	"time"

	"github.com/chskio/chsk/internal/event"
)

// Conn is the uniform surface callers program against regardless of which
// concrete state machine Config.Type selects.
type Conn interface {
	Connect()
	Disconnect()
	Close()
	Send(ev event.Event, cb ReplyCB, timeout time.Duration) bool
	StateCh() <-chan event.Event
	RecvCh() <-chan event.Msg
	State() State
}

// New builds the Conn selected by cfg.Type, defaulting to Auto when Type is
// the zero value.
func New(cfg Config) Conn {
	switch cfg.Type {
	case TypeWS:
		return NewWS(cfg)
	case TypeAjax:
		return NewAjax(cfg)
	default:
		return NewAuto(cfg)
	}
}
