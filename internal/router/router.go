// Package router is the Router Loop (component J): a long-running consumer
// of the receive channel that dispatches to a user-supplied handler with
// error isolation, grounded in api/internal/websocket/handlers.go's
// ticker-driven broadcast loops and their "stop on channel close or
// control signal" shape.
package router

import (
	"fmt"

	"github.com/chskio/chsk/internal/event"
	"github.com/chskio/chsk/internal/logger"
)

// Handler processes one event-msg.
type Handler func(msg event.Msg) error

// ErrorHandler reports an error raised by Handler. It is itself guarded
// against panics so a misbehaving error handler cannot kill the loop.
type ErrorHandler func(err error, msg event.Msg)

// Options configures a Loop.
type Options struct {
	// Concurrent, if true, invokes Handler in its own goroutine per
	// message instead of serially, so a blocking handler does not starve
	// the consumer.
	Concurrent bool
	OnError    ErrorHandler
}

// Loop consumes recv and dispatches to handler until Stop is called or recv
// is closed.
type Loop struct {
	recv    <-chan event.Msg
	handler Handler
	opts    Options
	stop    chan struct{}
}

// New builds a Loop over recv. Call Run to start consuming.
func New(recv <-chan event.Msg, handler Handler, opts Options) *Loop {
	if opts.OnError == nil {
		opts.OnError = defaultErrorHandler
	}
	return &Loop{recv: recv, handler: handler, opts: opts, stop: make(chan struct{})}
}

func defaultErrorHandler(err error, msg event.Msg) {
	logger.Client().Error().Err(err).Str("event", msg.Event.ID).Str("uid", msg.UID).Msg("chsk: handler error")
}

// Run blocks, consuming messages until Stop is called or the receive
// channel is closed. Call it from its own goroutine.
func (l *Loop) Run() {
	for {
		select {
		case msg, ok := <-l.recv:
			if !ok {
				return
			}
			if l.opts.Concurrent {
				go l.invoke(msg)
			} else {
				l.invoke(msg)
			}
		case <-l.stop:
			return
		}
	}
}

func (l *Loop) invoke(msg event.Msg) {
	defer func() {
		if r := recover(); r != nil {
			l.safeReportError(panicError{r}, msg)
		}
	}()
	if err := l.handler(msg); err != nil {
		l.safeReportError(err, msg)
	}
}

func (l *Loop) safeReportError(err error, msg event.Msg) {
	defer func() {
		if r := recover(); r != nil {
			logger.Client().Error().Interface("panic", r).Msg("chsk: error handler itself panicked")
		}
	}()
	l.opts.OnError(err, msg)
}

// Stop closes the internal control channel; Run exits on its next
// iteration.
func (l *Loop) Stop() {
	close(l.stop)
}

type panicError struct{ v interface{} }

func (p panicError) Error() string {
	return fmt.Sprintf("panic in handler: %v", p.v)
}
