package router

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chskio/chsk/internal/event"
)

func TestLoopDispatchesMessages(t *testing.T) {
	recv := make(chan event.Msg, 4)
	var mu sync.Mutex
	var got []string

	loop := New(recv, func(msg event.Msg) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg.Event.ID)
		return nil
	}, Options{})
	go loop.Run()
	defer loop.Stop()

	recv <- event.Msg{Event: event.Event{ID: "myapp/a"}}
	recv <- event.Msg{Event: event.Event{ID: "myapp/b"}}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, time.Millisecond)
}

func TestLoopStopsOnStopChannel(t *testing.T) {
	recv := make(chan event.Msg)
	loop := New(recv, func(event.Msg) error { return nil }, Options{})

	done := make(chan struct{})
	go func() {
		loop.Run()
		close(done)
	}()
	loop.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestLoopReportsHandlerErrorToOnError(t *testing.T) {
	recv := make(chan event.Msg, 1)
	reported := make(chan error, 1)

	loop := New(recv, func(msg event.Msg) error {
		return errors.New("boom")
	}, Options{OnError: func(err error, msg event.Msg) { reported <- err }})
	go loop.Run()
	defer loop.Stop()

	recv <- event.Msg{Event: event.Event{ID: "myapp/a"}}

	select {
	case err := <-reported:
		require.EqualError(t, err, "boom")
	case <-time.After(time.Second):
		t.Fatal("error was not reported")
	}
}

func TestLoopRecoversFromHandlerPanic(t *testing.T) {
	recv := make(chan event.Msg, 1)
	reported := make(chan error, 1)

	loop := New(recv, func(msg event.Msg) error {
		panic("handler exploded")
	}, Options{OnError: func(err error, msg event.Msg) { reported <- err }})
	go loop.Run()
	defer loop.Stop()

	recv <- event.Msg{Event: event.Event{ID: "myapp/a"}}

	select {
	case err := <-reported:
		require.Contains(t, err.Error(), "handler exploded")
	case <-time.After(time.Second):
		t.Fatal("panic was not recovered and reported")
	}
}

func TestLoopConcurrentModeDoesNotBlockOnSlowHandler(t *testing.T) {
	recv := make(chan event.Msg, 2)
	release := make(chan struct{})
	started := make(chan struct{}, 2)

	loop := New(recv, func(msg event.Msg) error {
		started <- struct{}{}
		<-release
		return nil
	}, Options{Concurrent: true})
	go loop.Run()
	defer loop.Stop()

	recv <- event.Msg{Event: event.Event{ID: "myapp/a"}}
	recv <- event.Msg{Event: event.Event{ID: "myapp/b"}}

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("concurrent handler invocations did not both start")
		}
	}
	close(release)
}
