package client

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chskio/chsk/internal/event"
)

func TestPublishEmitsStateWithOpenChangedFlag(t *testing.T) {
	h := newHub(8)
	h.publish(func(s *State) { s.Open = true; s.UID = "alice" })

	ev := <-h.stateCh
	require.Equal(t, event.State, ev.ID)
	triple := ev.Data.([]interface{})
	oldState := triple[0].(State)
	newState := triple[1].(State)
	openChanged := triple[2].(bool)

	require.False(t, oldState.Open)
	require.True(t, newState.Open)
	require.Equal(t, "alice", newState.UID)
	require.True(t, openChanged)

	require.True(t, h.snapshot().Open)
}

func TestPublishOpenChangedFalseWhenUnchanged(t *testing.T) {
	h := newHub(8)
	h.publish(func(s *State) { s.Open = true })
	<-h.stateCh

	h.publish(func(s *State) { s.UID = "bob" })
	ev := <-h.stateCh
	triple := ev.Data.([]interface{})
	require.False(t, triple[2].(bool))
}

func TestEmitStateSlidesWhenFull(t *testing.T) {
	h := newHub(8)
	// stateCh has capacity 64; fill past it to force the drop-oldest path.
	for i := 0; i < 70; i++ {
		h.emitState(event.Event{ID: event.State, Data: i})
	}
	require.Len(t, h.stateCh, 64)
	first := <-h.stateCh
	require.NotEqual(t, 0, first.Data) // the oldest entries were dropped
}

func TestDeliverSlidesWhenRecvBufFull(t *testing.T) {
	h := newHub(2)
	h.deliver(event.Msg{Event: event.Event{ID: "a"}})
	h.deliver(event.Msg{Event: event.Event{ID: "b"}})
	h.deliver(event.Msg{Event: event.Event{ID: "c"}})

	require.Len(t, h.recvCh, 2)
	first := <-h.recvCh
	require.NotEqual(t, "a", first.Event.ID)
}

func TestRegisterAndResolveCBFiresOnce(t *testing.T) {
	h := newHub(8)
	var got interface{}
	h.registerCB("cb-1", func(value interface{}) { got = value })

	ok := h.resolveCB("cb-1", "hello")
	require.True(t, ok)
	require.Equal(t, "hello", got)

	ok = h.resolveCB("cb-1", "again")
	require.False(t, ok)
}

func TestResolveCBUnknownUUIDReturnsFalse(t *testing.T) {
	h := newHub(8)
	require.False(t, h.resolveCB("nope", "x"))
}

func TestLastWSErrorSurvivesPublish(t *testing.T) {
	h := newHub(8)
	wantErr := errors.New("dial failed")
	h.publish(func(s *State) { s.LastWSError = wantErr })
	<-h.stateCh
	require.Equal(t, wantErr, h.snapshot().LastWSError)
}
