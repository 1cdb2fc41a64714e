package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSch struct {
	id string
	ws bool
}

func (f *fakeSch) Send(string, bool) bool { return true }
func (f *fakeSch) Close()                 {}
func (f *fakeSch) IsWebSocket() bool      { return f.ws }

func TestAttachFirstConnectionReportsNewlyConnected(t *testing.T) {
	r := New()
	sch := &fakeSch{id: "c1", ws: true}

	newly := r.Attach(WS, "alice", "c1", Any, sch)
	require.True(t, newly)
	require.True(t, r.ConnectedAny("alice"))
}

func TestAttachSecondConnectionNotNewlyConnected(t *testing.T) {
	r := New()
	r.Attach(WS, "alice", "c1", Any, &fakeSch{id: "c1", ws: true})

	newly := r.Attach(Ajax, "alice", "c2", Any, &fakeSch{id: "c2"})
	require.False(t, newly)
	require.True(t, r.ConnectedAny("alice"))
}

func TestAttachRejectsOnCASMismatch(t *testing.T) {
	r := New()
	original := &fakeSch{id: "c1", ws: true}
	r.Attach(WS, "alice", "c1", Any, original)

	other := &fakeSch{id: "other", ws: true}
	newly := r.Attach(WS, "alice", "c1", other, &fakeSch{id: "c1-new", ws: true})
	require.False(t, newly)

	chans := r.Channels(WS, "alice")
	require.Equal(t, original, chans["c1"])
}

func TestDetachRequiresMatchingUDT(t *testing.T) {
	r := New()
	r.Attach(WS, "alice", "c1", Any, &fakeSch{id: "c1", ws: true})
	udt, ok := r.EntryUDT(WS, "alice", "c1")
	require.True(t, ok)

	removed, leftAny := r.Detach(WS, "alice", "c1", udt-1)
	require.False(t, removed)
	require.False(t, leftAny)

	removed, leftAny = r.Detach(WS, "alice", "c1", udt)
	require.True(t, removed)
	require.True(t, leftAny)
	require.False(t, r.ConnectedAny("alice"))
}

func TestDetachDoesNotLeaveAnyWhenOtherTransportStillLive(t *testing.T) {
	r := New()
	r.Attach(WS, "alice", "c1", Any, &fakeSch{id: "c1", ws: true})
	r.Attach(Ajax, "alice", "c2", Any, &fakeSch{id: "c2"})

	udt, _ := r.EntryUDT(WS, "alice", "c1")
	removed, leftAny := r.Detach(WS, "alice", "c1", udt)
	require.True(t, removed)
	require.False(t, leftAny)
	require.True(t, r.ConnectedAny("alice"))
}

func TestClearSchThenReattachPreservesGraceWindow(t *testing.T) {
	r := New()
	sch := &fakeSch{id: "c1"}
	r.Attach(Ajax, "alice", "c1", Any, sch)

	udt, ok := r.ClearSch(Ajax, "alice", "c1", sch)
	require.True(t, ok)
	require.False(t, r.ConnectedAny("alice"))

	// A repoll reattaches with Any, expecting the entry to still exist
	// (nil sch) and the udt to have changed.
	newSch := &fakeSch{id: "c1"}
	newly := r.Attach(Ajax, "alice", "c1", Any, newSch)
	require.True(t, newly)
	newUDT, ok := r.EntryUDT(Ajax, "alice", "c1")
	require.True(t, ok)
	require.NotEqual(t, udt, newUDT)
}

func TestResolveUIDRewritesAllUsersAlias(t *testing.T) {
	require.Equal(t, NilUID, ResolveUID(AllUsersWithoutUID))
	require.Equal(t, "alice", ResolveUID("alice"))
}

func TestTakeSnapshotReflectsConnections(t *testing.T) {
	r := New()
	r.Attach(WS, "alice", "c1", Any, &fakeSch{id: "c1", ws: true})
	r.Attach(Ajax, "bob", "c2", Any, &fakeSch{id: "c2"})

	snap := r.TakeSnapshot()
	require.ElementsMatch(t, []string{"alice"}, snap.WS)
	require.ElementsMatch(t, []string{"bob"}, snap.Ajax)
	require.ElementsMatch(t, []string{"alice", "bob"}, snap.Any)
}
