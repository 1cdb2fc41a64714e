package housekeeping

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/chskio/chsk/internal/adapter"
	"github.com/chskio/chsk/internal/distregistry"
	"github.com/chskio/chsk/internal/registry"
)

type fakeSch struct{}

func (fakeSch) Send(string, bool) bool { return true }
func (fakeSch) Close()                 {}
func (fakeSch) IsWebSocket() bool      { return true }

func TestStartWithoutMirrorOnlySchedulesSnapshot(t *testing.T) {
	reg := registry.New()
	s := New(reg, nil)
	err := s.Start("* * * * *", "* * * * *")
	require.NoError(t, err)
	s.Stop()
}

func TestPruneClearsStaleOwnedPresence(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mirror := distregistry.NewMirrorFromClient(client, "pod-1")

	reg := registry.New()
	// alice is live in this process's own registry: prune must refresh,
	// not clear, her presence record.
	reg.Attach(registry.WS, "alice", "c1", registry.Any, adapter.ServerChannel(fakeSch{}))
	mirror.OnUIDOpen("alice")

	// bob has a presence record but is not live anywhere in this process:
	// prune must clear it.
	mirror.OnUIDOpen("bob")

	s := New(reg, mirror)
	s.prune()

	require.True(t, mr.Exists("chsk:uid:alice"))
	require.False(t, mr.Exists("chsk:uid:bob"))
}

func TestLogSnapshotDoesNotPanicOnEmptyRegistry(t *testing.T) {
	s := New(registry.New(), nil)
	require.NotPanics(t, func() { s.logSnapshot() })
}

func TestRecoverPanicSwallowsJobPanic(t *testing.T) {
	s := New(registry.New(), nil)
	require.NotPanics(t, func() {
		defer s.recoverPanic("test-job")
		panic("boom")
	})
}
