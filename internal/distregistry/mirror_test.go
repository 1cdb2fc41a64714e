package distregistry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupMirrorTest(t *testing.T, podName string) (*Mirror, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewMirrorFromClient(client, podName), mr
}

func TestMirrorOnUIDOpenRecordsPresence(t *testing.T) {
	m, mr := setupMirrorTest(t, "pod-1")

	m.OnUIDOpen("alice")

	got, err := mr.Get("chsk:uid:alice")
	require.NoError(t, err)
	require.Equal(t, "pod-1", got)
	require.True(t, mr.TTL("chsk:uid:alice") > 0)
}

func TestMirrorOnUIDCloseClearsOwnedPresence(t *testing.T) {
	m, mr := setupMirrorTest(t, "pod-1")
	m.OnUIDOpen("alice")

	m.OnUIDClose("alice")

	require.False(t, mr.Exists("chsk:uid:alice"))
}

func TestMirrorOnUIDCloseIgnoresForeignOwner(t *testing.T) {
	m, mr := setupMirrorTest(t, "pod-1")
	m.OnUIDOpen("alice")

	mr.Set("chsk:uid:alice", "pod-2") // alice reconnected elsewhere first

	m.OnUIDClose("alice")

	got, err := mr.Get("chsk:uid:alice")
	require.NoError(t, err)
	require.Equal(t, "pod-2", got)
}

func TestMirrorLocate(t *testing.T) {
	m, _ := setupMirrorTest(t, "pod-1")
	m.OnUIDOpen("alice")

	pod, ok := m.Locate(context.Background(), "alice")
	require.True(t, ok)
	require.Equal(t, "pod-1", pod)

	_, ok = m.Locate(context.Background(), "nobody")
	require.False(t, ok)
}

func TestMirrorTouchRefreshesTTL(t *testing.T) {
	m, mr := setupMirrorTest(t, "pod-1")
	m.OnUIDOpen("alice")
	mr.SetTTL("chsk:uid:alice", time.Second)

	m.Touch("alice")

	require.True(t, mr.TTL("chsk:uid:alice") > time.Second)
}

func TestMirrorScanListsPresentUIDs(t *testing.T) {
	m, _ := setupMirrorTest(t, "pod-1")
	m.OnUIDOpen("alice")
	m.OnUIDOpen("bob")

	uids, err := m.Scan(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alice", "bob"}, uids)
}
