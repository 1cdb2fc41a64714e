// Package distregistry mirrors registry.Registry's connected-any view into
// Redis so multiple chsk server processes behind a load balancer can
// discover which pod holds the live channel for a given uid, grounded in
// the teacher's api/internal/websocket/agent_hub_redis_test.go key pattern
// (agent:<id>:pod, agent:<id>:connected, both TTL'd and refreshed on
// heartbeat) and api/internal/cache/cache.go's pooled redis.Client setup.
//
// The mirror never holds a channel handle itself — registry.Registry
// remains the sole owner of live sch values (spec.md §9) — it only
// publishes location/presence, making it safe to lose without breaking a
// single process's own registry invariants.
package distregistry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chskio/chsk/internal/logger"
)

const (
	keyPrefix   = "chsk:uid:"
	presenceTTL = 45 * time.Second
	channelFmt  = "chsk:uidport:%s"
)

// Options configures a Mirror.
type Options struct {
	Addr     string
	Password string
	DB       int
	PodName  string
}

// Mirror publishes uid presence/location into Redis and relays
// uidport-open/uidport-close transitions on a per-uid pub/sub channel.
type Mirror struct {
	client  *redis.Client
	podName string
}

// NewMirror dials Redis with the teacher's pooled-client settings
// (api/internal/cache/cache.go) and verifies connectivity.
func NewMirror(opts Options) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            opts.Addr,
		Password:        opts.Password,
		DB:              opts.DB,
		PoolSize:        25,
		MinIdleConns:    5,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("chsk: distregistry: ping redis: %w", err)
	}
	return &Mirror{client: client, podName: opts.PodName}, nil
}

// NewMirrorFromClient wraps an already-constructed client, for tests
// (miniredis) that need a pre-pointed *redis.Client.
func NewMirrorFromClient(client *redis.Client, podName string) *Mirror {
	return &Mirror{client: client, podName: podName}
}

// Close releases the underlying Redis connection pool.
func (m *Mirror) Close() error {
	return m.client.Close()
}

// OnUIDOpen records that uid is now reachable through this pod and
// publishes the transition on chsk:uidport:<uid>, the observer callback a
// caller wires off fanout's uidport-open send.
func (m *Mirror) OnUIDOpen(uid string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	key := keyPrefix + uid
	if err := m.client.Set(ctx, key, m.podName, presenceTTL).Err(); err != nil {
		logger.Registry().Warn().Err(err).Str("uid", uid).Msg("chsk: distregistry: failed to record presence")
		return
	}
	m.publish(ctx, uid, "open")
}

// OnUIDClose clears uid's presence record, only if it still points at this
// pod (a reconnect to a different pod must not be clobbered by a stale
// close from this one).
func (m *Mirror) OnUIDClose(uid string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	key := keyPrefix + uid
	if cur, err := m.client.Get(ctx, key).Result(); err == nil && cur == m.podName {
		m.client.Del(ctx, key)
	}
	m.publish(ctx, uid, "close")
}

// Touch refreshes uid's presence TTL, for periodic housekeeping to call
// alongside registry.Registry.Touch so a live connection's Redis record
// never expires out from under it.
func (m *Mirror) Touch(uid string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m.client.Expire(ctx, keyPrefix+uid, presenceTTL)
}

// Locate returns the pod name currently holding uid's live connection, if
// any.
func (m *Mirror) Locate(ctx context.Context, uid string) (pod string, ok bool) {
	v, err := m.client.Get(ctx, keyPrefix+uid).Result()
	if err != nil {
		return "", false
	}
	return v, true
}

func (m *Mirror) publish(ctx context.Context, uid, kind string) {
	channel := fmt.Sprintf(channelFmt, uid)
	if err := m.client.Publish(ctx, channel, kind).Err(); err != nil {
		logger.Registry().Debug().Err(err).Str("uid", uid).Msg("chsk: distregistry: publish failed")
	}
}

// Scan returns every uid with a live presence record, for housekeeping's
// periodic pruning sweep.
func (m *Mirror) Scan(ctx context.Context) ([]string, error) {
	var uids []string
	iter := m.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		uids = append(uids, iter.Val()[len(keyPrefix):])
	}
	return uids, iter.Err()
}
