// Package housekeeping runs the low-frequency background jobs that keep
// the registry's connected-users view observable and the distributed
// mirror pruned, using github.com/robfig/cron/v3 the way the teacher
// schedules per-plugin periodic work in api/internal/plugins/scheduler.go:
// one shared cron.Cron instance, jobs wrapped with panic recovery.
package housekeeping

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chskio/chsk/internal/distregistry"
	"github.com/chskio/chsk/internal/logger"
	"github.com/chskio/chsk/internal/registry"
)

// Scheduler runs the registry snapshot log and the distributed-mirror
// pruning sweep on independent cron schedules.
type Scheduler struct {
	cron *cron.Cron
	reg  *registry.Registry
	mir  *distregistry.Mirror
}

// New builds a Scheduler. mir may be nil, in which case pruning is
// skipped (single-process deployments have no mirror to prune).
func New(reg *registry.Registry, mir *distregistry.Mirror) *Scheduler {
	return &Scheduler{cron: cron.New(), reg: reg, mir: mir}
}

// Start schedules the snapshot job on snapshotSpec (e.g. "*/1 * * * *") and,
// if a mirror is configured, the pruning job on pruneSpec, then starts the
// shared cron instance.
func (s *Scheduler) Start(snapshotSpec, pruneSpec string) error {
	if _, err := s.cron.AddFunc(snapshotSpec, s.logSnapshot); err != nil {
		return err
	}
	if s.mir != nil {
		if _, err := s.cron.AddFunc(pruneSpec, s.prune); err != nil {
			return err
		}
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron scheduler and waits for any in-flight job.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) logSnapshot() {
	defer s.recoverPanic("snapshot")
	snap := s.reg.TakeSnapshot()
	logger.Registry().Info().
		Int("ws", len(snap.WS)).
		Int("ajax", len(snap.Ajax)).
		Int("any", len(snap.Any)).
		Msg("chsk: connection snapshot")
}

// prune refreshes the TTL of presence records for uids that are live in
// this process's own registry, and drops the records this pod owns for
// uids that no longer are. Records owned by another pod are left alone
// (OnUIDClose only deletes this pod's own records); they lapse through
// their TTL.
func (s *Scheduler) prune() {
	defer s.recoverPanic("prune")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	uids, err := s.mir.Scan(ctx)
	if err != nil {
		logger.Registry().Warn().Err(err).Msg("chsk: housekeeping: scan failed")
		return
	}
	for _, uid := range uids {
		if s.reg.ConnectedAny(uid) {
			s.mir.Touch(uid)
			continue
		}
		if _, ok := s.mir.Locate(ctx, uid); ok {
			s.mir.OnUIDClose(uid)
		}
	}
}

func (s *Scheduler) recoverPanic(job string) {
	if r := recover(); r != nil {
		logger.Registry().Error().Interface("panic", r).Str("job", job).Msg("chsk: housekeeping job panicked")
	}
}
