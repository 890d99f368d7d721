package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/portal-keeper/internal/model"
	"github.com/and161185/portal-keeper/internal/vault"
)

// SessionSource yields the live vault session; both VaultService and
// vault.Keyring satisfy it.
type SessionSource interface {
	Current() *vault.Session
}

// Scheduler runs due scheduled syncs while the vault is unlocked.
type Scheduler struct {
	sessions SessionSource
	store    *CredentialStore
	sync     *SyncOrchestrator
	log      *zap.Logger
}

// NewScheduler constructs Scheduler.
func NewScheduler(sessions SessionSource, store *CredentialStore, sync *SyncOrchestrator, log *zap.Logger) *Scheduler {
	return &Scheduler{sessions: sessions, store: store, sync: sync, log: log.With(zap.String("component", "scheduler"))}
}

// Run calls RunOnce every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if _, err := s.RunOnce(ctx, now); err != nil && ctx.Err() == nil {
				s.log.Warn("scheduled run", zap.Error(err))
			}
		}
	}
}

// RunOnce syncs every credential due at now and returns how many it attempted.
// A locked vault skips the run.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (int, error) {
	sess := s.sessions.Current()
	if !sess.Active() {
		s.log.Debug("vault locked, scheduled syncs skipped")
		return 0, nil
	}
	list, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	ran := 0
	for _, c := range list {
		since := c.CreatedAt
		if c.LastSync != nil {
			since = *c.LastSync
		}
		if !Due(c.SyncSettings, since, now) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return ran, err
		}
		ran++
		out, err := s.sync.Sync(ctx, sess, c.ID)
		if err != nil {
			s.log.Warn("scheduled sync failed", zap.Stringer("credential_id", c.ID), zap.Error(err))
			continue
		}
		s.log.Info("scheduled sync",
			zap.Stringer("credential_id", c.ID),
			zap.String("status", string(out.Summary.Status)),
			zap.Int("records", out.RecordsImported),
		)
	}
	return ran, nil
}

// Due reports whether a scheduled occurrence fell after since and at or before now.
// Occurrences use now's location.
func Due(ss model.SyncSettings, since, now time.Time) bool {
	occ, ok := lastOccurrence(ss, now)
	return ok && occ.After(since)
}

// lastOccurrence is the latest scheduled instant not after now.
func lastOccurrence(ss model.SyncSettings, now time.Time) (time.Time, bool) {
	hm, err := time.Parse("15:04", ss.SyncTime)
	if err != nil {
		return time.Time{}, false
	}
	y, m, d := now.Date()
	at := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, hm.Hour(), hm.Minute(), 0, 0, now.Location())
	}

	switch ss.SyncSchedule {
	case model.ScheduleDaily:
		occ := at(y, m, d)
		if occ.After(now) {
			occ = occ.AddDate(0, 0, -1)
		}
		return occ, true
	case model.ScheduleWeekly:
		back := (int(now.Weekday()) - ss.SyncDayOfWeek + 7) % 7
		occ := at(y, m, d-back)
		if occ.After(now) {
			occ = occ.AddDate(0, 0, -7)
		}
		return occ, true
	case model.ScheduleMonthly:
		occ := at(y, m, clampDay(y, m, ss.SyncDayOfMonth))
		if occ.After(now) {
			pm := time.Date(y, m, 1, 0, 0, 0, 0, now.Location()).AddDate(0, -1, 0)
			occ = at(pm.Year(), pm.Month(), clampDay(pm.Year(), pm.Month(), ss.SyncDayOfMonth))
		}
		return occ, true
	}
	return time.Time{}, false
}

// clampDay maps day 29-31 onto the last day of shorter months.
func clampDay(y int, m time.Month, day int) int {
	last := time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		return last
	}
	return day
}
