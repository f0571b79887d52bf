package core

// scheduler.go runs the idle-session reaper. Sessions live in memory only,
// so without it every upload would be held until the process exits.
//
// On each tick the reaper removes sessions whose LastAccess is older than
// the configured TTL, deletes their upload directories and records an
// "expire" history event. A failed cleanup is logged and never stops the
// schedule.

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/JonMunkholm/sheetquery/internal/history"
)

// DefaultReapSchedule sweeps idle sessions every ten minutes.
const DefaultReapSchedule = "@every 10m"

// StartReaper schedules ReapIdle. schedule accepts standard five-field cron
// expressions and descriptors such as "@every 10m". The reaper stops when
// ctx is cancelled or StopReaper is called.
func (s *Service) StartReaper(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultReapSchedule
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { s.ReapIdle(ctx) }); err != nil {
		return fmt.Errorf("invalid reap schedule %q: %w", schedule, err)
	}

	s.cronMu.Lock()
	if s.cron != nil {
		s.cronMu.Unlock()
		return fmt.Errorf("reaper already running")
	}
	s.cron = c
	s.cronMu.Unlock()

	c.Start()
	slog.Info("session reaper started",
		"schedule", schedule,
		"ttl", s.opts.SessionTTL.String(),
	)

	go func() {
		<-ctx.Done()
		s.StopReaper()
	}()
	return nil
}

// StopReaper stops the schedule and waits for a running sweep to finish.
func (s *Service) StopReaper() {
	s.cronMu.Lock()
	c := s.cron
	s.cron = nil
	s.cronMu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	slog.Info("session reaper stopped")
}

// ReapIdle removes sessions idle for longer than the TTL and returns how
// many were removed.
func (s *Service) ReapIdle(ctx context.Context) int {
	start := time.Now()
	expired := s.registry.Sweep(s.opts.SessionTTL)

	for _, sess := range expired {
		if err := s.files.Remove(sess.ID); err != nil {
			slog.Error("failed to remove session files",
				"session_id", sess.ID,
				"error", err,
			)
		}
		removeChart(sess)
		info := sess.info()
		s.recordEvent(ctx, info.ID, info.Owner, history.ActionExpire, map[string]any{
			"idle_since": info.LastAccess,
		})
	}

	if len(expired) > 0 {
		slog.Info("expired idle sessions",
			"sessions_removed", len(expired),
			"sessions_remaining", s.registry.Len(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return len(expired)
}

// removeChart deletes the image behind a session's plot response. Charts
// live outside the session's upload directory.
func removeChart(sess *Session) {
	resp := sess.current()
	if resp == nil || resp.Type != TypePlot {
		return
	}
	path, err := resp.PlotPath()
	if err != nil {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to remove chart",
			"session_id", sess.ID,
			"path", path,
			"error", err,
		)
	}
}
