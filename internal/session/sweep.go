package session

import (
	"context"
	"errors"
	"time"

	"github.com/laotypo/sessionsrv/internal/store"
)

const (
	DefaultRetention     = 7 * 24 * time.Hour
	DefaultSweepInterval = 24 * time.Hour
)

// Sweeper deletes completed sessions once they age past the retention
// window, and realtime trees that lost their metadata row.
type Sweeper struct {
	m         *Manager
	retention time.Duration
	interval  time.Duration
}

func NewSweeper(m *Manager, retention, interval time.Duration) *Sweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{m: m, retention: retention, interval: interval}
}

type SweepReport struct {
	Expired int `json:"expired"`
	Orphans int `json:"orphans"`
	Failed  int `json:"failed"`
}

// Sweep runs one pass. A failure on one session is logged and the pass
// moves on to the next.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	logger := s.m.logger

	ids, err := s.m.store.ExpiredSessions(ctx, s.m.now().Add(-s.retention))
	if err != nil {
		return report, err
	}
	for _, id := range ids {
		if err := s.m.tree.Delete(ctx, id); err != nil {
			logger.Error("sweeping realtime tree", "session_id", id, "error", err)
			report.Failed++
			continue
		}
		if err := s.m.store.DeleteSession(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			logger.Error("sweeping session", "session_id", id, "error", err)
			report.Failed++
			continue
		}
		report.Expired++
	}

	treeIDs, err := s.m.tree.SessionIDs(ctx)
	if err != nil {
		return report, err
	}
	for _, id := range treeIDs {
		exists, err := s.m.store.SessionExists(ctx, id)
		if err != nil {
			logger.Error("checking session", "session_id", id, "error", err)
			report.Failed++
			continue
		}
		if !exists {
			if err := s.m.tree.Delete(ctx, id); err != nil {
				logger.Error("deleting orphaned tree", "session_id", id, "error", err)
				report.Failed++
				continue
			}
			report.Orphans++
			continue
		}
		if err := s.m.checkStalled(ctx, id); err != nil {
			logger.Warn("stalled session check", "session_id", id, "error", err)
		}
	}

	logger.Info("sweep finished",
		"expired", report.Expired, "orphans", report.Orphans, "failed", report.Failed)
	return report, nil
}

// Run sweeps once immediately, then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.m.logger.Error("sweep", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
