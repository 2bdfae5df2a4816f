package store

import (
	"context"
	"log/slog"
	"time"
)

// QueuePurger periodically sweeps every user's queue/ directory for
// orphaned .tmp files left behind by a crashed publisher. Its Start
// loop is adapted from klistr's internal/ap.AccountResyncer — same
// ticker-plus-manual-trigger shape, reused here for filesystem
// housekeeping instead of periodic actor refetching (§12).
type QueuePurger struct {
	Server *ServerContext
	// Interval between sweeps. Defaults to 1h if zero.
	Interval time.Duration
	// TriggerCh, if non-nil, causes an immediate sweep when sent to.
	TriggerCh <-chan struct{}
}

// Start begins the periodic purge loop. Blocks until ctx is cancelled.
func (p *QueuePurger) Start(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	slog.Info("queue purger started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("queue purger stopped")
			return
		case <-ticker.C:
			p.purgeAll()
		case <-p.TriggerCh:
			slog.Info("queue purge triggered manually")
			p.purgeAll()
		}
	}
}

func (p *QueuePurger) purgeAll() {
	uids, err := ListUsers(p.Server)
	if err != nil {
		slog.Warn("queue purger: list users failed", "error", err)
		return
	}

	now := time.Now()
	total := 0
	for _, uid := range uids {
		u, err := OpenUser(p.Server, uid)
		if err != nil {
			continue
		}
		n, err := u.PurgeOrphans(now)
		u.Free()
		if err != nil {
			slog.Warn("queue purger: sweep failed", "uid", uid, "error", err)
			continue
		}
		total += n
	}
	if total > 0 {
		slog.Info("queue purger: removed orphaned tmp files", "count", total)
	}
}
