package agents

import (
	"context"
	"log/slog"
	"time"
)

// Reaper closes sessions whose heartbeat has been silent longer than the
// session timeout. Sessions holding a call are left until the call is released.
type Reaper struct {
	store    Store
	timeout  time.Duration
	interval time.Duration
	log      *slog.Logger

	// OnClose runs after each forced logout (cache invalidation, audit).
	OnClose func(ctx context.Context, s Session)

	Now func() time.Time
}

func NewReaper(store Store, timeout, interval time.Duration, log *slog.Logger) *Reaper {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{store: store, timeout: timeout, interval: interval, log: log, Now: time.Now}
}

// Run sweeps on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("session reaper started", slog.Duration("timeout", r.timeout))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("session reaper stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.log.Error("session sweep failed", slog.Any("err", err))
			}
		}
	}
}

// Sweep closes stale sessions once and returns how many were closed.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	if r.timeout <= 0 {
		return 0, nil
	}
	stale, err := r.store.ListStale(ctx, r.Now().Add(-r.timeout))
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, s := range stale {
		if s.CurrentCallID != "" {
			continue
		}
		if err := r.store.Close(ctx, s.AgentID); err != nil {
			r.log.Warn("close stale session failed", slog.String("agent_id", s.AgentID), slog.Any("err", err))
			continue
		}
		closed++
		r.log.Info("stale session closed", slog.String("agent_id", s.AgentID))
		if r.OnClose != nil {
			r.OnClose(ctx, s)
		}
	}
	return closed, nil
}
