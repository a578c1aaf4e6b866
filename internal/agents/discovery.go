package agents

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Candidate is an agent picked by Discovery.
type Candidate struct {
	Session   Session   `json:"session"`
	Readiness Readiness `json:"readiness"`

	// Degraded is set when the candidate failed validation and was returned
	// only because the degraded fallback policy is on.
	Degraded bool `json:"degraded"`
}

type DiscoveryConfig struct {
	// Candidates bounds how many available sessions are validated per lookup.
	Candidates int
	// MinScore is the minimum readiness score a ready agent must reach.
	MinScore int
	// DegradedFallback returns the best failed candidate when nobody passes.
	// On-call agents and agents with a current call are never returned.
	DegradedFallback bool
}

func (c DiscoveryConfig) withDefaults() DiscoveryConfig {
	out := c
	if out.Candidates <= 0 {
		out.Candidates = 5
	}
	if out.MinScore < 0 {
		out.MinScore = 0
	}
	return out
}

// Discovery selects agents for calls: least recently active first, bounded to
// the top K available sessions, each validated in parallel.
type Discovery struct {
	store   Store
	checker ReadinessChecker
	cfg     DiscoveryConfig
	log     *slog.Logger
}

func NewDiscovery(store Store, checker ReadinessChecker, cfg DiscoveryConfig, log *slog.Logger) *Discovery {
	if log == nil {
		log = slog.Default()
	}
	return &Discovery{store: store, checker: checker, cfg: cfg.withDefaults(), log: log}
}

// FindBestAgent returns the single best candidate, or false when nobody can
// take a call.
func (d *Discovery) FindBestAgent(ctx context.Context) (Candidate, bool, error) {
	out, err := d.FindTopNAgents(ctx, 1)
	if err != nil || len(out) == 0 {
		return Candidate{}, false, err
	}
	return out[0], true, nil
}

// FindTopNAgents returns up to n candidates in dispatch order.
func (d *Discovery) FindTopNAgents(ctx context.Context, n int) ([]Candidate, error) {
	if n <= 0 {
		return nil, nil
	}
	k := d.cfg.Candidates
	if n > k {
		k = n
	}

	sessions, err := d.store.ListAvailable(ctx, k)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}

	results := make([]Readiness, len(sessions))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range sessions {
		i, s := i, s
		g.Go(func() error {
			results[i] = d.checker.ValidateReadiness(gctx, s.AgentID)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Candidate, 0, n)
	for i, s := range sessions {
		r := results[i]
		if !r.Ready || r.Score < d.cfg.MinScore {
			d.log.Debug("agent not ready",
				slog.String("agent_id", s.AgentID),
				slog.Int("score", r.Score),
				slog.Any("issues", r.Issues),
			)
			continue
		}
		out = append(out, Candidate{Session: s, Readiness: r})
		if len(out) == n {
			break
		}
	}
	if len(out) > 0 || !d.cfg.DegradedFallback {
		return out, nil
	}

	best := -1
	for i, s := range sessions {
		r := results[i]
		if !degradable(s, r) {
			continue
		}
		if best < 0 || r.Score > results[best].Score {
			best = i
		}
	}
	if best < 0 {
		return out, nil
	}
	d.log.Warn("degraded agent selection",
		slog.String("agent_id", sessions[best].AgentID),
		slog.Int("score", results[best].Score),
		slog.Any("issues", results[best].Issues),
	)
	return []Candidate{{Session: sessions[best], Readiness: results[best], Degraded: true}}, nil
}

// degradable reports whether a failed candidate may still be used under the
// degraded fallback policy.
func degradable(s Session, r Readiness) bool {
	if s.Status == StatusOnCall || s.CurrentCallID != "" {
		return false
	}
	if r.Status == StatusOnCall {
		return false
	}
	for _, issue := range r.Issues {
		switch issue {
		case IssueNoSession, IssueSessionLookup, IssueAgentDisabled, IssueOnCall, IssueActiveCall:
			return false
		}
	}
	return true
}
