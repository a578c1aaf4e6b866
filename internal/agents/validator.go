package agents

import (
	"context"
	"errors"
	"time"
)

// Readiness is the result of validating one agent.
type Readiness struct {
	AgentID         string    `json:"agent_id"`
	Ready           bool      `json:"is_ready"`
	Score           int       `json:"score"`
	DeviceConnected bool      `json:"device_connected"`
	Status          Status    `json:"status,omitempty"`
	Issues          []string  `json:"issues,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}

// Issue codes reported in Readiness.Issues.
const (
	IssueNoSession         = "no_active_session"
	IssueSessionLookup     = "session_lookup_failed"
	IssueAgentDisabled     = "agent_disabled"
	IssueNotAvailable      = "status_not_available"
	IssueOnCall            = "status_on_call"
	IssueNoHeartbeat       = "no_heartbeat"
	IssueStaleHeartbeat    = "stale_heartbeat"
	IssueProbeFailed       = "device_probe_failed"
	IssueDeviceOffline     = "device_disconnected"
	IssueActiveCall        = "active_call"
	IssueValidationTimeout = "validation_timeout"
)

// Deductions applied to the 100-point readiness score.
const (
	statusPenalty     = 50
	heartbeatPenalty  = 30
	devicePenalty     = 40
	activeCallPenalty = 20
)

// ReadinessChecker answers whether an agent can take a call right now.
type ReadinessChecker interface {
	ValidateReadiness(ctx context.Context, agentID string) Readiness
}

// Prober checks that an agent's device is reachable.
type Prober interface {
	Probe(ctx context.Context, agentID string) error
}

type ValidatorConfig struct {
	HeartbeatInterval time.Duration
	DeviceCheck       bool
	ProbeTimeout      time.Duration
	Timeout           time.Duration
}

func (c ValidatorConfig) withDefaults() ValidatorConfig {
	out := c
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = 30 * time.Second
	}
	if out.ProbeTimeout <= 0 {
		out.ProbeTimeout = 2 * time.Second
	}
	if out.Timeout <= 0 {
		out.Timeout = 3 * time.Second
	}
	return out
}

// Validator performs the readiness checks. It never mutates sessions.
type Validator struct {
	store  Store
	prober Prober
	cfg    ValidatorConfig

	Now func() time.Time
}

// NewValidator builds a Validator. prober may be nil, in which case the
// session's last-known device flag is used even when DeviceCheck is on.
func NewValidator(store Store, prober Prober, cfg ValidatorConfig) *Validator {
	return &Validator{store: store, prober: prober, cfg: cfg.withDefaults(), Now: time.Now}
}

// ValidateReadiness runs every check within the configured timeout. A check
// that does not finish in time makes the agent not ready.
func (v *Validator) ValidateReadiness(ctx context.Context, agentID string) Readiness {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	done := make(chan Readiness, 1)
	go func() { done <- v.validate(ctx, agentID) }()

	select {
	case r := <-done:
		if ctx.Err() == nil {
			return r
		}
	case <-ctx.Done():
	}
	return Readiness{
		AgentID:   agentID,
		Issues:    []string{IssueValidationTimeout},
		CheckedAt: v.Now().UTC(),
	}
}

func (v *Validator) validate(ctx context.Context, agentID string) Readiness {
	r := Readiness{AgentID: agentID, Score: 100, CheckedAt: v.Now().UTC()}
	notReady := func(issue string) Readiness {
		r.Ready = false
		r.Score = 0
		r.Issues = append(r.Issues, issue)
		return r
	}

	sess, err := v.store.Get(ctx, agentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return notReady(IssueNoSession)
		}
		return notReady(IssueSessionLookup)
	}
	r.Status = sess.Status

	agent, err := v.store.GetAgent(ctx, agentID)
	if err != nil || !agent.Active {
		return notReady(IssueAgentDisabled)
	}

	hardFail := false
	deduct := func(points int, issue string, hard bool) {
		r.Score -= points
		r.Issues = append(r.Issues, issue)
		if hard {
			hardFail = true
		}
	}

	switch sess.Status {
	case StatusAvailable:
	case StatusOnCall:
		deduct(statusPenalty, IssueOnCall, true)
	default:
		deduct(statusPenalty, IssueNotAvailable, false)
	}

	if sess.LastHeartbeat == nil {
		deduct(heartbeatPenalty, IssueNoHeartbeat, true)
	} else if v.Now().Sub(*sess.LastHeartbeat) > v.cfg.HeartbeatInterval {
		deduct(heartbeatPenalty, IssueStaleHeartbeat, false)
	}

	if v.cfg.DeviceCheck && v.prober != nil {
		pctx, cancel := context.WithTimeout(ctx, v.cfg.ProbeTimeout)
		err := v.prober.Probe(pctx, agentID)
		cancel()
		if err != nil {
			deduct(devicePenalty, IssueProbeFailed, true)
		} else {
			r.DeviceConnected = true
		}
	} else {
		r.DeviceConnected = sess.DeviceConnected
		if !sess.DeviceConnected {
			deduct(devicePenalty, IssueDeviceOffline, true)
		}
	}

	if sess.CurrentCallID != "" {
		deduct(activeCallPenalty, IssueActiveCall, true)
	}

	if r.Score < 0 {
		r.Score = 0
	}
	r.Ready = !hardFail
	return r
}

// HasIssue reports whether r carries the given issue code.
func (r Readiness) HasIssue(issue string) bool {
	for _, i := range r.Issues {
		if i == issue {
			return true
		}
	}
	return false
}
