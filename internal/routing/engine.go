package routing

import (
	"context"

	"claims-dialer/internal/agents"
	"claims-dialer/internal/greeting"
	"claims-dialer/internal/outcomes"
	"claims-dialer/internal/presence"
)

// Collaborator contracts. Provider adapters depend on the Router; the Router
// depends only on these.

// Discoverer picks the best ready agent.
type Discoverer interface {
	FindBestAgent(ctx context.Context) (agents.Candidate, bool, error)
}

// Assigner performs the compare-and-swap assignment and its release.
type Assigner interface {
	Assign(ctx context.Context, agentID, callID string) error
	Release(ctx context.Context, agentID, callID string, talked bool) (agents.Session, error)
}

// AgentDirectory resolves an agent's dial target.
type AgentDirectory interface {
	GetAgent(ctx context.Context, agentID string) (agents.Agent, error)
}

type OutcomeRecorder interface {
	ProcessOutcome(ctx context.Context, req outcomes.Request) (outcomes.Result, error)
}

type Greeter interface {
	Generate(ctx context.Context, kind greeting.Kind, p greeting.Personalization) greeting.Audio
}

// Notifier pushes call assignments to agent desktops. Best-effort.
type Notifier interface {
	SendCallAssign(msg presence.CallAssign) bool
}

// Bridger connects a live provider call to an agent device.
type Bridger interface {
	Bridge(ctx context.Context, providerCallID, target string) error
}

// Auditor records internal audit events. Implementations must not block
// routing on failure.
type Auditor interface {
	DegradedAssignment(ctx context.Context, callID string, c agents.Candidate)
	MissedCall(ctx context.Context, callID, reason string)
}

type noopAuditor struct{}

func (noopAuditor) DegradedAssignment(context.Context, string, agents.Candidate) {}
func (noopAuditor) MissedCall(context.Context, string, string)                   {}
