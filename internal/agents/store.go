package agents

import (
	"context"
	"time"
)

// Store persists the agent directory and live sessions.
//
// AssignCall is the compare-and-swap used to prevent double booking: it
// succeeds only when the session is available with no current call, and sets
// status and current call in one atomic update.
type Store interface {
	GetAgent(ctx context.Context, agentID string) (Agent, error)

	Open(ctx context.Context, agentID string, at time.Time) (Session, error)
	Close(ctx context.Context, agentID string) error
	Get(ctx context.Context, agentID string) (Session, error)

	// ListAvailable returns available sessions, least recently active first.
	ListAvailable(ctx context.Context, limit int) ([]Session, error)
	// ListStale returns sessions whose last heartbeat (or start, if none) is
	// before cutoff.
	ListStale(ctx context.Context, cutoff time.Time) ([]Session, error)

	Heartbeat(ctx context.Context, agentID string, at time.Time) error
	SetStatus(ctx context.Context, agentID string, status Status, at time.Time) error
	SetDeviceConnected(ctx context.Context, agentID string, connected bool, at time.Time) error

	AssignCall(ctx context.Context, agentID, callID string, at time.Time) error
	ReleaseCall(ctx context.Context, agentID, callID string, r Release) (Session, error)
}
