package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogDegradedAssignment records a call handed to an agent that failed readiness validation.
func (s *Service) LogDegradedAssignment(ctx context.Context, callID, agentID string, score int, issues []string) error {
	return s.Append(ctx, Event{
		Type:     EventTypeDegradedAssignment,
		CallID:   callID,
		AgentID:  agentID,
		Message:  "call assigned to agent that failed readiness",
		Metadata: metadata(map[string]any{"readiness_score": score, "issues": issues}),
	})
}

// LogMissedCall records a call that ended without reaching an agent.
func (s *Service) LogMissedCall(ctx context.Context, callID, reason string) error {
	return s.Append(ctx, Event{
		Type:     EventTypeMissedCall,
		CallID:   callID,
		Message:  "missed call",
		Metadata: metadata(map[string]any{"reason": reason}),
	})
}

// LogOutcomeOverride records a disposition whose scoring was overridden by the actor.
func (s *Service) LogOutcomeOverride(ctx context.Context, actor Actor, callID, outcome string, overrides any) error {
	return s.Append(ctx, Event{
		Type:        EventTypeOutcomeOverride,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		CallID:      callID,
		Message:     "outcome scoring overridden",
		Metadata:    metadata(map[string]any{"outcome": outcome, "overrides": overrides}),
	})
}

// LogForcedLogout records a session closed by the reaper or a supervisor.
func (s *Service) LogForcedLogout(ctx context.Context, actor Actor, agentID, reason string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeForcedLogout,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		AgentID:     agentID,
		Message:     "agent session closed",
		Metadata:    metadata(map[string]any{"reason": reason}),
	})
}

func metadata(v map[string]any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
